package executor

import (
	"context"
	"errors"
	"time"
)

var (
	ErrQueueFull = errors.New("executor queue full")
	ErrStopped   = errors.New("executor stopped")
)

const (
	ModeSerial = "serial"
	ModePool   = "pool"
)

// Bounds for restarting a worker that died.
const (
	workerRestartMin = 500 * time.Millisecond
	workerRestartMax = 10 * time.Second
)

// Config selects and sizes the executor. Concurrent is the capability flag:
// false runs batches one after another on a single goroutine, true spreads
// batches over Workers goroutines.
type Config struct {
	Concurrent bool
	Workers    int
	QueueSize  int
	Timeout    time.Duration // per action; 0 = none
	Dir        string
}

// Runner executes one action.
type Runner interface {
	Run(ctx context.Context, action string) error
}

type RunnerFunc func(ctx context.Context, action string) error

func (f RunnerFunc) Run(ctx context.Context, action string) error { return f(ctx, action) }

type HistoryItem struct {
	Action   string        `json:"action"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// ActionEvent is published on the bus when an action finishes.
type ActionEvent struct {
	Action   string        `json:"action"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

const (
	EventActionFinished = "action.finished"
	EventActionFailed   = "action.failed"
	EventBatchDropped   = "action.dropped"
)

type Snapshot struct {
	Mode     string        `json:"mode"`
	Workers  int           `json:"workers"`
	QueueLen int           `json:"queue_len"`
	QueueCap int           `json:"queue_cap"`
	Dropped  uint64        `json:"dropped"`
	History  []HistoryItem `json:"history"`
}
