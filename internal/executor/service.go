package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cmdtimer/internal/eventbus"
	rtsup "cmdtimer/internal/runtime/supervisor"
	logx "cmdtimer/pkg/logx"
)

// Service runs batches of actions off the caller's goroutine. In serial mode
// one worker takes batches in dispatch order; in pool mode several workers
// run batches side by side. Actions inside a batch always run in order.
type Service struct {
	mu sync.Mutex

	cfg    Config
	runner Runner
	log    logx.Logger
	bus    eventbus.Bus

	queue chan []string
	sup   *rtsup.Supervisor

	dropped atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, runner Runner, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if !cfg.Concurrent {
		cfg.Workers = 1
	} else if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if runner == nil {
		runner = ShellRunner{Dir: cfg.Dir, Log: log}
	}
	return &Service{cfg: cfg, runner: runner, log: log, bus: bus}
}

// Supervisor returns the worker supervisor, or nil when stopped.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

func (s *Service) Mode() string {
	if s.cfg.Concurrent {
		return ModePool
	}
	return ModeSerial
}

// Start launches the workers. Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	q := make(chan []string, s.cfg.QueueSize)
	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	s.queue, s.sup = q, sup
	workers := s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("executor.worker.%d", i), func(c context.Context) error {
			s.worker(c, q)
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("executor worker exited unexpectedly")
		}, rtsup.WithBackoff(workerRestartMin, workerRestartMax))
	}
	s.log.Info("executor started", logx.String("mode", s.Mode()), logx.Int("workers", workers))
}

// Stop cancels the workers and waits until they exit or ctx is done.
// Actions in flight see their context cancelled; queued batches are dropped.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	sup := s.sup
	s.queue, s.sup = nil, nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	_ = sup.Stop(ctx)
}

// Dispatch queues actions without blocking. A full queue drops the batch.
func (s *Service) Dispatch(actions []string) {
	if err := s.Enqueue(actions); err != nil {
		s.log.Warn("actions not queued", logx.Strings("actions", actions), logx.Err(err))
	}
}

func (s *Service) Enqueue(actions []string) error {
	batch := make([]string, 0, len(actions))
	for _, a := range actions {
		if strings.TrimSpace(a) != "" {
			batch = append(batch, a)
		}
	}
	if len(batch) == 0 {
		return nil
	}

	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		return ErrStopped
	}
	select {
	case q <- batch:
		return nil
	default:
		s.dropped.Add(1)
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: EventBatchDropped, Data: ActionEvent{Action: strings.Join(batch, "; "), Error: ErrQueueFull.Error()}})
		}
		return ErrQueueFull
	}
}

func (s *Service) worker(ctx context.Context, q <-chan []string) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-q:
			for _, a := range batch {
				if ctx.Err() != nil {
					return
				}
				s.runOne(ctx, a)
			}
		}
	}
}

func (s *Service) runOne(ctx context.Context, action string) {
	start := time.Now()
	runCtx := ctx
	var cancel context.CancelFunc
	if s.cfg.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
	}
	err := s.runner.Run(runCtx, action)
	if cancel != nil {
		cancel()
	}
	dur := time.Since(start)

	item := HistoryItem{Action: action, Started: start, Duration: dur}
	ev := ActionEvent{Action: action, Duration: dur}
	typ := EventActionFinished
	if err != nil {
		item.Error = err.Error()
		ev.Error = item.Error
		typ = EventActionFailed
		s.log.Warn("action failed", logx.String("action", action), logx.Duration("dur", dur), logx.Err(err))
	} else {
		s.log.Debug("action completed", logx.String("action", action), logx.Duration("dur", dur))
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
	}

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > 200 {
		s.history = s.history[len(s.history)-200:]
	}
	s.hmu.Unlock()
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	snap := Snapshot{
		Mode:     s.Mode(),
		Workers:  s.cfg.Workers,
		QueueCap: s.cfg.QueueSize,
		Dropped:  s.dropped.Load(),
	}
	if q != nil {
		snap.QueueLen = len(q)
	}
	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}
