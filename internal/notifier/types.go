package notifier

import "time"

const (
	DefaultTitle           = "webhook-message"
	DefaultAttempts        = 3
	DefaultRetryDelay      = 2 * time.Second
	DefaultConnectTimeout  = 5 * time.Second
	DefaultResponseTimeout = 5 * time.Second

	workerRestartMin = time.Second
	workerRestartMax = 30 * time.Second
)

// Config controls the webhook pipeline.
type Config struct {
	Enabled    bool
	URL        string
	Title      string // empty: DefaultTitle
	QueueSize  int
	RatePerSec int

	Attempts        int
	RetryDelay      time.Duration
	ConnectTimeout  time.Duration
	ResponseTimeout time.Duration
}

type HistoryItem struct {
	At       time.Time `json:"at"`
	EntryID  string    `json:"entry_id"`
	OK       bool      `json:"ok"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error,omitempty"`
}

// DeliveryEvent is emitted on the event bus for notifier lifecycle events.
type DeliveryEvent struct {
	EntryID  string    `json:"entry_id"`
	Attempts int       `json:"attempts,omitempty"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}

const (
	EventQueued  = "notifier.queued"
	EventSent    = "notifier.sent"
	EventFailed  = "notifier.failed"
	EventDropped = "notifier.dropped"
)
