package notifier

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"cmdtimer/internal/eventbus"
	rtsup "cmdtimer/internal/runtime/supervisor"
	"cmdtimer/internal/schedule"
	logx "cmdtimer/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

type job struct {
	entryID string
	title   string
	text    string
	color   string
}

// Service posts entry announcements to a webhook from a single worker.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	bus eventbus.Bus

	cfg     Config
	limiter *rate.Limiter
	client  *resty.Client

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, bus: bus}
	s.applyLocked(cfg)
	return s
}

// Supervisor returns the worker supervisor (nil if not started).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	return sup
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled && s.cfg.URL != ""
	s.mu.Unlock()
	return en
}

// Apply swaps settings at runtime. The queue capacity is fixed at Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	cfg.URL = strings.TrimSpace(cfg.URL)
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	} else if cfg.RetryDelay == 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}

	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.client = newClient(cfg)
}

func newClient(cfg Config) *resty.Client {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ResponseTimeout,
		MaxIdleConns:          4,
		IdleConnTimeout:       90 * time.Second,
	}
	return resty.New().
		SetTransport(tr).
		SetTimeout(cfg.ConnectTimeout+cfg.ResponseTimeout).
		SetHeader("Content-Type", "application/json; charset=UTF-8").
		SetHeader("User-Agent", "cmdtimer-webhook")
}

// Start launches the worker. Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	sup.GoRestart("webhook.worker", func(c context.Context) error {
		s.workerLoop(c, q)
		if c.Err() != nil {
			return c.Err()
		}
		return errors.New("webhook worker exited unexpectedly")
	}, rtsup.WithBackoff(workerRestartMin, workerRestartMax))
}

// Stop refuses new jobs and cancels the worker. Queued jobs are discarded;
// a delivery waiting between attempts gives up. Stop waits for the worker
// until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	sup := s.sup
	if s.queue == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.sendWG.Wait()
		if sup != nil {
			_ = sup.Stop(context.Background())
		}
		s.mu.Lock()
		s.queue = nil
		s.sup = nil
		s.stopDone = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Send queues an announcement for entry. Errors are logged, never returned.
func (s *Service) Send(entry schedule.Entry) {
	err := s.Notify(context.Background(), entry)
	switch {
	case err == nil, errors.Is(err, ErrDisabled):
	case errors.Is(err, ErrQueueFull):
		s.log.Warn("webhook queue full, dropping", logx.String("entry", entry.ID))
	default:
		s.log.Debug("webhook not queued", logx.String("entry", entry.ID), logx.Err(err))
	}
}

// Notify queues an announcement. It returns nil without queuing when the
// entry has no message text.
func (s *Service) Notify(ctx context.Context, entry schedule.Entry) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	s.mu.Lock()
	if !s.cfg.Enabled || s.cfg.URL == "" {
		s.mu.Unlock()
		return ErrDisabled
	}
	if len(entry.Message) == 0 {
		s.mu.Unlock()
		return nil
	}
	text := joinLines(entry.Message)
	if strings.TrimSpace(text) == "" {
		s.mu.Unlock()
		return nil
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	title := s.cfg.Title
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	select {
	case q <- job{entryID: entry.ID, title: title, text: text, color: entry.Color}:
		s.publish(EventQueued, DeliveryEvent{EntryID: entry.ID})
		return nil
	default:
		s.publish(EventDropped, DeliveryEvent{EntryID: entry.ID, Error: ErrQueueFull.Error()})
		return ErrQueueFull
	}
}

// History returns recent delivery outcomes, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(it HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > 100 {
		s.history = s.history[len(s.history)-100:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, j)
		}
	}
}

func (s *Service) sendWithRetry(runCtx context.Context, j job) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	client := s.client
	log := s.log
	s.mu.Unlock()

	if lim != nil {
		if err := lim.Wait(runCtx); err != nil {
			return
		}
	}

	var lastErr error
	attempt := 1
	for ; attempt <= cfg.Attempts; attempt++ {
		lastErr = s.post(runCtx, client, cfg, j)
		if lastErr == nil {
			now := time.Now()
			s.appendHistory(HistoryItem{At: now, EntryID: j.entryID, OK: true, Attempts: attempt})
			s.publish(EventSent, DeliveryEvent{EntryID: j.entryID, Attempts: attempt, At: now})
			log.Debug("webhook delivered", logx.String("entry", j.entryID), logx.Int("attempt", attempt))
			return
		}
		log.Debug("webhook attempt failed", logx.String("entry", j.entryID), logx.Int("attempt", attempt), logx.Int("max", cfg.Attempts), logx.Err(lastErr))

		if attempt >= cfg.Attempts {
			break
		}
		if cfg.RetryDelay <= 0 {
			continue
		}
		t := time.NewTimer(cfg.RetryDelay)
		select {
		case <-t.C:
		case <-runCtx.Done():
			if !t.Stop() {
				<-t.C
			}
			return
		}
	}

	now := time.Now()
	log.Warn("webhook delivery failed",
		logx.String("entry", j.entryID),
		logx.Int("attempts", attempt),
		logx.Err(lastErr),
	)
	s.appendHistory(HistoryItem{At: now, EntryID: j.entryID, Attempts: attempt, Error: lastErr.Error()})
	s.publish(EventFailed, DeliveryEvent{EntryID: j.entryID, Attempts: attempt, At: now, Error: lastErr.Error()})
}

// post performs one attempt. The request is detached from shutdown so an
// attempt already on the wire runs to its own timeouts.
func (s *Service) post(runCtx context.Context, client *resty.Client, cfg Config, j job) error {
	ctx := context.WithoutCancel(runCtx)
	resp, err := client.R().
		SetContext(ctx).
		SetBody(buildPayload(j.title, j.text, j.color, time.Now())).
		Post(cfg.URL)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("HTTP %d", resp.StatusCode())
	}
	return nil
}

func (s *Service) publish(typ string, ev DeliveryEvent) {
	if s.bus == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}
