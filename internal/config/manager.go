package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"sync"
	"time"

	logx "cmdtimer/pkg/logx"
)

// ValidatorFunc vets a freshly parsed config before it replaces the
// committed one.
type ValidatorFunc func(ctx context.Context, cfg *Config) error

const validateTimeout = 5 * time.Second

// ConfigManager owns the config file: it keeps the committed snapshot and
// fans reloaded snapshots out to subscribers.
type ConfigManager struct {
	path     string
	debounce time.Duration
	log      logx.Logger
	validate ValidatorFunc

	mu      sync.RWMutex
	current *Config
	digest  uint64

	// subsMu is held while sending so Unsubscribe never closes a channel
	// mid-send.
	subsMu sync.Mutex
	subs   map[chan *Config]struct{}
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{
		path:     path,
		debounce: 250 * time.Millisecond,
		subs:     make(map[chan *Config]struct{}),
	}
}

func (m *ConfigManager) Path() string { return m.path }

func (m *ConfigManager) SetLogger(log logx.Logger) { m.log = log }

func (m *ConfigManager) SetValidator(fn ValidatorFunc) { m.validate = fn }

// Parse reads the file and returns it decoded, without committing.
func (m *ConfigManager) Parse() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	return Decode(m.path, raw)
}

// Decode turns YAML or JSON bytes (by extension) into a Config with
// defaults applied. Unknown keys and trailing documents are errors.
func Decode(path string, raw []byte) (*Config, error) {
	asJSON, err := coerceToJSONBytes(path, raw)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(asJSON))
	dec.DisallowUnknownFields()

	cfg := new(Config)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	switch err := dec.Decode(new(json.RawMessage)); {
	case err == nil:
		return nil, errors.New("invalid config: trailing data")
	case !errors.Is(err, io.EOF):
		return nil, err
	}
	if isYAML(path) {
		cfg.order = yamlEntryOrder(raw)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// Load parses and commits the file without notifying subscribers.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *ConfigManager) Commit(cfg *Config) {
	d := digest(cfg)
	m.mu.Lock()
	m.current, m.digest = cfg, d
	m.mu.Unlock()
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// digest identifies a config by content, entry order included, so that
// touching the file without editing it does not restart the scheduler.
func digest(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	h := fnv.New64a()
	if err := json.NewEncoder(h).Encode(cfg); err != nil {
		return 0
	}
	for _, id := range cfg.order {
		_, _ = io.WriteString(h, id)
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

// Subscribe returns a channel receiving every published config. A slow
// subscriber loses its oldest pending snapshot, never the newest.
func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, max(buffer, 1))
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()
	return ch
}

func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
}

func (m *ConfigManager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for ch := range m.subs {
		offerLatest(ch, cfg)
	}
}

// offerLatest sends cfg, evicting pending snapshots until it fits. Only
// publish sends, so the loop ends once a slot is free.
func offerLatest(ch chan *Config, cfg *Config) {
	for {
		select {
		case ch <- cfg:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Reload re-reads the file and, when it differs from the committed
// snapshot or force is set, validates, commits and publishes it. A
// rejected config leaves the committed one in place.
func (m *ConfigManager) Reload(ctx context.Context, force bool) (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	d := digest(cfg)

	m.mu.RLock()
	same := d != 0 && d == m.digest
	m.mu.RUnlock()
	if same && !force {
		m.log.Debug("config unchanged", logx.String("path", m.path))
		return cfg, nil
	}

	if m.validate != nil {
		vctx, cancel := context.WithTimeout(ctx, validateTimeout)
		err = m.validate(vctx, cfg)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("config rejected: %w", err)
		}
	}

	m.Commit(cfg)
	m.publish(cfg)
	m.log.Debug("config published",
		logx.String("path", m.path),
		logx.String("digest", fmt.Sprintf("%016x", d)),
		logx.Bool("forced", force),
	)
	return cfg, nil
}
