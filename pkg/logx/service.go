package logx

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Output formats for the console sink.
const (
	FormatConsole = "console" // colored, human readable
	FormatPlain   = "plain"   // no color or timestamp; journald adds both
	FormatJSON    = "json"
)

const (
	timeFormat      = "2006-01-02T15:04:05.000Z07:00"
	defaultLogFile  = "./cmdtimer.log"
	defaultRecentSz = 32
)

type Config struct {
	Level string
	// Format selects the console rendering. Empty picks plain under
	// systemd (JOURNAL_STREAM set) and console otherwise.
	Format  string
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

var globalsOnce sync.Once

func configureGlobals() {
	globalsOnce.Do(func() {
		zerolog.ErrorFieldName = "err"
		zerolog.TimeFieldFormat = timeFormat
	})
}

// Service owns the sinks behind every Logger it hands out.
type Service struct {
	mu     sync.Mutex
	file   *os.File
	root   atomic.Pointer[zerolog.Logger]
	recent *recentRing
	stdout io.Writer
}

// New applies cfg and returns the service with its root logger.
func New(cfg Config) (*Service, Logger) {
	s := newService(os.Stdout)
	s.Apply(cfg)
	return s, s.Logger()
}

func newService(stdout io.Writer) *Service {
	configureGlobals()
	return &Service{recent: newRecentRing(defaultRecentSz), stdout: stdout}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{src: s} }

// Recent returns the latest warn and error entries as JSON, oldest first.
func (s *Service) Recent() []json.RawMessage { return s.recent.snapshot() }

// Apply swaps level, format and sinks. Loggers already handed out follow
// the change. A log file that cannot be opened is reported on stderr and
// skipped.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var sinks []io.Writer
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogFile
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open %s: %v\n", path, err)
		} else {
			s.file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}
	if cfg.Console || len(sinks) == 0 {
		sinks = append(sinks, consoleSink(s.stdout, resolveFormat(cfg.Format)))
	}
	sinks = append(sinks, s.recent)

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(ParseLevel(cfg.Level, LevelInfo)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func resolveFormat(format string) string {
	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case FormatConsole, FormatPlain, FormatJSON:
		return f
	}
	if os.Getenv("JOURNAL_STREAM") != "" {
		return FormatPlain
	}
	return FormatConsole
}

func consoleSink(w io.Writer, format string) io.Writer {
	if format == FormatJSON {
		return w
	}
	cw := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: timeFormat,
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
	if format == FormatPlain {
		cw.NoColor = true
		cw.PartsExclude = []string{zerolog.TimestampFieldName}
	}
	return cw
}

// ValidFormat reports whether format is empty or a known format name.
func ValidFormat(format string) bool {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatConsole, FormatPlain, FormatJSON:
		return true
	}
	return false
}

// ParseLevel maps a level name to a zerolog level, or def when unknown.
func ParseLevel(s string, def Level) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	}
	return def
}

// recentRing keeps the last warn+ entries. It only sees encoded JSON, so
// it sits in the writer chain instead of being a zerolog hook.
type recentRing struct {
	mu   sync.Mutex
	buf  []json.RawMessage
	next int
	full bool
}

func newRecentRing(n int) *recentRing {
	return &recentRing{buf: make([]json.RawMessage, n)}
}

func (r *recentRing) Write(p []byte) (int, error) { return len(p), nil }

func (r *recentRing) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < zerolog.WarnLevel || level == zerolog.NoLevel {
		return len(p), nil
	}
	line := json.RawMessage(strings.TrimRight(string(p), "\n"))
	r.mu.Lock()
	r.buf[r.next] = line
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
	return len(p), nil
}

func (r *recentRing) snapshot() []json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]json.RawMessage, 0, len(r.buf))
	if r.full {
		out = append(out, r.buf[r.next:]...)
	}
	return append(out, r.buf[:r.next]...)
}
