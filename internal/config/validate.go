package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	logx "cmdtimer/pkg/logx"
)

// Duration parses a Go duration string. Empty means def; negative values
// are rejected.
func Duration(field, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", field)
	}
	return d, nil
}

// Validate rejects settings the process cannot run with. Bad schedules and
// an unknown timezone are not errors here: they are reported and skipped
// (or defaulted) when entries are built.
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if _, err := Duration("executor.timeout", c.Executor.Timeout, 0); err != nil {
		errs = append(errs, err)
	}
	if _, err := Duration("storage.busy_timeout", c.Storage.BusyTimeout, 0); err != nil {
		errs = append(errs, err)
	}
	if _, err := Duration("admin.read_timeout", c.Admin.ReadTimeout, 0); err != nil {
		errs = append(errs, err)
	}
	if _, err := Duration("admin.write_timeout", c.Admin.WriteTimeout, 0); err != nil {
		errs = append(errs, err)
	}
	if !logx.ValidFormat(c.Logging.Format) {
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "none":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path is required when storage.driver is set"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if c.Webhook.Enabled && strings.TrimSpace(c.Webhook.URL) != "" &&
		!strings.HasPrefix(c.Webhook.URL, "http://") && !strings.HasPrefix(c.Webhook.URL, "https://") {
		errs = append(errs, errors.New("webhook.url must be an http(s) URL"))
	}
	if c.Admin.Enabled {
		if _, _, err := net.SplitHostPort(strings.TrimSpace(c.Admin.Addr)); err != nil && strings.TrimSpace(c.Admin.Addr) != "" {
			errs = append(errs, fmt.Errorf("admin.addr: %w", err))
		}
	}
	return errors.Join(errs...)
}
