package app

import (
	"strings"
	"time"

	"cmdtimer/internal/admin"
	"cmdtimer/internal/config"
	"cmdtimer/internal/executor"
	"cmdtimer/internal/notifier"
	"cmdtimer/internal/storage"
	logx "cmdtimer/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	return notifier.Config{
		Enabled:    cfg.Webhook.Enabled,
		URL:        cfg.Webhook.URL,
		Title:      cfg.Webhook.Title,
		QueueSize:  cfg.Webhook.QueueSize,
		RatePerSec: cfg.Webhook.RatePerSec,
	}
}

func mapExecutorConfig(cfg *config.Config) (executor.Config, error) {
	timeout, err := config.Duration("executor.timeout", cfg.Executor.Timeout, 0)
	if err != nil {
		return executor.Config{}, err
	}
	return executor.Config{
		Concurrent: cfg.Executor.Concurrent,
		Workers:    cfg.Executor.Workers,
		QueueSize:  cfg.Executor.QueueSize,
		Timeout:    timeout,
		Dir:        strings.TrimSpace(cfg.Executor.Dir),
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.Duration("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
	}, nil
}

func mapAdminConfig(cfg *config.Config) (admin.Config, error) {
	rt, err := config.Duration("admin.read_timeout", cfg.Admin.ReadTimeout, 10*time.Second)
	if err != nil {
		return admin.Config{}, err
	}
	wt, err := config.Duration("admin.write_timeout", cfg.Admin.WriteTimeout, 60*time.Second)
	if err != nil {
		return admin.Config{}, err
	}
	return admin.Config{
		Enabled:      cfg.Admin.Enabled,
		Addr:         strings.TrimSpace(cfg.Admin.Addr),
		Token:        strings.TrimSpace(cfg.Admin.Token),
		ReadTimeout:  rt,
		WriteTimeout: wt,
	}, nil
}
