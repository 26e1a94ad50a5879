package config

import (
	"reflect"
	"sort"
	"strings"

	logx "cmdtimer/pkg/logx"
)

// SummarizeChange returns the changed sections and safe structured attrs for
// logging. The webhook URL and admin token are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if strings.TrimSpace(oldCfg.Timezone) != strings.TrimSpace(newCfg.Timezone) {
		changed = append(changed, "timezone")
		attrs = append(attrs, logx.String("timezone", strings.TrimSpace(newCfg.Timezone)))
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.String("logging.format", newCfg.Logging.Format),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Webhook (never log the URL: it carries the channel secret)
	if oldCfg.Webhook != newCfg.Webhook {
		changed = append(changed, "webhook")
		attrs = append(attrs,
			logx.Bool("webhook.enabled", newCfg.Webhook.Enabled),
			logx.Bool("webhook.url_set", strings.TrimSpace(newCfg.Webhook.URL) != ""),
			logx.Bool("webhook.url_changed", oldCfg.Webhook.URL != newCfg.Webhook.URL),
			logx.Int("webhook.rate_per_sec", newCfg.Webhook.RatePerSec),
		)
	}

	if oldCfg.Executor != newCfg.Executor {
		changed = append(changed, "executor")
		attrs = append(attrs,
			logx.Bool("executor.concurrent", newCfg.Executor.Concurrent),
			logx.Int("executor.workers", newCfg.Executor.Workers),
			logx.String("executor.timeout", strings.TrimSpace(newCfg.Executor.Timeout)),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	// Admin (never log token)
	if oldCfg.Admin != newCfg.Admin {
		changed = append(changed, "admin")
		attrs = append(attrs,
			logx.Bool("admin.enabled", newCfg.Admin.Enabled),
			logx.String("admin.addr", strings.TrimSpace(newCfg.Admin.Addr)),
			logx.Bool("admin.token_set", strings.TrimSpace(newCfg.Admin.Token) != ""),
		)
	}

	added, removed, modified := diffEntries(oldCfg.Entries, newCfg.Entries)
	if len(added)+len(removed)+len(modified) > 0 {
		changed = append(changed, "entries")
		attrs = append(attrs,
			logx.Strings("entries.added", added),
			logx.Strings("entries.removed", removed),
			logx.Strings("entries.changed", modified),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func diffEntries(oldM, newM map[string]EntryConfig) (added, removed, modified []string) {
	for id, n := range newM {
		o, ok := oldM[id]
		switch {
		case !ok:
			added = append(added, id)
		case !reflect.DeepEqual(o, n):
			modified = append(modified, id)
		}
	}
	for id := range oldM {
		if _, ok := newM[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(modified)
	return added, removed, modified
}
