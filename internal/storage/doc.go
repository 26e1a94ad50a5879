// Package storage keeps an optional audit trail of dispatched firings.
//
// The trail is observational: the engine's deduplication never reads it.
// Two drivers are available, "file" (JSON Lines) and "sqlite".
package storage
