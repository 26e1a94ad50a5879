// Package logx is cmdtimer's structured logger, a small layer over zerolog.
//
// A Logger obtained from a Service follows that Service across Apply calls,
// so components keep their scoped loggers while level, format and sinks are
// hot reloaded. Warnings and errors are also kept in a short in-memory ring
// that the admin status endpoint exposes.
package logx
