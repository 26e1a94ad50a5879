// Package notifier delivers fired-entry announcements to a chat webhook.
//
// Send never blocks the caller: jobs go onto a bounded FIFO queue consumed by
// a single worker, so deliveries leave in the order entries fired.
//
// # Delivery
//
// Each job is rendered as a Discord-style embed and POSTed with short connect
// and response timeouts. Any 2xx status is a success. Everything else,
// transport errors included, counts as a failed attempt; the worker retries
// with a fixed delay up to the attempt budget and then logs a warning. A
// shutdown during the inter-attempt wait drops the job silently.
//
// # History
//
// For operator visibility the service keeps a small in-memory history of
// recent delivery outcomes.
package notifier
