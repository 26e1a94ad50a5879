// Package schedule turns human-authored timer rules into absolute firing instants.
//
// # Rule syntax
//
// A rule is "DAY;HH:MM:SS". DAY is DAILY (or DIARIO) or a weekday name in
// English or Spanish, matched case-insensitively and with diacritics ignored,
// so "Miércoles", "miercoles" and "WEDNESDAY" are the same day.
//
// # Resolution
//
// Resolve maps a rule onto a half-open window (start, end] in a given
// location. Each local calendar day yields at most one dedup key; DST overlaps
// can produce two instants with that same key, and a time that falls inside a
// DST gap fires at the transition instant that ends the gap.
package schedule
