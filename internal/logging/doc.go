// Package logging assembles the structured slog loggers used across pacer.
//
// It owns the console and JSON handlers, level parsing and output routing,
// the standard field keys every component logs with, and context helpers
// that tag lines with the pipeline id and stage being processed. Library
// packages accept a *slog.Logger and fall back to NewNop when given nil.
package logging
