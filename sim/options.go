package sim

import (
	"github.com/rustyeddy/yieldloop/internal/id"
	"github.com/rustyeddy/yieldloop/internal/metrics"
	"github.com/rustyeddy/yieldloop/journal"
	"go.uber.org/zap"
)

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithJournal persists every period and event. The caller closes it.
func WithJournal(j journal.Journal) Option {
	return func(e *Engine) { e.journal = j }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithIDs(g *id.Generator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithRunID overrides the configured or generated run ID.
func WithRunID(runID string) Option {
	return func(e *Engine) { e.runID = runID }
}
