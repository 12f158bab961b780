// Package extract turns downloaded payloads into searchable text.
// Strategies are tried in order and the first that produces content
// wins; when every strategy misses the result degrades to empty
// content instead of an error, so an unreadable payload never fails
// its pipeline item.
package extract

import (
	"log/slog"

	"github.com/paperdex/paperdex/internal/paper"
	"github.com/paperdex/paperdex/pkg/metrics"
)

// Strategy is one way of reading a payload. A non-nil error is a miss:
// the chain logs it and moves on to the next strategy.
type Strategy interface {
	Name() string
	Extract(path string) (paper.ParsedContent, error)
}

// Chain runs strategies in order.
type Chain struct {
	strategies []Strategy
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewChain builds an extraction chain. With no strategies given it uses
// the default order: structured PDF extraction, then plain text.
func NewChain(m *metrics.Metrics, strategies ...Strategy) *Chain {
	if len(strategies) == 0 {
		strategies = []Strategy{NewPDF(), NewPlaintext()}
	}
	return &Chain{
		strategies: strategies,
		metrics:    m,
		logger:     slog.Default().With("component", "extractor"),
	}
}

// Extract parses the payload at path. It never returns an error; the
// caller always gets content it can persist, possibly degraded.
func (c *Chain) Extract(path string) paper.ParsedContent {
	var lastErr error
	for _, s := range c.strategies {
		content, err := s.Extract(path)
		if err != nil {
			c.logger.Debug("extraction strategy missed",
				"strategy", s.Name(), "path", path, "error", err)
			lastErr = err
			continue
		}
		c.logger.Info("extraction complete",
			"strategy", s.Name(),
			"path", path,
			"chars", len(content.FullText),
			"sections", len(content.Sections),
		)
		c.count(s.Name())
		return content
	}

	reason := "no strategy could read the payload"
	if lastErr != nil {
		reason = lastErr.Error()
	}
	c.logger.Warn("extraction degraded", "path", path, "reason", reason)
	c.count("none")
	return paper.Degraded(reason)
}

func (c *Chain) count(parser string) {
	if c.metrics != nil {
		c.metrics.ExtractionsTotal.WithLabelValues(parser).Inc()
	}
}
