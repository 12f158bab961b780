// Package tracing provides lightweight in-process spans for timing the
// stages of an ingest run. A root span carries the run ID as its trace
// ID; child spans mark individual stages (metadata fetch, filtering,
// batch processing, indexing). When the root span is logged the whole
// tree comes out as structured log lines, one per stage, with durations
// and stage attributes. There is no wire export; runs are short-lived
// and the log is the trace.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type contextKey struct{}

var spanKey contextKey

// Span records the timing of one stage of a run. Spans form a tree:
// the root covers the whole run, children cover stages. All methods
// are safe for concurrent use.
type Span struct {
	name    string
	traceID string
	start   time.Time

	mu       sync.Mutex
	end      time.Time
	attrs    []slog.Attr
	children []*Span
}

func newSpan(name, traceID string) *Span {
	return &Span{name: name, traceID: traceID, start: time.Now()}
}

// StartSpan begins a root span and stores it in the returned context so
// later stages can attach children. traceID ties the log lines
// together; the run ID is the natural choice.
func StartSpan(ctx context.Context, name, traceID string) (context.Context, *Span) {
	s := newSpan(name, traceID)
	return context.WithValue(ctx, spanKey, s), s
}

// StartChildSpan begins a stage span under the span carried by ctx. If
// ctx has no span the child becomes a detached root with an empty trace
// ID, which keeps call sites working outside a traced run.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent := SpanFromContext(ctx)
	if parent == nil {
		s := newSpan(name, "")
		return context.WithValue(ctx, spanKey, s), s
	}
	s := newSpan(name, parent.traceID)
	parent.mu.Lock()
	parent.children = append(parent.children, s)
	parent.mu.Unlock()
	return context.WithValue(ctx, spanKey, s), s
}

// SpanFromContext returns the span carried by ctx, or nil.
func SpanFromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(spanKey).(*Span)
	return s
}

// SetAttr attaches a key/value pair that will appear on this span's log
// line.
func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, slog.Any(key, value))
	s.mu.Unlock()
}

// End marks the span finished. Calling End more than once keeps the
// first end time, so a deferred End after an explicit one is harmless.
func (s *Span) End() {
	s.mu.Lock()
	if s.end.IsZero() {
		s.end = time.Now()
	}
	s.mu.Unlock()
}

// Duration reports how long the span ran. For an unfinished span it
// reports the time elapsed so far.
func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.durationLocked()
}

func (s *Span) durationLocked() time.Duration {
	if s.end.IsZero() {
		return time.Since(s.start)
	}
	return s.end.Sub(s.start)
}

// Log emits the span tree as structured log lines, one per span. Each
// line carries the trace ID and the slash-joined stage path, so a
// single run can be pulled out of the log by its ID and read
// top-to-bottom:
//
//	span trace_id=r1 stage=ingest-run duration_ms=1042
//	span trace_id=r1 stage=ingest-run/fetch-metadata duration_ms=310
func (s *Span) Log() {
	s.logTree("")
}

func (s *Span) logTree(prefix string) {
	s.mu.Lock()
	path := prefix + s.name
	args := make([]any, 0, 3+len(s.attrs))
	args = append(args,
		slog.String("trace_id", s.traceID),
		slog.String("stage", path),
		slog.Int64("duration_ms", s.durationLocked().Milliseconds()),
	)
	for _, a := range s.attrs {
		args = append(args, a)
	}
	children := make([]*Span, len(s.children))
	copy(children, s.children)
	s.mu.Unlock()

	slog.Info("span", args...)
	for _, c := range children {
		c.logTree(path + "/")
	}
}
