package runs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/paperdex/paperdex/internal/paper"
)

// OutcomeWriter is the slice of Store the Recorder needs.
type OutcomeWriter interface {
	RecordOutcomes(ctx context.Context, runID string, outcomes []paper.Outcome) error
}

// Recorder accumulates per-paper outcomes for one run and writes them to the
// store in batches, either when the buffer reaches a configurable size or
// after a time interval.
type Recorder struct {
	writer        OutcomeWriter
	runID         string
	mu            sync.Mutex
	buffer        []paper.Outcome
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	done          chan struct{}
}

// NewRecorder creates a Recorder that flushes when the buffer reaches
// batchSize outcomes or after flushInterval, whichever comes first.
func NewRecorder(writer OutcomeWriter, runID string, batchSize int, flushInterval time.Duration) *Recorder {
	if batchSize <= 0 {
		batchSize = 50
	}
	if flushInterval <= 0 {
		flushInterval = 2 * time.Second
	}
	return &Recorder{
		writer:        writer,
		runID:         runID,
		buffer:        make([]paper.Outcome, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "outcome-recorder", "run_id", runID),
		done:          make(chan struct{}),
	}
}

// Start launches the background flush loop, which runs until ctx is
// cancelled.
func (r *Recorder) Start(ctx context.Context) {
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.flush(ctx)
			case <-ctx.Done():
				// Final flush with a short deadline.
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				r.flush(flushCtx)
				cancel()
				return
			}
		}
	}()
}

// Add buffers an outcome. If the buffer reaches batchSize, an immediate
// flush is triggered.
func (r *Recorder) Add(o paper.Outcome) {
	r.mu.Lock()
	r.buffer = append(r.buffer, o)
	shouldFlush := len(r.buffer) >= r.batchSize
	r.mu.Unlock()

	if shouldFlush {
		// Flush in-band (best-effort; doesn't block the caller if another
		// flush is already in progress thanks to the mutex).
		go r.flush(context.Background())
	}
}

// Close waits for the background flush loop to finish. Call after the
// Start context is cancelled.
func (r *Recorder) Close() {
	<-r.done
}

// BufferLen returns the current number of buffered outcomes.
func (r *Recorder) BufferLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffer)
}

func (r *Recorder) flush(ctx context.Context) {
	r.mu.Lock()
	if len(r.buffer) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.buffer
	r.buffer = make([]paper.Outcome, 0, r.batchSize)
	r.mu.Unlock()

	if err := r.writer.RecordOutcomes(ctx, r.runID, batch); err != nil {
		r.logger.Error("outcome flush failed",
			"batch_size", len(batch),
			"error", err,
		)
		// Re-queue failed outcomes (best-effort, may drop on repeated failure).
		r.mu.Lock()
		r.buffer = append(batch, r.buffer...)
		if len(r.buffer) > r.batchSize*3 {
			dropped := len(r.buffer) - r.batchSize*3
			r.buffer = r.buffer[:r.batchSize*3]
			r.logger.Warn("buffer overflow, outcomes dropped", "dropped", dropped)
		}
		r.mu.Unlock()
		return
	}

	r.logger.Debug("outcomes flushed", "count", len(batch))
}
