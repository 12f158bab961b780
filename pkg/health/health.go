// Package health aggregates per-dependency probes into the liveness and
// readiness endpoints each service exposes. Liveness only proves the
// process is serving; readiness runs every registered probe and reports
// the worst result, so a service with a dead database answers 503 while
// one with a degraded cache stays in rotation.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Status is the health of one dependency or of the service overall.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// rank orders statuses worst-last so aggregation is a max.
func (s Status) rank() int {
	switch s {
	case StatusDown:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

// Check probes a single dependency. Probes run concurrently and must
// honour ctx; a slow dependency should cost its probe budget, not the
// whole readiness response.
type Check func(ctx context.Context) ComponentHealth

// ComponentHealth is one probe's result.
type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Report is the readiness response body.
type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

const defaultProbeBudget = 5 * time.Second

// Checker runs registered probes concurrently and aggregates them.
type Checker struct {
	mu     sync.RWMutex
	probes map[string]Check
	budget time.Duration
	logger *slog.Logger
}

func NewChecker() *Checker {
	return &Checker{
		probes: make(map[string]Check),
		budget: defaultProbeBudget,
		logger: slog.Default().With("component", "health"),
	}
}

// Register adds a named probe. Re-registering a name replaces the probe.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[name] = check
}

// Run executes every probe concurrently and returns the aggregate. A
// probe that panics is reported down rather than crashing the service
// through its own health endpoint.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	probes := make(map[string]Check, len(c.probes))
	for name, probe := range c.probes {
		probes[name] = probe
	}
	c.mu.RUnlock()

	report := Report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(probes)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, probe := range probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := c.runProbe(ctx, name, probe)
			mu.Lock()
			report.Components[name] = result
			if result.Status.rank() > report.Status.rank() {
				report.Status = result.Status
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	return report
}

func (c *Checker) runProbe(ctx context.Context, name string, probe Check) (result ComponentHealth) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("health probe panicked", "probe", name, "panic", r)
			result = ComponentHealth{
				Status:  StatusDown,
				Message: fmt.Sprintf("probe panicked: %v", r),
			}
		}
		result.Latency = time.Since(start).Round(time.Millisecond).String()
	}()
	return probe(ctx)
}

// LiveHandler answers liveness probes. Reaching it at all is the check.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	}
}

// ReadyHandler answers readiness probes. Only a down dependency takes
// the service out of rotation; degraded ones are reported but keep the
// service serving.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), c.budget)
		defer cancel()

		report := c.Run(ctx)
		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusDown {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(report)
	}
}
