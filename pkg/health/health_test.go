package health

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
)

func up(context.Context) ComponentHealth   { return ComponentHealth{Status: StatusUp} }
func down(context.Context) ComponentHealth { return ComponentHealth{Status: StatusDown, Message: "dead"} }
func degraded(context.Context) ComponentHealth {
	return ComponentHealth{Status: StatusDegraded, Message: "limping"}
}

func TestRunAggregatesWorstStatus(t *testing.T) {
	tests := []struct {
		name   string
		probes map[string]Check
		want   Status
	}{
		{"all up", map[string]Check{"a": up, "b": up}, StatusUp},
		{"one degraded", map[string]Check{"a": up, "b": degraded}, StatusDegraded},
		{"down beats degraded", map[string]Check{"a": degraded, "b": down, "c": up}, StatusDown},
		{"no probes", map[string]Check{}, StatusUp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			for name, probe := range tt.probes {
				c.Register(name, probe)
			}
			report := c.Run(context.Background())
			if report.Status != tt.want {
				t.Errorf("status = %s, want %s", report.Status, tt.want)
			}
			if len(report.Components) != len(tt.probes) {
				t.Errorf("components = %d, want %d", len(report.Components), len(tt.probes))
			}
		})
	}
}

func TestRunRecordsLatencyAndMessage(t *testing.T) {
	c := NewChecker()
	c.Register("cache", degraded)

	report := c.Run(context.Background())
	comp := report.Components["cache"]
	if comp.Message != "limping" {
		t.Errorf("message = %q", comp.Message)
	}
	if comp.Latency == "" {
		t.Error("latency not recorded")
	}
}

func TestPanickingProbeReportsDown(t *testing.T) {
	c := NewChecker()
	c.Register("flaky", func(context.Context) ComponentHealth {
		panic("probe bug")
	})
	c.Register("solid", up)

	report := c.Run(context.Background())
	if report.Status != StatusDown {
		t.Errorf("status = %s, want down", report.Status)
	}
	if report.Components["flaky"].Status != StatusDown {
		t.Errorf("flaky = %s, want down", report.Components["flaky"].Status)
	}
	if report.Components["solid"].Status != StatusUp {
		t.Errorf("solid = %s, want up (panic must stay contained)", report.Components["solid"].Status)
	}
}

func TestReadyHandlerStatusCodes(t *testing.T) {
	tests := []struct {
		name     string
		probe    Check
		wantCode int
	}{
		{"up serves 200", up, 200},
		{"degraded stays in rotation", degraded, 200},
		{"down serves 503", down, 503},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			c.Register("dep", tt.probe)

			rec := httptest.NewRecorder()
			c.ReadyHandler()(rec, httptest.NewRequest("GET", "/health/ready", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			var report Report
			if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
				t.Fatalf("body: %v", err)
			}
			if report.Components["dep"].Status != tt.probe(context.Background()).Status {
				t.Errorf("component status = %s", report.Components["dep"].Status)
			}
		})
	}
}

func TestLiveHandlerAlwaysAnswers(t *testing.T) {
	c := NewChecker()
	c.Register("dep", down)

	rec := httptest.NewRecorder()
	c.LiveHandler()(rec, httptest.NewRequest("GET", "/health/live", nil))
	if rec.Code != 200 {
		t.Errorf("code = %d, want 200 regardless of dependencies", rec.Code)
	}
}
