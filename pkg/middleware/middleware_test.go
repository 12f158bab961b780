package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/paperdex/paperdex/pkg/logger"
)

func okHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, body)
	})
}

func TestTimeoutPassesFastRequestsThrough(t *testing.T) {
	h := Timeout(time.Second)(okHandler("fast"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/search", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "fast" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestTimeoutSends504AndDropsLateWrites(t *testing.T) {
	handlerDone := make(chan struct{})
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		// These land after the deadline and must not reach the client.
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "late")
		close(handlerDone)
	})

	h := Timeout(20 * time.Millisecond)(slow)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/search", nil))
	<-handlerDone

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "request timeout") {
		t.Fatalf("body = %q, want timeout error", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "late") {
		t.Fatal("late handler write reached the client")
	}
}

func TestRequestIDMintsAndEchoes(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := RequestID()(inner)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	minted := rec.Header().Get("X-Request-ID")
	if minted == "" {
		t.Fatal("no request ID minted")
	}
	if seen != minted {
		t.Fatalf("context ID %q != response header %q", seen, minted)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "upstream-7")
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "upstream-7" {
		t.Fatalf("inbound ID not echoed: got %q", got)
	}
}

func TestCORS(t *testing.T) {
	cfg := CORSConfig{
		AllowOrigins: []string{"https://app.example.com"},
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       600,
	}
	h := CORS(cfg)(okHandler("ok"))

	t.Run("no origin header skips CORS", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Fatalf("unexpected CORS header %q on non-CORS request", got)
		}
	})

	t.Run("allowed origin gets headers", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://app.example.com")
		h.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
			t.Fatalf("allow-origin = %q", got)
		}
		if rec.Body.String() != "ok" {
			t.Fatal("request did not reach the handler")
		}
	})

	t.Run("preflight short-circuits", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodOptions, "/", nil)
		req.Header.Set("Origin", "https://app.example.com")
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("preflight status = %d, want 204", rec.Code)
		}
		if rec.Body.Len() != 0 {
			t.Fatal("preflight reached the handler")
		}
		if got := rec.Header().Get("Access-Control-Max-Age"); got != "600" {
			t.Fatalf("max-age = %q", got)
		}
	})

	t.Run("disallowed origin gets no headers", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		h.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Fatalf("allow-origin = %q for disallowed origin", got)
		}
	})
}

func TestRoutePattern(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"/api/v1/search", "/api/v1/search"},
		{"/api/v1/papers/2401.12345", "/api/v1/papers/{id}"},
		{"/api/v1/papers/", "/api/v1/papers/"},
		{"/api/v1/runs/recent", "/api/v1/runs/recent"},
		{"/api/v1/runs/9f3c", "/api/v1/runs/{id}"},
		{"/healthz", "/healthz"},
	}
	for _, tc := range cases {
		if got := routePattern(tc.path); got != tc.want {
			t.Errorf("routePattern(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestMetricsNilPassthrough(t *testing.T) {
	h := Metrics(nil)(okHandler("plain"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Body.String() != "plain" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}
