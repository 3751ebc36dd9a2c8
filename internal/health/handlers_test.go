package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/noah-isme/cart-engine/internal/health"
)

func TestLiveAlwaysOK(t *testing.T) {
	rr := httptest.NewRecorder()
	health.Handler{}.Live(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
}

func TestReadyWithoutProbes(t *testing.T) {
	rr := httptest.NewRecorder()
	health.Handler{}.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
}

func TestReadyReportsFailingProbe(t *testing.T) {
	h := health.Handler{Probes: map[string]health.Probe{
		"db": func(ctx context.Context, timeout time.Duration) error {
			return errors.New("connection refused")
		},
		"redis": func(ctx context.Context, timeout time.Duration) error {
			return nil
		},
	}}
	rr := httptest.NewRecorder()
	h.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rr.Code)
	}
	var status map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&status); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if status["redis"] != "ok" {
		t.Fatalf("expected redis ok, got %q", status["redis"])
	}
	if status["db"] != "connection refused" {
		t.Fatalf("expected db error, got %q", status["db"])
	}
}
