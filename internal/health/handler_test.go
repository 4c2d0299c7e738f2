package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/unalkalkan/pdftools-offline/internal/storage"
)

type failingList struct {
	storage.Adapter
}

func (failingList) List(ctx context.Context, prefix string) ([]string, error) {
	return nil, errors.New("disk gone")
}

func decodeResponse(t *testing.T, body io.Reader) Response {
	t.Helper()
	var resp Response
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp
}

func TestReadinessHealthy(t *testing.T) {
	h := NewHandler("test")
	h.Register("storage", StorageCheck(storage.NewMemoryAdapter(), "caches/"))
	h.Register("controller", ControllerCheck(func() string { return "v1" }))

	w := httptest.NewRecorder()
	h.ReadinessHandler()(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	resp := decodeResponse(t, w.Body)
	if resp.Status != StatusHealthy {
		t.Errorf("Expected healthy, got %s", resp.Status)
	}
	if len(resp.Checks) != 2 {
		t.Errorf("Expected 2 check results, got %d", len(resp.Checks))
	}
	if resp.Version != "test" {
		t.Errorf("Expected version 'test', got '%s'", resp.Version)
	}
}

func TestReadinessStorageDown(t *testing.T) {
	h := NewHandler("test")
	h.Register("storage", StorageCheck(failingList{storage.NewMemoryAdapter()}, "caches/"))
	h.Register("controller", ControllerCheck(func() string { return "" }))

	w := httptest.NewRecorder()
	h.ReadinessHandler()(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503, got %d", w.Code)
	}
	resp := decodeResponse(t, w.Body)
	if resp.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy, got %s", resp.Status)
	}
	if resp.Checks["storage"].Error == "" {
		t.Error("Expected storage check error")
	}
	if resp.Checks["controller"].Status != StatusDegraded {
		t.Errorf("Expected degraded controller check, got %s", resp.Checks["controller"].Status)
	}
}

func TestDegradedStillReady(t *testing.T) {
	h := NewHandler("test")
	h.Register("upstream", BreakerCheck(func() string { return "open" }))

	w := httptest.NewRecorder()
	h.ReadinessHandler()(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 while degraded, got %d", w.Code)
	}
	if resp := decodeResponse(t, w.Body); resp.Status != StatusDegraded {
		t.Errorf("Expected degraded, got %s", resp.Status)
	}
}

func TestBreakerCheck(t *testing.T) {
	tests := []struct {
		state string
		want  Status
	}{
		{"disabled", StatusHealthy},
		{"closed", StatusHealthy},
		{"open", StatusDegraded},
		{"half-open", StatusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			state := tt.state
			got, _ := BreakerCheck(func() string { return state })(context.Background())
			if got != tt.want {
				t.Errorf("BreakerCheck(%s) = %s, want %s", tt.state, got, tt.want)
			}
		})
	}
}

func TestLivenessIgnoresChecks(t *testing.T) {
	h := NewHandler("test")
	h.Register("storage", StorageCheck(failingList{storage.NewMemoryAdapter()}, ""))

	w := httptest.NewRecorder()
	h.LivenessHandler()(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if got := h.Names(); len(got) != 1 || got[0] != "storage" {
		t.Errorf("Unexpected check names: %v", got)
	}
}
