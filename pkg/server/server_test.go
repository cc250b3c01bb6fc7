package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"beacon/pkg/logging"
	"beacon/pkg/version"
)

func TestSetupServiceRouterHealthFallback(t *testing.T) {
	t.Setenv("GIN_MODE", "release")

	router := SetupServiceRouter(logging.NewLogger(), "beacon", nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", w.Code)
	}
}

func TestSetupServiceRouterVersionEndpoint(t *testing.T) {
	t.Setenv("GIN_MODE", "release")

	router := SetupServiceRouter(logging.NewLogger(), "beacon", nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from /version, got %d", w.Code)
	}

	var info version.Info
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("failed to decode version payload: %v", err)
	}
	if info.Version != version.Version {
		t.Fatalf("expected version %q, got %q", version.Version, info.Version)
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("PORT", "")

	cfg := DefaultConfig("beacon", "8080")
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.ServiceName != "beacon" {
		t.Fatalf("expected service name beacon, got %s", cfg.ServiceName)
	}
}
