package api

import (
	"net/http/httptest"
	"testing"

	"hybrid-regime-engine/config"
	"hybrid-regime-engine/internal/ledger"
	"hybrid-regime-engine/internal/riskguard"
)

func TestNewServerRegistersHealthRouteWithoutAuth(t *testing.T) {
	repo := ledger.NewRepository(nil)
	guard := riskguard.New(riskguard.DefaultConfig(), 1000)

	s := NewServer(
		config.ServerConfig{Port: 8080, Host: "127.0.0.1", AllowedOrigins: "*", ReadTimeout: 30, WriteTimeout: 30},
		config.AuthConfig{Enabled: false},
		config.MetricsConfig{Enabled: true, Path: "/metrics"},
		repo, guard, nil, nil, nil, nil,
	)

	routes := s.router.Routes()
	found := false
	for _, r := range routes {
		if r.Path == "/health" && r.Method == "GET" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected /health route to be registered")
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	s.router.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("expected /metrics to respond 200, got %d", w.Code)
	}
}
