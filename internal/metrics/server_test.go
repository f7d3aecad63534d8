package metrics

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.MetricsPath != "/metrics" {
		t.Errorf("MetricsPath = %s, want /metrics", cfg.MetricsPath)
	}
	if cfg.HealthPath != "/health" {
		t.Errorf("HealthPath = %s, want /health", cfg.HealthPath)
	}
}

func TestServer_HealthAndReady(t *testing.T) {
	check := func(status string) HealthChecker {
		return func() Check { return Check{Status: status} }
	}

	tests := []struct {
		name       string
		checks     map[string]HealthChecker
		wantStatus string
		wantHealth int
		wantReady  int
	}{
		{"no checks", nil, StatusHealthy, http.StatusOK, http.StatusOK},
		{"all healthy", map[string]HealthChecker{"pipeline": check(StatusHealthy), "feed": check(StatusHealthy)}, StatusHealthy, http.StatusOK, http.StatusOK},
		{"screener degraded", map[string]HealthChecker{"pipeline": check(StatusHealthy), "screener": check(StatusDegraded)}, StatusDegraded, http.StatusOK, http.StatusServiceUnavailable},
		{"pipeline stopped", map[string]HealthChecker{"pipeline": check(StatusUnhealthy), "screener": check(StatusDegraded)}, StatusUnhealthy, http.StatusServiceUnavailable, http.StatusServiceUnavailable},
		{"unknown status counts as unhealthy", map[string]HealthChecker{"feed": check("stalled")}, StatusUnhealthy, http.StatusServiceUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewServer(DefaultServerConfig(), nil)
			for name, fn := range tt.checks {
				server.RegisterHealthCheck(name, fn)
			}

			w := httptest.NewRecorder()
			server.healthHandler(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			if w.Code != tt.wantHealth {
				t.Errorf("/health code = %d, want %d", w.Code, tt.wantHealth)
			}
			var status HealthStatus
			if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if status.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", status.Status, tt.wantStatus)
			}
			if len(status.Checks) != len(tt.checks) {
				t.Errorf("checks = %d, want %d", len(status.Checks), len(tt.checks))
			}

			w = httptest.NewRecorder()
			server.readyHandler(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
			if w.Code != tt.wantReady {
				t.Errorf("/ready code = %d, want %d", w.Code, tt.wantReady)
			}
		})
	}
}

func TestServer_LiveHandler(t *testing.T) {
	cfg := DefaultServerConfig()
	server := NewServer(cfg, nil)

	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	w := httptest.NewRecorder()

	server.liveHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Body.String() != "alive" {
		t.Errorf("body = %s, want alive", w.Body.String())
	}
}

func TestServer_Uptime(t *testing.T) {
	cfg := DefaultServerConfig()
	server := NewServer(cfg, nil)

	time.Sleep(10 * time.Millisecond)

	uptime := server.Uptime()
	if uptime < 10*time.Millisecond {
		t.Errorf("uptime = %v, expected >= 10ms", uptime)
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	cfg := ServerConfig{Host: "127.0.0.1", Port: 0}
	server := NewServer(cfg, nil)
	server.HandleJSON("/stats", func() any {
		return map[string]int{"processed": 3}
	})

	if err := server.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if server.Addr() == "" {
		t.Fatal("expected bound address after Start")
	}

	resp, err := http.Get("http://" + server.Addr() + "/stats")
	if err != nil {
		t.Fatalf("GET /stats: %v", err)
	}
	var body map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode /stats: %v", err)
	}
	resp.Body.Close()
	if body["processed"] != 3 {
		t.Errorf("processed = %d, want 3", body["processed"])
	}

	resp, err = http.Get("http://" + server.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/metrics status = %d, want 200", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestServer_StartBindError(t *testing.T) {
	first := NewServer(ServerConfig{Host: "127.0.0.1", Port: 0}, nil)
	if err := first.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer first.Shutdown(context.Background())

	_, port, _ := net.SplitHostPort(first.Addr())
	p, _ := strconv.Atoi(port)
	second := NewServer(ServerConfig{Host: "127.0.0.1", Port: p}, nil)
	if err := second.Start(); err == nil {
		second.Shutdown(context.Background())
		t.Fatal("expected bind error on a used port")
	}
}
