package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/0xmhha/selector-scan/scanner"
	"github.com/0xmhha/selector-scan/types"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) (*Server, *prometheus.Registry, *scanner.Metrics) {
	t.Helper()

	reg := prometheus.NewRegistry()
	metrics := scanner.NewMetrics(reg, "", "")

	server, err := NewServer(DefaultConfig("127.0.0.1:0"), zap.NewNop(), reg, "test")
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return server, reg, metrics
}

func TestNewServer(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name:    "valid default config",
			config:  DefaultConfig("localhost:9090"),
			wantErr: false,
		},
		{
			name:    "nil config",
			config:  nil,
			wantErr: true,
		},
		{
			name:    "missing port",
			config:  DefaultConfig("localhost"),
			wantErr: true,
		},
		{
			name: "zero timeouts",
			config: &Config{
				Addr:           ":9090",
				MaxHeaderBytes: 1 << 20,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, err := NewServer(tt.config, zap.NewNop(), prometheus.NewRegistry(), "test")
			if (err != nil) != tt.wantErr {
				t.Errorf("NewServer() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && server == nil {
				t.Error("NewServer() returned nil server")
			}
		})
	}
}

func TestServerHealthEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "scanning" {
		t.Errorf("expected status scanning, got %s", resp.Status)
	}

	server.MarkDone()
	w = httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "done" {
		t.Errorf("expected status done, got %s", resp.Status)
	}
}

func TestServerProgressEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)
	server.UpdateProgress(types.Progress{ProcessedBlocks: 4, TotalBlocks: 5, BatchStart: 102, BatchEnd: 103})

	req := httptest.NewRequest(http.MethodGet, "/progress", nil)
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)

	var resp ProgressResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ProcessedBlocks != 4 || resp.TotalBlocks != 5 {
		t.Errorf("expected 4/5 blocks, got %d/%d", resp.ProcessedBlocks, resp.TotalBlocks)
	}
	if resp.Percent != 80 {
		t.Errorf("expected 80%%, got %v", resp.Percent)
	}
	if resp.Done {
		t.Error("expected scan not done")
	}
}

func TestServerMetricsEndpoint(t *testing.T) {
	server, _, metrics := newTestServer(t)
	metrics.BlocksScannedTotal.Add(42)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "selector_scan_scanner_blocks_scanned_total 42") {
		t.Errorf("metrics output missing scanned counter:\n%s", w.Body.String())
	}
}

func TestServerVersionEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["version"] != "test" {
		t.Errorf("expected version test, got %s", resp["version"])
	}
}

func TestServerNotFound(t *testing.T) {
	server, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/graphql", nil)
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestServerServeAndStop(t *testing.T) {
	server, _, _ := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := <-errCh; err != nil {
		t.Errorf("Serve() error = %v", err)
	}
}
