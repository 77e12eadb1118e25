package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "badgewatch/pkg/logx"
)

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:9464", true},
		{"localhost:1", true},
		{"[::1]:80", true},
		{":9464", false},
		{"0.0.0.0:9464", false},
		{"10.0.0.1:80", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.addr, func(t *testing.T) {
			t.Parallel()
			if got := isLoopbackAddr(tt.addr); got != tt.want {
				t.Fatalf("isLoopbackAddr(%q) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestHandlerRoutes(t *testing.T) {
	t.Parallel()

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, "m 1\n") })
	var healthErr error
	svc := New(Config{}, Deps{Metrics: metrics, Health: func() error { return healthErr }}, logx.Nop())

	tests := []struct {
		name   string
		cfg    Config
		path   string
		header string
		want   int
	}{
		{"healthz", Config{}, "/healthz", "", http.StatusOK},
		{"metrics disabled", Config{}, "/metrics", "", http.StatusNotFound},
		{"metrics enabled", Config{Metrics: true}, "/metrics", "", http.StatusOK},
		{"pprof custom prefix", Config{Pprof: true, PprofPrefix: "dbg"}, "/dbg/", "", http.StatusOK},
		{"token missing", Config{Token: "s"}, "/healthz", "", http.StatusUnauthorized},
		{"token bearer", Config{Token: "s"}, "/healthz", "Bearer s", http.StatusOK},
		{"token query", Config{Token: "s"}, "/healthz?token=s", "", http.StatusOK},
		{"token wrong query", Config{Token: "s"}, "/healthz?token=x", "Bearer s", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		rec := httptest.NewRecorder()
		svc.Handler(tt.cfg).ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Fatalf("%s: status = %d, want %d", tt.name, rec.Code, tt.want)
		}
	}

	healthErr = errors.New("adapter down")
	rec := httptest.NewRecorder()
	svc.Handler(Config{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unhealthy status = %d, want 503", rec.Code)
	}
}

func TestServeLifecycle(t *testing.T) {
	t.Parallel()

	svc := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Deps{}, logx.Nop())
	svc.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	addr := svc.Addr(ctx)
	if addr == "" {
		t.Fatalf("server did not bind")
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	client.CloseIdleConnections()
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("GET /healthz = %d %q", resp.StatusCode, body)
	}

	svc.Stop(ctx)
	if svc.Supervisor() != nil {
		t.Fatalf("supervisor still set after Stop")
	}
	if _, err := client.Get("http://" + addr + "/healthz"); err == nil {
		t.Fatalf("server still serving after Stop")
	}
}

func TestRefusesInsecureBind(t *testing.T) {
	t.Parallel()

	svc := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, Deps{}, logx.Nop())
	err := svc.serveOnce(context.Background())
	if err == nil {
		t.Fatalf("serveOnce() error = nil, want refusal")
	}
}
