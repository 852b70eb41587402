//go:build !windows

package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/remodash/backend/internal/api/middleware"
	"github.com/remodash/backend/internal/infrastructure/config"
	"github.com/remodash/backend/internal/infrastructure/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Terminal.Mode = "pipe"
	cfg.Terminal.Shell = "/bin/sh"
	cfg.Terminal.GracePeriod = time.Second
	cfg.Terminal.StatePath = filepath.Join(t.TempDir(), "sessions.yaml")
	cfg.Logging.Development = true
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	srv, err := NewServer(cfg, &logging.Logger{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	return srv
}

func TestServerRoutes(t *testing.T) {
	srv := newTestServer(t, testConfig(t))
	t.Cleanup(func() { _ = srv.Close() })

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)
		return w
	}

	w := do("GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))

	w = do("POST", "/api/terminals", `{}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do("GET", "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "remodash_terminal_sessions_created_total 1")
	assert.Contains(t, body, "remodash_terminal_sessions_active 1")
	assert.Contains(t, body, "go_goroutines")
}

func TestServerRejectsInvalidMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Terminal.Mode = "telepathy"

	_, err := NewServer(cfg, &logging.Logger{Logger: zaptest.NewLogger(t)})
	assert.Error(t, err)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	cfg := testConfig(t)
	srv := newTestServer(t, cfg)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	base := "http://" + ln.Addr().String()
	resp, err := http.Post(base+"/api/terminals", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, 1, srv.Registry().Count())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.Equal(t, 0, srv.Registry().Count())

	// The next run sees the session the shutdown interrupted.
	next := newTestServer(t, cfg)
	t.Cleanup(func() { _ = next.Close() })
	assert.Len(t, next.Registry().Previous(), 1)
}
