//go:build !windows

package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/remodash/backend/internal/api/middleware"
	"github.com/remodash/backend/internal/terminal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestServer(t *testing.T, cors middleware.CORSConfig) (*terminal.Registry, *httptest.Server) {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	logger := zaptest.NewLogger(t)
	spawner, err := terminal.NewSpawner(terminal.ModePipe, logger)
	require.NoError(t, err)

	opts := terminal.DefaultOptions()
	opts.Shell = "/bin/sh"
	opts.GracePeriod = time.Second
	reg := terminal.NewRegistry(spawner, opts, logger)

	h := NewHandler(reg, cors, middleware.DefaultRateLimitConfig(), logger)
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/api/terminals/:id/stream", h.Stream)
	router.GET("/api/events", h.Events)

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = reg.Shutdown(ctx)
		srv.Close()
	})
	return reg, srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func readEvent(t *testing.T, conn *websocket.Conn, want terminal.EventType) terminal.Event {
	t.Helper()
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var ev terminal.Event
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Type == want {
			return ev
		}
	}
}

func TestStreamEchoAndExit(t *testing.T) {
	reg, srv := newTestServer(t, middleware.DefaultCORSConfig("*"))
	sess, err := reg.Create(context.Background(), terminal.CreateOptions{Cwd: os.TempDir()})
	require.NoError(t, err)

	conn := dial(t, srv, "/api/terminals/"+string(sess.ID())+"/stream")
	assert.Equal(t, string(terminal.FrameHistory), readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: TypeInput, Data: "echo hi\n"}))
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: TypeResize, Cols: 120, Rows: 40}))

	var out strings.Builder
	for !strings.Contains(out.String(), "hi") {
		msg := readMessage(t, conn)
		require.Equal(t, string(terminal.FrameOutput), msg.Type)
		out.Write(msg.Data)
	}

	go func() { _ = reg.Terminate(sess.ID()) }()

	for {
		msg := readMessage(t, conn)
		if msg.Type == string(terminal.FrameOutput) {
			continue
		}
		require.Equal(t, string(terminal.FrameExited), msg.Type)
		require.NotNil(t, msg.ExitCode)
		assert.NotZero(t, *msg.ExitCode)
		break
	}

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestStreamInputBurstIsPacedNotDropped(t *testing.T) {
	reg, srv := newTestServer(t, middleware.DefaultCORSConfig("*"))
	sess, err := reg.Create(context.Background(), terminal.CreateOptions{Cwd: os.TempDir()})
	require.NoError(t, err)

	conn := dial(t, srv, "/api/terminals/"+string(sess.ID())+"/stream")
	readMessage(t, conn)

	// Twice the default burst, one keystroke per message.
	const keys = 400
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: TypeInput, Data: "echo "}))
	for range keys {
		require.NoError(t, conn.WriteJSON(ClientMessage{Type: TypeInput, Data: "x"}))
	}
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: TypeInput, Data: "\n"}))

	want := strings.Repeat("x", keys)
	var out strings.Builder
	for !strings.Contains(out.String(), want) {
		msg := readMessage(t, conn)
		require.Equal(t, string(terminal.FrameOutput), msg.Type, msg.Message)
		out.Write(msg.Data)
	}
}

func TestStreamUnknownSession(t *testing.T) {
	_, srv := newTestServer(t, middleware.DefaultCORSConfig("*"))

	conn := dial(t, srv, "/api/terminals/term_01J0000000000000000000000/stream")
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, CloseUnknownSession), "got %v", err)
}

func TestStreamControlMessages(t *testing.T) {
	reg, srv := newTestServer(t, middleware.DefaultCORSConfig("*"))
	sess, err := reg.Create(context.Background(), terminal.CreateOptions{})
	require.NoError(t, err)

	conn := dial(t, srv, "/api/terminals/"+string(sess.ID())+"/stream")
	readMessage(t, conn)

	// Reparenting produces no reply and leaves the session alone.
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: TypeReparent, Target: "window"}))
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: TypePing}))
	assert.Equal(t, TypePong, readMessage(t, conn).Type)
	assert.Equal(t, terminal.StatusRunning, sess.Status())

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "bogus"}))
	msg := readMessage(t, conn)
	assert.Equal(t, TypeError, msg.Type)
	assert.Equal(t, "bad_message", msg.Code)
}

func TestStreamViewerDisconnectKeepsSession(t *testing.T) {
	reg, srv := newTestServer(t, middleware.DefaultCORSConfig("*"))
	sess, err := reg.Create(context.Background(), terminal.CreateOptions{})
	require.NoError(t, err)

	conn := dial(t, srv, "/api/terminals/"+string(sess.ID())+"/stream")
	readMessage(t, conn)
	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool { return sess.Summary().Viewers == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, terminal.StatusRunning, sess.Status())

	again := dial(t, srv, "/api/terminals/"+string(sess.ID())+"/stream")
	assert.Equal(t, string(terminal.FrameHistory), readMessage(t, again).Type)
}

func TestEventsChannel(t *testing.T) {
	reg, srv := newTestServer(t, middleware.DefaultCORSConfig("*"))
	conn := dial(t, srv, "/api/events")

	first := readEvent(t, conn, terminal.EventSessionList)
	assert.Empty(t, first.Sessions)

	sess, err := reg.Create(context.Background(), terminal.CreateOptions{})
	require.NoError(t, err)

	created := readEvent(t, conn, terminal.EventSessionCreated)
	require.NotNil(t, created.Session)
	assert.Equal(t, string(sess.ID()), created.Session.ID)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: TypeList}))
	list := readEvent(t, conn, terminal.EventSessionList)
	assert.Len(t, list.Sessions, 1)

	require.NoError(t, reg.Terminate(sess.ID()))
	removed := readEvent(t, conn, terminal.EventSessionRemoved)
	require.NotNil(t, removed.Session)
	assert.Equal(t, string(sess.ID()), removed.Session.ID)
}

func TestEventsClosedOnShutdown(t *testing.T) {
	reg, srv := newTestServer(t, middleware.DefaultCORSConfig("*"))
	conn := dial(t, srv, "/api/events")
	readEvent(t, conn, terminal.EventSessionList)

	require.NoError(t, reg.Shutdown(context.Background()))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestUpgradeRejectsForeignOrigin(t *testing.T) {
	_, srv := newTestServer(t, middleware.DefaultCORSConfig("http://dash.local:8000"))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestFrameMessage(t *testing.T) {
	out := frameMessage(terminal.Frame{Kind: terminal.FrameOutput, Data: []byte{0xff, 0x00}})
	raw, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"output","data":"/wA="}`, string(raw))

	exited := frameMessage(terminal.Frame{Kind: terminal.FrameExited, ExitCode: 129})
	require.NotNil(t, exited.ExitCode)
	assert.Equal(t, 129, *exited.ExitCode)
}
