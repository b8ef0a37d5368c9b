package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-relay/internal/relay"
	"github.com/Tyrowin/gochat-relay/internal/store"
)

const testOrigin = "http://localhost:8080"

type testEnv struct {
	hub       *Hub
	directory *store.Memory
	archive   *store.MemoryArchive
}

// newTestEnv builds a hub over a memory directory holding alice, bob, carol
// and dave, where alice is friends with bob and carol.
func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	directory := store.NewMemory()
	_, err := store.Seed(context.Background(), directory, store.Fixture{
		Users: []store.FixtureUser{
			{ID: "alice", Username: "alice", DisplayName: "Alice"},
			{ID: "bob", Username: "bob", DisplayName: "Bob"},
			{ID: "carol", Username: "carol", DisplayName: "Carol"},
			{ID: "dave", Username: "dave", DisplayName: "Dave"},
		},
		Friendships: [][2]string{{"alice", "bob"}, {"alice", "carol"}},
	})
	require.NoError(t, err)

	cfg := *NewConfig()
	cfg.AllowedOrigins = []string{testOrigin}
	if mutate != nil {
		mutate(&cfg)
	}

	archive := store.NewMemoryArchive()
	r := relay.New(directory, archive, relay.WithCloseSuperseded(cfg.CloseSuperseded))
	return &testEnv{hub: NewHub(r, cfg), directory: directory, archive: archive}
}

// start runs the hub behind a test HTTP server and returns the ws:// URL.
func (e *testEnv) start(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	StartHub(e.hub)
	srv := httptest.NewServer(SetupRoutes(e.hub))
	t.Cleanup(func() {
		_ = e.hub.Shutdown(2 * time.Second)
		srv.Close()
	})
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func (e *testEnv) waitOnline(t *testing.T, userID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.hub.relay.Registry.IsOnline(userID)
	}, 2*time.Second, 5*time.Millisecond, "%s never came online", userID)
}

func (e *testEnv) waitClients(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.hub.Len() == n
	}, 2*time.Second, 5*time.Millisecond, "hub never reached %d clients", n)
}

// peer is a test WebSocket client. Frames may carry several newline
// separated events; peer hands them out one at a time.
type peer struct {
	t       *testing.T
	conn    *websocket.Conn
	pending []relay.Envelope
}

func dial(t *testing.T, url string) *peer {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", testOrigin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &peer{t: t, conn: conn}
}

func (p *peer) emit(event string, data any) {
	p.t.Helper()
	require.NoError(p.t, p.conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

func (p *peer) identify(userID string) {
	p.emit(relay.EventIdentify, userID)
}

func (p *peer) next() relay.Envelope {
	p.t.Helper()
	for len(p.pending) == 0 {
		require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, frame, err := p.conn.ReadMessage()
		require.NoError(p.t, err)
		for _, line := range strings.Split(string(frame), "\n") {
			if line == "" {
				continue
			}
			var env relay.Envelope
			require.NoError(p.t, json.Unmarshal([]byte(line), &env))
			p.pending = append(p.pending, env)
		}
	}
	env := p.pending[0]
	p.pending = p.pending[1:]
	return env
}

// expect reads the next event, requires its name, and decodes its data into v.
func (p *peer) expect(name string, v any) {
	p.t.Helper()
	env := p.next()
	require.Equal(p.t, name, env.Name, "data: %s", env.Data)
	if v != nil {
		require.NoError(p.t, json.Unmarshal(env.Data, v))
	}
}

// barrier sends a typing signal to the peer's own user and waits for it to
// come back, so everything queued for this peer before it has been read.
func (p *peer) barrier(userID string) {
	p.t.Helper()
	p.emit(relay.EventTyping, map[string]any{"receiverId": userID, "typing": true})
	var notice relay.TypingNotice
	p.expect(relay.EventUserTyping, &notice)
	require.Equal(p.t, relay.TypingNotice{UserID: userID, Typing: true}, notice)
}

// expectClosed requires the server to end the connection.
func (p *peer) expectClosed() {
	p.t.Helper()
	require.Empty(p.t, p.pending)
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, _, err := p.conn.ReadMessage()
		if err == nil {
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			p.t.Fatalf("connection was not closed: %v", err)
		}
		return
	}
}

// expectSilence requires no frame within d. The connection is unusable afterwards.
func (p *peer) expectSilence(d time.Duration) {
	p.t.Helper()
	require.Empty(p.t, p.pending)
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(d)))
	_, frame, err := p.conn.ReadMessage()
	require.Error(p.t, err, "unexpected frame: %s", frame)
}
