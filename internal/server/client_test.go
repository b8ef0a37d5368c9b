package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-relay/internal/relay"
)

func TestClient_Send_Queues_JSON(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t, nil)
	c := NewClient(nil, env.hub, "10.0.0.1:5000")

	req.NoError(c.Send(relay.Event{Name: relay.EventFriendOnline, Data: "bob"}))
	req.Equal("10.0.0.1:5000", c.RemoteAddr())

	var decoded relay.Envelope
	req.NoError(json.Unmarshal(<-c.send, &decoded))
	req.Equal(relay.EventFriendOnline, decoded.Name)
	req.JSONEq(`"bob"`, string(decoded.Data))
}

func TestClient_Close_Is_Idempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	c := NewClient(nil, env.hub, "test")

	c.Close()
	c.Close()
	require.ErrorIs(t, c.Send(relay.Event{Name: relay.EventFriendOnline, Data: "bob"}), relay.ErrConnClosed)

	_, ok := <-c.send
	require.False(t, ok)
}

func TestClient_Slow_Consumer_Is_Closed(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.SendBufferSize = 2 })
	c := NewClient(nil, env.hub, "test")
	ev := relay.Event{Name: relay.EventUserTyping, Data: relay.TypingNotice{UserID: "bob", Typing: true}}

	require.NoError(t, c.Send(ev))
	require.NoError(t, c.Send(ev))
	require.ErrorIs(t, c.Send(ev), relay.ErrSendBufferFull)
	require.ErrorIs(t, c.Send(ev), relay.ErrConnClosed)

	// the two queued events are still drained before the close
	require.Len(t, c.send, 2)
}

func TestClient_Session_Starts_Connected(t *testing.T) {
	env := newTestEnv(t, nil)
	c := NewClient(nil, env.hub, "test")
	require.Equal(t, relay.StateConnected, c.Session().State())
	require.Empty(t, c.Session().UserID())
}

func TestNewLimiter(t *testing.T) {
	limiter := newLimiter(RateLimitConfig{Burst: 3, RefillInterval: time.Hour})
	for i := 0; i < 3; i++ {
		require.True(t, limiter.Allow())
	}
	require.False(t, limiter.Allow())
}
