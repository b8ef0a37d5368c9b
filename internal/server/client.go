package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/gochat-relay/internal/metrics"
	"github.com/Tyrowin/gochat-relay/internal/relay"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Client is one WebSocket connection. It implements relay.Conn: outbound
// events are queued on a buffered channel drained by writePump, and inbound
// frames read by readPump are dispatched into the client's relay session.
type Client struct {
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	session        *relay.Session
	addr           string
	maxMessageSize int64
	limiter        *rate.Limiter
	rateLimit      RateLimitConfig

	mu     sync.Mutex
	closed bool
}

// NewClient wraps conn for hub. conn may be nil in tests that only exercise
// the outbound queue.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	cfg := hub.cfg
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	c := &Client{
		conn:           conn,
		send:           make(chan []byte, cfg.SendBufferSize),
		hub:            hub,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		limiter:        newLimiter(cfg.RateLimit),
		rateLimit:      cfg.RateLimit,
	}
	c.session = hub.relay.NewSession(c)
	return c
}

// newLimiter allows Burst events per RefillInterval, refilled continuously.
func newLimiter(cfg RateLimitConfig) *rate.Limiter {
	return rate.NewLimiter(rate.Every(cfg.RefillInterval/time.Duration(cfg.Burst)), cfg.Burst)
}

// Send queues ev for writing. It never blocks: a full buffer marks the
// client as a slow consumer and closes it.
func (c *Client) Send(ev relay.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return relay.ErrConnClosed
	}

	select {
	case c.send <- payload:
		return nil
	default:
		metrics.SlowConsumers.Inc()
		log.Warn().Str("addr", c.addr).Str("event", ev.Name).Int("buffer", cap(c.send)).
			Msg("send buffer full; closing slow connection")
		c.closeLocked()
		return relay.ErrSendBufferFull
	}
}

// Close stops the write pump, which sends a close frame and drops the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// RemoteAddr returns the peer address the connection was accepted from.
func (c *Client) RemoteAddr() string {
	return c.addr
}

// Session returns the relay session bound to this connection.
func (c *Client) Session() *relay.Session {
	return c.session
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Warn().Err(err).Str("addr", c.addr).Msg("error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// logReadError records why the read loop ended.
func (c *Client) logReadError(err error) {
	user := c.session.UserID()

	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		metrics.FramesDropped.WithLabelValues("too_large").Inc()
		log.Warn().Str("addr", c.addr).Str("user", user).Int64("limit", c.maxMessageSize).
			Msg("frame exceeded maximum size; closing connection")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		log.Info().Str("addr", c.addr).Str("user", user).Msg("client disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		log.Info().Err(err).Str("addr", c.addr).Str("user", user).Msg("client connection closed")
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		log.Warn().Err(err).Str("addr", c.addr).Msg("unexpected WebSocket close")
	default:
		log.Warn().Err(err).Str("addr", c.addr).Msg("WebSocket read error")
	}
}

// allow applies the per-connection rate limit.
func (c *Client) allow() bool {
	if c.limiter.Allow() {
		return true
	}
	metrics.FramesDropped.WithLabelValues("rate_limited").Inc()
	log.Warn().Str("addr", c.addr).Str("user", c.session.UserID()).
		Int("burst", c.rateLimit.Burst).Dur("interval", c.rateLimit.RefillInterval).
		Msg("rate limit exceeded; discarding frame")
	return false
}

func (c *Client) readPump() {
	ctx := c.hub.ctx
	defer func() {
		c.session.Close(context.WithoutCancel(ctx))
		c.hub.remove(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			log.Warn().Err(err).Str("addr", c.addr).Msg("error closing connection in readPump")
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.allow() {
			continue
		}

		if err := c.session.Dispatch(ctx, raw); err != nil {
			log.Debug().Err(err).Str("addr", c.addr).Msg("inbound event not applied")
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			log.Warn().Err(err).Str("addr", c.addr).Msg("error closing connection in writePump")
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !c.writeFrame(message, ok) {
				return
			}
		case <-ticker.C:
			if !c.writePing() {
				return
			}
		}
	}
}

// writeFrame writes message plus anything already queued behind it as one
// text frame, newline separated. It returns false when the pump should stop.
func (c *Client) writeFrame(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		log.Warn().Err(err).Str("addr", c.addr).Msg("error setting write deadline")
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
			log.Debug().Err(err).Str("addr", c.addr).Msg("error writing close message")
		}
		return false
	}

	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		log.Debug().Err(err).Str("addr", c.addr).Msg("error creating writer")
		return false
	}
	if _, err := w.Write(message); err != nil {
		log.Debug().Err(err).Str("addr", c.addr).Msg("error writing message")
		return false
	}

	for n := len(c.send); n > 0; n-- {
		queued, ok := <-c.send
		if !ok {
			break
		}
		if _, err := w.Write([]byte{'\n'}); err != nil {
			return false
		}
		if _, err := w.Write(queued); err != nil {
			log.Debug().Err(err).Str("addr", c.addr).Msg("error writing queued message")
			return false
		}
	}

	if err := w.Close(); err != nil {
		log.Debug().Err(err).Str("addr", c.addr).Msg("error flushing frame")
		return false
	}
	return true
}

func (c *Client) writePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		log.Debug().Err(err).Str("addr", c.addr).Msg("error writing ping")
		return false
	}
	return true
}
