package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/gochat-relay/internal/metrics"
)

// State is the lifecycle state of a session.
type State int

const (
	// StateConnected is the initial state: accepted but not identified.
	StateConnected State = iota
	// StateIdentified means the user is registered and chat events are dispatched.
	StateIdentified
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateIdentified:
		return "identified"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// IdentifyRequest is the object form of the user_online payload.
type IdentifyRequest struct {
	UserID string `json:"userId" validate:"required"`
}

// SendMessageRequest is the send_message payload. SenderID may be omitted,
// in which case the identified user is the sender.
type SendMessageRequest struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId" validate:"required"`
	Text       string `json:"text"`
	Type       string `json:"type" validate:"omitempty,max=32"`
}

// TypingRequest is the typing payload.
type TypingRequest struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId" validate:"required"`
	Typing     *bool  `json:"typing" validate:"required"`
}

// Session is the lifecycle of one connection. Dispatch and Close are meant
// to be called from the connection's own read loop.
type Session struct {
	relay *Relay
	conn  Conn

	mu     sync.Mutex
	state  State
	userID string
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UserID returns the identified user, or "" before identification.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Dispatch decodes one inbound frame and hands it to the matching component.
// Rejected events are answered with an error event on the connection and the
// returned error; the connection itself stays open.
func (s *Session) Dispatch(ctx context.Context, raw []byte) error {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Name == "" {
		if err == nil {
			err = errors.New("missing event name")
		}
		return s.reject("", fmt.Errorf("%w: %w", ErrMalformedEvent, err))
	}

	var err error
	switch env.Name {
	case EventIdentify:
		err = s.identifyEvent(ctx, env.Data)
	case EventSendMessage:
		err = s.sendMessageEvent(ctx, env.Data)
	case EventTyping:
		err = s.typingEvent(env.Data)
	default:
		metrics.InboundEvents.WithLabelValues("unknown", "rejected").Inc()
		return s.reject(env.Name, fmt.Errorf("%w: unknown event %q", ErrMalformedEvent, env.Name))
	}

	result := "ok"
	if err != nil {
		result = "rejected"
	}
	metrics.InboundEvents.WithLabelValues(env.Name, result).Inc()
	return err
}

// Identify registers the connection for userID and announces the user
// online. Repeating it is allowed; announcing a different user first
// releases the previous identity. A session whose connection was superseded
// cannot identify again and gets ErrStaleSession.
func (s *Session) Identify(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: empty user id", ErrMalformedEvent)
	}

	s.mu.Lock()
	state, previousUser := s.state, s.userID
	s.mu.Unlock()
	if state == StateClosed {
		return ErrConnClosed
	}
	if state == StateIdentified {
		if current, ok := s.relay.Registry.Lookup(previousUser); !ok || current != s.conn {
			return ErrStaleSession
		}
	}

	exists, err := s.relay.directory.UserExists(ctx, userID)
	if err != nil {
		return fmt.Errorf("look up user %s: %w", userID, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}

	if state == StateIdentified && previousUser != userID {
		s.release(ctx, previousUser)
	}

	if replaced := s.relay.Registry.Register(userID, s.conn); replaced != nil {
		s.relay.supersede(userID, replaced)
	}

	s.mu.Lock()
	s.state = StateIdentified
	s.userID = userID
	s.mu.Unlock()

	if recorder, ok := s.relay.directory.(LastSeenRecorder); ok {
		if err := recorder.MarkOnline(ctx, userID, time.Now().UTC()); err != nil {
			log.Warn().Err(err).Str("user", userID).Msg("failed to record last online")
		}
	}

	log.Info().Str("user", userID).Str("addr", s.conn.RemoteAddr()).Msg("user online")
	if _, err := s.relay.Presence.AnnounceOnline(ctx, userID); err != nil {
		log.Warn().Err(err).Str("user", userID).Msg("online announcement failed")
	}
	return nil
}

// Close moves the session to its terminal state. An identified session is
// removed from the registry, and only if that removal happened are friends
// told the user went offline. Close is idempotent.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	state, userID := s.state, s.userID
	s.state = StateClosed
	s.mu.Unlock()

	if state == StateIdentified {
		s.release(ctx, userID)
	}
}

func (s *Session) release(ctx context.Context, userID string) {
	if !s.relay.Registry.Remove(userID, s.conn) {
		log.Debug().Str("user", userID).Str("addr", s.conn.RemoteAddr()).
			Msg("connection no longer registered; skipping offline announcement")
		return
	}

	if recorder, ok := s.relay.directory.(LastSeenRecorder); ok {
		if err := recorder.MarkOffline(ctx, userID, time.Now().UTC()); err != nil {
			log.Warn().Err(err).Str("user", userID).Msg("failed to record last offline")
		}
	}

	log.Info().Str("user", userID).Str("addr", s.conn.RemoteAddr()).Msg("user offline")
	if _, err := s.relay.Presence.AnnounceOffline(ctx, userID); err != nil {
		log.Warn().Err(err).Str("user", userID).Msg("offline announcement failed")
	}
}

func (s *Session) identifyEvent(ctx context.Context, data json.RawMessage) error {
	userID, err := s.decodeIdentity(data)
	if err != nil {
		return s.reject(EventIdentify, err)
	}
	if err := s.Identify(ctx, userID); err != nil {
		return s.reject(EventIdentify, err)
	}
	return nil
}

// decodeIdentity accepts either a bare JSON string or {"userId": "..."}.
func (s *Session) decodeIdentity(data json.RawMessage) (string, error) {
	var userID string
	if err := json.Unmarshal(data, &userID); err == nil {
		if userID == "" {
			return "", fmt.Errorf("%w: empty user id", ErrMalformedEvent)
		}
		return userID, nil
	}

	var req IdentifyRequest
	if err := s.decode(data, &req); err != nil {
		return "", err
	}
	return req.UserID, nil
}

func (s *Session) sendMessageEvent(ctx context.Context, data json.RawMessage) error {
	var req SendMessageRequest
	if err := s.decode(data, &req); err != nil {
		return s.reject(EventSendMessage, err)
	}
	userID, err := s.identified(req.SenderID)
	if err != nil {
		return s.reject(EventSendMessage, err)
	}

	// Failures past this point are reported to the sender as message_failed.
	_, err = s.relay.Router.Route(ctx, s.conn, userID, req.ReceiverID, req.Text, req.Type)
	return err
}

func (s *Session) typingEvent(data json.RawMessage) error {
	var req TypingRequest
	if err := s.decode(data, &req); err != nil {
		return s.reject(EventTyping, err)
	}
	userID, err := s.identified(req.SenderID)
	if err != nil {
		return s.reject(EventTyping, err)
	}

	s.relay.Typing.Relay(userID, req.ReceiverID, *req.Typing)
	return nil
}

// identified returns the session's user if the session may send chat
// events and claimedSender (when set) matches it.
func (s *Session) identified(claimedSender string) (string, error) {
	s.mu.Lock()
	state, userID := s.state, s.userID
	s.mu.Unlock()

	if state != StateIdentified {
		return "", ErrNotIdentified
	}
	if claimedSender != "" && claimedSender != userID {
		return "", fmt.Errorf("%w: %s", ErrSenderMismatch, claimedSender)
	}
	if current, ok := s.relay.Registry.Lookup(userID); !ok || current != s.conn {
		return "", ErrStaleSession
	}
	return userID, nil
}

func (s *Session) decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", ErrMalformedEvent)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if err := s.relay.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	return nil
}

func (s *Session) reject(event string, cause error) error {
	log.Warn().Err(cause).Str("event", event).Str("addr", s.conn.RemoteAddr()).Str("user", s.UserID()).
		Msg("inbound event rejected")

	if errors.Is(cause, ErrStaleSession) {
		return cause
	}
	rejection := EventRejection{Event: event, Reason: rejectionReason(cause)}
	if err := s.conn.Send(Event{Name: EventError, Data: rejection}); err != nil {
		log.Debug().Err(err).Str("addr", s.conn.RemoteAddr()).Msg("connection did not accept rejection")
	}
	return cause
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrUnknownUser):
		return "unknown user"
	case errors.Is(err, ErrNotIdentified):
		return "identify first"
	case errors.Is(err, ErrSenderMismatch):
		return "sender does not match identified user"
	case errors.Is(err, ErrMalformedEvent):
		return "malformed event"
	case errors.Is(err, ErrConnClosed):
		return "connection closed"
	default:
		return "internal error"
	}
}
