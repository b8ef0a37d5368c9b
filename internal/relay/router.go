package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/gochat-relay/internal/metrics"
)

// Router persists direct messages and forwards them to the receiver.
type Router struct {
	registry  *Registry
	directory Directory
	archive   Archive
	newID     func() string
	now       func() time.Time
}

// NewRouter returns a router that archives through archive.
func NewRouter(registry *Registry, directory Directory, archive Archive) *Router {
	return &Router{
		registry:  registry,
		directory: directory,
		archive:   archive,
		newID:     newMessageID,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Route archives a message from senderID to receiverID, pushes
// receive_message to the receiver when it is connected, and acknowledges with
// message_sent on origin. When origin is nil the sender's registered
// connection is used instead.
//
// If either participant is unknown or the archive append fails, origin gets
// message_failed and nothing is delivered to the receiver.
func (r *Router) Route(ctx context.Context, origin Conn, senderID, receiverID, text, msgType string) (Message, error) {
	if msgType == "" {
		msgType = DefaultMessageType
	}
	if origin == nil {
		origin, _ = r.registry.Lookup(senderID)
	}

	if err := r.checkParticipants(ctx, senderID, receiverID); err != nil {
		r.fail(origin, senderID, receiverID, text, msgType, err)
		return Message{}, err
	}

	msg := Message{
		ID:         r.newID(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       text,
		Type:       msgType,
		Timestamp:  r.now(),
	}

	if err := r.archive.Append(ctx, NewChatKey(senderID, receiverID), msg); err != nil {
		err = fmt.Errorf("%w: %w", ErrArchive, err)
		r.fail(origin, senderID, receiverID, text, msgType, err)
		return Message{}, err
	}

	outcome := "offline"
	if conn, ok := r.registry.Lookup(receiverID); ok {
		if err := conn.Send(Event{Name: EventReceiveMessage, Data: msg}); err != nil {
			log.Warn().Err(err).Str("message", msg.ID).Str("receiver", receiverID).
				Msg("receiver connection did not accept message")
		} else {
			outcome = "delivered"
		}
	}
	metrics.MessagesRouted.WithLabelValues(outcome).Inc()

	if origin != nil {
		if err := origin.Send(Event{Name: EventMessageSent, Data: msg}); err != nil {
			log.Warn().Err(err).Str("message", msg.ID).Str("sender", senderID).
				Msg("sender connection did not accept acknowledgment")
		}
	}

	log.Info().Str("message", msg.ID).Str("sender", senderID).Str("receiver", receiverID).
		Str("outcome", outcome).Msg("message routed")
	return msg, nil
}

func (r *Router) checkParticipants(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		exists, err := r.directory.UserExists(ctx, id)
		if err != nil {
			return fmt.Errorf("look up user %s: %w", id, err)
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrUnknownUser, id)
		}
	}
	return nil
}

func (r *Router) fail(origin Conn, senderID, receiverID, text, msgType string, cause error) {
	metrics.MessagesRouted.WithLabelValues("failed").Inc()
	log.Error().Err(cause).Str("sender", senderID).Str("receiver", receiverID).Msg("message not routed")

	if origin == nil {
		return
	}
	reason := "message could not be saved"
	if errors.Is(cause, ErrUnknownUser) {
		reason = "unknown user"
	}
	failure := MessageFailure{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       text,
		Type:       msgType,
		Reason:     reason,
	}
	if err := origin.Send(Event{Name: EventMessageFailed, Data: failure}); err != nil {
		log.Warn().Err(err).Str("sender", senderID).Msg("sender connection did not accept failure notice")
	}
}
