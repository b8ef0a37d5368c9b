package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var fixedTime = time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)

func newTestRouter(directory Directory, archive Archive) (*Router, *Registry) {
	registry := NewRegistry()
	router := NewRouter(registry, directory, archive)
	router.now = func() time.Time { return fixedTime }
	router.newID = func() string { return "msg-1" }
	return router, registry
}

func TestRouter_Receiver_Online(t *testing.T) {
	req := require.New(t)
	archive := newFakeArchive()
	router, registry := newTestRouter(newFakeDirectory("u1", "u2"), archive)
	sender, receiver := newFakeConn("sender"), newFakeConn("receiver")
	registry.Register("u1", sender)
	registry.Register("u2", receiver)

	// Nothing may reach either side before the archive has the message.
	archive.onAppend = func(Message) {
		req.Empty(sender.Events())
		req.Empty(receiver.Events())
	}

	msg, err := router.Route(context.Background(), sender, "u1", "u2", "hi", "")

	req.NoError(err)
	want := Message{ID: "msg-1", SenderID: "u1", ReceiverID: "u2", Text: "hi", Type: "text", Timestamp: fixedTime}
	req.Equal(want, msg)

	stored, err := archive.Query(context.Background(), NewChatKey("u2", "u1"))
	req.NoError(err)
	req.Equal([]Message{want}, stored)

	req.Equal([]Event{{Name: EventReceiveMessage, Data: want}}, receiver.Events())
	req.Equal([]Event{{Name: EventMessageSent, Data: want}}, sender.Events())
}

func TestRouter_Receiver_Offline(t *testing.T) {
	req := require.New(t)
	archive := newFakeArchive()
	router, registry := newTestRouter(newFakeDirectory("u1", "u2"), archive)
	sender := newFakeConn("sender")
	registry.Register("u1", sender)

	msg, err := router.Route(context.Background(), sender, "u1", "u2", "are you there?", "text")

	req.NoError(err)
	req.Equal(1, archive.count())
	req.Empty(sender.Named(EventReceiveMessage))
	req.Equal([]Event{{Name: EventMessageSent, Data: msg}}, sender.Events())
}

func TestRouter_Keeps_Explicit_Type(t *testing.T) {
	router, _ := newTestRouter(newFakeDirectory("u1", "u2"), newFakeArchive())

	msg, err := router.Route(context.Background(), newFakeConn("s"), "u1", "u2", "🎉", "emoji")

	require.NoError(t, err)
	require.Equal(t, "emoji", msg.Type)
}

func TestRouter_Uses_Registered_Sender_When_Origin_Missing(t *testing.T) {
	req := require.New(t)
	router, registry := newTestRouter(newFakeDirectory("u1", "u2"), newFakeArchive())
	sender := newFakeConn("sender")
	registry.Register("u1", sender)

	msg, err := router.Route(context.Background(), nil, "u1", "u2", "hi", "")

	req.NoError(err)
	req.Equal([]Event{{Name: EventMessageSent, Data: msg}}, sender.Events())
}

func TestRouter_Archive_Failure(t *testing.T) {
	req := require.New(t)
	archive := newFakeArchive()
	archive.err = errDiskFull
	router, registry := newTestRouter(newFakeDirectory("u1", "u2"), archive)
	sender, receiver := newFakeConn("sender"), newFakeConn("receiver")
	registry.Register("u1", sender)
	registry.Register("u2", receiver)

	_, err := router.Route(context.Background(), sender, "u1", "u2", "hi", "")

	// The failure reaches the sender, never an ack, and the receiver sees nothing.
	req.ErrorIs(err, ErrArchive)
	req.ErrorIs(err, errDiskFull)
	req.Empty(receiver.Events())
	req.Empty(sender.Named(EventMessageSent))
	req.Equal([]Event{{Name: EventMessageFailed, Data: MessageFailure{
		SenderID:   "u1",
		ReceiverID: "u2",
		Text:       "hi",
		Type:       "text",
		Reason:     "message could not be saved",
	}}}, sender.Events())
}

func TestRouter_Unknown_Receiver(t *testing.T) {
	req := require.New(t)
	archive := newFakeArchive()
	router, _ := newTestRouter(newFakeDirectory("u1"), archive)
	sender := newFakeConn("sender")

	_, err := router.Route(context.Background(), sender, "u1", "ghost", "hi", "")

	req.ErrorIs(err, ErrUnknownUser)
	req.Zero(archive.count())
	failures := sender.Named(EventMessageFailed)
	req.Len(failures, 1)
	req.Equal("unknown user", failures[0].Data.(MessageFailure).Reason)
}

func TestRouter_Preserves_Sender_Order(t *testing.T) {
	req := require.New(t)
	archive := newFakeArchive()
	registry := NewRegistry()
	router := NewRouter(registry, newFakeDirectory("u1", "u2"), archive)
	receiver := newFakeConn("receiver")
	registry.Register("u2", receiver)

	texts := []string{"one", "two", "three", "four"}
	for _, text := range texts {
		_, err := router.Route(context.Background(), newFakeConn("s"), "u1", "u2", text, "")
		req.NoError(err)
	}

	stored, err := archive.Query(context.Background(), NewChatKey("u1", "u2"))
	req.NoError(err)
	delivered := receiver.Named(EventReceiveMessage)
	req.Len(stored, len(texts))
	req.Len(delivered, len(texts))
	for i, text := range texts {
		req.Equal(text, stored[i].Text)
		req.Equal(stored[i], delivered[i].Data)
		if i > 0 {
			req.Less(stored[i-1].ID, stored[i].ID, "ids are time-ordered")
		}
	}
}
