// Package relay implements the realtime core of the chat service: the
// connection registry, presence fan-out to friends, direct message routing,
// typing relay, and the per-connection session state machine that drives
// them. It knows nothing about the transport; connections are reached only
// through the Conn interface.
package relay

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// Relay bundles the components shared by every session.
type Relay struct {
	Registry *Registry
	Presence *Presence
	Router   *Router
	Typing   *Typing

	directory       Directory
	archive         Archive
	validate        *validator.Validate
	closeSuperseded bool
}

// Option configures a Relay.
type Option func(*Relay)

// WithCloseSuperseded controls whether a connection replaced by a newer one
// for the same user is closed after being told it was replaced.
func WithCloseSuperseded(closeSuperseded bool) Option {
	return func(r *Relay) {
		r.closeSuperseded = closeSuperseded
	}
}

// WithClock overrides the message timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) {
		r.Router.now = now
	}
}

// WithIDGenerator overrides the message id source.
func WithIDGenerator(newID func() string) Option {
	return func(r *Relay) {
		r.Router.newID = newID
	}
}

// New assembles a relay over the given collaborators. Superseded connections
// are closed unless WithCloseSuperseded(false) is passed.
func New(directory Directory, archive Archive, opts ...Option) *Relay {
	registry := NewRegistry()
	r := &Relay{
		Registry:        registry,
		Presence:        NewPresence(registry, directory),
		Router:          NewRouter(registry, directory, archive),
		Typing:          NewTyping(registry),
		directory:       directory,
		archive:         archive,
		validate:        validator.New(),
		closeSuperseded: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Directory returns the directory the relay reads from.
func (r *Relay) Directory() Directory {
	return r.directory
}

// Archive returns the archive the router appends to.
func (r *Relay) Archive() Archive {
	return r.archive
}

// NewSession starts the lifecycle of a freshly accepted connection.
func (r *Relay) NewSession(conn Conn) *Session {
	return &Session{relay: r, conn: conn, state: StateConnected}
}

func (r *Relay) supersede(userID string, old Conn) {
	log.Info().Str("user", userID).Str("addr", old.RemoteAddr()).Bool("close", r.closeSuperseded).
		Msg("connection superseded")

	if err := old.Send(Event{Name: EventSessionReplaced, Data: SessionReplaced{UserID: userID}}); err != nil {
		log.Debug().Err(err).Str("user", userID).Msg("superseded connection did not accept notice")
	}
	if r.closeSuperseded {
		old.Close()
	}
}
