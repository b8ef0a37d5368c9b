package relay

import "errors"

var (
	// ErrUnknownUser is returned when a user id does not resolve in the Directory.
	ErrUnknownUser = errors.New("unknown user")
	// ErrMalformedEvent is returned for inbound events that cannot be decoded or miss required fields.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrNotIdentified is returned for chat events sent before an identity-announce.
	ErrNotIdentified = errors.New("connection not identified")
	// ErrSenderMismatch is returned when a payload claims a sender other than the identified user.
	ErrSenderMismatch = errors.New("sender does not match identified user")
	// ErrStaleSession is returned for traffic from a connection superseded by a newer one.
	ErrStaleSession = errors.New("session superseded by a newer connection")
	// ErrArchive wraps failures of the Archive append.
	ErrArchive = errors.New("archive append failed")
	// ErrConnClosed is returned by Conn.Send after the connection has been closed.
	ErrConnClosed = errors.New("connection closed")
	// ErrSendBufferFull is returned by Conn.Send when the outbound queue is full.
	ErrSendBufferFull = errors.New("send buffer full")
)
