package relay

import (
	"context"
	"errors"
	"sync"
	"time"
)

type fakeConn struct {
	addr string

	mu     sync.Mutex
	events []Event
	closed bool
	err    error
}

func newFakeConn(addr string) *fakeConn {
	return &fakeConn{addr: addr}
}

func (c *fakeConn) Send(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) RemoteAddr() string {
	return c.addr
}

func (c *fakeConn) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func (c *fakeConn) Named(name string) []Event {
	var out []Event
	for _, ev := range c.Events() {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeDirectory struct {
	mu      sync.Mutex
	users   map[string]bool
	friends map[string][]string
	err     error
	online  []string
	offline []string
}

func newFakeDirectory(users ...string) *fakeDirectory {
	d := &fakeDirectory{users: make(map[string]bool), friends: make(map[string][]string)}
	for _, u := range users {
		d.users[u] = true
	}
	return d
}

func (d *fakeDirectory) befriend(a, b string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.friends[a] = append(d.friends[a], b)
	d.friends[b] = append(d.friends[b], a)
}

func (d *fakeDirectory) FriendIDs(_ context.Context, userID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return append([]string(nil), d.friends[userID]...), nil
}

func (d *fakeDirectory) UserExists(_ context.Context, userID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	return d.users[userID], nil
}

func (d *fakeDirectory) GetUser(_ context.Context, userID string) (User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.users[userID] {
		return User{}, ErrUnknownUser
	}
	return User{ID: userID, Username: userID}, nil
}

// recordingDirectory also implements LastSeenRecorder.
type recordingDirectory struct {
	*fakeDirectory
}

func (d recordingDirectory) MarkOnline(_ context.Context, userID string, _ time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.online = append(d.online, userID)
	return nil
}

func (d recordingDirectory) MarkOffline(_ context.Context, userID string, _ time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.offline = append(d.offline, userID)
	return nil
}

type fakeArchive struct {
	mu       sync.Mutex
	messages map[ChatKey][]Message
	err      error
	onAppend func(Message)
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{messages: make(map[ChatKey][]Message)}
}

func (a *fakeArchive) Append(_ context.Context, key ChatKey, msg Message) error {
	if a.onAppend != nil {
		a.onAppend(msg)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.messages[key] = append(a.messages[key], msg)
	return nil
}

func (a *fakeArchive) Query(_ context.Context, key ChatKey) ([]Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Message(nil), a.messages[key]...), nil
}

func (a *fakeArchive) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, msgs := range a.messages {
		n += len(msgs)
	}
	return n
}

var errDiskFull = errors.New("disk full")
