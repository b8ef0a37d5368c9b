package relay

import (
	"sync"

	"github.com/Tyrowin/gochat-relay/internal/metrics"
)

// Registry maps each user to at most one live connection. A newer
// registration for the same user replaces the older one; removal is guarded
// so that a late disconnect of a superseded connection cannot wipe the entry
// of the connection that replaced it.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Conn
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Conn)}
}

// Register installs conn for userID and returns the connection it replaced,
// or nil. The replaced connection is not closed here.
func (r *Registry) Register(userID string, conn Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous, existed := r.entries[userID]
	r.entries[userID] = conn
	if !existed {
		metrics.UsersOnline.Inc()
	}
	if previous == conn {
		return nil
	}
	return previous
}

// Lookup returns the current connection for userID.
func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.entries[userID]
	return conn, ok
}

// Remove deletes the entry for userID only if it still points at conn.
// It reports whether an entry was removed.
func (r *Registry) Remove(userID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.entries[userID]
	if !ok || current != conn {
		return false
	}
	delete(r.entries, userID)
	metrics.UsersOnline.Dec()
	return true
}

// IsOnline reports whether userID has a registered connection.
func (r *Registry) IsOnline(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// Len returns the number of registered users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
