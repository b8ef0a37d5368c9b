package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/gochat-relay/internal/relay"
)

type memoryUser struct {
	relay.User
	passwordHash []byte
	lastOnline   time.Time
	lastOffline  time.Time
}

// Memory is a process-local Directory. Its contents live as long as the
// process does.
type Memory struct {
	mu      sync.RWMutex
	users   map[string]*memoryUser
	friends map[string]map[string]struct{}
}

// NewMemory returns an empty in-memory directory.
func NewMemory() *Memory {
	return &Memory{
		users:   make(map[string]*memoryUser),
		friends: make(map[string]map[string]struct{}),
	}
}

// CreateUser adds a user. A non-empty password is stored as a bcrypt hash.
func (m *Memory) CreateUser(_ context.Context, user relay.User, password string) error {
	if user.ID == "" {
		return fmt.Errorf("create user: %w", ErrInvalidUser)
	}
	var hash []byte
	if password != "" {
		var err error
		if hash, err = bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost); err != nil {
			return fmt.Errorf("hash password for %s: %w", user.ID, err)
		}
	}
	if user.Username == "" {
		user.Username = user.ID
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[user.ID]; exists {
		return fmt.Errorf("create user %s: %w", user.ID, ErrUserExists)
	}
	m.users[user.ID] = &memoryUser{User: user, passwordHash: hash}
	return nil
}

// Authenticate reports whether password matches the stored hash for userID.
func (m *Memory) Authenticate(_ context.Context, userID, password string) (bool, error) {
	m.mu.RLock()
	u, ok := m.users[userID]
	m.mu.RUnlock()
	if !ok || len(u.passwordHash) == 0 {
		return false, nil
	}
	return bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)) == nil, nil
}

// AddFriendship records the symmetric edge a <-> b.
func (m *Memory) AddFriendship(_ context.Context, a, b string) error {
	if a == b {
		return fmt.Errorf("befriend %s: %w", a, ErrSelfFriendship)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range []string{a, b} {
		if _, ok := m.users[id]; !ok {
			return fmt.Errorf("befriend %s: %w", id, relay.ErrUnknownUser)
		}
	}
	m.link(a, b)
	m.link(b, a)
	return nil
}

func (m *Memory) link(from, to string) {
	set, ok := m.friends[from]
	if !ok {
		set = make(map[string]struct{})
		m.friends[from] = set
	}
	set[to] = struct{}{}
}

// FriendIDs returns the friends of userID, sorted.
func (m *Memory) FriendIDs(_ context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := lo.Keys(m.friends[userID])
	sort.Strings(ids)
	return ids, nil
}

// UserExists reports whether userID is known.
func (m *Memory) UserExists(_ context.Context, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.users[userID]
	return ok, nil
}

// GetUser returns the record for userID.
func (m *Memory) GetUser(_ context.Context, userID string) (relay.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return relay.User{}, fmt.Errorf("get user %s: %w", userID, relay.ErrUnknownUser)
	}
	return u.User, nil
}

// SearchUsers returns users whose id, username or display name contains
// query, ignoring case, sorted by id. excludeID is left out of the result.
func (m *Memory) SearchUsers(_ context.Context, query, excludeID string) ([]relay.User, error) {
	needle := strings.ToLower(query)

	m.mu.RLock()
	defer m.mu.RUnlock()
	found := make([]relay.User, 0)
	for id, u := range m.users {
		if id == excludeID {
			continue
		}
		if lo.SomeBy([]string{u.ID, u.Username, u.DisplayName}, func(field string) bool {
			return strings.Contains(strings.ToLower(field), needle)
		}) {
			found = append(found, u.User)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].ID < found[j].ID })
	return found, nil
}

// MarkOnline records the time userID last came online.
func (m *Memory) MarkOnline(_ context.Context, userID string, at time.Time) error {
	return m.touch(userID, func(u *memoryUser) { u.lastOnline = at })
}

// MarkOffline records the time userID last went offline.
func (m *Memory) MarkOffline(_ context.Context, userID string, at time.Time) error {
	return m.touch(userID, func(u *memoryUser) { u.lastOffline = at })
}

// LastSeen returns the later of the last online and last offline times.
func (m *Memory) LastSeen(_ context.Context, userID string) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return time.Time{}, fmt.Errorf("last seen %s: %w", userID, relay.ErrUnknownUser)
	}
	return latest(u.lastOnline, u.lastOffline), nil
}

func (m *Memory) touch(userID string, update func(*memoryUser)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("touch %s: %w", userID, relay.ErrUnknownUser)
	}
	update(u)
	return nil
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// MemoryArchive keeps message history per conversation in append order.
type MemoryArchive struct {
	mu       sync.RWMutex
	messages map[relay.ChatKey][]relay.Message
}

// NewMemoryArchive returns an empty archive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{messages: make(map[relay.ChatKey][]relay.Message)}
}

// Append adds msg to the history of key.
func (a *MemoryArchive) Append(_ context.Context, key relay.ChatKey, msg relay.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages[key] = append(a.messages[key], msg)
	return nil
}

// Query returns a copy of the history of key, oldest first.
func (a *MemoryArchive) Query(_ context.Context, key relay.ChatKey) ([]relay.Message, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]relay.Message{}, a.messages[key]...), nil
}
