package relay

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/Tyrowin/gochat-relay/internal/metrics"
)

// Presence fans out online/offline transitions to a user's currently
// connected friends. Delivery is at-most-once and best-effort: an offline
// friend or a failed send is skipped, never retried.
type Presence struct {
	registry  *Registry
	directory Directory
}

// NewPresence returns a broadcaster reading friends from directory.
func NewPresence(registry *Registry, directory Directory) *Presence {
	return &Presence{registry: registry, directory: directory}
}

// AnnounceOnline sends friend_online(userID) to every online friend and
// returns how many friends it reached.
func (p *Presence) AnnounceOnline(ctx context.Context, userID string) (int, error) {
	return p.announce(ctx, userID, EventFriendOnline)
}

// AnnounceOffline sends friend_offline(userID) to every online friend and
// returns how many friends it reached.
func (p *Presence) AnnounceOffline(ctx context.Context, userID string) (int, error) {
	return p.announce(ctx, userID, EventFriendOffline)
}

func (p *Presence) announce(ctx context.Context, userID, name string) (int, error) {
	friendIDs, err := p.directory.FriendIDs(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("load friends of %s: %w", userID, err)
	}

	targets := lo.Uniq(lo.Without(friendIDs, userID, ""))
	delivered := 0
	for _, friendID := range targets {
		conn, ok := p.registry.Lookup(friendID)
		if !ok {
			continue
		}
		if err := conn.Send(Event{Name: name, Data: userID}); err != nil {
			log.Debug().Err(err).Str("user", userID).Str("friend", friendID).Str("event", name).
				Msg("presence event not delivered")
			continue
		}
		delivered++
	}

	metrics.PresenceEvents.WithLabelValues(name).Add(float64(delivered))
	log.Debug().Str("user", userID).Str("event", name).Int("friends", len(targets)).Int("delivered", delivered).
		Msg("presence fan-out")
	return delivered, nil
}
