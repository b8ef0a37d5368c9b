package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/Tyrowin/gochat-relay/internal/relay"
)

const sequenceBandwidth = 128

var sequenceKey = []byte("seq:messages")

// BadgerArchive stores conversation history in an embedded Badger database.
//
// Keys have the form "chat:{len(a)}:{len(b)}:{a}{b}:{seq}" where seq is a
// 20-digit zero-padded counter, so a prefix scan over one conversation
// yields messages in append order.
type BadgerArchive struct {
	db  *badger.DB
	seq *badger.Sequence
}

// OpenBadgerArchive opens the database in dir.
func OpenBadgerArchive(dir string) (*BadgerArchive, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}
	return NewBadgerArchive(db)
}

// NewBadgerArchive wraps an already opened database.
func NewBadgerArchive(db *badger.DB) (*BadgerArchive, error) {
	seq, err := db.GetSequence(sequenceKey, sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("acquire message sequence: %w", err)
	}
	return &BadgerArchive{db: db, seq: seq}, nil
}

// Close releases the sequence lease and closes the database.
func (a *BadgerArchive) Close() error {
	if err := a.seq.Release(); err != nil {
		_ = a.db.Close()
		return err
	}
	return a.db.Close()
}

func chatPrefix(key relay.ChatKey) string {
	return fmt.Sprintf("chat:%d:%d:%s%s:", len(key.A), len(key.B), key.A, key.B)
}

// Append persists msg under key.
func (a *BadgerArchive) Append(_ context.Context, key relay.ChatKey, msg relay.Message) error {
	n, err := a.seq.Next()
	if err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}
	bytes, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	k := fmt.Sprintf("%s%020d", chatPrefix(key), n)
	return a.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(k), bytes)
	})
}

// Query returns the history of key, oldest first.
func (a *BadgerArchive) Query(ctx context.Context, key relay.ChatKey) ([]relay.Message, error) {
	messages := []relay.Message{}
	prefix := []byte(chatPrefix(key))
	err := a.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(value []byte) error {
				var m relay.Message
				if err := json.Unmarshal(value, &m); err != nil {
					return err
				}
				messages = append(messages, m)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}
