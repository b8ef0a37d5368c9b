package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Tyrowin/gochat-relay/internal/relay"
)

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// LastSeenReader is implemented by directories that track presence times.
type LastSeenReader interface {
	LastSeen(ctx context.Context, userID string) (time.Time, error)
}

// UserSearcher is implemented by directories that support user lookup by text.
type UserSearcher interface {
	SearchUsers(ctx context.Context, query, excludeID string) ([]relay.User, error)
}

// DirectoryStore is a Directory that can also be seeded.
type DirectoryStore interface {
	relay.Directory
	Seeder
}

// Options selects and locates the backends.
type Options struct {
	Directory  string
	Archive    string
	SQLitePath string
	BadgerPath string
}

// Stores holds the opened backends. Close releases every one of them.
type Stores struct {
	Directory DirectoryStore
	Archive   relay.Archive
	closers   []io.Closer
}

// Close closes every backend that needs closing.
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Open builds the backends named in opts. A SQLite database shared by the
// directory and the archive is opened once.
func Open(opts Options) (*Stores, error) {
	s := &Stores{}
	var sqlite *SQLite
	openSQLite := func() (*SQLite, error) {
		if sqlite != nil {
			return sqlite, nil
		}
		db, err := OpenSQLite(opts.SQLitePath)
		if err != nil {
			return nil, err
		}
		sqlite = db
		s.closers = append(s.closers, db)
		return db, nil
	}

	switch strings.ToLower(opts.Directory) {
	case "", BackendMemory:
		s.Directory = NewMemory()
	case BackendSQLite:
		db, err := openSQLite()
		if err != nil {
			return nil, err
		}
		s.Directory = db
	case BackendBadger:
		return nil, fmt.Errorf("directory %q: %w", opts.Directory, ErrArchiveOnlyKind)
	default:
		return nil, fmt.Errorf("directory %q: %w", opts.Directory, ErrUnknownBackend)
	}

	switch strings.ToLower(opts.Archive) {
	case "", BackendMemory:
		s.Archive = NewMemoryArchive()
	case BackendSQLite:
		db, err := openSQLite()
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.Archive = db
	case BackendBadger:
		archive, err := OpenBadgerArchive(opts.BadgerPath)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.Archive = archive
		s.closers = append(s.closers, archive)
	default:
		_ = s.Close()
		return nil, fmt.Errorf("archive %q: %w", opts.Archive, ErrUnknownBackend)
	}
	return s, nil
}
