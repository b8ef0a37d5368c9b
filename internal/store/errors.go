package store

import "errors"

var (
	ErrUserExists      = errors.New("user already exists")
	ErrInvalidUser     = errors.New("user id required")
	ErrSelfFriendship  = errors.New("a user cannot befriend themselves")
	ErrUnknownBackend  = errors.New("unknown store backend")
	ErrArchiveOnlyKind = errors.New("backend cannot serve as a directory")
)
