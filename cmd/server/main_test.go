package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-relay/internal/server"
	"github.com/Tyrowin/gochat-relay/internal/store"
)

const fixture = `{
  "users": [
    {"id": "u1", "username": "alice", "displayName": "Alice"},
    {"id": "u2", "username": "bob", "displayName": "Bob"}
  ],
  "friendships": [["u1", "u2"]]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestSetupLogging(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var buf bytes.Buffer
	setupLogging("WARN", "json", &buf)
	require.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	log.Info().Msg("hidden")
	log.Warn().Str("user", "u1").Msg("shown")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), `"user":"u1"`)

	setupLogging("chatty", "console", &buf)
	require.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestSeedCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "relay.db")
	t.Setenv("DIRECTORY_BACKEND", "sqlite")
	t.Setenv("SQLITE_PATH", dbPath)

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"seed", "--file", writeFile(t, "fixture.json", fixture)})
	require.NoError(t, cmd.Execute())
	require.Equal(t, "users=2,friendships=2,messages=0", strings.TrimSpace(out.String()))

	db, err := store.OpenSQLite(dbPath)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	friends, err := db.FriendIDs(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, []string{"u2"}, friends)
}

func TestSeedCommand_Requires_File(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"seed"})
	require.Error(t, cmd.Execute())
}

func TestSeedCommand_Refuses_Memory_Directory(t *testing.T) {
	t.Setenv("DIRECTORY_BACKEND", "memory")
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"seed", "-f", writeFile(t, "fixture.json", fixture)})
	require.ErrorContains(t, cmd.Execute(), "DIRECTORY_BACKEND=sqlite")
}

func TestServe_Stops_When_Context_Is_Cancelled(t *testing.T) {
	cfg := server.NewConfig()
	cfg.Port = "127.0.0.1:0"
	cfg.SeedFile = writeFile(t, "fixture.json", fixture)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, serve(ctx, cfg))
}

func TestServe_Unknown_Backend(t *testing.T) {
	cfg := server.NewConfig()
	cfg.Store.Archive = "s3"
	require.ErrorIs(t, serve(context.Background(), cfg), store.ErrUnknownBackend)
}
