package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/gochat-relay/internal/store"
)

func newSeedCmd(envFile *string) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load users and friendships from a JSON fixture into the configured directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*envFile, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if cfg.Store.Directory == store.BackendMemory {
				return errors.New("seeding the memory directory has no lasting effect; set DIRECTORY_BACKEND=sqlite or use SEED_FILE with serve")
			}

			stores, err := store.Open(cfg.Store)
			if err != nil {
				return err
			}
			defer func() { _ = stores.Close() }()

			if err := seedFrom(cmd.Context(), stores.Directory, file); err != nil {
				return err
			}
			if db, ok := stores.Directory.(*store.SQLite); ok {
				stats, err := db.Stats(cmd.Context())
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), stats)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "fixture JSON file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func seedFrom(ctx context.Context, directory store.Seeder, path string) error {
	fixture, err := store.LoadFixture(path)
	if err != nil {
		return err
	}
	result, err := store.Seed(ctx, directory, fixture)
	if err != nil {
		return fmt.Errorf("seed from %s: %w", path, err)
	}
	log.Info().Str("file", path).
		Int("usersCreated", result.UsersCreated).
		Int("usersSkipped", result.UsersSkipped).
		Int("friendships", result.Friendships).
		Msg("directory seeded")
	return nil
}
