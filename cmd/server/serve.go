package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/gochat-relay/internal/relay"
	"github.com/Tyrowin/gochat-relay/internal/server"
	"github.com/Tyrowin/gochat-relay/internal/store"
)

// serve runs the relay until the context is cancelled or a termination
// signal arrives, then shuts the HTTP server and the hub down in order.
func serve(ctx context.Context, cfg *server.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	stores, err := store.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := stores.Close(); err != nil {
			log.Error().Err(err).Msg("closing stores")
		}
	}()

	if cfg.SeedFile != "" {
		if err := seedFrom(ctx, stores.Directory, cfg.SeedFile); err != nil {
			return err
		}
	}

	r := relay.New(stores.Directory, stores.Archive, relay.WithCloseSuperseded(cfg.CloseSuperseded))
	hub := server.NewHub(r, *cfg)
	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(hub))

	log.Info().
		Str("port", cfg.Port).
		Strs("origins", cfg.AllowedOrigins).
		Str("directory", cfg.Store.Directory).
		Str("archive", cfg.Store.Archive).
		Bool("closeSuperseded", cfg.CloseSuperseded).
		Msg("starting GoChat relay")

	server.StartHub(hub)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.StartServer(httpServer)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutdown requested")

		var errs []error
		if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout); err != nil {
			errs = append(errs, err)
		}
		if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("server stopped gracefully")
	return nil
}
