package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/zhouzirui/z-chat/backend/internal/config"
	"github.com/zhouzirui/z-chat/backend/internal/graph"
	"github.com/zhouzirui/z-chat/backend/internal/handler"
	"github.com/zhouzirui/z-chat/backend/internal/pubsub"
	chatservice "github.com/zhouzirui/z-chat/backend/internal/service/chat"
	"github.com/zhouzirui/z-chat/backend/internal/store"
)

type ServeCmd struct {
	flags *Flags
}

// NewServeCmd creates the serve command.
func NewServeCmd(flags *Flags) *ServeCmd {
	return &ServeCmd{flags: flags}
}

// Register adds the serve command to the application.
func (cmd *ServeCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "serve",
		Usage:       "Run the HTTP server",
		UsageText:   "z-chat serve",
		Description: "Serves GraphQL queries, mutations and websocket subscriptions on /graphql.",
		Action:      cmd.run,
	})
	return app
}

func (cmd *ServeCmd) run(ctx context.Context, _ *cli.Command) error {
	cfg := cmd.flags.Config
	logger := log.Logger

	bus := pubsub.New(cfg.Subscriptions.BufferSize, logger.With().Str("component", "pubsub").Logger())

	st := openStore(ctx, cfg.Store, logger)
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing store")
		}
	}()

	chatSvc := chatservice.NewService(st, bus, logger.With().Str("component", "chat").Logger())

	schema, err := graph.NewSchema(chatSvc)
	if err != nil {
		return err
	}

	router := handler.NewRouter(chatSvc, schema, handler.Options{KeepAlive: cfg.Subscriptions.KeepAlive}, logger)

	return startServer(ctx, cfg.Server, router, bus, logger)
}

// openStore never fails: a backend that cannot be opened is logged and
// replaced by one that reports the failure on every call.
func openStore(ctx context.Context, cfg config.StoreConfig, logger zerolog.Logger) store.Store {
	storeLog := logger.With().Str("component", "store").Logger()

	st, err := store.Open(ctx, cfg.URI, cfg.Database, storeLog)
	if err != nil {
		storeLog.Error().Err(err).Msg("message store unavailable, operations will fail until restart")
		return store.Unavailable(err)
	}

	storeLog.Info().Str("dsn", store.Redact(cfg.URI)).Msg("message store opened")
	return st
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, bus *pubsub.Bus, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info().Str("addr", serverCfg.Addr).Msg("z-chat backend listening")
	return runServer(ctx, srv, bus, serverCfg.ShutdownTimeout)
}

func runServer(ctx context.Context, srv *http.Server, bus *pubsub.Bus, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		// End the streams first so long-lived handlers return and Shutdown can drain.
		bus.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		bus.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
