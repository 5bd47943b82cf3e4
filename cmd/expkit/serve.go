package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/RobinCoderZhao/experience-kit/internal/api"
	"github.com/RobinCoderZhao/experience-kit/internal/appconfig"
	"github.com/RobinCoderZhao/experience-kit/internal/flow"
	"github.com/RobinCoderZhao/experience-kit/internal/store"
)

func serveCmd(flags *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(flags.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func runServe(parent context.Context, cfg appconfig.Config) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	collab, err := newCollaborators(cfg)
	if err != nil {
		return err
	}
	defer collab.Close()

	hub := api.NewHub()
	dispatcher := newDispatcher(cfg)
	dispatcher.Register(hub)

	flowCfg := cfg.FlowSettings()
	factory := func(ctx context.Context, in flow.Input) (*flow.Flow, error) {
		opts := []flow.Option{flow.WithNotifier(dispatcher), flow.WithSaver(st)}
		if collab.reAnalyzer != nil {
			opts = append(opts, flow.WithReAnalyzer(collab.reAnalyzer))
		}
		return flow.Start(ctx, flowCfg, collab.enricher, in, opts...)
	}

	if cfg.Server.TokenSecret == "" {
		cfg.Server.TokenSecret = uuid.NewString()
		slog.Warn("server.token_secret not set; tokens will not survive a restart")
	}
	server, err := api.NewServer(cfg.Server, hub, factory)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting api server", "addr", cfg.Server.Addr, "channels", dispatcher.Channels())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// Flush sessions before the HTTP server stops so websocket clients
		// see their streams close cleanly.
		flushErr := server.Shutdown(shutdownCtx)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Join(flushErr, fmt.Errorf("shutdown server: %w", err))
		}
		return flushErr
	})
	return g.Wait()
}
