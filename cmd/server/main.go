package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/quiz-chat/internal/config"
	"github.com/DoyleJ11/quiz-chat/internal/httpapi"
	"github.com/DoyleJ11/quiz-chat/internal/hub"
	"github.com/DoyleJ11/quiz-chat/internal/identity"
	"github.com/DoyleJ11/quiz-chat/internal/store"
	"github.com/DoyleJ11/quiz-chat/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, logger *zap.Logger) (err error) {
	st, err := store.Open(cfg.DatabaseDSN, cfg.DatabaseDebug)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, st.Close()) }()

	// Stopped explicitly on shutdown so members are dropped cleanly.
	h := hub.NewHub(context.Background(), st, logger)

	opts := ws.Options{
		FramesPerSecond: cfg.FramesPerSecond,
		OriginPatterns:  cfg.OriginPatterns,
		AllowAnyOrigin:  cfg.AllowAnyOrigin,
		Logger:          logger,
	}
	if cfg.TokenSecret != "" {
		opts.Resolver = identity.NewResolver(cfg.TokenSecret)
	}

	// Build the router *with* the hub injected
	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Hub:          h,
			Store:        st,
			HistoryLimit: cfg.HistoryLimit,
			WS:           opts,
			Logger:       logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.HTTPAddr), zap.Bool("verified_tokens", opts.Resolver != nil))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return multierr.Combine(h.Shutdown(sctx), srv.Shutdown(sctx))
	})
	return g.Wait()
}
