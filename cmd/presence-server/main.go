package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	_ "go.uber.org/automaxprocs"

	"github.com/esraakhalifa/bookstore-presence/internal/admission"
	"github.com/esraakhalifa/bookstore-presence/internal/auth"
	"github.com/esraakhalifa/bookstore-presence/internal/config"
	"github.com/esraakhalifa/bookstore-presence/internal/delivery"
	"github.com/esraakhalifa/bookstore-presence/internal/engine"
	"github.com/esraakhalifa/bookstore-presence/internal/ingest"
	"github.com/esraakhalifa/bookstore-presence/internal/monitoring"
	"github.com/esraakhalifa/bookstore-presence/internal/presence"
	"github.com/esraakhalifa/bookstore-presence/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger isn't up yet; stderr is all we have.
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := monitoring.NewLogger(monitoring.LoggerOptions{
		Level:    cfg.LogLevel,
		Pretty:   cfg.LogPretty,
		FilePath: cfg.LogFile,
	})
	log.Info().Str("addr", cfg.Addr).Msg("presence server starting")

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)
	registry := presence.NewRegistry()
	interest := presence.NewInterestIndex()
	tracker := presence.NewActivityTracker(log)
	gate := admission.NewGate(registry, log)
	router := delivery.NewRouter(registry, interest, metrics, log)
	authn := auth.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer)

	eng := engine.New(engine.Deps{
		Verifier: authn,
		Gate:     gate,
		Registry: registry,
		Tracker:  tracker,
		Interest: interest,
		Router:   router,
		Metrics:  metrics,
		Logger:   log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go tracker.RunSweeper(ctx, time.Hour)
	go gate.RunCleanup(ctx)

	if cfg.NATSURL != "" {
		bridge, err := ingest.Connect(cfg.NATSURL, router, tracker, metrics, log)
		if err != nil {
			log.Fatal().Err(err).Msg("ingest bridge failed to start")
		}
		defer bridge.Close()
	} else {
		log.Warn().Msg("no bus configured, ingest bridge disabled")
	}

	server := transport.NewServer(cfg.Addr, eng, authn, log)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown incomplete")
	}
	log.Info().Msg("presence server stopped")
}
