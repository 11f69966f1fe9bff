package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tidewatch/tidewatch/internal/api"
	"github.com/tidewatch/tidewatch/internal/config"
	"github.com/tidewatch/tidewatch/internal/mock"
	"github.com/tidewatch/tidewatch/internal/models"
	"github.com/tidewatch/tidewatch/internal/monitor"
	"github.com/tidewatch/tidewatch/internal/relay"
	"github.com/tidewatch/tidewatch/internal/state"
	"github.com/tidewatch/tidewatch/internal/store"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("TIDEWATCH_DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg := config.Load()

	reg := relay.NewRegistry()
	fan := relay.NewFanout()

	opts := monitor.Options{
		EventRingSize:   cfg.EventRingSize,
		MetricsRingSize: cfg.MetricsRingSize,
		SampleInterval:  cfg.MetricsInterval,
	}

	var archive *store.Archive
	if cfg.ArchivePath != "" {
		var err error
		archive, err = store.Open(cfg.ArchivePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.ArchivePath).Msg("failed to open event archive")
		}
		defer archive.Close()
		opts.Archive = archive
		log.Info().Str("path", cfg.ArchivePath).Msg("event archive enabled")
	}

	bus := monitor.NewBus(reg, fan, opts)

	// broadcast evictions surface as error events, not disconnections; the
	// session goroutine owns the single disconnection record
	fan.OnEvict = func(rec relay.Record, err error) {
		bus.Record(models.SystemEvent{
			Kind:   models.EventError,
			Source: "broadcast",
			Details: map[string]any{
				"connection_id": rec.ID,
				"client_class":  string(rec.Class),
				"error":         err.Error(),
			},
		})
	}

	st := state.NewStore(reg, fan, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gen := mock.NewGenerator(st, cfg.MockInterval)
	go gen.Run(ctx)

	bus.StartSampling()

	server := api.NewServer(cfg, reg, st, bus)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("tidewatch relay listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}

	cancel()
	bus.StopSampling()

	log.Info().Msg("tidewatch relay stopped")
}
