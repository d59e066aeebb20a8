package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gazebridge/gazebridge/internal/buffer"
	"github.com/gazebridge/gazebridge/internal/calibration"
	"github.com/gazebridge/gazebridge/internal/config"
	"github.com/gazebridge/gazebridge/internal/gateway"
	"github.com/gazebridge/gazebridge/internal/tracker"
	"github.com/gazebridge/gazebridge/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	useMock := flag.Bool("mock", false, "use the synthetic tracker")
	flag.Parse()

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if *useMock {
		cfg.UseMock = true
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	metrics.SetDefault(metrics.NewManager(metrics.WithEnabled(cfg.MetricsEnabled)))

	clock := clockwork.NewRealClock()

	adapter := selectAdapter(cfg, clock)
	manager := tracker.NewManager(adapter, cfg.TrackerAddress)
	if !manager.Connect() {
		log.Fatal().Msg("failed to connect to eye tracker")
	}
	if info := manager.Info(); info != nil {
		log.Info().
			Str("model", info.Model).
			Str("serial", info.SerialNumber).
			Str("address", info.Address).
			Msg("connected to tracker")
	}

	store := buffer.NewSampleStore(cfg.BufferSize, cfg.BufferDuration(), clock)
	registry := calibration.NewRegistry(manager, cfg.SaccadeRatio)
	hub := gateway.NewHub(gateway.DefaultConnectionConfig())
	service := gateway.NewService(store, registry, manager, hub, clock, cfg.CleanupInterval())
	wsHandler := gateway.NewWebSocketHandler(hub)

	mux := http.NewServeMux()
	wsHandler.RegisterRoutes(mux)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("/info", gateway.CORSHandler(func(w http.ResponseWriter, r *http.Request) {
		stats := store.Statistics()
		total, streaming := hub.Stats()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w,
			`{"service":"gazebridge","connections":%d,"streaming":%d,"buffered_samples":%d,"sampling_rate":%.1f}`,
			total, streaming, stats.Size, stats.SamplingRate)
	}))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := service.Run(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	go func() {
		log.Info().Str("addr", server.Addr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}

	cancel()
	manager.Disconnect()

	log.Info().Msg("shutdown complete")
}

// selectAdapter picks the tracker variant. Hardware adapters register here;
// only the synthetic one ships with the core.
func selectAdapter(cfg config.Config, clock clockwork.Clock) tracker.Adapter {
	if cfg.UseMock {
		log.Info().Msg("using synthetic mock tracker")
		return tracker.NewMockAdapter(clock)
	}
	log.Warn().Msg("no hardware adapter built in; falling back to mock tracker")
	return tracker.NewMockAdapter(clock)
}
