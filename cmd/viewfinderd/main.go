// Package main runs the Viewfinder sync daemon: it opens the local
// catalog, starts the synchronization engine and exposes optional
// Prometheus metrics.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/viewfinderco/viewfinder/internal/assets"
	"github.com/viewfinderco/viewfinder/internal/cache"
	"github.com/viewfinderco/viewfinder/internal/config"
	"github.com/viewfinderco/viewfinder/internal/engine"
	"github.com/viewfinderco/viewfinder/internal/logging"
	"github.com/viewfinderco/viewfinder/internal/store"
	"github.com/viewfinderco/viewfinder/internal/telemetry"
)

// Version is set at build time.
var Version = "0.1.0"

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logging.New(os.Stderr, cfg.Logger.Level, cfg.Logger.Console)
	log.Info().Str("version", Version).Str("data_dir", cfg.DataDir).Msg("viewfinderd starting")

	st, err := store.Open(cfg.DataDir, logging.Component(log, "store"))
	if err != nil {
		log.Fatal().Err(err).Msg("open catalog")
	}
	defer st.Close()

	metrics := telemetry.NewNop()
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		metrics = telemetry.New(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			log.Info().Str("listen", cfg.Metrics.Listen).Msg("metrics listener up")
			if err := http.ListenAndServe(cfg.Metrics.Listen, mux); err != nil {
				log.Error().Err(err).Msg("metrics listener")
			}
		}()
	}

	eng := engine.New(engine.Options{
		Store:   st,
		Assets:  assets.NewFSLibrary(cfg.AssetsDir),
		Cache:   cache.New(cfg.Cache.Enabled, cfg.Cache.SizeMB),
		Metrics: metrics,
		Log:     logging.Component(log, "engine"),
		Sync:    cfg.Sync,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng.Run(ctx)
	log.Info().Msg("viewfinderd stopped")
}
