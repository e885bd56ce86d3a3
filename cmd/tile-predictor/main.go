package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/withObsrvr/obsrvr-tile-predictor/internal/checkpoint"
	"github.com/withObsrvr/obsrvr-tile-predictor/internal/config"
	"github.com/withObsrvr/obsrvr-tile-predictor/internal/logging"
	"github.com/withObsrvr/obsrvr-tile-predictor/internal/metrics"
	"github.com/withObsrvr/obsrvr-tile-predictor/internal/model"
	"github.com/withObsrvr/obsrvr-tile-predictor/internal/predict"
	"github.com/withObsrvr/obsrvr-tile-predictor/internal/raster"
	"github.com/withObsrvr/obsrvr-tile-predictor/internal/source"
	"github.com/withObsrvr/obsrvr-tile-predictor/internal/storage"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("[main] Tile Predictor %s (%s)", Version, GitSHA)

	cfg := config.MustLoad()

	logging.Setup(logging.Config{Format: cfg.Logging.Format, Level: cfg.Logging.Level})

	if cfg.Metrics.Enabled {
		metrics.Init(cfg.Metrics.Namespace)
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
				slog.Error("metrics server stopped", "address", cfg.Metrics.Address, "error", err)
			}
		}()
		slog.Info("metrics enabled", "address", cfg.Metrics.Address)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown handler
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		log.Printf("[shutdown] received signal: %v, finishing current batch", sig)
		cancel()
	}()

	layout := source.Layout{
		InputDir:  cfg.Input.Dir,
		OutputDir: cfg.Output.Dir,
		Evaluate:  cfg.Predict.EvaluateMode,
	}
	root := layout.OutputRoot()

	// Create storage backend
	store, err := storage.NewStore(ctx, storage.StorageConfig{
		Backend:    cfg.Output.Backend,
		LocalDir:   root,
		Bucket:     cfg.Output.Bucket,
		S3Endpoint: cfg.Output.S3Endpoint,
		S3Region:   cfg.Output.S3Region,
		Prefix:     cfg.Output.Prefix,
	})
	if err != nil {
		log.Fatalf("[main] failed to create storage: %v", err)
	}
	defer store.Close()

	// Resume logs always live under the local output root
	scope, err := filepath.Abs(root)
	if err != nil {
		scope = root
	}
	ledger, err := checkpoint.NewLedger(ctx, checkpoint.Config{
		Backend:     cfg.Ledger.Backend,
		Dir:         root,
		PostgresDSN: cfg.Ledger.PostgresDSN,
		Scope:       scope,
	})
	if err != nil {
		log.Fatalf("[main] failed to create ledger: %v", err)
	}
	defer ledger.Close()

	m, err := model.NewHTTPModel(model.HTTPConfig{
		Endpoint: cfg.Model.Endpoint,
		Name:     cfg.Model.Name,
		Timeout:  time.Duration(cfg.Model.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("[main] failed to create model client: %v", err)
	}

	reader := raster.NewTileReader(raster.ReaderConfig{
		ProjectionIfMissing: cfg.Input.ProjectionIfMissing,
		Attempts:            cfg.Predict.ReadAttempts,
		Backoff:             time.Duration(cfg.Predict.ReadBackoffMs) * time.Millisecond,
	})

	p := predict.New(predict.Options{
		Layout:       layout,
		Extensions:   cfg.Input.Extensions,
		BatchSize:    cfg.Predict.BatchSize,
		BorderPixels: cfg.Predict.BorderPixelsToIgnore,
		Force:        cfg.Predict.Force,
		MaskDir:      cfg.Input.MaskDir,
	}, m, reader, store, ledger)

	if _, err := p.Run(ctx); err != nil {
		if ctx.Err() != nil {
			log.Printf("[main] shutdown complete, rerun to resume")
		} else {
			log.Fatalf("[main] predict failed: %v", err)
		}
	}

	log.Println("[main] tile predictor stopped cleanly")
}
