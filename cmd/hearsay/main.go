// hearsay indexes per-identity signed blobs from the peer network into a
// relational store and writes local envelopes back out as sealed blob
// appends.
//
// It reads configuration from hearsay.json in the working directory,
// opens the selected storage backend, bootstraps the schema, and runs
// the periodic identity sweep plus the daemon log listener until
// interrupted.
//
// Usage:
//
//	./hearsay              # reads ./hearsay.json
//	./hearsay -config /etc/hearsay.json
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hearsay-net/hearsay/internal/config"
	"github.com/hearsay-net/hearsay/internal/indexer"
	"github.com/hearsay-net/hearsay/internal/keys"
	"github.com/hearsay-net/hearsay/internal/p2p"
	"github.com/hearsay-net/hearsay/internal/storage"
	"github.com/hearsay-net/hearsay/internal/storage/postgres"
	"github.com/hearsay-net/hearsay/internal/storage/sqlite"
	"github.com/hearsay-net/hearsay/internal/writer"
)

func main() {
	configPath := flag.String("config", "hearsay.json", "path to the configuration file")
	reconstruct := flag.String("reconstruct", "", "rebuild the named identity's blob from the local index and exit")
	broadcast := flag.Bool("broadcast", true, "announce commits to the network")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	logger.Info("hearsay starting")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger.Info("config loaded", "backend", cfg.Backend, "signers", len(cfg.SigningKeys))

	// Root context cancelled on SIGINT or SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	var engine storage.Engine
	switch cfg.Backend {
	case "postgres":
		pg, err := postgres.Open(ctx, cfg.ConnString())
		if err != nil {
			logger.Error("failed to open postgres", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		engine = pg
	default:
		sq, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			logger.Error("failed to open sqlite", "error", err)
			os.Exit(1)
		}
		defer sq.Close()
		engine = sq
	}
	logger.Info("storage opened, schema bootstrapped")

	keyring, err := keys.NewKeyring(cfg.SigningKeys)
	if err != nil {
		logger.Error("failed to load signing keys", "error", err)
		os.Exit(1)
	}

	var (
		store  p2p.BlobStore
		opener p2p.StreamOpener
	)
	switch cfg.BlobStore {
	case "memory":
		// In-process store for local development. A daemon RPC client
		// would plug in behind the same two interfaces.
		mem := p2p.NewMemBlobStore()
		store, opener = mem, mem
	default:
		logger.Error("unknown blob store", "blobStore", cfg.BlobStore)
		os.Exit(1)
	}

	manager, err := indexer.New(engine, store, opener, cfg.ScanTimeout(), logger)
	if err != nil {
		logger.Error("failed to build indexer", "error", err)
		os.Exit(1)
	}
	blobWriter := writer.New(engine, store, opener, keyring, logger)

	if *reconstruct != "" {
		if err := blobWriter.ReconstructBlob(ctx, *reconstruct, time.Time{}, *broadcast); err != nil {
			logger.Error("reconstruct failed", "tld", *reconstruct, "error", err)
			os.Exit(1)
		}
		logger.Info("blob reconstructed", "tld", *reconstruct)
		return
	}

	if cfg.DaemonLogURL != "" {
		watcher := p2p.NewLogWatcher(cfg.DaemonLogURL, logger, func(tld string) {
			manager.HandleNameSynced(ctx, tld)
		})
		go func() {
			if err := watcher.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("log watcher stopped", "error", err)
			}
		}()
	}

	if err := manager.Run(ctx, cfg.SyncInterval()); err != nil && ctx.Err() == nil {
		logger.Error("sync loop error", "error", err)
		os.Exit(1)
	}

	logger.Info("hearsay stopped")
}
