// clipsyncd runs the ghostcopy synchronization core headless: it maintains
// the live history subscription, applies game-mode suppression, and exposes
// the repository to the platform layer. The GUI shells embed the same
// packages; this binary exists for servers, tests, and development.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghostcopy/clipsync/internal/clipsync"
	"github.com/ghostcopy/clipsync/internal/config"
	"github.com/ghostcopy/clipsync/internal/crypto"
	"github.com/ghostcopy/clipsync/internal/httpapi"
	"github.com/ghostcopy/clipsync/internal/logging"
	"github.com/ghostcopy/clipsync/internal/memwatch"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "clipsyncd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", defaultConfigPath(), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger := logging.Setup(logging.ParseFormat(cfg.LogFormat), logging.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := clipsync.BuildRemoteStore(cfg.StoreDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	blobs, err := clipsync.BuildBlobStore(ctx, cfg.BlobLocation, cfg.BlobRegion)
	if err != nil {
		return err
	}

	// The memory store doubles as a change feed for local profiles.
	var fallbackFeed clipsync.ChangeFeed
	if memory, ok := store.(*clipsync.MemoryStore); ok {
		fallbackFeed = memory
	}
	feed, err := clipsync.BuildChangeFeed(cfg.FeedURL, cfg.FeedToken, fallbackFeed, logger)
	if err != nil {
		return err
	}
	if feed != nil {
		defer feed.Close()
	}

	engine := crypto.NewEngine(crypto.Options{
		Iterations:          cfg.KdfIterations,
		EncryptOffloadBytes: cfg.EncryptOffloadBytes,
		DecryptOffloadBytes: cfg.DecryptOffloadBytes,
	})
	passphrase := ""
	if cfg.EncryptionEnabled {
		// The passphrase comes from the secret provider, never from the
		// config file.
		passphrase = os.Getenv("GHOSTCOPY_PASSPHRASE")
		if passphrase == "" {
			return fmt.Errorf("encryption enabled but GHOSTCOPY_PASSPHRASE is not set")
		}
	}
	if err := engine.Initialize(cfg.UserID, passphrase); err != nil {
		return err
	}

	repo, err := clipsync.NewRepository(clipsync.RepositoryOptions{
		UserID:            cfg.UserID,
		Store:             store,
		Blobs:             blobs,
		Feed:              feed,
		Cipher:            engine,
		Logger:            logger,
		HistoryLimit:      cfg.HistoryLimit,
		ParseOffloadItems: cfg.ParseOffloadItems,
		ContentCacheSize:  cfg.ContentCacheSize,
	})
	if err != nil {
		return err
	}

	gameMode := clipsync.NewGameModeQueue()
	gameMode.OnFlush(func(item clipsync.ClipboardItem) {
		logger.Info("queued item released", "item_id", item.ID, "device", item.DeviceName)
	})

	sleeper := clipsync.NewSleepController()
	defer sleeper.Dispose()

	if cfg.ControlListen != "" {
		if cfg.ControlToken == "" {
			return fmt.Errorf("control_listen is set but control_token is empty")
		}
		controlServer := httpapi.NewServer(httpapi.ServerOptions{
			Repo:       repo,
			Games:      gameMode,
			Sleep:      sleeper,
			Logger:     logger,
			UserID:     cfg.UserID,
			DeviceType: clipsync.DeviceType(cfg.DeviceType),
			DeviceName: cfg.DeviceName,
		}, httpapi.ServerConfig{AuthToken: cfg.ControlToken})
		httpServer := &http.Server{
			Addr:              cfg.ControlListen,
			Handler:           controlServer,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("control api listening", "addr", cfg.ControlListen)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("control api failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpServer.Shutdown(shutdownCtx)
		}()
	}

	pressure := memwatch.NewWatcher(0, 0, logger)
	pressure.OnPressure(repo.FlushCaches)
	go pressure.Run(ctx)

	stopWatch, err := config.Watch(*configPath, logger, func(next *config.Config) {
		logger.Info("configuration change staged for next restart", "user_id", next.UserID)
	})
	if err != nil {
		logger.Warn("config watch unavailable", "error", err)
	} else {
		defer stopWatch()
	}

	if feed == nil {
		logger.Info("no change feed configured; running write-only")
		<-ctx.Done()
		return nil
	}

	sub, err := repo.WatchHistory(ctx, cfg.HistoryLimit)
	if err != nil {
		return err
	}
	defer sub.Close()
	sleeper.AddPausable(sub)

	logger.Info("clipsyncd started",
		"user_id", cfg.UserID, "device_type", cfg.DeviceType, "history_limit", cfg.HistoryLimit)

	// Windows are redelivered whole on every change; only items that newly
	// appeared since the last snapshot count as incoming for game mode.
	tracker := clipsync.NewSnapshotTracker()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case items, ok := <-sub.Snapshots():
			if !ok {
				return nil
			}
			fresh := tracker.Fresh(items)
			logger.Info("history window updated", "items", len(items), "new", len(fresh))
			for _, item := range fresh {
				if gameMode.Enqueue(item) {
					logger.Debug("item suppressed by game mode", "item_id", item.ID)
				}
			}
		}
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return home + "/.ghostcopy/config.yaml"
}
