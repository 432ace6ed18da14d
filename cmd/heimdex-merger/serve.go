package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-merger/internal/api"
	"github.com/heimdex/heimdex-merger/internal/config"
	"github.com/heimdex/heimdex-merger/internal/db"
	"github.com/heimdex/heimdex-merger/internal/ffmpeg"
	"github.com/heimdex/heimdex-merger/internal/jobs"
	"github.com/heimdex/heimdex-merger/internal/library"
	"github.com/heimdex/heimdex-merger/internal/logging"
	"github.com/heimdex/heimdex-merger/internal/merge"
	"github.com/heimdex/heimdex-merger/internal/playback"
)

const (
	shutdownTimeout = 10 * time.Second
	doctorTimeout   = 30 * time.Second
)

func newServeCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the merge daemon and its HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cc.config()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger := logging.NewLogger(cc.level(cfg))
			return runServe(cmd.Context(), cfg, logger, cmd.OutOrStdout())
		},
	}
}

func runServe(ctx context.Context, cfg config.Config, logger *slog.Logger, out io.Writer) error {
	startTime := time.Now()

	for _, dir := range []string{cfg.DataDir(), cfg.TempDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another heimdex-merger is already serving %s", cfg.DataDir())
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release lock", "error", err)
		}
	}()

	logger.Info("starting heimdex merger",
		"version", config.Version,
		"data_dir", logging.SanitizePath(cfg.DataDir()),
		"config", cfg.Source(),
	)

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	if _, err := database.RecoverInterrupted(ctx); err != nil {
		logger.Warn("failed to mark interrupted jobs", "error", err)
	}

	repo := jobs.NewRepository(database.Conn())

	deviceID, err := ensureDeviceID(ctx, repo)
	if err != nil {
		return fmt.Errorf("failed to ensure device ID: %w", err)
	}
	authToken, err := ensureAuthToken(ctx, repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Fprintln(out, renderTable(
		[]string{"HEIMDEX MERGER " + config.Version, ""},
		[][]string{
			{"API URL", fmt.Sprintf("http://127.0.0.1:%d", cfg.Port())},
			{"Auth Token", authToken},
			{"Device ID", deviceID},
		},
		nil,
	))

	ffCfg := ffmpeg.Config{
		FFmpegPath:    cfg.FFmpegPath(),
		FFprobePath:   cfg.FFprobePath(),
		ExportTimeout: cfg.ExportTimeout(),
		Logger:        logger,
	}
	doctor := ffmpeg.NewDoctor(ffCfg, logging.WithComponent(logger, "doctor"))
	go func() {
		probeCtx, cancel := context.WithTimeout(ctx, doctorTimeout)
		defer cancel()
		if caps, err := doctor.Refresh(probeCtx); err != nil {
			logger.Warn("initial ffmpeg probe failed", "error", err)
		} else if !caps.CanMerge {
			logger.Warn("ffmpeg toolchain incomplete, merges will fail", "encoders", caps.Encoders)
		}
	}()

	engine := merge.NewEngine(ffmpeg.NewBackend(ffCfg), merge.Options{
		TempDir: cfg.TempDir(),
		Logger:  logger,
	})

	lib, err := newLibrary(cfg, deviceID, logger)
	if err != nil {
		return err
	}

	runner := jobs.NewRunner(repo, engine, jobs.RunnerOptions{
		PollInterval: cfg.PollInterval(),
		Library:      lib,
		WriteEDL:     cfg.WriteEDL(),
	}, logging.WithComponent(logger, "runner"))

	svc := jobs.NewService(repo, logging.WithComponent(logger, "jobs"))
	svc.SetCanceller(runner)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		runner.Start(runCtx)
	}()

	apiServer := api.NewServer(api.ServerConfig{
		Port:      cfg.Port(),
		Service:   svc,
		Config:    repo,
		Runner:    runner,
		Doctor:    doctor,
		Artifacts: playback.NewServer(logger),
		Logger:    logging.WithComponent(logger, "api"),
		StartTime: startTime,
		DeviceID:  deviceID,
		Version:   config.Version,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- apiServer.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err = <-serverErr:
		if err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if shutdownErr := apiServer.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Error("failed to shutdown HTTP server", "error", shutdownErr)
	}

	// The runner records the interrupted job before the store closes.
	select {
	case <-runnerDone:
	case <-shutdownCtx.Done():
		logger.Warn("merge runner did not stop in time")
	}

	logger.Info("shutdown complete")
	return err
}

func newLibrary(cfg config.Config, deviceID string, logger *slog.Logger) (library.Library, error) {
	switch {
	case cfg.LibraryDir() != "":
		lib, err := library.NewDirLibrary(cfg.LibraryDir(), logger)
		if err != nil {
			return nil, err
		}
		logger.Info("saving merges to folder", "dir", logging.SanitizePath(lib.Dir()))
		return lib, nil
	case cfg.LibraryURL() != "":
		if cfg.LibraryToken() == "" {
			return nil, fmt.Errorf("library url %s needs a library token", cfg.LibraryURL())
		}
		lib := library.NewHTTPLibrary(cfg.LibraryURL(), cfg.LibraryToken(), logger)
		lib.SetDeviceID(deviceID)
		logger.Info("uploading merges to library", "url", cfg.LibraryURL())
		return lib, nil
	}
	return nil, nil
}

func ensureDeviceID(ctx context.Context, repo jobs.Repository) (string, error) {
	if existing, err := repo.GetConfig(ctx, jobs.ConfigDeviceID); err == nil && existing != "" {
		return existing, nil
	}
	id := uuid.NewString()
	if err := repo.SetConfig(ctx, jobs.ConfigDeviceID, id); err != nil {
		return "", err
	}
	return id, nil
}

func ensureAuthToken(ctx context.Context, repo jobs.Repository) (string, error) {
	if existing, err := repo.GetConfig(ctx, jobs.ConfigAuthToken); err == nil && existing != "" {
		return existing, nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := hex.EncodeToString(buf)
	if err := repo.SetConfig(ctx, jobs.ConfigAuthToken, token); err != nil {
		return "", err
	}
	return token, nil
}
