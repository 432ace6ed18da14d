// Package api exposes merge jobs over a loopback HTTP server.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/heimdex/heimdex-merger/internal/ffmpeg"
	"github.com/heimdex/heimdex-merger/internal/jobs"
	"github.com/heimdex/heimdex-merger/internal/playback"
)

// RunnerControl is the part of *jobs.Runner the API drives.
type RunnerControl interface {
	Pause()
	Resume()
	IsPaused() bool
	ActiveJobs() int
}

// Toolchain reports the last cached ffmpeg probe. *ffmpeg.Doctor
// implements it.
type Toolchain interface {
	Peek() *ffmpeg.Capabilities
}

// ConfigStore holds the bearer token clients must present.
type ConfigStore interface {
	GetConfig(ctx context.Context, key string) (string, error)
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port      int
	Service   jobs.MergeService
	Config    ConfigStore
	Runner    RunnerControl
	Doctor    Toolchain
	Artifacts playback.ArtifactServer
	Logger    *slog.Logger
	StartTime time.Time
	DeviceID  string
	Version   string
}

func NewServer(cfg ServerConfig) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:        fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:     NewRouter(cfg),
			ReadTimeout: 15 * time.Second,
			// Artifact downloads can be long.
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
