package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/heimdex/heimdex-merger/internal/merge"
	"github.com/heimdex/heimdex-merger/internal/timeline"
)

const (
	DefaultFFmpegPath   = "ffmpeg"
	DefaultFFprobePath  = "ffprobe"
	defaultProbeTimeout = 30 * time.Second
)

type Config struct {
	FFmpegPath    string
	FFprobePath   string
	ExportTimeout time.Duration // 0 = no timeout
	ProbeTimeout  time.Duration
	Logger        *slog.Logger
}

// Backend is the ffmpeg implementation of merge.Backend.
type Backend struct {
	cfg   Config
	probe func(ctx context.Context, ffprobePath, path string) (*ProbeResult, error)
}

func NewBackend(cfg Config) *Backend {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = DefaultFFmpegPath
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = DefaultFFprobePath
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Logger = cfg.Logger.With("component", "ffmpeg")
	return &Backend{cfg: cfg, probe: Probe}
}

func (b *Backend) ResolveAsset(ctx context.Context, clip merge.SourceClip) (*merge.MediaAsset, error) {
	path, err := InputPath(clip)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.ProbeTimeout)
	defer cancel()

	pr, err := b.probe(ctx, b.cfg.FFprobePath, path)
	if err != nil {
		return nil, err
	}

	b.cfg.Logger.Debug("probed clip",
		"path", path,
		"duration", pr.Duration,
		"has_video", pr.Video != nil,
		"has_audio", pr.Audio != nil,
	)
	return pr.Asset(clip), nil
}

func (b *Backend) NewComposition() (merge.Composition, error) {
	return timeline.New(), nil
}

func (b *Backend) NewExportSession(comp merge.Composition, plan merge.RenderPlan, target merge.ExportTarget) (merge.ExportSession, error) {
	tc, ok := comp.(*timeline.Composition)
	if !ok {
		return nil, fmt.Errorf("unsupported composition type %T", comp)
	}
	if target.Path == "" {
		return nil, errors.New("export target has no path")
	}

	args, err := BuildArgs(tc, plan, target)
	if err != nil {
		return nil, err
	}

	return &Session{
		ffmpegPath: b.cfg.FFmpegPath,
		args:       args,
		total:      tc.Duration(),
		target:     target,
		timeout:    b.cfg.ExportTimeout,
		logger:     b.cfg.Logger,
	}, nil
}
