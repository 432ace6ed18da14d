package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const defaultCacheTTL = 5 * time.Minute

// Encoders the default export preset depends on.
var requiredEncoders = []string{"libx264", "aac"}

// Capabilities describes the installed ffmpeg toolchain.
type Capabilities struct {
	FFmpeg   ToolInfo        `json:"ffmpeg"`
	FFprobe  ToolInfo        `json:"ffprobe"`
	Encoders map[string]bool `json:"encoders"`
	CanMerge bool            `json:"can_merge"`
	ProbedAt time.Time       `json:"probed_at"`
}

type ToolInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// commandOutput runs a command and returns its stdout.
type commandOutput func(ctx context.Context, name string, args ...string) ([]byte, error)

func execOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Doctor probes the toolchain and caches the result for a TTL, so status
// requests do not spawn processes every time.
type Doctor struct {
	ffmpegPath  string
	ffprobePath string
	run         commandOutput
	ttl         time.Duration
	logger      *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

func NewDoctor(cfg Config, logger *slog.Logger) *Doctor {
	ffmpegPath := cfg.FFmpegPath
	if ffmpegPath == "" {
		ffmpegPath = DefaultFFmpegPath
	}
	ffprobePath := cfg.FFprobePath
	if ffprobePath == "" {
		ffprobePath = DefaultFFprobePath
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Doctor{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		run:         execOutput,
		ttl:         defaultCacheTTL,
		logger:      logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *Doctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

func (d *Doctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new probe. On failure a stale cache is returned if present.
func (d *Doctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.probe(ctx)
	if err != nil {
		d.logger.Warn("ffmpeg probe failed", "error", err)
		if d.cached != nil {
			d.logger.Info("returning stale capabilities cache")
			return d.cached, nil
		}
		return nil, err
	}

	d.cached = caps
	return caps, nil
}

func (d *Doctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}

func (d *Doctor) probe(ctx context.Context) (*Capabilities, error) {
	caps := &Capabilities{
		FFmpeg:   d.tool(ctx, d.ffmpegPath),
		FFprobe:  d.tool(ctx, d.ffprobePath),
		Encoders: make(map[string]bool, len(requiredEncoders)),
		ProbedAt: time.Now(),
	}

	if !caps.FFmpeg.Available && !caps.FFprobe.Available {
		return nil, fmt.Errorf("neither %s nor %s could be run", d.ffmpegPath, d.ffprobePath)
	}

	if caps.FFmpeg.Available {
		out, err := d.run(ctx, d.ffmpegPath, "-hide_banner", "-encoders")
		if err == nil {
			available := parseEncoders(out)
			for _, enc := range requiredEncoders {
				caps.Encoders[enc] = available[enc]
			}
		}
	}

	caps.CanMerge = caps.FFmpeg.Available && caps.FFprobe.Available
	for _, enc := range requiredEncoders {
		caps.CanMerge = caps.CanMerge && caps.Encoders[enc]
	}

	d.logger.Info("ffmpeg probe complete",
		"ffmpeg", caps.FFmpeg.Version,
		"ffprobe", caps.FFprobe.Version,
		"can_merge", caps.CanMerge,
	)
	return caps, nil
}

func (d *Doctor) tool(ctx context.Context, name string) ToolInfo {
	info := ToolInfo{Path: name}
	if p, err := exec.LookPath(name); err == nil {
		info.Path = p
	}
	out, err := d.run(ctx, name, "-version")
	if err != nil {
		info.Error = err.Error()
		return info
	}
	info.Available = true
	info.Version = parseVersion(out)
	return info
}

// parseVersion extracts "6.1.1" from "ffmpeg version 6.1.1 Copyright ...".
func parseVersion(out []byte) string {
	line, _, _ := bytes.Cut(out, []byte("\n"))
	fields := strings.Fields(string(line))
	for i, f := range fields {
		if f == "version" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return ""
}

// parseEncoders reads `ffmpeg -encoders` output. Encoder lines look like
// " V....D libx264              libx264 H.264 ...".
func parseEncoders(out []byte) map[string]bool {
	encoders := make(map[string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	pastHeader := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "------") {
			pastHeader = true
			continue
		}
		if !pastHeader {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			encoders[fields[1]] = true
		}
	}
	return encoders
}
