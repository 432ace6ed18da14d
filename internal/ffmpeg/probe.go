// Package ffmpeg implements the merge backend on top of the ffprobe and
// ffmpeg command line tools.
package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/heimdex/heimdex-merger/internal/merge"
)

// ProbeResult is the subset of ffprobe output the merger needs.
type ProbeResult struct {
	Duration   time.Duration
	FormatName string
	Video      *merge.VideoStream
	Audio      *merge.AudioStream
}

// Probe runs a single ffprobe JSON call against path.
func Probe(ctx context.Context, ffprobePath, path string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %q: %w", path, err)
	}

	return ParseJSON(out)
}

// ParseJSON converts raw ffprobe JSON output into a ProbeResult.
func ParseJSON(data []byte) (*ProbeResult, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ffprobe JSON: %w", err)
	}
	return buildResult(&raw), nil
}

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
}

type ffprobeStream struct {
	Index        int            `json:"index"`
	CodecName    string         `json:"codec_name"`
	CodecType    string         `json:"codec_type"`
	Width        int            `json:"width"`
	Height       int            `json:"height"`
	Duration     string         `json:"duration"`
	AvgFrameRate string         `json:"avg_frame_rate"`
	SampleRate   string         `json:"sample_rate"`
	Channels     int            `json:"channels"`
	Disposition  map[string]int `json:"disposition"`
}

func buildResult(raw *ffprobeOutput) *ProbeResult {
	pr := &ProbeResult{
		Duration:   parseSeconds(raw.Format.Duration),
		FormatName: raw.Format.FormatName,
	}

	for i := range raw.Streams {
		s := &raw.Streams[i]
		switch s.CodecType {
		case "video":
			// Cover art is exposed as a one-frame video stream.
			if s.Disposition["attached_pic"] == 1 || pr.Video != nil {
				continue
			}
			pr.Video = &merge.VideoStream{
				Index:     s.Index,
				Duration:  parseSeconds(s.Duration),
				Width:     s.Width,
				Height:    s.Height,
				Codec:     s.CodecName,
				FrameRate: parseRate(s.AvgFrameRate),
			}
		case "audio":
			if pr.Audio != nil {
				continue
			}
			pr.Audio = &merge.AudioStream{
				Index:      s.Index,
				Duration:   parseSeconds(s.Duration),
				Codec:      s.CodecName,
				SampleRate: parseInt(s.SampleRate),
				Channels:   s.Channels,
			}
		}
	}

	if pr.Duration == 0 && pr.Video != nil {
		pr.Duration = pr.Video.Duration
	}
	return pr
}

// Asset converts the probe result into a merge asset for clip.
func (p *ProbeResult) Asset(clip merge.SourceClip) *merge.MediaAsset {
	return &merge.MediaAsset{
		Locator:  clip,
		Duration: p.Duration,
		Video:    p.Video,
		Audio:    p.Audio,
	}
}

// ffprobe reports numbers as strings.

func parseSeconds(s string) time.Duration {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return time.Duration(math.Round(f * float64(time.Second)))
}

func parseRate(s string) float64 {
	num, den, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		f, _ := strconv.ParseFloat(num, 64)
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

func parseInt(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}
