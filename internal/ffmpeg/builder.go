package ffmpeg

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/heimdex/heimdex-merger/internal/merge"
	"github.com/heimdex/heimdex-merger/internal/timeline"
)

const (
	audioSampleRate    = 48000
	audioChannelLayout = "stereo"
)

var (
	ErrNoVideoTrack     = errors.New("composition has no video track")
	ErrNoAudioTrack     = errors.New("composition has no audio track")
	ErrEmptyComposition = errors.New("composition is empty")
)

// BuildArgs returns the ffmpeg argv (without the binary) that flattens comp
// into target according to plan. Clips are anchored top-left in the render
// frame without scaling; uncovered area is black.
func BuildArgs(comp *timeline.Composition, plan merge.RenderPlan, target merge.ExportTarget) ([]string, error) {
	videoTracks := comp.TracksOf(merge.TrackVideo)
	if len(videoTracks) == 0 {
		return nil, ErrNoVideoTrack
	}
	audioTracks := comp.TracksOf(merge.TrackAudio)
	if len(audioTracks) == 0 {
		return nil, ErrNoAudioTrack
	}
	video := videoTracks[0]
	audio := audioTracks[0]

	vsegs := video.Segments()
	asegs := audio.Segments()
	if len(vsegs) == 0 {
		return nil, ErrEmptyComposition
	}
	if err := checkInstructions(plan, video); err != nil {
		return nil, err
	}
	if plan.RenderSize.Width <= 0 || plan.RenderSize.Height <= 0 {
		return nil, fmt.Errorf("invalid render size %s", plan.RenderSize)
	}
	if plan.FrameRate <= 0 {
		return nil, fmt.Errorf("invalid frame rate %d", plan.FrameRate)
	}

	sources := comp.Sources()
	inputIndex := make(map[merge.SourceClip]int, len(sources))
	args := []string{"-hide_banner", "-nostdin", "-y"}
	for i, src := range sources {
		path, err := InputPath(src)
		if err != nil {
			return nil, err
		}
		inputIndex[src] = i
		args = append(args, "-i", path)
	}

	w, h := evenCeil(plan.RenderSize.Width), evenCeil(plan.RenderSize.Height)
	var filters []string

	for i, seg := range vsegs {
		filters = append(filters, videoFilter(seg, inputIndex, i, w, h, plan.FrameRate))
	}
	for i, seg := range asegs {
		filters = append(filters, audioFilter(seg, inputIndex, i))
	}

	filters = append(filters,
		concatFilter("v", len(vsegs), true)+",format=yuv420p[vout]",
	)
	if len(asegs) > 0 {
		filters = append(filters, concatFilter("a", len(asegs), false)+"[aout]")
	}

	args = append(args,
		"-filter_complex", strings.Join(filters, ";"),
		"-map", "[vout]",
	)
	if len(asegs) > 0 {
		args = append(args, "-map", "[aout]")
	}
	args = append(args, "-r", strconv.Itoa(plan.FrameRate))
	args = append(args, presetArgs(target.Preset)...)
	args = append(args,
		"-movflags", "+faststart",
		"-f", containerFormat(target.Container),
		"-progress", "pipe:1",
		"-nostats",
		target.Path,
	)
	return args, nil
}

// checkInstructions verifies the plan renders only the composition's video
// track and covers it contiguously.
func checkInstructions(plan merge.RenderPlan, video *timeline.Track) error {
	if len(plan.Instructions) == 0 {
		return errors.New("render plan has no instructions")
	}
	var cursor time.Duration
	for i, ins := range plan.Instructions {
		if ins.Layer != video.ID() {
			return fmt.Errorf("instruction %d renders unknown layer %d", i, ins.Layer)
		}
		if ins.TimeRange.Start != cursor {
			return fmt.Errorf("instruction %d starts at %s, expected %s", i, ins.TimeRange.Start, cursor)
		}
		cursor = ins.TimeRange.End()
	}
	if cursor != video.Duration() {
		return fmt.Errorf("instructions cover %s of %s", cursor, video.Duration())
	}
	return nil
}

func videoFilter(seg timeline.Segment, inputs map[merge.SourceClip]int, n, w, h, fps int) string {
	d := seconds(seg.Target.Duration)
	if seg.Empty {
		return fmt.Sprintf("color=c=black:s=%dx%d:r=%d:d=%s,setsar=1[v%d]", w, h, fps, d, n)
	}
	return fmt.Sprintf(
		"[%d:%d]trim=start=%s:duration=%s,setpts=PTS-STARTPTS,fps=%d,"+
			"pad=%d:%d:0:0:color=black,setsar=1,"+
			"tpad=stop_mode=clone:stop_duration=%s,trim=duration=%s[v%d]",
		inputs[seg.Source], seg.StreamIndex, seconds(seg.SourceRange.Start), d, fps,
		w, h, d, d, n,
	)
}

func audioFilter(seg timeline.Segment, inputs map[merge.SourceClip]int, n int) string {
	d := seconds(seg.Target.Duration)
	format := fmt.Sprintf("aformat=sample_fmts=fltp:sample_rates=%d:channel_layouts=%s", audioSampleRate, audioChannelLayout)
	if seg.Empty {
		return fmt.Sprintf("aevalsrc=0:channel_layout=%s:sample_rate=%d:duration=%s,%s[a%d]",
			audioChannelLayout, audioSampleRate, d, format, n)
	}
	return fmt.Sprintf(
		"[%d:%d]atrim=start=%s:duration=%s,asetpts=PTS-STARTPTS,aresample=%d,%s,"+
			"apad=whole_dur=%s,atrim=duration=%s[a%d]",
		inputs[seg.Source], seg.StreamIndex, seconds(seg.SourceRange.Start), d, audioSampleRate, format,
		d, d, n,
	)
}

func concatFilter(prefix string, n int, video bool) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "[%s%d]", prefix, i)
	}
	if video {
		fmt.Fprintf(&b, "concat=n=%d:v=1:a=0", n)
	} else {
		fmt.Fprintf(&b, "concat=n=%d:v=0:a=1", n)
	}
	return b.String()
}

func presetArgs(preset string) []string {
	switch preset {
	case merge.PresetHighestQuality:
		return []string{"-c:v", "libx264", "-preset", "slow", "-crf", "18", "-pix_fmt", "yuv420p", "-c:a", "aac", "-b:a", "320k"}
	default:
		return []string{"-c:v", "libx264", "-preset", "medium", "-crf", "23", "-pix_fmt", "yuv420p", "-c:a", "aac", "-b:a", "192k"}
	}
}

func containerFormat(container string) string {
	switch container {
	case "", merge.ContainerMOV:
		return "mov"
	case "mp4", "m4v":
		return "mp4"
	default:
		return container
	}
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 6, 64)
}

// evenCeil rounds n up to an even number; yuv420p needs even dimensions.
func evenCeil(n int) int {
	if n%2 != 0 {
		return n + 1
	}
	return n
}
