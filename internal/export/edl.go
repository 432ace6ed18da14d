// Package export writes CMX3600 edit decision lists describing a finished
// merge, so the output can be conformed in an editor.
package export

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/heimdex/heimdex-merger/internal/merge"
)

// Event is one EDL line: a source range placed on the record timeline.
type Event struct {
	ClipName  string
	MediaPath string
	Source    merge.TimeRange
	Record    merge.TimeRange
}

// EventsFromPlan pairs each render instruction with the clip it was built
// from. Instructions are produced one per clip, in clip order.
func EventsFromPlan(clips []merge.SourceClip, plan merge.RenderPlan) ([]Event, error) {
	if len(clips) != len(plan.Instructions) {
		return nil, fmt.Errorf("plan has %d instructions for %d clips", len(plan.Instructions), len(clips))
	}

	events := make([]Event, len(clips))
	for i, ins := range plan.Instructions {
		path := strings.TrimPrefix(string(clips[i]), "file://")
		events[i] = Event{
			ClipName:  strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			MediaPath: path,
			Source:    merge.TimeRange{Start: 0, Duration: ins.TimeRange.Duration},
			Record:    ins.TimeRange,
		}
	}
	return events, nil
}

func GenerateEDL(events []Event, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = merge.DefaultFrameRate
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	for i, ev := range events {
		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", i+1, "AX", "V",
				timecode(ev.Source.Start, fps), timecode(ev.Source.End(), fps),
				timecode(ev.Record.Start, fps), timecode(ev.Record.End(), fps)),
			fmt.Sprintf("* FROM CLIP NAME:  %s", ev.ClipName),
			fmt.Sprintf("* MEDIA PATH:  %s", ev.MediaPath),
		)
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

// WriteSidecar writes "<output>.edl" next to outputPath and returns its path.
func WriteSidecar(outputPath, title string, clips []merge.SourceClip, plan merge.RenderPlan) (string, error) {
	events, err := EventsFromPlan(clips, plan)
	if err != nil {
		return "", err
	}

	if title = SanitizeName(title, 70); title == "" {
		title = strings.TrimSuffix(filepath.Base(outputPath), filepath.Ext(outputPath))
	}

	path := strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ".edl"
	content := GenerateEDL(events, title, float64(plan.FrameRate))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write edl: %w", err)
	}
	return path, nil
}

func timecode(d time.Duration, fps int) string {
	totalFrames := int(math.Round(d.Seconds() * float64(fps)))
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}
