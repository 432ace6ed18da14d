package ffmpeg

import (
	"context"
	"errors"
	"testing"
	"time"
)

const encodersOutput = `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC
 A....D aac                  AAC (Advanced Audio Coding)
`

type fakeTools struct {
	calls   int
	fail    bool
	noX264  bool
	version string
}

func (f *fakeTools) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("executable file not found")
	}
	if len(args) > 0 && args[len(args)-1] == "-encoders" {
		if f.noX264 {
			return []byte("Encoders:\n ------\n A....D aac  AAC\n"), nil
		}
		return []byte(encodersOutput), nil
	}
	return []byte(name + " version " + f.version + " Copyright (c) 2000-2024\nbuilt with gcc"), nil
}

func newTestDoctor(tools *fakeTools) *Doctor {
	d := NewDoctor(Config{FFmpegPath: "ffmpeg", FFprobePath: "ffprobe"}, nil)
	d.run = tools.run
	return d
}

func TestDoctor_Capabilities(t *testing.T) {
	tools := &fakeTools{version: "6.1.1"}
	caps, err := newTestDoctor(tools).Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !caps.CanMerge {
		t.Error("expected CanMerge=true")
	}
	if caps.FFmpeg.Version != "6.1.1" || caps.FFprobe.Version != "6.1.1" {
		t.Errorf("versions = %q, %q", caps.FFmpeg.Version, caps.FFprobe.Version)
	}
	if !caps.Encoders["libx264"] || !caps.Encoders["aac"] {
		t.Errorf("Encoders = %v", caps.Encoders)
	}
}

func TestDoctor_MissingEncoder(t *testing.T) {
	caps, err := newTestDoctor(&fakeTools{version: "6.0", noX264: true}).Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if caps.CanMerge {
		t.Error("CanMerge should be false without libx264")
	}
}

func TestDoctor_TTL(t *testing.T) {
	tools := &fakeTools{version: "6.0"}
	d := newTestDoctor(tools)
	d.ttl = 100 * time.Millisecond
	ctx := context.Background()

	caps1, _ := d.Get(ctx)
	calls := tools.calls

	caps2, _ := d.Get(ctx)
	if caps2.ProbedAt != caps1.ProbedAt || tools.calls != calls {
		t.Error("expected cached result on second call")
	}

	time.Sleep(150 * time.Millisecond)
	if _, err := d.Get(ctx); err != nil {
		t.Fatalf("Get after TTL: %v", err)
	}
	if tools.calls == calls {
		t.Error("expected re-probe after TTL expiry")
	}
}

func TestDoctor_StaleOnFailure(t *testing.T) {
	tools := &fakeTools{version: "6.0"}
	d := newTestDoctor(tools)
	ctx := context.Background()

	first, err := d.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	tools.fail = true
	got, err := d.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh with stale cache: %v", err)
	}
	if got != first {
		t.Error("expected stale capabilities")
	}

	d.Invalidate()
	if _, err := d.Refresh(ctx); err == nil {
		t.Error("expected error with no cache")
	}
	if d.Peek() != nil {
		t.Error("Peek should be nil after failed probe with no cache")
	}
}

func TestParseVersion(t *testing.T) {
	tests := map[string]string{
		"ffmpeg version n7.0 Copyright": "n7.0",
		"ffprobe version 4.4.2-0ubuntu": "4.4.2-0ubuntu",
		"garbage":                       "",
	}
	for in, want := range tests {
		if got := parseVersion([]byte(in)); got != want {
			t.Errorf("parseVersion(%q) = %q, want %q", in, got, want)
		}
	}
}
