package goffmpeg_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/wader/ffgif/internal/goffmpeg"
)

func TestProbe(t *testing.T) {
	requireFFmpeg(t)
	defer leakChecks(t)()

	path := generateTestVideo(t, 64, 48, 25, 2*time.Second)
	p := goffmpeg.FFProbeCmd{Context: context.Background(), Input: goffmpeg.Input{File: path}}
	pr, err := p.Result()
	if err != nil {
		t.Fatal(err)
	}

	s, ok := pr.FindFirstStreamCodecType("video")
	if !ok {
		t.Fatalf("no video stream in %s", pr)
	}
	if s.Width != 64 || s.Height != 48 {
		t.Errorf("expected 64x48, got %dx%d", s.Width, s.Height)
	}
	if r := s.FrameRate(); math.Abs(r-25) > 0.01 {
		t.Errorf("expected 25 fps, got %f", r)
	}
	if d := pr.Duration(); d < 1900*time.Millisecond || d > 2100*time.Millisecond {
		t.Errorf("expected ~2s, got %s", d)
	}
	if pr.FormatName() != "matroska" {
		t.Errorf("expected matroska, got %s", pr.FormatName())
	}
}

func TestProbeMissingFile(t *testing.T) {
	requireFFmpeg(t)
	defer leakChecks(t)()

	p := goffmpeg.FFProbeCmd{Context: context.Background(), Input: goffmpeg.Input{File: "/nonexisting.mp4"}}
	if err := p.Run(); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseRational(t *testing.T) {
	testCases := []struct {
		s        string
		expected float64
	}{
		{"25/1", 25},
		{"30000/1001", 30000.0 / 1001.0},
		{"0/0", 0},
		{"24", 24},
		{"", 0},
	}
	for _, tC := range testCases {
		if actual := goffmpeg.ParseRational(tC.s); actual != tC.expected {
			t.Errorf("%q: expected %f, got %f", tC.s, tC.expected, actual)
		}
	}
}

func TestDisplaySize(t *testing.T) {
	s := goffmpeg.FFProbeStream{
		Width:        1920,
		Height:       1080,
		SideDataList: []goffmpeg.SideData{{SideDataType: goffmpeg.SideDataDisplayMatrix, Rotation: -90}},
	}
	if s.DisplayWidth() != 1080 || s.DisplayHeight() != 1920 {
		t.Errorf("expected 1080x1920, got %dx%d", s.DisplayWidth(), s.DisplayHeight())
	}
}
