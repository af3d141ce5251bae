package goffmpeg_test

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/wader/osleaktest"

	"github.com/wader/ffgif/internal/goffmpeg"
)

func leakChecks(t *testing.T) func() {
	leakFn := leaktest.Check(t)
	osLeakFn := osleaktest.Check(t)
	return func() {
		leakFn()
		osLeakFn()
	}
}

func requireFFmpeg(t *testing.T) {
	t.Helper()
	for _, p := range []string{goffmpeg.FFmpegPath, goffmpeg.FFprobePath} {
		if _, err := exec.LookPath(p); err != nil {
			t.Skipf("%s not found: %s", p, err)
		}
	}
}

// generateTestVideo writes a testsrc video of size and rate to a temp file
func generateTestVideo(t *testing.T, width, height int, rate int, duration time.Duration) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.mkv")

	i := &goffmpeg.Input{
		Format: "lavfi",
		File:   fmt.Sprintf("testsrc=size=%dx%d:rate=%d", width, height, rate),
		Flags:  []string{"-t", fmt.Sprintf("%f", duration.Seconds())},
	}
	c := &goffmpeg.FFmpegCmd{
		Context: context.Background(),
		Flags:   []string{"-y"},
		Inputs:  []*goffmpeg.Input{i},
		Outputs: []*goffmpeg.Output{
			{
				Maps:   []*goffmpeg.Map{{Input: i, Specifier: "0", Codec: "ffv1"}},
				Format: "matroska",
				File:   path,
			},
		},
	}
	if err := c.Run(); err != nil {
		t.Fatal(err)
	}

	return path
}

func TestDurationToPosition(t *testing.T) {
	testCases := []struct {
		d        time.Duration
		expected string
	}{
		{0, "0:00:00.000"},
		{1500 * time.Millisecond, "0:00:01.500"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03.000"},
	}
	for _, tC := range testCases {
		if actual := goffmpeg.DurationToPosition(tC.d); tC.expected != actual {
			t.Errorf("expected %s, got %s", tC.expected, actual)
		}
	}
}
