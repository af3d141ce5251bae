package encode_test

import (
	"bytes"
	"context"
	"image/gif"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wader/osleaktest"

	"github.com/wader/ffgif/internal/config"
	"github.com/wader/ffgif/internal/encode"
	"github.com/wader/ffgif/internal/goffmpeg"
	"github.com/wader/ffgif/internal/media"
	"github.com/wader/ffgif/internal/webpanim"
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

// openTestClip opens a 2 second 64x48 25 fps testsrc clip
func openTestClip(t *testing.T) *media.Clip {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.mkv")
	i := &goffmpeg.Input{Format: "lavfi", File: "testsrc=size=64x48:rate=25", Flags: []string{"-t", "2"}}
	c := &goffmpeg.FFmpegCmd{
		Context: context.Background(),
		Flags:   []string{"-y"},
		Inputs:  []*goffmpeg.Input{i},
		Outputs: []*goffmpeg.Output{{Format: "matroska", Options: map[string]string{"c:v": "ffv1"}, File: path}},
	}
	require.NoError(t, c.Run())

	clip, err := media.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { clip.Close() })
	return clip
}

func TestGIFDelay(t *testing.T) {
	assert.Equal(t, 10, encode.GIFDelay(10))
	assert.Equal(t, 4, encode.GIFDelay(25))
	assert.Equal(t, 3, encode.GIFDelay(30))
	assert.Equal(t, 100, encode.GIFDelay(1))
}

func TestGIFFilterGraph(t *testing.T) {
	clip := &media.Clip{}

	testCases := []struct {
		name     string
		opts     config.GIF
		expected string
	}{
		{
			name:     "defaults",
			opts:     config.GIF{FPS: 10},
			expected: "[0:0]null,fps=fps=10,split[a][b];[a]palettegen[p];[b][p]paletteuse[out]",
		},
		{
			name: "optional",
			opts: config.GIF{FPS: 12, StatsMode: "diff", Dither: "bayer"},
			expected: "[0:0]null,fps=fps=12,split[a][b];" +
				"[a]palettegen=stats_mode=diff[p];" +
				"[b][p]paletteuse=dither=bayer[out]",
		},
	}
	for _, tC := range testCases {
		t.Run(tC.name, func(t *testing.T) {
			fg := encode.GIFFilterGraph(clip, tC.opts)
			assert.Equal(t, tC.expected, fg.String())
		})
	}
}

func TestUnsupportedVariants(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()

	cfg.Format = config.Format(99)
	err := encode.Encode(context.Background(), cfg, &media.Clip{}, filepath.Join(dir, "a.gif"), nil)
	assert.ErrorIs(t, err, config.ErrUnsupportedFormat)

	cfg.Format = config.FormatGIF
	cfg.GIF.Program = config.Program(99)
	err = encode.Encode(context.Background(), cfg, &media.Clip{}, filepath.Join(dir, "a.gif"), nil)
	assert.ErrorIs(t, err, config.ErrUnsupportedProgram)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGIF(t *testing.T) {
	requireFFmpeg(t)

	for _, program := range []config.Program{config.ProgramFFmpeg, config.ProgramNative} {
		t.Run(program.String(), func(t *testing.T) {
			defer leakChecks(t)()

			clip := openTestClip(t)
			path := filepath.Join(t.TempDir(), "out.gif")

			err := encode.GIF(context.Background(), clip, path, config.GIF{FPS: 10, Program: program}, nil)
			require.NoError(t, err)

			b, err := os.ReadFile(path)
			require.NoError(t, err)
			g, err := gif.DecodeAll(bytes.NewReader(b))
			require.NoError(t, err)

			assert.InDelta(t, 20, len(g.Image), 1)
			assert.Equal(t, 0, g.LoopCount)
			assert.Equal(t, 64, g.Config.Width)
			assert.Equal(t, 48, g.Config.Height)
			for _, d := range g.Delay {
				assert.Equal(t, 10, d)
			}
		})
	}
}

func TestWebP(t *testing.T) {
	requireFFmpeg(t)
	defer leakChecks(t)()

	clip := openTestClip(t)
	sped, err := clip.Speedx(2)
	require.NoError(t, err)
	defer sped.Close()
	resized, err := sped.Resize(0.5)
	require.NoError(t, err)
	defer resized.Close()

	path := filepath.Join(t.TempDir(), "out.webp")
	require.NoError(t, encode.WebP(context.Background(), resized, path, config.WebP{Quality: 80}, nil))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	info, err := webpanim.Inspect(f)
	require.NoError(t, err)

	assert.Equal(t, 32, info.Width)
	assert.Equal(t, 24, info.Height)
	assert.Equal(t, uint16(0), info.LoopCount)
	assert.InDelta(t, resized.FrameCount(), len(info.Frames), 1)
	for _, fi := range info.Frames {
		assert.Equal(t, 40*time.Millisecond, fi.Duration)
	}
}

func TestEncodeFailureLeavesNoFile(t *testing.T) {
	requireFFmpeg(t)
	defer leakChecks(t)()

	clip := openTestClip(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "out.gif")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := encode.GIF(ctx, clip, path, config.GIF{FPS: 10, Program: config.ProgramNative}, nil)
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
