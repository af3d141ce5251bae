package convert_test

import (
	"bytes"
	"context"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wader/osleaktest"

	"github.com/wader/ffgif/internal/config"
	"github.com/wader/ffgif/internal/convert"
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

// testConfig converts a 4 second 64x48 10 fps clip into a temp save dir
func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "input.mkv")

	i := &goffmpeg.Input{Format: "lavfi", File: "testsrc=size=64x48:rate=10", Flags: []string{"-t", "4"}}
	c := &goffmpeg.FFmpegCmd{
		Context: context.Background(),
		Flags:   []string{"-y"},
		Inputs:  []*goffmpeg.Input{i},
		Outputs: []*goffmpeg.Output{{Format: "matroska", Options: map[string]string{"c:v": "ffv1"}, File: input}},
	}
	require.NoError(t, c.Run())

	cfg := config.Default()
	cfg.Input = input
	cfg.SaveDir = filepath.Join(dir, "fastvideo")
	cfg.OutputName = "out"
	return cfg
}

func TestInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.SaveDir = filepath.Join(dir, "fastvideo")
	cfg.SpeedFactor = 0

	_, err := convert.Run(context.Background(), cfg, nil, nil)
	require.Error(t, err)

	_, err = os.Stat(cfg.SaveDir)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMissingInput(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Input = filepath.Join(dir, "missing.mp4")
	cfg.SaveDir = filepath.Join(dir, "fastvideo")

	stdout := &bytes.Buffer{}
	_, err := convert.Run(context.Background(), cfg, nil, stdout)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.NotContains(t, stdout.String(), "conversion done")

	entries, err := os.ReadDir(cfg.SaveDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun(t *testing.T) {
	requireFFmpeg(t)

	for _, format := range []config.Format{config.FormatGIF, config.FormatWebP} {
		t.Run(format.String(), func(t *testing.T) {
			defer leakChecks(t)()

			cfg := testConfig(t)
			cfg.Format = format

			var previewed image.Image
			stdout := &bytes.Buffer{}
			path, err := convert.Run(context.Background(), cfg, nil, stdout,
				convert.WithPreview(func(m image.Image) error {
					previewed = m
					return nil
				}),
			)
			require.NoError(t, err)

			assert.Equal(t, filepath.Join(cfg.SaveDir, "out"+format.Ext()), path)
			fi, err := os.Stat(path)
			require.NoError(t, err)
			assert.NotZero(t, fi.Size())

			assert.Equal(t, ""+
				"source: "+cfg.Input+"\n"+
				"output: "+path+"\n"+
				"speed factor: 2\n"+
				"resize ratio: 50%\n"+
				"conversion done\n",
				stdout.String(),
			)

			require.NotNil(t, previewed)
			assert.Equal(t, image.Rect(0, 0, 32, 24), previewed.Bounds())
		})
	}
}
