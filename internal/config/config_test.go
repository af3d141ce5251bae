package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wader/ffgif/internal/config"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10, cfg.GIF.FPS)
	assert.Equal(t, config.ProgramFFmpeg, cfg.GIF.Program)
	assert.Equal(t, 0.5, cfg.ResizeRatio)
	assert.Equal(t, config.FormatGIF, cfg.Format)
	assert.Equal(t, 2.0, cfg.SpeedFactor)
	assert.Equal(t, "c202-2", cfg.OutputName)
	assert.Empty(t, cfg.GIF.Dither)
	assert.Empty(t, cfg.GIF.StatsMode)
}

func TestParseFormat(t *testing.T) {
	testCases := []struct {
		s        string
		expected config.Format
		err      bool
	}{
		{s: "gif", expected: config.FormatGIF},
		{s: "GIF", expected: config.FormatGIF},
		{s: " WebP ", expected: config.FormatWebP},
		{s: "mp4", err: true},
		{s: "", err: true},
	}
	for _, tC := range testCases {
		t.Run(tC.s, func(t *testing.T) {
			f, err := config.ParseFormat(tC.s)
			if tC.err {
				assert.ErrorIs(t, err, config.ErrUnsupportedFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tC.expected, f)
		})
	}
}

func TestFormatExt(t *testing.T) {
	assert.Equal(t, ".gif", config.FormatGIF.Ext())
	assert.Equal(t, ".webp", config.FormatWebP.Ext())
}

func TestParse(t *testing.T) {
	cfg, err := config.Parse([]byte(`
format: WEBP
speed_factor: 4
gif:
  program: native
  dither: bayer
webp:
  lossless: true
`))
	require.NoError(t, err)

	assert.Equal(t, config.FormatWebP, cfg.Format)
	assert.Equal(t, 4.0, cfg.SpeedFactor)
	assert.Equal(t, config.ProgramNative, cfg.GIF.Program)
	assert.Equal(t, "bayer", cfg.GIF.Dither)
	assert.True(t, cfg.WebP.Lossless)
	// untouched keys keep defaults
	assert.Equal(t, 0.5, cfg.ResizeRatio)
	assert.Equal(t, 10, cfg.GIF.FPS)
	assert.Equal(t, float32(80), cfg.WebP.Quality)
}

func TestParseErrors(t *testing.T) {
	testCases := []struct {
		name string
		yaml string
		err  error
	}{
		{name: "format", yaml: "format: avi", err: config.ErrUnsupportedFormat},
		{name: "program", yaml: "gif: {program: imagemagick}", err: config.ErrUnsupportedProgram},
		{name: "speed", yaml: "speed_factor: 0"},
		{name: "ratio", yaml: "resize_ratio: -1"},
		{name: "fps", yaml: "gif: {fps: 0}"},
		{name: "quality", yaml: "webp: {quality: 101}"},
		{name: "name", yaml: "output_name: a/b"},
		{name: "syntax", yaml: "format: [gif"},
	}
	for _, tC := range testCases {
		t.Run(tC.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tC.yaml))
			require.Error(t, err)
			if tC.err != nil {
				assert.ErrorIs(t, err, tC.err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ffgif.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output_name: clip\n"), 0644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "clip", cfg.OutputName)

	cfg, err = config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestResolveAndOutputPath(t *testing.T) {
	cfg := config.Default().Resolve("/opt/app")
	assert.Equal(t, "/opt/app/c202_0519.mp4", cfg.Input)
	assert.Equal(t, "/opt/app/fastvideo", cfg.SaveDir)
	assert.Equal(t, "/opt/app/fastvideo/c202-2.gif", cfg.OutputPath())

	cfg.Format = config.FormatWebP
	cfg.SaveDir = "/tmp/out"
	assert.Equal(t, "/tmp/out/c202-2.webp", cfg.Resolve("/ignored").OutputPath())
}
