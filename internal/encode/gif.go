package encode

import (
	"context"
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"io"
	"math"
	"strconv"

	"github.com/hashicorp/go-hclog"

	"github.com/wader/ffgif/internal/config"
	"github.com/wader/ffgif/internal/goffmpeg"
	"github.com/wader/ffgif/internal/media"
)

// GIFDelay frame delay in 100ths of a second for fps
func GIFDelay(fps int) int {
	return int(math.Round(100 / float64(fps)))
}

// GIF writes clip as a looping GIF sampled at opts.FPS
func GIF(ctx context.Context, clip *media.Clip, path string, opts config.GIF, logger hclog.Logger) error {
	logger = nullLogger(logger)
	if opts.FPS <= 0 {
		return fmt.Errorf("gif fps must be > 0, got %d", opts.FPS)
	}

	logger.Debug("writing gif", "path", path, "program", opts.Program, "fps", opts.FPS)

	switch opts.Program {
	case config.ProgramFFmpeg:
		return writeFile(path, func(w io.Writer) error {
			return gifFFmpeg(ctx, clip, w, opts, logger)
		})
	case config.ProgramNative:
		return writeFile(path, func(w io.Writer) error {
			return gifNative(ctx, clip, w, opts, logger)
		})
	default:
		return fmt.Errorf("%w: %s", config.ErrUnsupportedProgram, opts.Program)
	}
}

// GIFFilterGraph samples the clip at fps, generates a palette from all
// frames and maps the frames onto it. Output is labeled out.
func GIFFilterGraph(clip *media.Clip, opts config.GIF) goffmpeg.FilterGraph {
	in := clip.Filters()
	in = append(in,
		goffmpeg.Filter{Name: "fps", Options: map[string]string{"fps": strconv.Itoa(opts.FPS)}},
		goffmpeg.Filter{Name: "split", Outputs: []string{"a", "b"}},
	)
	return goffmpeg.FilterGraph{
		in,
		{
			{
				Name:    "palettegen",
				Inputs:  []string{"a"},
				Options: map[string]string{"stats_mode": opts.StatsMode},
				Outputs: []string{"p"},
			},
		},
		{
			{
				Name:    "paletteuse",
				Inputs:  []string{"b", "p"},
				Options: map[string]string{"dither": opts.Dither},
				Outputs: []string{"out"},
			},
		},
	}
}

func gifFFmpeg(ctx context.Context, clip *media.Clip, w io.Writer, opts config.GIF, logger hclog.Logger) error {
	fg := GIFFilterGraph(clip, opts)
	total := clip.FrameCountAt(float64(opts.FPS))

	progressLevel := hclog.Debug
	if opts.Verbose {
		progressLevel = hclog.Info
	}

	f := goffmpeg.FFmpegCmd{
		Context:     ctx,
		Inputs:      []*goffmpeg.Input{clip.Input()},
		FilterGraph: &fg,
		Outputs: []*goffmpeg.Output{
			{
				Maps:    []*goffmpeg.Map{{Specifier: "[out]", Codec: "gif"}},
				Format:  "gif",
				Options: map[string]string{"loop": "0"},
				File:    w,
			},
		},
		DebugLog: logger.StandardLogger(&hclog.StandardLoggerOptions{ForceLevel: hclog.Debug}),
		ProgressFn: func(p goffmpeg.Progress) {
			logger.Log(progressLevel, "progress",
				"frame", p.Frame, "total", total, "time", p.OutTime, "speed", p.Speed, "state", p.Progress)
		},
	}
	if opts.Verbose {
		f.Stderr = logger.StandardWriter(&hclog.StandardLoggerOptions{ForceLevel: hclog.Info})
	}

	return f.Run()
}

func gifNative(ctx context.Context, clip *media.Clip, w io.Writer, opts config.GIF, logger hclog.Logger) error {
	total := clip.FrameCountAt(float64(opts.FPS))
	delay := GIFDelay(opts.FPS)
	g := &gif.GIF{LoopCount: 0}

	err := clip.IterFrames(ctx, float64(opts.FPS), func(index int, frame *image.NRGBA) error {
		b := frame.Bounds()
		pm := image.NewPaletted(b, palette.WebSafe)
		draw.FloydSteinberg.Draw(pm, b, frame, b.Min)
		g.Image = append(g.Image, pm)
		g.Delay = append(g.Delay, delay)
		if opts.Verbose {
			logger.Info("quantized frame", "frame", index+1, "total", total)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(g.Image) == 0 {
		return fmt.Errorf("%s: no frames decoded", clip.Path)
	}

	return gif.EncodeAll(w, g)
}
