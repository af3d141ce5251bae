// Package convert runs one video to animated image conversion
package convert

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"

	"github.com/hashicorp/go-hclog"

	"github.com/wader/ffgif/internal/config"
	"github.com/wader/ffgif/internal/encode"
	"github.com/wader/ffgif/internal/goffmpeg"
	"github.com/wader/ffgif/internal/media"
)

type options struct {
	previewFn func(m image.Image) error
}

// Option configures Run
type Option func(o *options)

// WithPreview calls fn with the first frame of the converted clip after
// the output has been written. A preview error is logged, not returned.
func WithPreview(fn func(m image.Image) error) Option {
	return func(o *options) { o.previewFn = fn }
}

var errFirstFrame = errors.New("first frame")

// Run converts cfg.Input and returns the output path. Summary and completion
// lines are written to stdout.
func Run(ctx context.Context, cfg config.Config, logger hclog.Logger, stdout io.Writer, opts ...Option) (string, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if stdout == nil {
		stdout = io.Discard
	}

	if err := cfg.Validate(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(cfg.SaveDir, 0755); err != nil {
		return "", err
	}
	outputPath := cfg.OutputPath()

	fmt.Fprintf(stdout, "source: %s\n", cfg.Input)
	fmt.Fprintf(stdout, "output: %s\n", outputPath)
	fmt.Fprintf(stdout, "speed factor: %g\n", cfg.SpeedFactor)
	fmt.Fprintf(stdout, "resize ratio: %.0f%%\n", math.Round(cfg.ResizeRatio*100))

	if logger.IsDebug() {
		if v, err := goffmpeg.Version(ctx); err == nil {
			logger.Debug("ffmpeg", "version", v.Release)
		} else {
			logger.Debug("ffmpeg version", "error", err)
		}
	}

	clip, err := media.Open(ctx, cfg.Input, media.WithLogger(logger))
	if err != nil {
		return "", err
	}
	defer clip.Close()
	logger.Info("opened", "clip", clip.String())

	sped, err := clip.Speedx(cfg.SpeedFactor)
	if err != nil {
		return "", err
	}
	defer sped.Close()

	resized, err := sped.Resize(cfg.ResizeRatio)
	if err != nil {
		return "", err
	}
	defer resized.Close()
	logger.Info("converting", "clip", resized.String(), "format", cfg.Format)

	if err := encode.Encode(ctx, cfg, resized, outputPath, logger); err != nil {
		return "", err
	}

	if o.previewFn != nil {
		if err := preview(ctx, resized, o.previewFn); err != nil {
			logger.Warn("preview failed", "error", err)
		}
	}

	fmt.Fprintln(stdout, "conversion done")

	return outputPath, nil
}

func preview(ctx context.Context, clip *media.Clip, fn func(m image.Image) error) error {
	var first *image.NRGBA
	err := clip.IterFrames(ctx, clip.FPS, func(index int, frame *image.NRGBA) error {
		first = image.NewNRGBA(frame.Bounds())
		copy(first.Pix, frame.Pix)
		return errFirstFrame
	})
	if err != nil && !errors.Is(err, errFirstFrame) {
		return err
	}
	if first == nil {
		return errors.New("no frames")
	}
	return fn(first)
}
