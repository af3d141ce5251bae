package encode

import (
	"context"
	"image"
	"io"

	"github.com/hashicorp/go-hclog"

	"github.com/wader/ffgif/internal/config"
	"github.com/wader/ffgif/internal/media"
	"github.com/wader/ffgif/internal/webpanim"
)

// WebP writes every frame of clip as an infinitely looping animated WebP.
// Frames are held in memory until the file is written.
func WebP(ctx context.Context, clip *media.Clip, path string, opts config.WebP, logger hclog.Logger) error {
	logger = nullLogger(logger)
	duration := webpanim.FrameDuration(clip.FPS)
	total := clip.FrameCount()

	logger.Debug("writing webp", "path", path, "frames", total, "frame_duration", duration)

	return writeFile(path, func(w io.Writer) error {
		e := webpanim.NewEncoder(w, webpanim.Options{
			Lossless:  opts.Lossless,
			Quality:   opts.Quality,
			LoopCount: 0,
		})
		err := clip.IterFrames(ctx, clip.FPS, func(index int, frame *image.NRGBA) error {
			if err := e.AddFrame(frame, duration); err != nil {
				return err
			}
			logger.Trace("encoded frame", "frame", index+1, "total", total)
			return nil
		})
		if err != nil {
			return err
		}
		if e.Frames() != total {
			logger.Debug("frame count differs from estimate", "frames", e.Frames(), "estimate", total)
		}
		return e.Close()
	})
}
