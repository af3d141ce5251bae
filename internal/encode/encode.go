// Package encode writes a clip as an animated GIF or WebP.
package encode

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/wader/ffgif/internal/config"
	"github.com/wader/ffgif/internal/media"
)

// Encode writes clip to path in format
func Encode(ctx context.Context, cfg config.Config, clip *media.Clip, path string, logger hclog.Logger) error {
	switch cfg.Format {
	case config.FormatGIF:
		return GIF(ctx, clip, path, cfg.GIF, logger)
	case config.FormatWebP:
		return WebP(ctx, clip, path, cfg.WebP, logger)
	default:
		return fmt.Errorf("%w: %s", config.ErrUnsupportedFormat, cfg.Format)
	}
}

func tempPath(path string) string {
	return filepath.Join(
		filepath.Dir(path),
		fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), uuid.NewString()),
	)
}

// writeFile calls fn with a temp file next to path and renames it to path
// if fn succeeds. The temp file is removed on failure.
func writeFile(path string, fn func(w io.Writer) error) (err error) {
	tmp := tempPath(path)
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	if err := fn(f); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}

func nullLogger(logger hclog.Logger) hclog.Logger {
	if logger == nil {
		return hclog.NewNullLogger()
	}
	return logger
}
