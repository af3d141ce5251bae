package goffmpeg

import (
	"context"
	"fmt"
	"time"

	"github.com/wader/ffgif/internal/goffmpeg/features"
)

// Printer is something that printfs (used for debug logging)
type Printer interface {
	Printf(format string, v ...interface{})
}

// DurationToPosition time.Duration to ffmpeg position format
// Sub second precision is kept with millisecond resolution.
func DurationToPosition(d time.Duration) string {
	ms := uint64(d.Milliseconds())
	n := ms / 1000
	ms %= 1000
	s := n % 60
	n /= 60
	m := n % 60
	n /= 60
	h := n

	return fmt.Sprintf("%d:%.2d:%.2d.%.3d", h, m, s, ms)
}

// Version return ffmpeg version
func Version(ctx context.Context) (features.VersionParts, error) {
	return features.ProgramVersion(ctx, FFmpegPath)
}

// Encoders return names of encoders supported by ffmpeg
func Encoders(ctx context.Context) ([]string, error) {
	return features.EncoderNames(ctx, FFmpegPath)
}

// Filters return names of filters supported by ffmpeg
func Filters(ctx context.Context) ([]string, error) {
	return features.FilterNames(ctx, FFmpegPath)
}
