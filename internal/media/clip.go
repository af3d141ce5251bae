// Package media opens video files as clips and derives sped up and resized
// clips from them. Decoding, time remapping and scaling are done by ffmpeg
// when frames are enumerated.
package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/wader/ffgif/internal/goffmpeg"
)

var (
	ErrNoVideoStream = errors.New("no video stream")
	ErrInvalidFactor = errors.New("factor must be > 0")
	ErrClosed        = errors.New("clip is closed")
)

// Clip is an opened video. Derived clips share the probe result but hold
// their own file handle and must be closed separately.
type Clip struct {
	Path     string
	Probe    goffmpeg.FFProbeResult
	Stream   goffmpeg.FFProbeStream
	Width    int
	Height   int
	FPS      float64
	Duration time.Duration

	filters goffmpeg.FilterChain
	logger  hclog.Logger

	file      *os.File
	closeOnce sync.Once
	closeErr  error
}

// Option configures Open
type Option func(c *Clip)

// WithLogger logs ffmpeg and ffprobe command lines at debug level
func WithLogger(logger hclog.Logger) Option {
	return func(c *Clip) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Open probes path and returns a clip for its first video stream
func Open(ctx context.Context, path string, opts ...Option) (*Clip, error) {
	o := &Clip{logger: hclog.NewNullLogger()}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	fp := goffmpeg.FFProbeCmd{
		Context:  ctx,
		Input:    goffmpeg.Input{File: path},
		DebugLog: logger.StandardLogger(&hclog.StandardLoggerOptions{ForceLevel: hclog.Debug}),
	}
	pr, err := fp.Result()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	s, ok := pr.FindFirstStreamCodecType("video")
	if !ok {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrNoVideoStream)
	}

	duration := pr.Duration()
	if duration <= 0 {
		duration = s.StreamDuration()
	}

	c := &Clip{
		Path:     path,
		Probe:    pr,
		Stream:   s,
		Width:    int(s.DisplayWidth()),
		Height:   int(s.DisplayHeight()),
		FPS:      s.FrameRate(),
		Duration: duration,
		logger:   logger,
		file:     f,
	}
	if c.FPS <= 0 || c.Width <= 0 || c.Height <= 0 {
		c.Close()
		return nil, fmt.Errorf("%s: unusable video stream %dx%d %f fps", path, c.Width, c.Height, c.FPS)
	}

	logger.Debug("opened clip", "path", path, "clip", c.String())

	return c, nil
}

// derive copies the clip with a new file handle and extra filters
func (c *Clip) derive(filters ...goffmpeg.Filter) (*Clip, error) {
	if c.file == nil {
		return nil, ErrClosed
	}
	f, err := os.Open(c.Path)
	if err != nil {
		return nil, err
	}

	fc := make(goffmpeg.FilterChain, 0, len(c.filters)+len(filters))
	fc = append(fc, c.filters...)
	fc = append(fc, filters...)

	return &Clip{
		Path:     c.Path,
		Probe:    c.Probe,
		Stream:   c.Stream,
		Width:    c.Width,
		Height:   c.Height,
		FPS:      c.FPS,
		Duration: c.Duration,
		filters:  fc,
		logger:   c.logger,
		file:     f,
	}, nil
}

// Speedx returns a clip played factor times faster. Duration is divided by
// factor, frames are still sampled at the clip frame rate.
func (c *Clip) Speedx(factor float64) (*Clip, error) {
	if !(factor > 0) || math.IsInf(factor, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFactor, factor)
	}
	d, err := c.derive(goffmpeg.Filter{
		Name:    "setpts",
		Options: map[string]string{"expr": "PTS/" + strconv.FormatFloat(factor, 'f', -1, 64)},
	})
	if err != nil {
		return nil, err
	}
	d.Duration = time.Duration(float64(c.Duration) / factor)
	return d, nil
}

// ResizeDimension scales a dimension by ratio, rounded, at least 1
func ResizeDimension(n int, ratio float64) int {
	v := int(math.Round(float64(n) * ratio))
	if v < 1 {
		return 1
	}
	return v
}

// Resize returns a clip with width and height scaled by ratio
func (c *Clip) Resize(ratio float64) (*Clip, error) {
	if !(ratio > 0) || math.IsInf(ratio, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFactor, ratio)
	}
	w := ResizeDimension(c.Width, ratio)
	h := ResizeDimension(c.Height, ratio)
	d, err := c.derive(goffmpeg.Filter{
		Name: "scale",
		Options: map[string]string{
			"w": strconv.Itoa(w),
			"h": strconv.Itoa(h),
		},
	})
	if err != nil {
		return nil, err
	}
	d.Width = w
	d.Height = h
	return d, nil
}

// FrameCount number of frames at the clip frame rate
func (c *Clip) FrameCount() int {
	return c.FrameCountAt(c.FPS)
}

// FrameCountAt number of frames when sampled at fps
func (c *Clip) FrameCountAt(fps float64) int {
	n := int(math.Round(c.Duration.Seconds() * fps))
	if n < 1 {
		return 1
	}
	return n
}

// Filters returns the filter chain from the decoded input stream to this clip.
// The first filter reads from the clip video stream.
func (c *Clip) Filters() goffmpeg.FilterChain {
	fc := goffmpeg.FilterChain{
		{
			Name:   "null",
			Inputs: []string{fmt.Sprintf("0:%d", c.Stream.Index)},
		},
	}
	return append(fc, c.filters...)
}

// Input returns the ffmpeg input for the clip source
func (c *Clip) Input() *goffmpeg.Input {
	return &goffmpeg.Input{File: c.Path}
}

// Logger the clip logs with
func (c *Clip) Logger() hclog.Logger { return c.logger }

func (c *Clip) String() string {
	return fmt.Sprintf("%s %dx%d %.3g fps %s",
		c.Probe.FormatName(), c.Width, c.Height, c.FPS, goffmpeg.DurationToPosition(c.Duration))
}

// Close releases the clip. Safe to call more than once.
func (c *Clip) Close() error {
	c.closeOnce.Do(func() {
		if c.file != nil {
			c.closeErr = c.file.Close()
			c.file = nil
		}
	})
	return c.closeErr
}

// IterFrames decodes the clip resampled at fps and calls fn for each frame
// in order. The frame is reused between calls. An error from fn stops
// decoding and is returned.
func (c *Clip) IterFrames(ctx context.Context, fps float64, fn func(index int, frame *image.NRGBA) error) error {
	if c.file == nil {
		return ErrClosed
	}
	if !(fps > 0) {
		return fmt.Errorf("%w: fps %v", ErrInvalidFactor, fps)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var fnErr error
	index := 0
	rw := goffmpeg.NewRawVideoWriter(c.Width, c.Height, func(frame *image.NRGBA) error {
		if err := fn(index, frame); err != nil {
			fnErr = err
			cancel()
			return err
		}
		index++
		return nil
	})

	fc := c.Filters()
	fc = append(fc,
		goffmpeg.Filter{Name: "fps", Options: map[string]string{"fps": strconv.FormatFloat(fps, 'f', -1, 64)}},
		goffmpeg.Filter{Name: "format", Options: map[string]string{"pix_fmts": goffmpeg.RawVideoPixFmt}, Outputs: []string{"out"}},
	)
	fg := goffmpeg.FilterGraph{fc}

	f := goffmpeg.FFmpegCmd{
		Context:     ctx,
		Inputs:      []*goffmpeg.Input{c.Input()},
		FilterGraph: &fg,
		Outputs: []*goffmpeg.Output{
			{
				Maps:    []*goffmpeg.Map{{Specifier: "[out]", Codec: "rawvideo"}},
				Format:  "rawvideo",
				Options: map[string]string{"pix_fmt": goffmpeg.RawVideoPixFmt},
				File:    rw,
			},
		},
		DebugLog: c.logger.StandardLogger(&hclog.StandardLoggerOptions{ForceLevel: hclog.Debug}),
	}

	err := f.Run()
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return err
	}
	if err := rw.Close(); err != nil {
		return err
	}

	c.logger.Debug("enumerated frames", "count", index, "fps", fps)

	return nil
}
