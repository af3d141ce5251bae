// Package webpanim writes animated WebP files.
//
// Each frame is encoded as a still image with libwebp and its bitstream
// chunks are moved into ANMF chunks of an extended format container.
package webpanim

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"time"

	"github.com/chai2010/webp"
	"golang.org/x/image/riff"
)

var (
	ErrNoFrames      = errors.New("no frames")
	ErrNotWebP       = errors.New("not a webp file")
	ErrNoBitstream   = errors.New("no VP8/VP8L chunk")
	ErrFrameTooLarge = errors.New("frame too large")
)

var (
	fccRIFF = riff.FourCC{'R', 'I', 'F', 'F'}
	fccWEBP = riff.FourCC{'W', 'E', 'B', 'P'}
	fccVP8  = riff.FourCC{'V', 'P', '8', ' '}
	fccVP8L = riff.FourCC{'V', 'P', '8', 'L'}
	fccVP8X = riff.FourCC{'V', 'P', '8', 'X'}
	fccALPH = riff.FourCC{'A', 'L', 'P', 'H'}
	fccANIM = riff.FourCC{'A', 'N', 'I', 'M'}
	fccANMF = riff.FourCC{'A', 'N', 'M', 'F'}
)

const (
	vp8xFlagAnimation = 0x02
	vp8xFlagAlpha     = 0x10

	anmfFlagNoBlend = 0x02

	maxUint24 = 1<<24 - 1
)

// Options for frame encoding and the animation
type Options struct {
	Lossless bool
	// Quality 0-100, ignored when lossless
	Quality float32
	// LoopCount 0 loops forever
	LoopCount uint16
	// Background canvas color, a hint for viewers
	Background color.NRGBA
}

type frame struct {
	width    int
	height   int
	duration int
	alpha    bool
	chunks   []byte
}

// Encoder collects frames and writes the animation on Close
type Encoder struct {
	w      io.Writer
	opts   Options
	frames []frame
	width  int
	height int
	closed bool
}

func NewEncoder(w io.Writer, opts Options) *Encoder {
	return &Encoder{w: w, opts: opts}
}

// FrameDuration per frame display duration in milliseconds for fps,
// the rate is rounded to a whole number first.
func FrameDuration(fps float64) time.Duration {
	r := math.Round(fps)
	if r < 1 {
		r = 1
	}
	return time.Duration(math.Round(1000/r)) * time.Millisecond
}

// AddFrame encodes img. img can be reused after the call returns.
func (e *Encoder) AddFrame(img image.Image, duration time.Duration) error {
	b := img.Bounds()
	if b.Dx() > maxUint24+1 || b.Dy() > maxUint24+1 {
		return fmt.Errorf("%w: %dx%d", ErrFrameTooLarge, b.Dx(), b.Dy())
	}

	buf := &bytes.Buffer{}
	if err := webp.Encode(buf, img, &webp.Options{Lossless: e.opts.Lossless, Quality: e.opts.Quality}); err != nil {
		return fmt.Errorf("frame %d: %w", len(e.frames), err)
	}
	chunks, alpha, err := bitstreamChunks(buf)
	if err != nil {
		return fmt.Errorf("frame %d: %w", len(e.frames), err)
	}

	ms := duration.Milliseconds()
	if ms < 0 {
		ms = 0
	} else if ms > maxUint24 {
		ms = maxUint24
	}

	e.frames = append(e.frames, frame{
		width:    b.Dx(),
		height:   b.Dy(),
		duration: int(ms),
		alpha:    alpha,
		chunks:   chunks,
	})
	if b.Dx() > e.width {
		e.width = b.Dx()
	}
	if b.Dy() > e.height {
		e.height = b.Dy()
	}

	return nil
}

// Frames number of frames added so far
func (e *Encoder) Frames() int { return len(e.frames) }

// bitstreamChunks returns the raw ALPH and VP8/VP8L chunks of a still webp
func bitstreamChunks(r io.Reader) ([]byte, bool, error) {
	formType, rr, err := riff.NewReader(r)
	if err != nil {
		return nil, false, err
	}
	if formType != fccWEBP {
		return nil, false, ErrNotWebP
	}

	out := &bytes.Buffer{}
	alpha := false
	found := false
	for {
		id, _, data, err := rr.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, false, err
		}

		switch id {
		case fccALPH, fccVP8, fccVP8L:
			b, err := io.ReadAll(data)
			if err != nil {
				return nil, false, err
			}
			switch id {
			case fccALPH:
				alpha = true
			case fccVP8L:
				alpha = alpha || vp8lHasAlpha(b)
				found = true
			case fccVP8:
				found = true
			}
			writeChunk(out, id, b)
		}
	}
	if !found {
		return nil, false, ErrNoBitstream
	}

	return out.Bytes(), alpha, nil
}

// vp8lHasAlpha reads alpha_is_used from the lossless header
func vp8lHasAlpha(b []byte) bool {
	if len(b) < 5 {
		return false
	}
	return (binary.LittleEndian.Uint32(b[1:5])>>28)&1 == 1
}

func putUint24(b []byte, v int) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

func writeChunk(w *bytes.Buffer, id riff.FourCC, data []byte) {
	var hdr [8]byte
	copy(hdr[0:4], id[:])
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(data)))
	w.Write(hdr[:])
	w.Write(data)
	if len(data)%2 == 1 {
		w.WriteByte(0)
	}
}

// Close writes the animation. Fails with ErrNoFrames if no frame was added.
func (e *Encoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	if len(e.frames) == 0 {
		return ErrNoFrames
	}

	body := &bytes.Buffer{}
	body.Write(fccWEBP[:])

	vp8x := make([]byte, 10)
	vp8x[0] = vp8xFlagAnimation
	for _, f := range e.frames {
		if f.alpha {
			vp8x[0] |= vp8xFlagAlpha
			break
		}
	}
	putUint24(vp8x[4:7], e.width-1)
	putUint24(vp8x[7:10], e.height-1)
	writeChunk(body, fccVP8X, vp8x)

	anim := make([]byte, 6)
	bg := e.opts.Background
	// stored as blue, green, red, alpha
	anim[0], anim[1], anim[2], anim[3] = bg.B, bg.G, bg.R, bg.A
	binary.LittleEndian.PutUint16(anim[4:6], e.opts.LoopCount)
	writeChunk(body, fccANIM, anim)

	for _, f := range e.frames {
		anmf := make([]byte, 16, 16+len(f.chunks))
		putUint24(anmf[0:3], 0)
		putUint24(anmf[3:6], 0)
		putUint24(anmf[6:9], f.width-1)
		putUint24(anmf[9:12], f.height-1)
		putUint24(anmf[12:15], f.duration)
		anmf[15] = anmfFlagNoBlend
		anmf = append(anmf, f.chunks...)
		writeChunk(body, fccANMF, anmf)
	}

	var hdr [8]byte
	copy(hdr[0:4], fccRIFF[:])
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(body.Len()))
	if _, err := e.w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := body.WriteTo(e.w)
	return err
}

// Info describes an animated WebP
type Info struct {
	Width     int
	Height    int
	Alpha     bool
	LoopCount uint16
	Frames    []FrameInfo
}

type FrameInfo struct {
	X, Y          int
	Width, Height int
	Duration      time.Duration
}

func uint24(b []byte) int {
	return int(b[0]) | int(b[1])<<8 | int(b[2])<<16
}

// Inspect reads the container structure of an animated WebP
func Inspect(r io.Reader) (Info, error) {
	formType, rr, err := riff.NewReader(r)
	if err != nil {
		return Info{}, err
	}
	if formType != fccWEBP {
		return Info{}, ErrNotWebP
	}

	var info Info
	seenVP8X := false
	for {
		id, _, data, err := rr.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return Info{}, err
		}
		b, err := io.ReadAll(data)
		if err != nil {
			return Info{}, err
		}

		switch id {
		case fccVP8X:
			if len(b) < 10 {
				return Info{}, fmt.Errorf("short VP8X chunk")
			}
			if b[0]&vp8xFlagAnimation == 0 {
				return Info{}, fmt.Errorf("%w: not animated", ErrNotWebP)
			}
			seenVP8X = true
			info.Alpha = b[0]&vp8xFlagAlpha != 0
			info.Width = uint24(b[4:7]) + 1
			info.Height = uint24(b[7:10]) + 1
		case fccANIM:
			if len(b) < 6 {
				return Info{}, fmt.Errorf("short ANIM chunk")
			}
			info.LoopCount = binary.LittleEndian.Uint16(b[4:6])
		case fccANMF:
			if len(b) < 16 {
				return Info{}, fmt.Errorf("short ANMF chunk")
			}
			info.Frames = append(info.Frames, FrameInfo{
				X:        uint24(b[0:3]) * 2,
				Y:        uint24(b[3:6]) * 2,
				Width:    uint24(b[6:9]) + 1,
				Height:   uint24(b[9:12]) + 1,
				Duration: time.Duration(uint24(b[12:15])) * time.Millisecond,
			})
		}
	}
	if !seenVP8X {
		return Info{}, fmt.Errorf("%w: missing VP8X chunk", ErrNotWebP)
	}

	return info, nil
}
