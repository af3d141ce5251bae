package goffmpeg

import (
	"image"
	"io"

	"github.com/wader/ffgif/internal/goffmpeg/internal/iobuf"
)

// RawVideoPixFmt is the pixel format RawVideoWriter expects ffmpeg to output
const RawVideoPixFmt = "rgba"

// RawVideoWriter splits a "-f rawvideo -pix_fmt rgba" stream into frames.
// The frame passed to fn is reused, copy it to keep it.
type RawVideoWriter struct {
	frame   *image.NRGBA
	records *iobuf.Records
}

// NewRawVideoWriter creates a writer for width x height rgba frames
func NewRawVideoWriter(width, height int, fn func(frame *image.NRGBA) error) *RawVideoWriter {
	frame := image.NewNRGBA(image.Rect(0, 0, width, height))
	return &RawVideoWriter{
		frame: frame,
		records: iobuf.NewRecords(len(frame.Pix), func(record []byte) error {
			copy(frame.Pix, record)
			return fn(frame)
		}),
	}
}

func (rw *RawVideoWriter) Write(p []byte) (int, error) { return rw.records.Write(p) }

// Close fails if the stream ended with a partial frame
func (rw *RawVideoWriter) Close() error { return rw.records.Close() }

var _ io.WriteCloser = (*RawVideoWriter)(nil)
