// Package iterm2 shows images inline using the iTerm2 image protocol
package iterm2

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

var ErrNotTerminal = errors.New("not a terminal")

// IsCompatible guesses from the environment. There is no reliable query.
func IsCompatible() bool {
	return os.Getenv("TERM_PROGRAM") == "iTerm.app" ||
		os.Getenv("LC_TERMINAL") == "iTerm2"
}

// ImageOptions for the inline file escape sequence
type ImageOptions struct {
	Name string
	// Width in character cells, 0 lets the terminal decide
	Width int
}

func (o ImageOptions) args(size int) string {
	args := []string{
		fmt.Sprintf("size=%d", size),
		"inline=1",
	}
	if o.Name != "" {
		args = append(args, "name="+base64.StdEncoding.EncodeToString([]byte(o.Name)))
	}
	if o.Width > 0 {
		args = append(args, fmt.Sprintf("width=%d", o.Width))
	}
	return strings.Join(args, ";")
}

// Image writes m as an inline PNG
func Image(w io.Writer, m image.Image, opts ImageOptions) error {
	b := &bytes.Buffer{}
	if err := png.Encode(b, m); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\x1b]1337;File=%s:%s\x07",
		opts.args(b.Len()),
		base64.StdEncoding.EncodeToString(b.Bytes()),
	)
	return err
}

// Columns returns the width of the terminal f is connected to
func Columns(f *os.File) (int, error) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return 0, ErrNotTerminal
	}
	w, _, err := term.GetSize(fd)
	if err != nil {
		return 0, err
	}
	return w, nil
}

// Preview shows m on its own line at most maxWidth cells wide, limited to
// the terminal width
func Preview(f *os.File, m image.Image, name string, maxWidth int) error {
	cols, err := Columns(f)
	if err != nil {
		return err
	}
	width := cols
	if maxWidth > 0 && maxWidth < width {
		width = maxWidth
	}

	if err := Image(f, m, ImageOptions{Name: name, Width: width}); err != nil {
		return err
	}
	_, err = fmt.Fprintln(f)
	return err
}
