// Package iobuf has writers that split a byte stream into lines or fixed size records
package iobuf

import (
	"bytes"
	"fmt"
	"strings"
)

// Fn calls function for each line written
type Fn struct {
	buf bytes.Buffer
	fn  func(line string)
}

// NewFn create new buffer that calls function foreach line written
func NewFn(fn func(line string)) *Fn {
	return &Fn{fn: fn}
}

func (fn *Fn) Write(p []byte) (n int, err error) {
	fn.buf.Write(p)
	b := fn.buf.Bytes()
	pos := 0

	for {
		i := bytes.IndexAny(b[pos:], "\n\r")
		if i < 0 {
			break
		}

		fn.fn(string(b[pos : pos+i+1]))
		pos += i + 1
	}
	fn.buf.Reset()
	fn.buf.Write(b[pos:])

	return len(p), nil
}

// Close flushes any data left in the buffer as a line
func (fn *Fn) Close() error {
	if fn.buf.Len() > 0 {
		fn.fn(fn.buf.String())
	}
	fn.buf.Reset()
	return nil
}

// LastLines buffers the last n lines
type LastLines struct {
	Fn
	current int
	lines   []string
}

// NewLastLines creates a new limited line buffer that buffers the last n lines
func NewLastLines(limit int) *LastLines {
	ll := &LastLines{
		current: 0,
		lines:   make([]string, limit),
	}
	ll.fn = ll.addLine
	return ll
}

func (lb *LastLines) addLine(line string) {
	lb.lines[lb.current] = line
	lb.current = (lb.current + 1) % len(lb.lines)
}

// String returns last n lines as a string
func (lb *LastLines) String() string {
	var ls []string
	for i := 0; i < len(lb.lines); i++ {
		ls = append(ls, lb.lines[(lb.current+i)%len(lb.lines)])
	}
	return strings.Join(ls, "")
}

// Records calls a function for each complete record of size bytes.
// The record slice is reused between calls.
type Records struct {
	record []byte
	n      int
	fn     func(record []byte) error
	err    error
}

// NewRecords creates a writer that calls fn for each size bytes written
func NewRecords(size int, fn func(record []byte) error) *Records {
	return &Records{record: make([]byte, size), fn: fn}
}

func (r *Records) Write(p []byte) (n int, err error) {
	if r.err != nil {
		return 0, r.err
	}
	for n < len(p) {
		c := copy(r.record[r.n:], p[n:])
		r.n += c
		n += c
		if r.n == len(r.record) {
			r.n = 0
			if err := r.fn(r.record); err != nil {
				r.err = err
				return n, err
			}
		}
	}
	return n, nil
}

// Close returns an error if a partial record is left
func (r *Records) Close() error {
	if r.err != nil {
		return r.err
	}
	if r.n != 0 {
		return fmt.Errorf("%d trailing bytes of %d byte record", r.n, len(r.record))
	}
	return nil
}
