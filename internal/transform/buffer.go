// Package transform holds the in-place pixel passes applied between decode
// and encode: color quantization, chroma subsampling and alpha stripping.
package transform

import (
	"errors"
	"fmt"
)

var ErrInvalidBuffer = errors.New("invalid pixel buffer")

// Buffer is an interleaved R,G,B[,A] pixel buffer owned by a single
// invocation.
type Buffer struct {
	Pix      []byte
	Width    int
	Height   int
	Channels int
}

func NewBuffer(pix []byte, width, height, channels int) (*Buffer, error) {
	b := &Buffer{Pix: pix, Width: width, Height: height, Channels: channels}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Buffer) Validate() error {
	if b == nil {
		return fmt.Errorf("%w: nil buffer", ErrInvalidBuffer)
	}
	if b.Channels != 3 && b.Channels != 4 {
		return fmt.Errorf("%w: channels=%d, want 3 or 4", ErrInvalidBuffer, b.Channels)
	}
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d", ErrInvalidBuffer, b.Width, b.Height)
	}
	if want := b.Width * b.Height * b.Channels; len(b.Pix) != want {
		return fmt.Errorf("%w: length=%d, want %d for %dx%dx%d", ErrInvalidBuffer, len(b.Pix), want, b.Width, b.Height, b.Channels)
	}
	return nil
}

func (b *Buffer) PixelCount() int {
	return len(b.Pix) / b.Channels
}

func (b *Buffer) HasAlpha() bool {
	return b.Channels == 4
}

// Clone returns a deep copy so callers can compare before/after a pass.
func (b *Buffer) Clone() *Buffer {
	pix := make([]byte, len(b.Pix))
	copy(pix, b.Pix)
	return &Buffer{Pix: pix, Width: b.Width, Height: b.Height, Channels: b.Channels}
}
