package transform

import (
	"errors"
	"testing"
)

func TestStripAlphaRepacks(t *testing.T) {
	buf := mustBuffer(t, []byte{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16,
	}, 2, 2, 4)

	if !buf.HasAlpha() {
		t.Fatal("expected 4-channel buffer to report alpha")
	}
	if err := StripAlpha(buf); err != nil {
		t.Fatalf("strip alpha: %v", err)
	}
	if buf.Channels != 3 || buf.HasAlpha() {
		t.Fatalf("expected 3 channels without alpha, got %d", buf.Channels)
	}
	want := []byte{1, 2, 3, 5, 6, 7, 9, 10, 11, 13, 14, 15}
	if string(buf.Pix) != string(want) {
		t.Fatalf("expected %v, got %v", want, buf.Pix)
	}
	if err := buf.Validate(); err != nil {
		t.Fatalf("repacked buffer invalid: %v", err)
	}
}

func TestStripAlphaThreeChannelsUntouched(t *testing.T) {
	pix := []byte{1, 2, 3, 4, 5, 6}
	buf := mustBuffer(t, append([]byte(nil), pix...), 2, 1, 3)
	if err := StripAlpha(buf); err != nil {
		t.Fatalf("strip alpha: %v", err)
	}
	if buf.Channels != 3 || string(buf.Pix) != string(pix) {
		t.Fatalf("expected untouched buffer, got channels=%d pix=%v", buf.Channels, buf.Pix)
	}
}

func TestNewBufferValidates(t *testing.T) {
	if _, err := NewBuffer(make([]byte, 7), 2, 1, 4); !errors.Is(err, ErrInvalidBuffer) {
		t.Fatalf("expected length error, got %v", err)
	}
	if _, err := NewBuffer(make([]byte, 4), 2, 1, 2); !errors.Is(err, ErrInvalidBuffer) {
		t.Fatalf("expected channel error, got %v", err)
	}
	if _, err := NewBuffer(nil, 0, 0, 4); !errors.Is(err, ErrInvalidBuffer) {
		t.Fatalf("expected dimension error, got %v", err)
	}
}
