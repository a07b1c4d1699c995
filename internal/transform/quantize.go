package transform

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidTolerance = errors.New("color tolerance must be >= 1")

type RGBColor struct {
	R, G, B uint8
}

// QuantizeColor snaps each channel to the nearest multiple of tolerance.
func QuantizeColor(r, g, b uint8, tolerance float64) RGBColor {
	return RGBColor{
		R: quantizeChannel(r, tolerance),
		G: quantizeChannel(g, tolerance),
		B: quantizeChannel(b, tolerance),
	}
}

// Quantize rewrites the R, G and B channels of every pixel in place. Alpha is
// left as is.
func Quantize(b *Buffer, tolerance float64) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if math.IsNaN(tolerance) || tolerance < 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidTolerance, tolerance)
	}

	step := b.Channels
	for i := 0; i+2 < len(b.Pix); i += step {
		c := QuantizeColor(b.Pix[i], b.Pix[i+1], b.Pix[i+2], tolerance)
		b.Pix[i] = c.R
		b.Pix[i+1] = c.G
		b.Pix[i+2] = c.B
	}
	return nil
}

// Rounding with a tolerance that does not divide 255 can land above 255, so
// the product is clamped before narrowing. Narrowing truncates.
func quantizeChannel(c uint8, tolerance float64) uint8 {
	v := math.Round(float64(c)/tolerance) * tolerance
	return truncateByte(v)
}

func truncateByte(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v)
	}
}

func roundByte(v float64) uint8 {
	return truncateByte(math.Round(v))
}
