package codec

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"

	"github.com/dunamismax/nanoimg/internal/transform"
	"github.com/ericpauley/go-quantize/quantize"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Std is the pure Go codec. The encoder always filters rows adaptively, so
// AdaptiveFiltering has no effect. Quality picks the palette size. Any
// DitherLevel above zero applies full-strength Floyd-Steinberg; the level
// itself is not scaled.
type Std struct{}

func (Std) Decode(ctx context.Context, data []byte) (*transform.Buffer, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}

	bounds := src.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrUnsupportedImage)
	}

	nrgba, ok := src.(*image.NRGBA)
	if !ok || nrgba.Rect.Min != (image.Point{}) || nrgba.Stride != 4*bounds.Dx() {
		nrgba = image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(nrgba, nrgba.Bounds(), src, bounds.Min, draw.Src)
	}

	buf, err := transform.NewBuffer(nrgba.Pix, bounds.Dx(), bounds.Dy(), 4)
	if err != nil {
		return nil, err
	}
	if !hasAlpha(src) {
		if err := transform.StripAlpha(buf); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func (Std) Encode(ctx context.Context, buf *transform.Buffer, opts EncodeOptions) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if err := buf.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var img image.Image = toNRGBA(buf)
	if opts.Paletted() {
		img = toPaletted(img.(*image.NRGBA), opts)
	} else if buf.HasAlpha() {
		img = rgbaImage{img.(*image.NRGBA)}
	}

	var out bytes.Buffer
	encoder := png.Encoder{CompressionLevel: compressionLevel(opts.CompressionLevel)}
	if err := encoder.Encode(&out, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return out.Bytes(), nil
}

// rgbaImage reports itself as translucent so the PNG writer keeps the alpha
// channel even when every pixel happens to be opaque.
type rgbaImage struct {
	*image.NRGBA
}

func (rgbaImage) Opaque() bool {
	return false
}

func toNRGBA(buf *transform.Buffer) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, buf.Width, buf.Height))
	if buf.HasAlpha() {
		copy(img.Pix, buf.Pix)
		return img
	}

	for src, dst := 0, 0; src < len(buf.Pix); src, dst = src+3, dst+4 {
		img.Pix[dst] = buf.Pix[src]
		img.Pix[dst+1] = buf.Pix[src+1]
		img.Pix[dst+2] = buf.Pix[src+2]
		img.Pix[dst+3] = 0xff
	}
	return img
}

func toPaletted(src *image.NRGBA, opts EncodeOptions) *image.Paletted {
	dst := image.NewPaletted(src.Bounds(), paletteFor(src, opts))
	var drawer draw.Drawer = draw.Src
	if opts.DitherLevel > 0 {
		drawer = draw.FloydSteinberg
	}
	drawer.Draw(dst, dst.Bounds(), src, image.Point{})
	return dst
}

// maxErrorSamples bounds the pixels scored per candidate palette.
const maxErrorSamples = 4096

// paletteFor builds a median-cut palette of at most opts.MaxColors entries.
// With a quality target it returns the smallest power-of-two palette whose
// RMS error over a pixel sample is within qualityErrorTarget.
func paletteFor(src *image.NRGBA, opts EncodeOptions) color.Palette {
	limit := opts.MaxColors()
	q := quantize.MedianCutQuantizer{}
	if opts.Quality <= 0 || opts.Quality >= 100 {
		return q.Quantize(make(color.Palette, 0, limit), src)
	}

	target := qualityErrorTarget(opts.Quality)
	samples := samplePixels(src, maxErrorSamples)
	for size := 2; size < limit; size *= 2 {
		p := q.Quantize(make(color.Palette, 0, size), src)
		if rmsError(p, samples) <= target {
			return p
		}
	}
	return q.Quantize(make(color.Palette, 0, limit), src)
}

// qualityErrorTarget maps quality 1..99 onto an allowed per-channel RMS
// error in 8-bit units: 99 allows about 0.5, 1 about 47.5.
func qualityErrorTarget(quality int) float64 {
	return float64(100-quality) * 0.48
}

func samplePixels(src *image.NRGBA, limit int) []color.NRGBA {
	b := src.Bounds()
	n := b.Dx() * b.Dy()
	step := max(1, n/limit)
	out := make([]color.NRGBA, 0, min(n, limit+1))
	for i := 0; i < n; i += step {
		o := 4 * i
		out = append(out, color.NRGBA{R: src.Pix[o], G: src.Pix[o+1], B: src.Pix[o+2], A: src.Pix[o+3]})
	}
	return out
}

func rmsError(p color.Palette, samples []color.NRGBA) float64 {
	if len(samples) == 0 || len(p) == 0 {
		return 0
	}
	var sum float64
	for _, c := range samples {
		r0, g0, b0, a0 := c.RGBA()
		r1, g1, b1, a1 := p[p.Index(c)].RGBA()
		for _, d := range [4]float64{
			float64(r0>>8) - float64(r1>>8),
			float64(g0>>8) - float64(g1>>8),
			float64(b0>>8) - float64(b1>>8),
			float64(a0>>8) - float64(a1>>8),
		} {
			sum += d * d
		}
	}
	return math.Sqrt(sum / float64(4*len(samples)))
}

func compressionLevel(level int) png.CompressionLevel {
	switch {
	case level <= 0:
		return png.NoCompression
	case level < 4:
		return png.BestSpeed
	case level < MaxCompression:
		return png.DefaultCompression
	default:
		return png.BestCompression
	}
}

func hasAlpha(img image.Image) bool {
	switch m := img.(type) {
	case *image.Paletted:
		for _, c := range m.Palette {
			if _, _, _, a := c.RGBA(); a != 0xffff {
				return true
			}
		}
		return false
	case *image.RGBA, *image.RGBA64, *image.Gray, *image.Gray16, *image.YCbCr, *image.CMYK:
		return false
	default:
		return true
	}
}
