//go:build govips && cgo

package codec

import (
	"context"
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/nanoimg/internal/transform"
)

// Vips encodes through libvips, which supports every EncodeOptions hint.
type Vips struct{}

func (Vips) Decode(ctx context.Context, data []byte) (*transform.Buffer, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	img, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}
	defer img.Close()

	if img.Interpretation() != vips.InterpretationSRGB {
		if err := img.ToColorSpace(vips.InterpretationSRGB); err != nil {
			return nil, fmt.Errorf("convert to srgb: %w", err)
		}
	}
	if img.BandFormat() != vips.BandFormatUchar {
		if err := img.Cast(vips.BandFormatUchar); err != nil {
			return nil, fmt.Errorf("cast to 8-bit: %w", err)
		}
	}

	channels := img.Bands()
	if channels != 3 && channels != 4 {
		return nil, fmt.Errorf("%w: %d bands", ErrUnsupportedImage, channels)
	}

	pix, err := img.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("export raw pixels: %w", err)
	}
	return transform.NewBuffer(pix, img.Width(), img.Height(), channels)
}

func (Vips) Encode(ctx context.Context, buf *transform.Buffer, opts EncodeOptions) ([]byte, error) {
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

	staged, err := stagingPNG(buf, opts)
	if err != nil {
		return nil, err
	}
	img, err := vips.NewImageFromBuffer(staged)
	if err != nil {
		return nil, fmt.Errorf("load staged pixels: %w", err)
	}
	defer img.Close()

	params := vips.NewPngExportParams()
	params.StripMetadata = true
	params.Compression = opts.CompressionLevel
	params.Filter = vips.PngFilterNone
	if opts.AdaptiveFiltering {
		params.Filter = vips.PngFilterAll
	}
	params.Quality = 100
	if opts.Quality > 0 {
		params.Quality = opts.Quality
	}
	if opts.Paletted() {
		params.Palette = true
		params.Dither = opts.DitherLevel
		params.Bitdepth = paletteBitDepth(opts.MaxColors())
	}

	data, _, err := img.ExportPng(params)
	if err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return data, nil
}
