package codec

import (
	"context"
	"errors"

	"github.com/dunamismax/nanoimg/internal/transform"
)

// MaxCompression is the zlib level every encode runs at.
const MaxCompression = 9

const maxPaletteColors = 256

var (
	ErrUnsupportedImage = errors.New("unsupported image")
	ErrInvalidOptions   = errors.New("invalid encode options")
)

type Decoder interface {
	Decode(ctx context.Context, data []byte) (*transform.Buffer, error)
}

type Encoder interface {
	Encode(ctx context.Context, buf *transform.Buffer, opts EncodeOptions) ([]byte, error)
}

type Codec interface {
	Decoder
	Encoder
}

// EncodeOptions are compression hints. Zero PaletteLimit and Quality mean
// "not requested". Either one selects indexed output.
type EncodeOptions struct {
	CompressionLevel  int
	AdaptiveFiltering bool
	PaletteLimit      int
	DitherLevel       float64
	Quality           int
}

func (o EncodeOptions) Validate() error {
	if o.CompressionLevel < 0 || o.CompressionLevel > MaxCompression {
		return errors.Join(ErrInvalidOptions, errors.New("compression level must be within [0,9]"))
	}
	if o.PaletteLimit != 0 && (o.PaletteLimit < 2 || o.PaletteLimit > 256) {
		return errors.Join(ErrInvalidOptions, errors.New("palette limit must be within [2,256]"))
	}
	if o.DitherLevel < 0 || o.DitherLevel > 1 {
		return errors.Join(ErrInvalidOptions, errors.New("dither level must be within [0,1]"))
	}
	if o.Quality < 0 || o.Quality > 100 {
		return errors.Join(ErrInvalidOptions, errors.New("quality must be within [1,100]"))
	}
	return nil
}

func (o EncodeOptions) Paletted() bool {
	return o.PaletteLimit > 0 || o.Quality > 0
}

// MaxColors is the palette ceiling for indexed output.
func (o EncodeOptions) MaxColors() int {
	if o.PaletteLimit > 0 {
		return o.PaletteLimit
	}
	return maxPaletteColors
}

// paletteBitDepth picks the smallest PNG index depth holding limit colors.
func paletteBitDepth(limit int) int {
	switch {
	case limit <= 2:
		return 1
	case limit <= 4:
		return 2
	case limit <= 16:
		return 4
	default:
		return 8
	}
}
