package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/dunamismax/nanoimg/internal/transform"
)

// stagingPNG serialises buf as a stored (uncompressed) PNG so it can be
// handed to decoders that only accept encoded input. libvips rounds palette
// sizes up to a power of two, so a limit that is not one is applied here
// first with median cut.
func stagingPNG(buf *transform.Buffer, opts EncodeOptions) ([]byte, error) {
	nrgba := toNRGBA(buf)

	var img image.Image = nrgba
	switch {
	case opts.PaletteLimit > 0 && !isPowerOfTwo(opts.PaletteLimit):
		img = toPaletted(nrgba, EncodeOptions{PaletteLimit: opts.PaletteLimit})
	case buf.HasAlpha():
		img = rgbaImage{nrgba}
	}

	var out bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.NoCompression}
	if err := encoder.Encode(&out, img); err != nil {
		return nil, fmt.Errorf("stage raw pixels: %w", err)
	}
	return out.Bytes(), nil
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
