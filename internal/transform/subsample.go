package transform

// SubsampleRun is the number of consecutive pixels, in buffer order, that
// share one averaged Cb/Cr pair.
const SubsampleRun = 4

// Subsample converts the buffer to YCbCr (BT.601, full range), replaces the
// chroma of every run of SubsampleRun consecutive pixels with the run mean,
// and converts back to RGB. Luma and alpha of each pixel are kept. A trailing
// run shorter than SubsampleRun averages over the pixels it has.
//
// Runs follow buffer order, so for images wider than SubsampleRun this is
// horizontal chroma averaging rather than a 2x2 spatial block.
func Subsample(b *Buffer) error {
	if err := b.Validate(); err != nil {
		return err
	}

	n := b.PixelCount()
	step := b.Channels
	ycc := make([]float64, n*3)
	for p := 0; p < n; p++ {
		i := p * step
		y, cb, cr := RGBToYCbCr(b.Pix[i], b.Pix[i+1], b.Pix[i+2])
		ycc[p*3] = y
		ycc[p*3+1] = cb
		ycc[p*3+2] = cr
	}

	for start := 0; start < n; start += SubsampleRun {
		end := min(start+SubsampleRun, n)

		var sumCb, sumCr float64
		for p := start; p < end; p++ {
			sumCb += ycc[p*3+1]
			sumCr += ycc[p*3+2]
		}
		count := float64(end - start)
		meanCb, meanCr := sumCb/count, sumCr/count

		for p := start; p < end; p++ {
			ycc[p*3+1] = meanCb
			ycc[p*3+2] = meanCr
		}
	}

	for p := 0; p < n; p++ {
		i := p * step
		r, g, bl := YCbCrToRGB(ycc[p*3], ycc[p*3+1], ycc[p*3+2])
		b.Pix[i] = r
		b.Pix[i+1] = g
		b.Pix[i+2] = bl
	}
	return nil
}

// RGBToYCbCr returns unrounded BT.601 full-range components.
func RGBToYCbCr(r, g, b uint8) (y, cb, cr float64) {
	fr, fg, fb := float64(r), float64(g), float64(b)
	y = 0.299*fr + 0.587*fg + 0.114*fb
	cb = -0.168736*fr - 0.331264*fg + 0.5*fb + 128
	cr = 0.5*fr - 0.418688*fg - 0.081312*fb + 128
	return y, cb, cr
}

// YCbCrToRGB inverts RGBToYCbCr, rounding to nearest and clamping to [0,255].
func YCbCrToRGB(y, cb, cr float64) (r, g, b uint8) {
	r = roundByte(y + 1.402*(cr-128))
	g = roundByte(y - 0.344136*(cb-128) - 0.714136*(cr-128))
	b = roundByte(y + 1.772*(cb-128))
	return r, g, b
}
