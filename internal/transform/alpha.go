package transform

// StripAlpha repacks a 4-channel buffer into 3 channels in place by dropping
// every fourth byte. 3-channel buffers are returned untouched.
func StripAlpha(b *Buffer) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if !b.HasAlpha() {
		return nil
	}

	n := b.PixelCount()
	dst := 0
	for src := 0; src < len(b.Pix); src += 4 {
		// dst never overtakes src, so the copy is safe in place.
		b.Pix[dst] = b.Pix[src]
		b.Pix[dst+1] = b.Pix[src+1]
		b.Pix[dst+2] = b.Pix[src+2]
		dst += 3
	}
	b.Pix = b.Pix[:n*3]
	b.Channels = 3
	return nil
}
