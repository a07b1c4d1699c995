//go:build !govips || !cgo

package codec

func Startup() error {
	return nil
}

func Shutdown() {}

// New returns the codec compiled into this binary.
func New() (Codec, error) {
	return Std{}, nil
}
