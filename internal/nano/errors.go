package nano

import "errors"

var (
	ErrInvalidInputSpec = errors.New("exactly one of input file or input buffer is required")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrDecode           = errors.New("decode failed")
	ErrEncode           = errors.New("encode failed")
	ErrIO               = errors.New("i/o failed")
)
