// Package nano runs one image through decode, the lossy pixel passes and
// encode.
package nano

import (
	"context"
	"fmt"
	"os"

	"github.com/dunamismax/nanoimg/internal/codec"
	"github.com/dunamismax/nanoimg/internal/transform"
)

type Request struct {
	InputFile   string
	InputBuffer []byte
	// OutputFile is optional. The encoded bytes are returned either way.
	OutputFile string
	// Config falls back to DefaultConfig when nil.
	Config *Configuration
}

type Result struct {
	Data        []byte
	OutputFile  string
	Width       int
	Height      int
	Channels    int
	InputBytes  int
	OutputBytes int
}

// BytesSaved is never negative.
func (r Result) BytesSaved() int {
	return max(0, r.InputBytes-r.OutputBytes)
}

// Optimizer is safe for concurrent use; every call works on its own buffer.
type Optimizer struct {
	codec codec.Codec
}

func NewOptimizer(c codec.Codec) *Optimizer {
	return &Optimizer{codec: c}
}

// NewDefaultOptimizer uses the codec compiled into the binary.
func NewDefaultOptimizer() (*Optimizer, error) {
	c, err := codec.New()
	if err != nil {
		return nil, fmt.Errorf("build codec: %w", err)
	}
	return NewOptimizer(c), nil
}

func (o *Optimizer) Optimize(ctx context.Context, req Request) (Result, error) {
	if err := validateInput(req); err != nil {
		return Result{}, err
	}

	cfg := DefaultConfig()
	if req.Config != nil {
		cfg = *req.Config
	}
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	source := req.InputBuffer
	if req.InputFile != "" {
		data, err := os.ReadFile(req.InputFile)
		if err != nil {
			return Result{}, fmt.Errorf("%w: read input file %s: %w", ErrIO, req.InputFile, err)
		}
		source = data
	}

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	buf, err := o.codec.Decode(ctx, source)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	if err := Apply(ctx, buf, cfg); err != nil {
		return Result{}, err
	}

	encoded, err := o.codec.Encode(ctx, buf, cfg.EncodeOptions())
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrEncode, err)
	}

	res := Result{
		Data:        encoded,
		Width:       buf.Width,
		Height:      buf.Height,
		Channels:    buf.Channels,
		InputBytes:  len(source),
		OutputBytes: len(encoded),
	}

	if req.OutputFile != "" {
		if err := os.WriteFile(req.OutputFile, encoded, 0o644); err != nil {
			return Result{}, fmt.Errorf("%w: write output file %s: %w", ErrIO, req.OutputFile, err)
		}
		res.OutputFile = req.OutputFile
	}
	return res, nil
}

// Apply runs the enabled passes over buf in order: quantize, subsample,
// strip alpha.
func Apply(ctx context.Context, buf *transform.Buffer, cfg Configuration) error {
	passes := []struct {
		name    string
		enabled bool
		run     func(*transform.Buffer) error
	}{
		{
			name:    "quantize",
			enabled: cfg.EnableColorQuantization,
			run: func(b *transform.Buffer) error {
				return transform.Quantize(b, cfg.EffectiveTolerance())
			},
		},
		{name: "subsample", enabled: cfg.EnableChromaSubsampling, run: transform.Subsample},
		{name: "strip_alpha", enabled: cfg.EnableAlphaStripping, run: transform.StripAlpha},
	}

	for _, pass := range passes {
		if !pass.enabled {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := pass.run(buf); err != nil {
			return fmt.Errorf("%s pass: %w", pass.name, err)
		}
	}
	return nil
}

func validateInput(req Request) error {
	hasFile := req.InputFile != ""
	hasBuffer := req.InputBuffer != nil
	switch {
	case hasFile && hasBuffer:
		return fmt.Errorf("%w: both input file and buffer provided", ErrInvalidInputSpec)
	case !hasFile && !hasBuffer:
		return fmt.Errorf("%w: no input file or buffer provided", ErrInvalidInputSpec)
	}
	return nil
}
