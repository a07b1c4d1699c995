package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/nanoimg/internal/domain"
	"github.com/dunamismax/nanoimg/internal/nano"
)

const (
	SourceTypeLocalFile = domain.SourceTypeLocalFile

	outputFilename    = "optimized.png"
	outputContentType = "image/png"
)

var ErrUnsupportedSourceType = errors.New("unsupported source_type")

type Request struct {
	JobID      string
	SourceType string
	ObjectKey  string
	Options    nano.Configuration
}

type Output struct {
	Path     string
	Bytes    int
	Width    int
	Height   int
	Channels int
}

type Result struct {
	SourceBytes int
	Output      Output
}

func (r Result) JobOutput() domain.JobOutput {
	return domain.JobOutput{
		Path:        r.Output.Path,
		Width:       r.Output.Width,
		Height:      r.Output.Height,
		Channels:    r.Output.Channels,
		InputBytes:  r.SourceBytes,
		OutputBytes: r.Output.Bytes,
	}
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

type Optimizer interface {
	Optimize(ctx context.Context, req nano.Request) (nano.Result, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, optimized nano.Result) (Output, error)
}

type Processor struct {
	fetcher   Fetcher
	optimizer Optimizer
	emitter   Emitter
}

func NewProcessor(fetcher Fetcher, optimizer Optimizer, emitter Emitter) (*Processor, error) {
	if fetcher == nil || optimizer == nil || emitter == nil {
		return nil, errors.New("fetcher, optimizer and emitter are required")
	}
	return &Processor{fetcher: fetcher, optimizer: optimizer, emitter: emitter}, nil
}

func NewLocalProcessor(optimizer Optimizer, outputDir string) (*Processor, error) {
	return NewProcessor(LocalFileFetcher{}, optimizer, LocalFileEmitter{OutputDir: outputDir})
}

func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}

	source, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	cfg := req.Options
	optimized, err := p.optimizer.Optimize(ctx, nano.Request{InputBuffer: source, Config: &cfg})
	if err != nil {
		return Result{}, fmt.Errorf("optimize stage: %w", err)
	}

	out, err := p.emitter.Emit(ctx, req, optimized)
	if err != nil {
		return Result{}, fmt.Errorf("emit stage: %w", err)
	}

	return Result{SourceBytes: len(source), Output: out}, nil
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(req.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("%w: read input file %s: %w", nano.ErrIO, req.ObjectKey, err)
	}
	return data, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, optimized nano.Result) (Output, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}

	jobDir := filepath.Join(e.OutputDir, sanitizePathToken(req.JobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("%w: create output dir: %w", nano.ErrIO, err)
	}

	fullPath := filepath.Join(jobDir, outputFilename)
	if err := os.WriteFile(fullPath, optimized.Data, 0o644); err != nil {
		return Output{}, fmt.Errorf("%w: write output file: %w", nano.ErrIO, err)
	}

	return outputFor(fullPath, optimized), nil
}

func outputFor(path string, optimized nano.Result) Output {
	return Output{
		Path:     path,
		Bytes:    len(optimized.Data),
		Width:    optimized.Width,
		Height:   optimized.Height,
		Channels: optimized.Channels,
	}
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, in)
}
