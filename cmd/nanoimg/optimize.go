package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/dunamismax/nanoimg/internal/nano"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	stdioPath     = "-"
	defaultSuffix = ".min.png"
)

func newOptimizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "optimize [files...]",
		Short: "Optimize one or more PNG images",
		Long: "Optimize decodes each input, applies the configured lossy passes and re-encodes it as PNG.\n" +
			"Use - to read a single image from stdin; -o - writes the result to stdout.",
		Args: cobra.MinimumNArgs(1),
		RunE: runOptimize,
	}

	flags := cmd.Flags()
	flags.StringP("output", "o", "", "Output file for a single input (- for stdout)")
	flags.String("out-dir", "", "Directory for outputs, keeping input file names")
	flags.StringP("preset", "p", nano.PresetDefault, "Base preset ("+strings.Join(nano.PresetNames(), ", ")+")")
	flags.Bool("quantize", false, "Snap color channels to multiples of the tolerance")
	flags.Float64("tolerance", 0, "Quantization step (1-100); implies --quantize")
	flags.Bool("subsample", false, "Average chroma over runs of four pixels")
	flags.Bool("strip-alpha", false, "Drop the alpha channel")
	flags.Bool("adaptive-filter", false, "Ask the encoder for adaptive row filtering")
	flags.Float64("dither", 0, "Dithering level (0-1) for palette output")
	flags.Int("colors", 0, "Palette size limit (2-256); 0 disables")
	flags.Int("quality", 0, "Encoder quality (1-100); 0 disables")
	flags.IntP("jobs", "j", runtime.NumCPU(), "Files optimized in parallel")
	return cmd
}

// resolveConfig starts from the preset and applies only the flags that were
// set on the command line.
func resolveConfig(flags *pflag.FlagSet) (nano.Configuration, error) {
	preset, _ := flags.GetString("preset")
	cfg, err := nano.Preset(preset)
	if err != nil {
		return nano.Configuration{}, err
	}

	if flags.Changed("tolerance") {
		cfg.ColorTolerance, _ = flags.GetFloat64("tolerance")
		cfg.EnableColorQuantization = true
	}
	if flags.Changed("quantize") {
		cfg.EnableColorQuantization, _ = flags.GetBool("quantize")
	}
	if flags.Changed("subsample") {
		cfg.EnableChromaSubsampling, _ = flags.GetBool("subsample")
	}
	if flags.Changed("strip-alpha") {
		cfg.EnableAlphaStripping, _ = flags.GetBool("strip-alpha")
	}
	if flags.Changed("adaptive-filter") {
		cfg.EnableAdaptiveFiltering, _ = flags.GetBool("adaptive-filter")
	}
	if flags.Changed("dither") {
		cfg.DitheringLevel, _ = flags.GetFloat64("dither")
	}
	if flags.Changed("colors") {
		colors, _ := flags.GetInt("colors")
		cfg.EnableColorLimit = colors != 0
		if colors != 0 {
			cfg.ColorLimit = colors
		}
	}
	if flags.Changed("quality") {
		quality, _ := flags.GetInt("quality")
		cfg.EnableQualityReduction = quality != 0
		if quality != 0 {
			cfg.Quality = quality
		}
	}

	if err := cfg.Validate(); err != nil {
		return nano.Configuration{}, err
	}
	return cfg, nil
}

// outputPathFor picks the destination of one input: an explicit --output, a
// file of the same name under --out-dir, or <stem>.min.png beside the input.
func outputPathFor(input, output, outDir string) string {
	switch {
	case output != "":
		return output
	case input == stdioPath && outDir == "":
		return stdioPath
	case input == stdioPath:
		return filepath.Join(outDir, "stdin"+defaultSuffix)
	case outDir != "":
		return filepath.Join(outDir, filepath.Base(input))
	default:
		return strings.TrimSuffix(input, filepath.Ext(input)) + defaultSuffix
	}
}

func checkTargets(inputs []string, output, outDir string) error {
	if output != "" && outDir != "" {
		return errors.New("--output and --out-dir are mutually exclusive")
	}
	if output != "" && len(inputs) > 1 {
		return errors.New("--output requires exactly one input; use --out-dir for several")
	}
	stdin := 0
	for _, in := range inputs {
		if in == stdioPath {
			stdin++
		}
	}
	if stdin > 0 && len(inputs) > 1 {
		return errors.New("stdin (-) cannot be combined with other inputs")
	}

	// Parallel inputs must not share a target.
	claimed := make(map[string]string, len(inputs))
	for _, in := range inputs {
		target := outputPathFor(in, output, outDir)
		if target == stdioPath {
			continue
		}
		target = filepath.Clean(target)
		if in != stdioPath && target == filepath.Clean(in) {
			return fmt.Errorf("%s: output would overwrite the input", in)
		}
		if prev, ok := claimed[target]; ok {
			return fmt.Errorf("%s and %s both write %s", prev, in, target)
		}
		claimed[target] = in
	}
	return nil
}

type fileResult struct {
	input  string
	output string
	result nano.Result
	err    error
}

func runOptimize(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	output, _ := flags.GetString("output")
	outDir, _ := flags.GetString("out-dir")
	jobs, _ := flags.GetInt("jobs")

	if err := checkTargets(args, output, outDir); err != nil {
		return err
	}
	cfg, err := resolveConfig(flags)
	if err != nil {
		return err
	}
	if outDir != "" {
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	optimizer, err := nano.NewDefaultOptimizer()
	if err != nil {
		return err
	}

	results := optimizeAll(cmd.Context(), optimizer, cmd.InOrStdin(), cmd.OutOrStdout(), args, output, outDir, cfg, jobs)

	// Savings go to stderr when the image itself is on stdout.
	report := cmd.OutOrStdout()
	if outputPathFor(args[0], output, outDir) == stdioPath {
		report = cmd.ErrOrStderr()
	}

	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", r.input, r.err)
			continue
		}
		fmt.Fprintln(report, summarize(r))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(results))
	}
	return nil
}

func optimizeAll(
	ctx context.Context,
	optimizer *nano.Optimizer,
	stdin io.Reader,
	stdout io.Writer,
	inputs []string,
	output, outDir string,
	cfg nano.Configuration,
	jobs int,
) []fileResult {
	if ctx == nil {
		ctx = context.Background()
	}

	results := make([]fileResult, len(inputs))
	sem := make(chan struct{}, max(1, jobs))
	var wg sync.WaitGroup
	for i, input := range inputs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			target := outputPathFor(input, output, outDir)
			res, err := optimizeOne(ctx, optimizer, stdin, stdout, input, target, cfg)
			results[i] = fileResult{input: input, output: target, result: res, err: err}
		}()
	}
	wg.Wait()
	return results
}

func optimizeOne(
	ctx context.Context,
	optimizer *nano.Optimizer,
	stdin io.Reader,
	stdout io.Writer,
	input, target string,
	cfg nano.Configuration,
) (nano.Result, error) {
	req := nano.Request{Config: &cfg}
	if input == stdioPath {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nano.Result{}, fmt.Errorf("%w: read stdin: %w", nano.ErrIO, err)
		}
		req.InputBuffer = data
	} else {
		req.InputFile = input
	}
	if target != stdioPath {
		req.OutputFile = target
	}

	res, err := optimizer.Optimize(ctx, req)
	if err != nil {
		return nano.Result{}, err
	}
	if target == stdioPath {
		if _, err := stdout.Write(res.Data); err != nil {
			return nano.Result{}, fmt.Errorf("%w: write stdout: %w", nano.ErrIO, err)
		}
	}
	return res, nil
}

func summarize(r fileResult) string {
	in, out := r.result.InputBytes, r.result.OutputBytes
	pct := 0.0
	if in > 0 {
		pct = float64(in-out) / float64(in) * 100
	}
	return fmt.Sprintf("%s -> %s: %d -> %d bytes (saved %d bytes, %.2f%%) %dx%d channels=%d",
		r.input, r.output, in, out, r.result.BytesSaved(), pct,
		r.result.Width, r.result.Height, r.result.Channels)
}
