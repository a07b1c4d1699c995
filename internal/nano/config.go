package nano

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/dunamismax/nanoimg/internal/codec"
)

// tenTolerance is replaced by offTenTolerance when quantizing; a step of
// exactly 10 bands visibly.
const (
	tenTolerance    = 10
	offTenTolerance = 10.01
)

const (
	PresetDefault = "default"
	PresetHigh    = "high"
	PresetExtreme = "extreme"
)

var ErrUnknownPreset = errors.New("unknown preset")

// Configuration selects the lossy passes and the encoder hints for one
// invocation. It is a value; nothing in the pipeline writes to it.
type Configuration struct {
	EnableColorQuantization bool    `json:"enable_color_quantization"`
	ColorTolerance          float64 `json:"color_tolerance"`
	EnableChromaSubsampling bool    `json:"enable_chroma_subsampling"`
	EnableAlphaStripping    bool    `json:"enable_alpha_stripping"`
	EnableAdaptiveFiltering bool    `json:"enable_adaptive_filtering"`
	DitheringLevel          float64 `json:"dithering_level"`
	EnableColorLimit        bool    `json:"enable_color_limit"`
	ColorLimit              int     `json:"color_limit"`
	EnableQualityReduction  bool    `json:"enable_quality_reduction"`
	Quality                 int     `json:"quality"`
}

func DefaultConfig() Configuration {
	return Configuration{
		EnableColorQuantization: true,
		ColorTolerance:          10,
		EnableChromaSubsampling: false,
		EnableAlphaStripping:    false,
		EnableAdaptiveFiltering: true,
		DitheringLevel:          0,
		EnableColorLimit:        false,
		ColorLimit:              256,
		EnableQualityReduction:  true,
		Quality:                 90,
	}
}

func HighCompression() Configuration {
	return Configuration{
		EnableColorQuantization: false,
		ColorTolerance:          25,
		EnableChromaSubsampling: false,
		EnableAlphaStripping:    true,
		EnableAdaptiveFiltering: true,
		DitheringLevel:          0,
		EnableColorLimit:        true,
		ColorLimit:              128,
		EnableQualityReduction:  true,
		Quality:                 60,
	}
}

func ExtremeCompression() Configuration {
	cfg := HighCompression()
	cfg.EnableAdaptiveFiltering = false
	cfg.ColorLimit = 16
	cfg.Quality = 1
	return cfg
}

// Preset resolves a preset name. An empty name is the default configuration.
func Preset(name string) (Configuration, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PresetDefault:
		return DefaultConfig(), nil
	case PresetHigh:
		return HighCompression(), nil
	case PresetExtreme:
		return ExtremeCompression(), nil
	default:
		return Configuration{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
}

func PresetNames() []string {
	return []string{PresetDefault, PresetHigh, PresetExtreme}
}

// Validate checks the parameters of the enabled features only, so presets can
// carry a parked tolerance or limit.
func (c Configuration) Validate() error {
	if c.EnableColorQuantization && (math.IsNaN(c.ColorTolerance) || c.ColorTolerance < 1 || c.ColorTolerance > 100) {
		return fmt.Errorf("%w: color_tolerance must be within [1,100], got %v", ErrInvalidConfig, c.ColorTolerance)
	}
	if math.IsNaN(c.DitheringLevel) || c.DitheringLevel < 0 || c.DitheringLevel > 1 {
		return fmt.Errorf("%w: dithering_level must be within [0,1], got %v", ErrInvalidConfig, c.DitheringLevel)
	}
	if c.EnableColorLimit && (c.ColorLimit < 2 || c.ColorLimit > 256) {
		return fmt.Errorf("%w: color_limit must be within [2,256], got %d", ErrInvalidConfig, c.ColorLimit)
	}
	if c.EnableQualityReduction && (c.Quality < 1 || c.Quality > 100) {
		return fmt.Errorf("%w: quality must be within [1,100], got %d", ErrInvalidConfig, c.Quality)
	}
	return nil
}

func (c Configuration) EffectiveTolerance() float64 {
	if c.ColorTolerance == tenTolerance {
		return offTenTolerance
	}
	return c.ColorTolerance
}

func (c Configuration) EncodeOptions() codec.EncodeOptions {
	opts := codec.EncodeOptions{
		CompressionLevel:  codec.MaxCompression,
		AdaptiveFiltering: c.EnableAdaptiveFiltering,
		DitherLevel:       c.DitheringLevel,
	}
	if c.EnableColorLimit {
		opts.PaletteLimit = c.ColorLimit
	}
	if c.EnableQualityReduction {
		opts.Quality = c.Quality
	}
	return opts
}
