package nano

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/dunamismax/nanoimg/internal/codec"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	want := Configuration{
		EnableColorQuantization: true,
		ColorTolerance:          10,
		EnableAdaptiveFiltering: true,
		ColorLimit:              256,
		EnableQualityReduction:  true,
		Quality:                 90,
	}
	if cfg != want {
		t.Fatalf("expected %+v, got %+v", want, cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestDefaultConfigIsFreshValue(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ColorTolerance = 99
	if DefaultConfig().ColorTolerance != 10 {
		t.Fatal("expected default config to be unaffected by caller mutation")
	}
}

func TestPresets(t *testing.T) {
	high, err := Preset("high")
	if err != nil {
		t.Fatalf("preset high: %v", err)
	}
	if high.EnableColorQuantization || !high.EnableAlphaStripping || !high.EnableAdaptiveFiltering {
		t.Fatalf("unexpected high flags: %+v", high)
	}
	if high.ColorTolerance != 25 || !high.EnableColorLimit || high.ColorLimit != 128 || high.Quality != 60 {
		t.Fatalf("unexpected high parameters: %+v", high)
	}

	extreme, err := Preset(" EXTREME ")
	if err != nil {
		t.Fatalf("preset extreme: %v", err)
	}
	if extreme.EnableAdaptiveFiltering || extreme.ColorLimit != 16 || extreme.Quality != 1 || !extreme.EnableAlphaStripping {
		t.Fatalf("unexpected extreme preset: %+v", extreme)
	}

	def, err := Preset("")
	if err != nil || def != DefaultConfig() {
		t.Fatalf("expected empty preset to resolve to default, got %+v err=%v", def, err)
	}

	if _, err := Preset("lossless"); !errors.Is(err, ErrUnknownPreset) {
		t.Fatalf("expected ErrUnknownPreset, got %v", err)
	}

	for _, name := range PresetNames() {
		cfg, err := Preset(name)
		if err != nil {
			t.Fatalf("preset %s: %v", name, err)
		}
		if err := cfg.Validate(); err != nil {
			t.Fatalf("preset %s invalid: %v", name, err)
		}
	}
}

func TestEffectiveTolerance(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.EffectiveTolerance(); got != 10.01 {
		t.Fatalf("expected 10.01, got %v", got)
	}
	if cfg.ColorTolerance != 10 {
		t.Fatalf("expected configuration to keep 10, got %v", cfg.ColorTolerance)
	}

	cfg.ColorTolerance = 25
	if got := cfg.EffectiveTolerance(); got != 25 {
		t.Fatalf("expected 25, got %v", got)
	}
}

func TestConfigurationValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Configuration)
	}{
		{name: "tolerance low", mutate: func(c *Configuration) { c.ColorTolerance = 0.5 }},
		{name: "tolerance high", mutate: func(c *Configuration) { c.ColorTolerance = 101 }},
		{name: "dither", mutate: func(c *Configuration) { c.DitheringLevel = 2 }},
		{name: "colors", mutate: func(c *Configuration) { c.EnableColorLimit = true; c.ColorLimit = 1 }},
		{name: "quality", mutate: func(c *Configuration) { c.Quality = 0 }},
	}

	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig, got %v", tc.name, err)
		}
	}

	parked := DefaultConfig()
	parked.EnableColorQuantization = false
	parked.ColorTolerance = 0
	if err := parked.Validate(); err != nil {
		t.Fatalf("expected disabled quantization to skip tolerance check, got %v", err)
	}
}

func TestEncodeOptions(t *testing.T) {
	got := DefaultConfig().EncodeOptions()
	want := codec.EncodeOptions{
		CompressionLevel:  codec.MaxCompression,
		AdaptiveFiltering: true,
		Quality:           90,
	}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}

	got = ExtremeCompression().EncodeOptions()
	want = codec.EncodeOptions{
		CompressionLevel: codec.MaxCompression,
		PaletteLimit:     16,
		Quality:          1,
	}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestConfigurationJSON(t *testing.T) {
	var cfg Configuration
	body := `{"enable_color_limit":true,"color_limit":32,"enable_chroma_subsampling":true,"quality":50,"enable_quality_reduction":true}`
	if err := json.Unmarshal([]byte(body), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !cfg.EnableColorLimit || cfg.ColorLimit != 32 || !cfg.EnableChromaSubsampling || cfg.Quality != 50 {
		t.Fatalf("unexpected configuration %+v", cfg)
	}
}
