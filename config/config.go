package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"gopkg.in/yaml.v2"
)

// Strictness levels for the similarity slider, from very strict to very loose.
const (
	StrictnessVeryStrict = 0
	StrictnessStrict     = 1
	StrictnessNormal     = 2
	StrictnessLoose      = 3
	StrictnessVeryLoose  = 4
)

// ScoringWeights are the named weights combined by the quality scorer.
type ScoringWeights struct {
	Resolution   float64 `yaml:"resolution"`
	BitsPerPixel float64 `yaml:"bits_per_pixel"`
	Sharpness    float64 `yaml:"sharpness"`
	// BppCeiling caps the bits-per-pixel signal so enormous files stop
	// gaining score past this point.
	BppCeiling float64 `yaml:"bpp_ceiling"`
}

// Config carries all knobs of a scan invocation. A Config value is immutable
// once handed to the engine; there is no process-wide mutable state.
type Config struct {
	Strictness        int            `yaml:"strictness"`
	Extensions        []string       `yaml:"extensions"`
	Incremental       bool           `yaml:"incremental"`
	DisableSimilarity bool           `yaml:"disable_similarity"`
	MaxWorkers        int            `yaml:"max_workers"`
	EmbeddingBatch    int            `yaml:"embedding_batch"`
	NearTieMargin     float64        `yaml:"near_tie_margin"`
	Weights           ScoringWeights `yaml:"weights"`
}

// Default returns the configuration used when no config file is given.
func Default() Config {
	workers := (runtime.NumCPU() * 3) / 4
	if workers < 1 {
		workers = 1
	}
	return Config{
		Strictness: StrictnessNormal,
		Extensions: []string{
			".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tif", ".tiff", ".webp",
			".dng", ".raf", ".arw", ".nef", ".cr2", ".cr3", ".nrw", ".srf",
		},
		Incremental:    true,
		MaxWorkers:     workers,
		EmbeddingBatch: 64,
		NearTieMargin:  0.08,
		Weights: ScoringWeights{
			Resolution:   1.0,
			BitsPerPixel: 0.5,
			Sharpness:    0.5,
			BppCeiling:   16.0,
		},
	}
}

// Load reads a yaml config file on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("cannot parse config %s: %v", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks ranges and normalizes the extension allow-list.
func (c *Config) Validate() error {
	if c.Strictness < StrictnessVeryStrict || c.Strictness > StrictnessVeryLoose {
		return fmt.Errorf("strictness must be between %d and %d, got %d",
			StrictnessVeryStrict, StrictnessVeryLoose, c.Strictness)
	}
	if len(c.Extensions) == 0 {
		return fmt.Errorf("extension allow-list is empty")
	}
	if c.MaxWorkers < 1 {
		c.MaxWorkers = 1
	}
	if c.EmbeddingBatch < 1 {
		c.EmbeddingBatch = 1
	}
	if c.NearTieMargin < 0 || c.NearTieMargin >= 1 {
		return fmt.Errorf("near_tie_margin must be in [0,1), got %v", c.NearTieMargin)
	}
	for i, ext := range c.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.Extensions[i] = ext
	}
	return nil
}

// AllowsExtension checks the (case-insensitive) allow-list.
func (c *Config) AllowsExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, allowed := range c.Extensions {
		if ext == allowed {
			return true
		}
	}
	return false
}
