package processor

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	valid := DefaultConfig()
	if err := valid.Validate(); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}

	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{"positive lufs target", func(c *Config) { c.LUFSTarget = 3 }, "lufs_target"},
		{"nan lufs target", func(c *Config) { c.LUFSTarget = math.NaN() }, "lufs_target"},
		{"infinite lufs target", func(c *Config) { c.LUFSTarget = math.Inf(-1) }, "lufs_target"},
		{"positive threshold", func(c *Config) { c.SilenceThresholdDBFS = 6 }, "silence_threshold_dbfs"},
		{"nan threshold", func(c *Config) { c.SilenceThresholdDBFS = math.NaN() }, "silence_threshold_dbfs"},
		{"negative chunk", func(c *Config) { c.Chunk = ChunkSpec{MS: -5} }, "chunk"},
		{"overspecified chunk", func(c *Config) { c.Chunk = ChunkSpec{MS: 5, Fraction: 0.1} }, "chunk"},
		{"fraction out of range", func(c *Config) { c.Chunk = ChunkSpec{Fraction: 1.5} }, "chunk"},
		{"negative padding", func(c *Config) { c.SilencePaddingMS = -1 }, "silence_padding_ms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("error type = %T, want *ConfigError", err)
			}
			if cfgErr.Field != tt.wantField {
				t.Errorf("offending field = %q, want %q", cfgErr.Field, tt.wantField)
			}
		})
	}
}

func TestConfigValidateAcceptsZeroLUFS(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LUFSTarget = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("0 LUFS target rejected: %v", err)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.LUFSTarget != -14 {
		t.Errorf("LUFSTarget = %v, want -14", cfg.LUFSTarget)
	}
	if cfg.SilenceThresholdDBFS != -16 {
		t.Errorf("SilenceThresholdDBFS = %v, want -16", cfg.SilenceThresholdDBFS)
	}
	if got := cfg.Chunk.Resolve(2000); got != 1 {
		t.Errorf("default chunk resolves to %dms, want 1", got)
	}
}

func TestConfigWithDefaults(t *testing.T) {
	var cfg Config
	resolved := cfg.withDefaults()

	if resolved.SilenceThresholdDBFS != DefaultSilenceThresholdDBFS {
		t.Errorf("threshold = %v, want %v", resolved.SilenceThresholdDBFS, DefaultSilenceThresholdDBFS)
	}
	if resolved.Chunk.Resolve(1000) != DefaultChunkMS {
		t.Errorf("chunk = %d, want %d", resolved.Chunk.Resolve(1000), DefaultChunkMS)
	}

	// Explicit values pass through untouched
	cfg = Config{SilenceThresholdDBFS: -30, Chunk: ChunkSpec{MS: 25}}
	resolved = cfg.withDefaults()
	if resolved.SilenceThresholdDBFS != -30 || resolved.Chunk.MS != 25 {
		t.Errorf("explicit values changed: %+v", resolved)
	}
}

func TestConfigErrorMessage(t *testing.T) {
	err := &ConfigError{Field: "lufs_target", Constraint: "finite and at most 0", Value: 3.0}
	msg := err.Error()
	for _, want := range []string{"lufs_target", "finite and at most 0", "3"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message %q missing %q", msg, want)
		}
	}
}
