// Package processor implements the audio standardisation pipeline: trim
// leading and trailing silence, pad with controlled silence, compress
// dynamic range, normalise loudness to a target LUFS value, and export at
// a bitrate matched to the source.
package processor

import (
	"errors"
	"fmt"
	"math"
)

const (
	// DefaultLUFSTarget is the integrated loudness the pipeline normalises
	// to when no target is configured. -14 LUFS matches the loudness most
	// streaming platforms normalise towards.
	DefaultLUFSTarget = -14.0

	// DefaultSilenceThresholdDBFS is the chunk-level silence threshold used
	// when no explicit threshold is supplied.
	DefaultSilenceThresholdDBFS = -16.0

	// DefaultChunkMS is the silence scan resolution used when no chunk
	// specification is supplied.
	DefaultChunkMS = 1
)

// ErrOverwriteRefused is returned when the output path resolves to the
// input path and overwriting was not explicitly allowed.
var ErrOverwriteRefused = errors.New("output would overwrite input")

// ConfigError reports a configuration field that failed validation.
// Validation runs before any decode, so a ConfigError guarantees the
// input source was never touched.
type ConfigError struct {
	Field      string
	Constraint string
	Value      any
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s must be %s, got %v", e.Field, e.Constraint, e.Value)
}

// Config carries every pipeline option. A zero threshold or chunk spec
// means "use the default"; both are resolved once by withDefaults before
// validation, and never change mid-run.
type Config struct {
	// LUFSTarget is the integrated loudness to normalise to. Must be
	// finite and at most 0.
	LUFSTarget float64

	// SilenceThresholdDBFS classifies scan chunks as silence. Must be
	// finite and negative. Zero selects DefaultSilenceThresholdDBFS.
	SilenceThresholdDBFS float64

	// Chunk is the silence scan resolution. A zero value selects
	// DefaultChunkMS.
	Chunk ChunkSpec

	// SilencePaddingMS is prepended and appended to the trimmed audio.
	SilencePaddingMS int

	// MatchBitrate selects whether the output bitrate is derived from the
	// source's peak bitrate rather than left to the encoder's default.
	MatchBitrate bool

	// AllowOverwrite permits the output path to equal the input path.
	AllowOverwrite bool
}

// DefaultConfig returns the configuration used when the caller supplies
// nothing.
func DefaultConfig() Config {
	return Config{
		LUFSTarget:           DefaultLUFSTarget,
		SilenceThresholdDBFS: DefaultSilenceThresholdDBFS,
		Chunk:                ChunkSpec{MS: DefaultChunkMS},
	}
}

// withDefaults resolves omitted fields to their defaults.
func (c Config) withDefaults() Config {
	if c.SilenceThresholdDBFS == 0 {
		c.SilenceThresholdDBFS = DefaultSilenceThresholdDBFS
	}
	if c.Chunk.IsZero() {
		c.Chunk = ChunkSpec{MS: DefaultChunkMS}
	}
	return c
}

// Validate checks every numeric field against its constraint. It is
// called on the defaults-resolved config before any stage runs.
func (c Config) Validate() error {
	if math.IsNaN(c.LUFSTarget) || math.IsInf(c.LUFSTarget, 0) || c.LUFSTarget > 0 {
		return &ConfigError{Field: "lufs_target", Constraint: "finite and at most 0", Value: c.LUFSTarget}
	}
	if math.IsNaN(c.SilenceThresholdDBFS) || math.IsInf(c.SilenceThresholdDBFS, 0) || c.SilenceThresholdDBFS >= 0 {
		return &ConfigError{Field: "silence_threshold_dbfs", Constraint: "finite and negative", Value: c.SilenceThresholdDBFS}
	}
	if err := c.Chunk.Validate(); err != nil {
		return err
	}
	if c.SilencePaddingMS < 0 {
		return &ConfigError{Field: "silence_padding_ms", Constraint: "at least 0", Value: c.SilencePaddingMS}
	}
	return nil
}
