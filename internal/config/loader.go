// Package config loads optional pipeline settings from a YAML file.
// Every field is optional; anything unset falls through to the flag or
// built-in default.
package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/linuxmatters/nightfever/internal/processor"
)

// File mirrors the YAML settings file. Pointer fields distinguish "not
// present" from an explicit zero.
type File struct {
	LUFSTarget           *float64 `yaml:"lufs_target"`
	SilenceThresholdDBFS *float64 `yaml:"silence_threshold_dbfs"`
	Chunk                *string  `yaml:"chunk"`
	SilencePaddingMS     *int     `yaml:"silence_padding_ms"`
	MatchBitrate         *bool    `yaml:"match_bitrate"`
	AllowOverwrite       *bool    `yaml:"allow_overwrite"`
	Jobs                 *int     `yaml:"jobs"`
}

// Load reads and parses the settings file at path.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader parses settings from r. Unknown keys are rejected so a
// typo in a field name fails loudly rather than silently using defaults.
func LoadFromReader(r io.Reader) (*File, error) {
	var cfg File

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if err == io.EOF {
			return &cfg, nil
		}
		return nil, err
	}
	return &cfg, nil
}

// Apply copies every present field onto cfg. Fields absent from the file
// leave cfg untouched, so flag values survive the merge.
func (f *File) Apply(cfg *processor.Config) error {
	if f.LUFSTarget != nil {
		cfg.LUFSTarget = *f.LUFSTarget
	}
	if f.SilenceThresholdDBFS != nil {
		cfg.SilenceThresholdDBFS = *f.SilenceThresholdDBFS
	}
	if f.Chunk != nil {
		spec, err := processor.ParseChunkSpec(*f.Chunk)
		if err != nil {
			return fmt.Errorf("invalid chunk in config file: %w", err)
		}
		cfg.Chunk = spec
	}
	if f.SilencePaddingMS != nil {
		cfg.SilencePaddingMS = *f.SilencePaddingMS
	}
	if f.MatchBitrate != nil {
		cfg.MatchBitrate = *f.MatchBitrate
	}
	if f.AllowOverwrite != nil {
		cfg.AllowOverwrite = *f.AllowOverwrite
	}
	return nil
}
