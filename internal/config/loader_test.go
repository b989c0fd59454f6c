package config

import (
	"strings"
	"testing"

	"github.com/linuxmatters/nightfever/internal/processor"
)

func TestLoadFromReader(t *testing.T) {
	yaml := `
lufs_target: -16
silence_threshold_dbfs: -40
chunk: "1/100"
silence_padding_ms: 250
match_bitrate: true
`
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader failed: %v", err)
	}

	if cfg.LUFSTarget == nil || *cfg.LUFSTarget != -16 {
		t.Errorf("LUFSTarget = %v, want -16", cfg.LUFSTarget)
	}
	if cfg.SilenceThresholdDBFS == nil || *cfg.SilenceThresholdDBFS != -40 {
		t.Errorf("SilenceThresholdDBFS = %v, want -40", cfg.SilenceThresholdDBFS)
	}
	if cfg.Chunk == nil || *cfg.Chunk != "1/100" {
		t.Errorf("Chunk = %v, want 1/100", cfg.Chunk)
	}
	if cfg.SilencePaddingMS == nil || *cfg.SilencePaddingMS != 250 {
		t.Errorf("SilencePaddingMS = %v, want 250", cfg.SilencePaddingMS)
	}
	if cfg.MatchBitrate == nil || !*cfg.MatchBitrate {
		t.Errorf("MatchBitrate = %v, want true", cfg.MatchBitrate)
	}
	if cfg.AllowOverwrite != nil {
		t.Errorf("AllowOverwrite = %v, want nil for absent field", cfg.AllowOverwrite)
	}
}

func TestLoadFromReaderEmpty(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader failed on empty input: %v", err)
	}
	if cfg.LUFSTarget != nil || cfg.Chunk != nil {
		t.Errorf("empty file produced non-nil fields: %+v", cfg)
	}
}

func TestLoadFromReaderRejectsUnknownKeys(t *testing.T) {
	yaml := `
lufs_target: -14
lufs_tragte: -16
`
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestApply(t *testing.T) {
	lufs := -18.0
	chunk := "50"
	f := &File{LUFSTarget: &lufs, Chunk: &chunk}

	cfg := processor.DefaultConfig()
	cfg.SilencePaddingMS = 500

	if err := f.Apply(&cfg); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if cfg.LUFSTarget != -18 {
		t.Errorf("LUFSTarget = %v, want -18", cfg.LUFSTarget)
	}
	if cfg.Chunk.MS != 50 {
		t.Errorf("Chunk.MS = %d, want 50", cfg.Chunk.MS)
	}
	// Fields absent from the file stay as they were
	if cfg.SilencePaddingMS != 500 {
		t.Errorf("SilencePaddingMS = %d, want 500", cfg.SilencePaddingMS)
	}
	if cfg.SilenceThresholdDBFS != processor.DefaultSilenceThresholdDBFS {
		t.Errorf("SilenceThresholdDBFS = %v, want default", cfg.SilenceThresholdDBFS)
	}
}

func TestApplyRejectsBadChunk(t *testing.T) {
	chunk := "3/2"
	f := &File{Chunk: &chunk}

	cfg := processor.DefaultConfig()
	if err := f.Apply(&cfg); err == nil {
		t.Error("expected error for out-of-range chunk fraction")
	}
}
