package processor

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/linuxmatters/nightfever/internal/audio"
)

// fakeDecoder returns a fixed buffer and counts calls, so tests can
// verify that rejected runs never touch the input.
type fakeDecoder struct {
	buf   *audio.Buffer
	calls int
}

func (d *fakeDecoder) Decode(string) (*audio.Buffer, error) {
	d.calls++
	return d.buf, nil
}

// fakeEncoder records what it was asked to write and creates the output
// file so the rename into place succeeds.
type fakeEncoder struct {
	buf     *audio.Buffer
	path    string
	bitrate int
}

func (e *fakeEncoder) Encode(buf *audio.Buffer, path string, bitrateKbps int) error {
	e.buf = buf
	e.path = path
	e.bitrate = bitrateKbps
	return os.WriteFile(path, []byte("encoded"), 0o644)
}

// fakeMeter reports a fixed loudness and captures the measured buffer.
type fakeMeter struct {
	lufs float64
	buf  *audio.Buffer
}

func (m *fakeMeter) IntegratedLoudness(buf *audio.Buffer) (float64, error) {
	m.buf = buf
	return m.lufs, nil
}

// passthroughCompressor returns its input unchanged.
type passthroughCompressor struct{}

func (passthroughCompressor) Compress(buf *audio.Buffer) (*audio.Buffer, error) {
	return buf, nil
}

// fakeAnalyzer returns fixed bitrate stats.
type fakeAnalyzer struct {
	stats audio.Stats
	calls int
}

func (a *fakeAnalyzer) Analyze(string) (audio.Stats, error) {
	a.calls++
	return a.stats, nil
}

func testPipeline(t *testing.T, lufs float64) (*Pipeline, *fakeDecoder, *fakeEncoder, *fakeMeter, *fakeAnalyzer) {
	t.Helper()
	dec := &fakeDecoder{buf: paddedTone(t, 300, 1400, 300)}
	enc := &fakeEncoder{}
	meter := &fakeMeter{lufs: lufs}
	analyzer := &fakeAnalyzer{stats: audio.Stats{MinKbps: 96, AvgKbps: 110, MaxKbps: 127.3}}
	return NewWith(dec, enc, meter, passthroughCompressor{}, analyzer), dec, enc, meter, analyzer
}

func TestProcessRejectsInvalidConfigBeforeDecode(t *testing.T) {
	p, dec, _, _, _ := testPipeline(t, -20)

	cfg := DefaultConfig()
	cfg.LUFSTarget = 3

	_, err := p.Process(context.Background(), PathSource{Path: "in.flac"}, "out.flac", cfg, nil)

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want *ConfigError", err)
	}
	if cfgErr.Field != "lufs_target" {
		t.Errorf("offending field = %q, want lufs_target", cfgErr.Field)
	}
	if dec.calls != 0 {
		t.Errorf("decoder called %d times before validation failure, want 0", dec.calls)
	}
}

func TestProcessRefusesOverwrite(t *testing.T) {
	p, dec, _, _, _ := testPipeline(t, -20)

	dir := t.TempDir()
	in := filepath.Join(dir, "episode.flac")
	if err := os.WriteFile(in, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Run("explicit same output", func(t *testing.T) {
		_, err := p.Process(context.Background(), PathSource{Path: in}, in, DefaultConfig(), nil)
		if !errors.Is(err, ErrOverwriteRefused) {
			t.Fatalf("error = %v, want ErrOverwriteRefused", err)
		}
	})

	t.Run("empty output means in place", func(t *testing.T) {
		_, err := p.Process(context.Background(), PathSource{Path: in}, "", DefaultConfig(), nil)
		if !errors.Is(err, ErrOverwriteRefused) {
			t.Fatalf("error = %v, want ErrOverwriteRefused", err)
		}
	})

	if dec.calls != 0 {
		t.Errorf("decoder called %d times, want 0", dec.calls)
	}
	data, err := os.ReadFile(in)
	if err != nil || string(data) != "original" {
		t.Errorf("input file modified: %q, %v", data, err)
	}
}

func TestProcessAllowsOverwriteWhenPermitted(t *testing.T) {
	p, dec, enc, _, _ := testPipeline(t, -20)

	dir := t.TempDir()
	in := filepath.Join(dir, "episode.flac")
	if err := os.WriteFile(in, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.AllowOverwrite = true

	result, err := p.Process(context.Background(), PathSource{Path: in}, "", cfg, nil)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if dec.calls != 1 {
		t.Errorf("decoder called %d times, want 1", dec.calls)
	}
	if result.OutputPath != in {
		t.Errorf("OutputPath = %q, want %q", result.OutputPath, in)
	}
	if enc.path == in {
		t.Error("encoder wrote the final path directly instead of a temporary sibling")
	}
	data, err := os.ReadFile(in)
	if err != nil || string(data) != "encoded" {
		t.Errorf("output not moved into place: %q, %v", data, err)
	}
}

func TestProcessAppliesLoudnessGain(t *testing.T) {
	p, _, enc, meter, _ := testPipeline(t, -20)

	dir := t.TempDir()
	out := filepath.Join(dir, "out.flac")

	cfg := DefaultConfig()
	cfg.LUFSTarget = -14
	cfg.SilenceThresholdDBFS = -50
	cfg.Chunk = ChunkSpec{MS: 50}

	result, err := p.Process(context.Background(), PathSource{Path: filepath.Join(dir, "in.flac")}, out, cfg, nil)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if math.Abs(result.GainDB-6) > 1e-9 {
		t.Errorf("GainDB = %v, want 6", result.GainDB)
	}
	if result.InputLUFS != -20 {
		t.Errorf("InputLUFS = %v, want -20", result.InputLUFS)
	}

	// The encoded buffer carries the gain relative to the measured one
	delta := enc.buf.DBFS() - meter.buf.DBFS()
	if math.Abs(delta-6) > 0.01 {
		t.Errorf("encoded level delta = %v dB, want 6", delta)
	}
}

func TestProcessTrimsAndPads(t *testing.T) {
	p, _, enc, _, _ := testPipeline(t, -20)

	dir := t.TempDir()
	out := filepath.Join(dir, "out.flac")

	cfg := DefaultConfig()
	cfg.SilenceThresholdDBFS = -50
	cfg.Chunk = ChunkSpec{MS: 50}
	cfg.SilencePaddingMS = 100

	result, err := p.Process(context.Background(), PathSource{Path: filepath.Join(dir, "in.flac")}, out, cfg, nil)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if result.TrimmedLeadMS < 250 || result.TrimmedLeadMS > 350 {
		t.Errorf("TrimmedLeadMS = %d, want ~300", result.TrimmedLeadMS)
	}
	if result.TrimmedTrailMS < 250 || result.TrimmedTrailMS > 350 {
		t.Errorf("TrimmedTrailMS = %d, want ~300", result.TrimmedTrailMS)
	}

	// 2000ms input, ~600ms trimmed, 2x100ms padding
	if got := enc.buf.DurationMS(); got < 1550 || got > 1650 {
		t.Errorf("output duration = %dms, want ~1600", got)
	}
	if result.OutputDurationMS != enc.buf.DurationMS() {
		t.Errorf("OutputDurationMS = %d, want %d", result.OutputDurationMS, enc.buf.DurationMS())
	}
}

func TestProcessMatchesBitrate(t *testing.T) {
	p, _, enc, _, analyzer := testPipeline(t, -20)

	dir := t.TempDir()
	out := filepath.Join(dir, "out.flac")

	cfg := DefaultConfig()
	cfg.MatchBitrate = true

	result, err := p.Process(context.Background(), PathSource{Path: filepath.Join(dir, "in.flac")}, out, cfg, nil)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if analyzer.calls != 1 {
		t.Errorf("analyzer called %d times, want 1", analyzer.calls)
	}
	// Peak 127.3 kbit/s rounds up to 128
	if result.BitrateKbps != 128 {
		t.Errorf("BitrateKbps = %d, want 128", result.BitrateKbps)
	}
	if enc.bitrate != 128 {
		t.Errorf("encoder bitrate hint = %d, want 128", enc.bitrate)
	}
}

func TestProcessBitrateMatchingOffByDefault(t *testing.T) {
	p, _, enc, _, analyzer := testPipeline(t, -20)

	dir := t.TempDir()
	out := filepath.Join(dir, "out.flac")

	_, err := p.Process(context.Background(), PathSource{Path: filepath.Join(dir, "in.flac")}, out, DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if analyzer.calls != 0 {
		t.Errorf("analyzer called %d times, want 0", analyzer.calls)
	}
	if enc.bitrate != 0 {
		t.Errorf("encoder bitrate hint = %d, want 0", enc.bitrate)
	}
}

func TestProcessStreamInputReturnsStream(t *testing.T) {
	p, dec, _, _, _ := testPipeline(t, -20)

	src := StreamSource{Reader: bytes.NewReader([]byte("fake encoded input"))}
	result, err := p.Process(context.Background(), src, "", DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if dec.calls != 1 {
		t.Errorf("decoder called %d times, want 1", dec.calls)
	}
	if result.Output == nil {
		t.Fatal("Output = nil, want in-memory result")
	}
	if got := result.Output.String(); got != "encoded" {
		t.Errorf("Output = %q, want encoder payload", got)
	}
	if result.OutputPath != "" {
		t.Errorf("OutputPath = %q, want empty for stream output", result.OutputPath)
	}
}

func TestProcessStreamInputWithOutputPath(t *testing.T) {
	p, _, _, _, _ := testPipeline(t, -20)

	dir := t.TempDir()
	out := filepath.Join(dir, "out.flac")

	src := StreamSource{Reader: strings.NewReader("fake encoded input")}
	result, err := p.Process(context.Background(), src, out, DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if result.Output != nil {
		t.Error("Output set despite explicit output path")
	}
	if result.OutputPath != out {
		t.Errorf("OutputPath = %q, want %q", result.OutputPath, out)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("output file missing: %v", err)
	}
}

func TestProcessReportsStages(t *testing.T) {
	p, _, _, _, _ := testPipeline(t, -20)

	dir := t.TempDir()
	out := filepath.Join(dir, "out.flac")

	var stages []Stage
	_, err := p.Process(context.Background(), PathSource{Path: filepath.Join(dir, "in.flac")}, out, DefaultConfig(), func(s Stage) {
		stages = append(stages, s)
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	want := []Stage{
		StageDecoding, StageTrimming, StagePadding, StageCompressing,
		StageMeasuring, StageNormalising, StageEncoding,
	}
	if len(stages) != len(want) {
		t.Fatalf("got %d stage transitions, want %d", len(stages), len(want))
	}
	for i, s := range want {
		if stages[i] != s {
			t.Errorf("stage[%d] = %v, want %v", i, stages[i], s)
		}
	}
}
