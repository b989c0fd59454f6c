package processor

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/linuxmatters/nightfever/internal/audio"
)

// ChunkSpec is the silence scan resolution: either a fixed chunk width in
// milliseconds, or a fraction of the clip's total duration resolved once
// per clip. Exactly one of the two fields may be set.
type ChunkSpec struct {
	MS       int
	Fraction float64
}

// IsZero reports whether the spec is unset.
func (s ChunkSpec) IsZero() bool {
	return s.MS == 0 && s.Fraction == 0
}

// Validate checks the spec's internal consistency.
func (s ChunkSpec) Validate() error {
	switch {
	case s.MS != 0 && s.Fraction != 0:
		return &ConfigError{Field: "chunk", Constraint: "either a duration or a fraction, not both", Value: s}
	case s.MS < 0:
		return &ConfigError{Field: "chunk", Constraint: "a positive duration in milliseconds", Value: s.MS}
	case s.MS == 0 && (math.IsNaN(s.Fraction) || s.Fraction <= 0 || s.Fraction >= 1):
		return &ConfigError{Field: "chunk", Constraint: "a fraction in the open interval (0,1)", Value: s.Fraction}
	}
	return nil
}

// Resolve converts the spec to a concrete chunk width for a clip of the
// given duration. Fractions resolve to max(round(f*duration), 1) so the
// chunk never collapses to zero width on short clips.
func (s ChunkSpec) Resolve(durationMS int) int {
	if s.MS > 0 {
		return s.MS
	}
	chunk := int(math.Round(s.Fraction * float64(durationMS)))
	if chunk < 1 {
		chunk = 1
	}
	return chunk
}

func (s ChunkSpec) String() string {
	if s.Fraction != 0 {
		return strconv.FormatFloat(s.Fraction, 'g', -1, 64)
	}
	return fmt.Sprintf("%dms", s.MS)
}

// ParseChunkSpec parses a chunk specification from its text form: a whole
// number of milliseconds ("50"), a ratio ("1/100"), or a decimal fraction
// ("0.01").
func ParseChunkSpec(text string) (ChunkSpec, error) {
	text = strings.TrimSpace(strings.TrimSuffix(text, "ms"))

	if num, den, ok := strings.Cut(text, "/"); ok {
		n, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
		if err != nil {
			return ChunkSpec{}, fmt.Errorf("invalid chunk ratio %q: %w", text, err)
		}
		d, err := strconv.ParseFloat(strings.TrimSpace(den), 64)
		if err != nil {
			return ChunkSpec{}, fmt.Errorf("invalid chunk ratio %q: %w", text, err)
		}
		if d == 0 {
			return ChunkSpec{}, fmt.Errorf("invalid chunk ratio %q: zero denominator", text)
		}
		spec := ChunkSpec{Fraction: n / d}
		return spec, spec.Validate()
	}

	if ms, err := strconv.Atoi(text); err == nil {
		spec := ChunkSpec{MS: ms}
		return spec, spec.Validate()
	}

	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return ChunkSpec{}, fmt.Errorf("invalid chunk spec %q", text)
	}
	spec := ChunkSpec{Fraction: f}
	return spec, spec.Validate()
}

// ScanSilenceBoundary walks buf chunk by chunk and returns the position in
// milliseconds where non-silence begins (positive chunkMS, scanning
// forward from the start) or ends (negative chunkMS, scanning backward
// from the end). A chunk is silent when its RMS level is below
// thresholdDBFS.
//
// The returned position is clamped to [0, duration]. A forward return of 0
// and a backward return of duration both mean "no silence at this edge";
// a forward return of duration and a backward return of 0 both mean the
// scan consumed the whole clip without finding content. The boundary value
// alone cannot distinguish an all-silent clip from one with no silent
// edge, so callers must treat both extremes as a no-trim signal.
func ScanSilenceBoundary(buf *audio.Buffer, thresholdDBFS float64, chunkMS int) (int, error) {
	if math.IsNaN(thresholdDBFS) || math.IsInf(thresholdDBFS, 0) || thresholdDBFS >= 0 {
		return 0, fmt.Errorf("silence threshold must be finite and negative, got %v", thresholdDBFS)
	}
	if chunkMS == 0 {
		return 0, fmt.Errorf("chunk size must be non-zero")
	}

	duration := buf.DurationMS()

	if chunkMS > 0 {
		pos := 0
		for pos < duration && buf.SliceMS(pos, pos+chunkMS).DBFS() < thresholdDBFS {
			pos += chunkMS
		}
		if pos > duration {
			pos = duration
		}
		return pos, nil
	}

	width := -chunkMS
	pos := duration
	for pos > 0 && buf.SliceMS(pos-width, pos).DBFS() < thresholdDBFS {
		pos -= width
	}
	if pos < 0 {
		pos = 0
	}
	return pos, nil
}

// TrimSilence removes silent material from both edges of buf and reports
// how much was dropped from each. The trailing scan runs on the
// lead-trimmed buffer, so the two edges are not measured independently.
// An all-silent clip, or one whose content starts inside the first chunk,
// passes through unchanged at that edge; the clip is never trimmed to
// zero length.
func TrimSilence(buf *audio.Buffer, thresholdDBFS float64, chunkMS int) (trimmed *audio.Buffer, leadMS, trailMS int, err error) {
	if chunkMS <= 0 {
		return nil, 0, 0, fmt.Errorf("chunk size must be positive, got %d", chunkMS)
	}
	duration := buf.DurationMS()

	lead, err := ScanSilenceBoundary(buf, thresholdDBFS, chunkMS)
	if err != nil {
		return nil, 0, 0, err
	}
	if lead > 0 && lead < duration {
		buf = buf.SliceMS(lead, duration)
		leadMS = lead
	}

	duration = buf.DurationMS()
	tail, err := ScanSilenceBoundary(buf, thresholdDBFS, -chunkMS)
	if err != nil {
		return nil, 0, 0, err
	}
	if tail > 0 && tail < duration {
		buf = buf.SliceMS(0, tail)
		trailMS = duration - tail
	}

	return buf, leadMS, trailMS, nil
}

// PadSilence returns buf with paddingMS of digital silence on each end.
// Zero padding still yields a new buffer.
func PadSilence(buf *audio.Buffer, paddingMS int) (*audio.Buffer, error) {
	pad := audio.Silent(paddingMS, buf.SampleRate(), buf.Channels())
	return pad.Concat(buf, pad)
}
