// Package audio provides the in-memory PCM buffer model and the
// ffmpeg-go backed decode/encode/metering capabilities built on it.
package audio

import (
	"fmt"
	"math"
)

// Buffer is an immutable in-memory PCM clip: interleaved float64 samples
// in [-1, 1] with sample rate and channel metadata. Operations return new
// buffers; the receiver is never modified in place, which keeps pipeline
// stages composable and independently testable.
type Buffer struct {
	sampleRate int
	channels   int
	samples    []float64
}

// NewBuffer wraps interleaved samples in a Buffer. The sample slice length
// must be a whole number of frames for the given channel count.
func NewBuffer(sampleRate, channels int, samples []float64) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("channel count must be positive, got %d", channels)
	}
	if len(samples)%channels != 0 {
		return nil, fmt.Errorf("sample count %d is not a whole number of %d-channel frames", len(samples), channels)
	}
	return &Buffer{sampleRate: sampleRate, channels: channels, samples: samples}, nil
}

// Silent returns a buffer of digital silence with the given duration.
func Silent(durationMS, sampleRate, channels int) *Buffer {
	frames := durationMS * sampleRate / 1000
	return &Buffer{
		sampleRate: sampleRate,
		channels:   channels,
		samples:    make([]float64, frames*channels),
	}
}

// SampleRate returns the sample rate in Hz.
func (b *Buffer) SampleRate() int { return b.sampleRate }

// Channels returns the channel count.
func (b *Buffer) Channels() int { return b.channels }

// NumFrames returns the number of sample frames.
func (b *Buffer) NumFrames() int { return len(b.samples) / b.channels }

// Samples returns the interleaved sample data. Callers must not mutate it.
func (b *Buffer) Samples() []float64 { return b.samples }

// DurationMS returns the clip duration in whole milliseconds.
func (b *Buffer) DurationMS() int {
	return b.NumFrames() * 1000 / b.sampleRate
}

// frameAt converts a millisecond position to a frame index, clamped to the
// buffer bounds.
func (b *Buffer) frameAt(ms int) int {
	frame := ms * b.sampleRate / 1000
	if frame < 0 {
		return 0
	}
	if frame > b.NumFrames() {
		return b.NumFrames()
	}
	return frame
}

// SliceMS returns the sub-clip covering [fromMS, toMS). Positions are
// clamped to the buffer, so out-of-range slices yield an empty buffer
// rather than an error.
func (b *Buffer) SliceMS(fromMS, toMS int) *Buffer {
	lo := b.frameAt(fromMS)
	hi := b.frameAt(toMS)
	if hi < lo {
		hi = lo
	}
	return &Buffer{
		sampleRate: b.sampleRate,
		channels:   b.channels,
		samples:    b.samples[lo*b.channels : hi*b.channels],
	}
}

// Concat returns a new buffer holding the receiver followed by each of the
// given buffers. All buffers must share sample rate and channel count.
func (b *Buffer) Concat(others ...*Buffer) (*Buffer, error) {
	total := len(b.samples)
	for _, o := range others {
		if o.sampleRate != b.sampleRate || o.channels != b.channels {
			return nil, fmt.Errorf("cannot concatenate %dHz/%dch buffer onto %dHz/%dch buffer",
				o.sampleRate, o.channels, b.sampleRate, b.channels)
		}
		total += len(o.samples)
	}
	samples := make([]float64, 0, total)
	samples = append(samples, b.samples...)
	for _, o := range others {
		samples = append(samples, o.samples...)
	}
	return &Buffer{sampleRate: b.sampleRate, channels: b.channels, samples: samples}, nil
}

// Gained returns a copy with every sample multiplied by scale.
// No clipping is applied; samples may exceed full scale.
func (b *Buffer) Gained(scale float64) *Buffer {
	samples := make([]float64, len(b.samples))
	for i, s := range b.samples {
		samples[i] = s * scale
	}
	return &Buffer{sampleRate: b.sampleRate, channels: b.channels, samples: samples}
}

// GainedDB returns a copy with a uniform gain of db decibels applied.
func (b *Buffer) GainedDB(db float64) *Buffer {
	return b.Gained(DbToLinear(db))
}

// Normalised returns a copy with uniform gain bringing the sample peak to
// headroomDB below full scale. An all-zero buffer is returned unchanged.
func (b *Buffer) Normalised(headroomDB float64) *Buffer {
	peak := b.peak()
	if peak == 0 {
		return b.SliceMS(0, b.DurationMS())
	}
	target := DbToLinear(-headroomDB)
	return b.Gained(target / peak)
}

// peak returns the largest absolute sample value.
func (b *Buffer) peak() float64 {
	var peak float64
	for _, s := range b.samples {
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	return peak
}

// DBFS returns the RMS level of the clip relative to full scale.
// An empty or all-zero clip measures negative infinity.
func (b *Buffer) DBFS() float64 {
	if len(b.samples) == 0 {
		return math.Inf(-1)
	}
	var sumSquares float64
	for _, s := range b.samples {
		sumSquares += s * s
	}
	rms := math.Sqrt(sumSquares / float64(len(b.samples)))
	return LinearToDb(rms)
}

// PeakDBFS returns the sample peak level relative to full scale.
func (b *Buffer) PeakDBFS() float64 {
	return LinearToDb(b.peak())
}

// DbToLinear converts a decibel value to linear amplitude.
func DbToLinear(db float64) float64 {
	return math.Pow(10, db/20.0)
}

// LinearToDb converts linear amplitude to decibels.
// Non-positive amplitudes measure negative infinity.
func LinearToDb(linear float64) float64 {
	if linear <= 0 {
		return math.Inf(-1)
	}
	return 20.0 * math.Log10(linear)
}
