package processor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/linuxmatters/nightfever/internal/audio"
)

// Decoder decodes an encoded audio file into a PCM buffer.
type Decoder interface {
	Decode(path string) (*audio.Buffer, error)
}

// Encoder writes a PCM buffer to an audio file, honouring an optional
// bitrate hint. A zero bitrate leaves the codec default in place.
type Encoder interface {
	Encode(buf *audio.Buffer, path string, bitrateKbps int) error
}

// Meter measures BS.1770 integrated loudness.
type Meter interface {
	IntegratedLoudness(buf *audio.Buffer) (float64, error)
}

// Compressor applies dynamic range compression.
type Compressor interface {
	Compress(buf *audio.Buffer) (*audio.Buffer, error)
}

// BitrateAnalyzer measures windowed bitrate statistics of an encoded file.
type BitrateAnalyzer interface {
	Analyze(path string) (audio.Stats, error)
}

// Source identifies where the input audio comes from. Resolution to a
// readable path happens once at the start of Process; no later stage
// re-inspects the source's original form.
type Source interface {
	isSource()
}

// PathSource reads the input from a filesystem path.
type PathSource struct {
	Path string
}

func (PathSource) isSource() {}

// StreamSource reads the input from an open stream. The stream is spooled
// to a temporary file before decoding, since container probing needs a
// seekable source.
type StreamSource struct {
	Reader io.Reader
}

func (StreamSource) isSource() {}

// Stage identifies a pipeline phase for progress reporting.
type Stage int

const (
	StageDecoding Stage = iota
	StageTrimming
	StagePadding
	StageCompressing
	StageMeasuring
	StageNormalising
	StageEncoding
)

func (s Stage) String() string {
	switch s {
	case StageDecoding:
		return "Decoding"
	case StageTrimming:
		return "Trimming silence"
	case StagePadding:
		return "Padding"
	case StageCompressing:
		return "Compressing"
	case StageMeasuring:
		return "Measuring loudness"
	case StageNormalising:
		return "Normalising"
	case StageEncoding:
		return "Encoding"
	default:
		return "Processing"
	}
}

// Progress receives stage transitions. May be nil.
type Progress func(Stage)

// Result summarises one pipeline run.
type Result struct {
	// OutputPath is the file the processed audio was written to. Empty
	// when Output carries the result instead.
	OutputPath string

	// Output holds the encoded result for stream input with no output
	// target. Nil otherwise.
	Output *bytes.Buffer

	TrimmedLeadMS  int
	TrimmedTrailMS int

	// InputLUFS is the integrated loudness measured after compression,
	// before the normalising gain.
	InputLUFS float64

	// GainDB is the uniform gain applied to reach the loudness target.
	GainDB float64

	// BitrateKbps is the bitrate hint passed to the encoder, 0 when
	// bitrate matching was disabled.
	BitrateKbps int

	InputDurationMS  int
	OutputDurationMS int
}

// Pipeline sequences the processing stages over pluggable capabilities.
// The zero value is not usable; construct with New.
type Pipeline struct {
	decoder    Decoder
	encoder    Encoder
	meter      Meter
	compressor Compressor
	bitrate    BitrateAnalyzer
}

// New returns a pipeline backed by the libav capabilities.
func New() *Pipeline {
	return &Pipeline{
		decoder:    audio.Decoder{},
		encoder:    audio.Encoder{},
		meter:      audio.Meter{},
		compressor: audio.Compressor{},
		bitrate:    audio.Analyzer{},
	}
}

// NewWith returns a pipeline over the given capabilities.
func NewWith(d Decoder, e Encoder, m Meter, c Compressor, b BitrateAnalyzer) *Pipeline {
	return &Pipeline{decoder: d, encoder: e, meter: m, compressor: c, bitrate: b}
}

// Process runs the full chain over src: validate, decode, trim, pad,
// compress, measure, normalise, encode. Bitrate analysis of the original
// source runs concurrently with the buffer chain when enabled, since it
// only reads the encoded input.
//
// outputPath may be empty: path input then processes in place (subject to
// the overwrite check), stream input returns the encoded result in
// Result.Output. The output file is written via a temporary sibling and
// renamed into place, so a failed run leaves no partial output.
func (p *Pipeline) Process(ctx context.Context, src Source, outputPath string, cfg Config, progress Progress) (*Result, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if progress == nil {
		progress = func(Stage) {}
	}

	inputPath, cleanup, streamOutput, err := resolveSource(src, &outputPath, cfg.AllowOverwrite)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	progress(StageDecoding)
	buf, err := p.decoder.Decode(inputPath)
	if err != nil {
		return nil, err
	}

	result := &Result{InputDurationMS: buf.DurationMS()}

	g, _ := errgroup.WithContext(ctx)

	if cfg.MatchBitrate {
		g.Go(func() error {
			stats, err := p.bitrate.Analyze(inputPath)
			if err != nil {
				return err
			}
			result.BitrateKbps = int(math.Ceil(stats.MaxKbps))
			return nil
		})
	}

	g.Go(func() error {
		// Bring the peak to just below full scale before scanning, so the
		// silence threshold measures against a consistent reference level
		buf = buf.Normalised(0.1)

		progress(StageTrimming)
		chunkMS := cfg.Chunk.Resolve(buf.DurationMS())
		var lead, trail int
		var err error
		buf, lead, trail, err = TrimSilence(buf, cfg.SilenceThresholdDBFS, chunkMS)
		if err != nil {
			return err
		}
		result.TrimmedLeadMS = lead
		result.TrimmedTrailMS = trail

		progress(StagePadding)
		buf, err = PadSilence(buf, cfg.SilencePaddingMS)
		if err != nil {
			return err
		}

		progress(StageCompressing)
		buf, err = p.compressor.Compress(buf)
		if err != nil {
			return err
		}

		progress(StageMeasuring)
		measured, err := p.meter.IntegratedLoudness(buf)
		if err != nil {
			return err
		}
		result.InputLUFS = measured

		progress(StageNormalising)
		// Digital silence measures -Inf LUFS; no finite gain reaches the
		// target, so leave it untouched
		if !math.IsInf(measured, -1) {
			result.GainDB = cfg.LUFSTarget - measured
			buf = buf.GainedDB(result.GainDB)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	result.OutputDurationMS = buf.DurationMS()

	progress(StageEncoding)
	if streamOutput {
		data, err := p.encodeToMemory(buf, result.BitrateKbps)
		if err != nil {
			return nil, err
		}
		result.Output = data
		return result, nil
	}

	if err := p.encodeToPath(buf, outputPath, result.BitrateKbps); err != nil {
		return nil, err
	}
	result.OutputPath = outputPath
	return result, nil
}

// resolveSource turns src into a readable path, finalises outputPath, and
// applies the overwrite check before any read of the input happens.
func resolveSource(src Source, outputPath *string, allowOverwrite bool) (inputPath string, cleanup func(), streamOutput bool, err error) {
	cleanup = func() {}

	switch s := src.(type) {
	case PathSource:
		inputPath, err = filepath.Abs(s.Path)
		if err != nil {
			return "", cleanup, false, fmt.Errorf("failed to resolve input path: %w", err)
		}
		if *outputPath == "" {
			*outputPath = inputPath
		}
		resolved, err := filepath.Abs(*outputPath)
		if err != nil {
			return "", cleanup, false, fmt.Errorf("failed to resolve output path: %w", err)
		}
		*outputPath = resolved
		if resolved == inputPath && !allowOverwrite {
			return "", cleanup, false, fmt.Errorf("%w: %s", ErrOverwriteRefused, inputPath)
		}
		return inputPath, cleanup, false, nil

	case StreamSource:
		tmp, err := os.CreateTemp("", "nightfever-in-*")
		if err != nil {
			return "", cleanup, false, fmt.Errorf("failed to spool input stream: %w", err)
		}
		cleanup = func() { os.Remove(tmp.Name()) }
		if _, err := io.Copy(tmp, s.Reader); err != nil {
			tmp.Close()
			return "", cleanup, false, fmt.Errorf("failed to spool input stream: %w", err)
		}
		if err := tmp.Close(); err != nil {
			return "", cleanup, false, fmt.Errorf("failed to spool input stream: %w", err)
		}
		return tmp.Name(), cleanup, *outputPath == "", nil

	default:
		return "", cleanup, false, fmt.Errorf("unsupported source type %T", src)
	}
}

// encodeToPath writes buf next to the final destination and renames it
// into place once the encode succeeds.
func (p *Pipeline) encodeToPath(buf *audio.Buffer, path string, bitrateKbps int) error {
	ext := filepath.Ext(path)
	tmpPath := strings.TrimSuffix(path, ext) + ".partial" + ext

	if err := p.encoder.Encode(buf, tmpPath, bitrateKbps); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}

// encodeToMemory encodes buf to a temporary WAV file and returns its
// contents. Stream output has no extension to infer a container from, so
// WAV is used as the lossless interchange default.
func (p *Pipeline) encodeToMemory(buf *audio.Buffer, bitrateKbps int) (*bytes.Buffer, error) {
	tmp, err := os.CreateTemp("", "nightfever-out-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create output spool: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := p.encoder.Encode(buf, tmpPath, bitrateKbps); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read output spool: %w", err)
	}
	return bytes.NewBuffer(data), nil
}
