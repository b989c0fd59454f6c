package audio

import (
	"errors"
	"fmt"
	"sort"

	ffmpeg "github.com/csnewman/ffmpeg-go"
)

// bitrateWindowSeconds is the aggregation window for bitrate statistics.
// Short windows catch transient peaks that a whole-file average hides.
const bitrateWindowSeconds = 0.1

// Stats summarises the bitrate of an encoded stream over fixed windows.
type Stats struct {
	MinKbps float64
	AvgKbps float64
	MaxKbps float64
}

// Analyzer measures per-window bitrate statistics of encoded audio files
// by walking the packets of the first audio stream without decoding them.
type Analyzer struct{}

// Analyze returns bitrate statistics for the file at path.
func (Analyzer) Analyze(path string) (Stats, error) {
	return AnalyzeBitrate(path)
}

// AnalyzeBitrate demuxes path and buckets the packet sizes of its first
// audio stream into aggregation windows keyed by presentation time. Each
// window's byte count becomes a kbit/s figure; the stats cover all windows
// that received at least one packet.
func AnalyzeBitrate(path string) (Stats, error) {
	pathC := ffmpeg.ToCStr(path)
	defer pathC.Free()

	var fmtCtx *ffmpeg.AVFormatContext
	if _, err := ffmpeg.AVFormatOpenInput(&fmtCtx, pathC, nil, nil); err != nil {
		return Stats{}, fmt.Errorf("failed to open input file: %w", err)
	}
	defer ffmpeg.AVFormatCloseInput(&fmtCtx)

	if _, err := ffmpeg.AVFormatFindStreamInfo(fmtCtx, nil); err != nil {
		return Stats{}, fmt.Errorf("failed to find stream info: %w", err)
	}

	streamIdx := -1
	var stream *ffmpeg.AVStream
	streams := fmtCtx.Streams()
	for i := 0; i < int(fmtCtx.NbStreams()); i++ {
		s := streams.Get(uintptr(i))
		if s.Codecpar().CodecType() == ffmpeg.AVMediaTypeAudio {
			streamIdx = i
			stream = s
			break
		}
	}
	if streamIdx == -1 {
		return Stats{}, fmt.Errorf("no audio stream found in file: %s", path)
	}

	timeBase := stream.TimeBase()
	tickSeconds := float64(timeBase.Num()) / float64(timeBase.Den())

	packet := ffmpeg.AVPacketAlloc()
	if packet == nil {
		return Stats{}, fmt.Errorf("failed to allocate packet for file: %s", path)
	}
	defer ffmpeg.AVPacketFree(&packet)

	windows := make(map[int64]int64)
	for {
		if _, err := ffmpeg.AVReadFrame(fmtCtx, packet); err != nil {
			if errors.Is(err, ffmpeg.AVErrorEOF) {
				break
			}
			return Stats{}, fmt.Errorf("failed to read packet: %w", err)
		}
		if packet.StreamIndex() != streamIdx {
			ffmpeg.AVPacketUnref(packet)
			continue
		}

		ts := packet.Pts()
		if ts == ffmpeg.AVNoptsValue {
			ts = packet.Dts()
		}
		if ts == ffmpeg.AVNoptsValue {
			ffmpeg.AVPacketUnref(packet)
			continue
		}

		window := int64(float64(ts) * tickSeconds / bitrateWindowSeconds)
		windows[window] += int64(packet.Size())
		ffmpeg.AVPacketUnref(packet)
	}

	if len(windows) == 0 {
		return Stats{}, fmt.Errorf("no timestamped audio packets in file: %s", path)
	}

	rates := make([]float64, 0, len(windows))
	for _, bytes := range windows {
		rates = append(rates, float64(bytes)*8/bitrateWindowSeconds/1000)
	}
	sort.Float64s(rates)

	total := 0.0
	for _, r := range rates {
		total += r
	}

	return Stats{
		MinKbps: rates[0],
		AvgKbps: total / float64(len(rates)),
		MaxKbps: rates[len(rates)-1],
	}, nil
}
