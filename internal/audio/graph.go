package audio

import (
	"errors"
	"fmt"
	"unsafe"

	ffmpeg "github.com/csnewman/ffmpeg-go"
)

// graphFrameSize is the number of frames pushed per AVFrame when feeding a
// buffer through a filter graph.
const graphFrameSize = 4096

// channelLayoutName returns the layout string used for abuffer/aformat
// arguments. Unusual counts use libav's "<N>c" unspecified-order syntax.
func channelLayoutName(channels int) string {
	switch channels {
	case 1:
		return "mono"
	case 2:
		return "stereo"
	default:
		return fmt.Sprintf("%dc", channels)
	}
}

// setupBufferFilterGraph creates a filter graph whose abuffer source
// accepts packed float64 frames with the given sample rate and channel
// count. Returns the graph plus its source and sink contexts.
func setupBufferFilterGraph(sampleRate, channels int, filterSpec string) (
	*ffmpeg.AVFilterGraph, *ffmpeg.AVFilterContext, *ffmpeg.AVFilterContext, error,
) {
	filterGraph := ffmpeg.AVFilterGraphAlloc()
	if filterGraph == nil {
		return nil, nil, nil, fmt.Errorf("failed to allocate filter graph")
	}

	bufferSrc := ffmpeg.AVFilterGetByName(ffmpeg.GlobalCStr("abuffer"))
	if bufferSrc == nil {
		ffmpeg.AVFilterGraphFree(&filterGraph)
		return nil, nil, nil, fmt.Errorf("abuffer filter not found")
	}

	args := fmt.Sprintf(
		"time_base=1/%d:sample_rate=%d:sample_fmt=dbl:channel_layout=%s",
		sampleRate, sampleRate, channelLayoutName(channels),
	)
	argsC := ffmpeg.ToCStr(args)
	defer argsC.Free()

	var bufferSrcCtx *ffmpeg.AVFilterContext
	if _, err := ffmpeg.AVFilterGraphCreateFilter(
		&bufferSrcCtx, bufferSrc, ffmpeg.GlobalCStr("in"), argsC, nil, filterGraph,
	); err != nil {
		ffmpeg.AVFilterGraphFree(&filterGraph)
		return nil, nil, nil, fmt.Errorf("failed to create abuffer: %w", err)
	}

	bufferSink := ffmpeg.AVFilterGetByName(ffmpeg.GlobalCStr("abuffersink"))
	if bufferSink == nil {
		ffmpeg.AVFilterGraphFree(&filterGraph)
		return nil, nil, nil, fmt.Errorf("abuffersink filter not found")
	}

	var bufferSinkCtx *ffmpeg.AVFilterContext
	if _, err := ffmpeg.AVFilterGraphCreateFilter(
		&bufferSinkCtx, bufferSink, ffmpeg.GlobalCStr("out"), nil, nil, filterGraph,
	); err != nil {
		ffmpeg.AVFilterGraphFree(&filterGraph)
		return nil, nil, nil, fmt.Errorf("failed to create abuffersink: %w", err)
	}

	outputs := ffmpeg.AVFilterInoutAlloc()
	inputs := ffmpeg.AVFilterInoutAlloc()
	defer ffmpeg.AVFilterInoutFree(&outputs)
	defer ffmpeg.AVFilterInoutFree(&inputs)

	outputs.SetName(ffmpeg.ToCStr("in"))
	outputs.SetFilterCtx(bufferSrcCtx)
	outputs.SetPadIdx(0)
	outputs.SetNext(nil)

	inputs.SetName(ffmpeg.ToCStr("out"))
	inputs.SetFilterCtx(bufferSinkCtx)
	inputs.SetPadIdx(0)
	inputs.SetNext(nil)

	filterSpecC := ffmpeg.ToCStr(filterSpec)
	defer filterSpecC.Free()

	if _, err := ffmpeg.AVFilterGraphParsePtr(filterGraph, filterSpecC, &inputs, &outputs, nil); err != nil {
		ffmpeg.AVFilterGraphFree(&filterGraph)
		return nil, nil, nil, fmt.Errorf("failed to parse filter graph: %w", err)
	}

	if _, err := ffmpeg.AVFilterGraphConfig(filterGraph, nil); err != nil {
		ffmpeg.AVFilterGraphFree(&filterGraph)
		return nil, nil, nil, fmt.Errorf("failed to configure filter graph: %w", err)
	}

	return filterGraph, bufferSrcCtx, bufferSinkCtx, nil
}

// newSampleFrame allocates an AVFrame holding n packed float64 frames from
// samples, stamped with the given presentation position.
func newSampleFrame(samples []float64, sampleRate, channels, n int, pts int64) (*ffmpeg.AVFrame, error) {
	frame := ffmpeg.AVFrameAlloc()
	if frame == nil {
		return nil, fmt.Errorf("failed to allocate frame")
	}
	frame.SetNbSamples(n)
	frame.SetFormat(int(ffmpeg.AVSampleFmtDbl))
	frame.SetSampleRate(sampleRate)
	ffmpeg.AVChannelLayoutDefault(frame.ChLayout(), channels)

	if _, err := ffmpeg.AVFrameGetBuffer(frame, 0); err != nil {
		ffmpeg.AVFrameFree(&frame)
		return nil, fmt.Errorf("failed to allocate frame buffer: %w", err)
	}

	data := unsafe.Slice((*float64)(frame.Data().Get(0)), n*channels)
	copy(data, samples[:n*channels])
	frame.SetPts(pts)

	return frame, nil
}

// runGraph pushes every sample of buf through filterSpec and hands each
// filtered frame to sink. The sink callback must not retain the frame.
func runGraph(buf *Buffer, filterSpec string, sink func(*ffmpeg.AVFrame) error) error {
	filterGraph, bufferSrcCtx, bufferSinkCtx, err := setupBufferFilterGraph(
		buf.SampleRate(), buf.Channels(), filterSpec,
	)
	if err != nil {
		return err
	}
	defer ffmpeg.AVFilterGraphFree(&filterGraph)

	filteredFrame := ffmpeg.AVFrameAlloc()
	defer ffmpeg.AVFrameFree(&filteredFrame)

	drain := func() error {
		for {
			if _, err := ffmpeg.AVBuffersinkGetFrame(bufferSinkCtx, filteredFrame); err != nil {
				if errors.Is(err, ffmpeg.EAgain) || errors.Is(err, ffmpeg.AVErrorEOF) {
					return nil
				}
				return fmt.Errorf("failed to get filtered frame: %w", err)
			}
			if err := sink(filteredFrame); err != nil {
				ffmpeg.AVFrameUnref(filteredFrame)
				return err
			}
			ffmpeg.AVFrameUnref(filteredFrame)
		}
	}

	samples := buf.Samples()
	channels := buf.Channels()
	total := buf.NumFrames()
	for pos := 0; pos < total; pos += graphFrameSize {
		n := graphFrameSize
		if pos+n > total {
			n = total - pos
		}
		frame, err := newSampleFrame(samples[pos*channels:], buf.SampleRate(), channels, n, int64(pos))
		if err != nil {
			return err
		}
		_, err = ffmpeg.AVBuffersrcAddFrameFlags(bufferSrcCtx, frame, 0)
		ffmpeg.AVFrameFree(&frame)
		if err != nil {
			return fmt.Errorf("failed to add frame to filter: %w", err)
		}
		if err := drain(); err != nil {
			return err
		}
	}

	// Flush the filter graph
	if _, err := ffmpeg.AVBuffersrcAddFrameFlags(bufferSrcCtx, nil, 0); err != nil {
		return fmt.Errorf("failed to flush filter: %w", err)
	}
	return drain()
}

// runFilter applies filterSpec to buf and returns the filtered audio as a
// new buffer with the original sample rate and channel count. An aformat
// stage is appended so the sink always yields packed float64.
func runFilter(buf *Buffer, filterSpec string) (*Buffer, error) {
	spec := fmt.Sprintf("%s,aformat=sample_rates=%d:sample_fmts=dbl:channel_layouts=%s",
		filterSpec, buf.SampleRate(), channelLayoutName(buf.Channels()))

	samples := make([]float64, 0, len(buf.Samples()))
	err := runGraph(buf, spec, func(frame *ffmpeg.AVFrame) error {
		var err error
		samples, err = appendFrameSamples(samples, frame)
		return err
	})
	if err != nil {
		return nil, err
	}
	return NewBuffer(buf.SampleRate(), buf.Channels(), samples)
}
