package audio

import (
	"errors"
	"fmt"

	ffmpeg "github.com/csnewman/ffmpeg-go"
)

// Encoder writes a Buffer to an audio file, with the container format
// inferred from the output path's extension.
//
// Samples are pushed through an aformat/asetnsamples filter graph so the
// encoder receives frames in its required sample format and frame size,
// then muxed through the container's default audio codec.
type Encoder struct{}

// Encode encodes buf to path. A positive bitrateKbps is passed to the
// codec as its target bitrate; zero leaves the codec default in place.
// Lossless PCM-style codecs ignore the hint, as libav itself does.
func (Encoder) Encode(buf *Buffer, path string, bitrateKbps int) error {
	codecID, err := probeOutputCodec(path)
	if err != nil {
		return err
	}

	sampleFmt, frameSize := encodeFrameLayout(codecID)
	filterSpec := fmt.Sprintf("aformat=sample_rates=%d:channel_layouts=%s:sample_fmts=%s",
		buf.SampleRate(), channelLayoutName(buf.Channels()), sampleFmt)
	if frameSize > 0 {
		filterSpec += fmt.Sprintf(",asetnsamples=n=%d", frameSize)
	}

	filterGraph, bufferSrcCtx, bufferSinkCtx, err := setupBufferFilterGraph(
		buf.SampleRate(), buf.Channels(), filterSpec,
	)
	if err != nil {
		return err
	}
	defer ffmpeg.AVFilterGraphFree(&filterGraph)

	w, err := createOutputEncoder(path, codecID, frameSize, bitrateKbps, bufferSinkCtx)
	if err != nil {
		return err
	}
	defer w.Close()

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
			filteredFrame.SetTimeBase(ffmpeg.AVBuffersinkGetTimeBase(bufferSinkCtx))
			if err := w.WriteFrame(filteredFrame); err != nil {
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

	// Flush the filter graph, then the encoder
	if _, err := ffmpeg.AVBuffersrcAddFrameFlags(bufferSrcCtx, nil, 0); err != nil {
		return fmt.Errorf("failed to flush filter: %w", err)
	}
	if err := drain(); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return w.Close()
}

// probeOutputCodec returns the default audio codec for path's container,
// inferred from the extension. No file is opened.
func probeOutputCodec(path string) (ffmpeg.AVCodecID, error) {
	pathC := ffmpeg.ToCStr(path)
	defer pathC.Free()

	var fmtCtx *ffmpeg.AVFormatContext
	if _, err := ffmpeg.AVFormatAllocOutputContext2(&fmtCtx, nil, nil, pathC); err != nil {
		return 0, fmt.Errorf("no output format for %s: %w", path, err)
	}
	codecID := fmtCtx.Oformat().AudioCodec()
	ffmpeg.AVFormatFreeContext(fmtCtx)

	if codecID == ffmpeg.AVCodecIdNone {
		return 0, fmt.Errorf("container for %s has no default audio codec", path)
	}
	return codecID, nil
}

// encodeFrameLayout returns the sample format name and fixed frame size
// each encoder requires. A zero frame size means the codec accepts
// arbitrary frame sizes (PCM-style containers).
func encodeFrameLayout(codecID ffmpeg.AVCodecID) (string, int) {
	switch codecID {
	case ffmpeg.AVCodecIdFlac:
		return "s16", 4096
	case ffmpeg.AVCodecIdMp3:
		return "s16p", 1152
	case ffmpeg.AVCodecIdAac:
		return "fltp", 1024
	case ffmpeg.AVCodecIdVorbis:
		return "fltp", 64
	case ffmpeg.AVCodecIdOpus:
		return "s16", 960
	default:
		return "s16", 0
	}
}

// encodeWriter wraps the audio encoding and muxing functionality.
type encodeWriter struct {
	fmtCtx    *ffmpeg.AVFormatContext
	encCtx    *ffmpeg.AVCodecContext
	stream    *ffmpeg.AVStream
	packet    *ffmpeg.AVPacket
	streamIdx int
}

// createOutputEncoder creates the muxer and encoder for path, taking the
// negotiated sample parameters from the filter sink.
func createOutputEncoder(path string, codecID ffmpeg.AVCodecID, frameSize, bitrateKbps int, bufferSinkCtx *ffmpeg.AVFilterContext) (*encodeWriter, error) {
	pathC := ffmpeg.ToCStr(path)
	defer pathC.Free()

	var fmtCtx *ffmpeg.AVFormatContext
	if _, err := ffmpeg.AVFormatAllocOutputContext2(&fmtCtx, nil, nil, pathC); err != nil {
		return nil, fmt.Errorf("failed to allocate output context: %w", err)
	}

	codec := ffmpeg.AVCodecFindEncoder(codecID)
	if codec == nil {
		ffmpeg.AVFormatFreeContext(fmtCtx)
		return nil, fmt.Errorf("encoder not found for output: %s", path)
	}

	stream := ffmpeg.AVFormatNewStream(fmtCtx, nil)
	if stream == nil {
		ffmpeg.AVFormatFreeContext(fmtCtx)
		return nil, fmt.Errorf("failed to create stream for output: %s", path)
	}

	encCtx := ffmpeg.AVCodecAllocContext3(codec)
	if encCtx == nil {
		ffmpeg.AVFormatFreeContext(fmtCtx)
		return nil, fmt.Errorf("failed to allocate encoder context for output: %s", path)
	}

	// Take sample format, rate, and channel count from the filter sink so
	// the encoder matches whatever aformat negotiated
	sampleFmt, err := ffmpeg.AVBuffersinkGetFormat(bufferSinkCtx)
	if err != nil {
		ffmpeg.AVCodecFreeContext(&encCtx)
		ffmpeg.AVFormatFreeContext(fmtCtx)
		return nil, fmt.Errorf("failed to get sample format: %w", err)
	}
	sampleRate, err := ffmpeg.AVBuffersinkGetSampleRate(bufferSinkCtx)
	if err != nil {
		ffmpeg.AVCodecFreeContext(&encCtx)
		ffmpeg.AVFormatFreeContext(fmtCtx)
		return nil, fmt.Errorf("failed to get sample rate: %w", err)
	}
	channels, err := ffmpeg.AVBuffersinkGetChannels(bufferSinkCtx)
	if err != nil {
		ffmpeg.AVCodecFreeContext(&encCtx)
		ffmpeg.AVFormatFreeContext(fmtCtx)
		return nil, fmt.Errorf("failed to get channels: %w", err)
	}

	encCtx.SetSampleFmt(ffmpeg.AVSampleFormat(sampleFmt))
	encCtx.SetSampleRate(sampleRate)
	ffmpeg.AVChannelLayoutDefault(encCtx.ChLayout(), channels)
	encCtx.SetTimeBase(ffmpeg.AVBuffersinkGetTimeBase(bufferSinkCtx))

	if frameSize > 0 {
		// Fixed-frame encoders must match the asetnsamples width
		encCtx.SetFrameSize(frameSize)
	}
	if bitrateKbps > 0 {
		encCtx.SetBitRate(int64(bitrateKbps) * 1000)
	}
	if codecID == ffmpeg.AVCodecIdFlac {
		ffmpeg.AVOptSetInt(encCtx.RawPtr(), ffmpeg.GlobalCStr("compression_level"), 5, 0)
	}

	if fmtCtx.Oformat().Flags()&ffmpeg.AVFmtGlobalheader != 0 {
		encCtx.SetFlags(encCtx.Flags() | ffmpeg.AVCodecFlagGlobalHeader)
	}

	if _, err := ffmpeg.AVCodecOpen2(encCtx, codec, nil); err != nil {
		ffmpeg.AVCodecFreeContext(&encCtx)
		ffmpeg.AVFormatFreeContext(fmtCtx)
		return nil, fmt.Errorf("failed to open encoder: %w", err)
	}

	if _, err := ffmpeg.AVCodecParametersFromContext(stream.Codecpar(), encCtx); err != nil {
		ffmpeg.AVCodecFreeContext(&encCtx)
		ffmpeg.AVFormatFreeContext(fmtCtx)
		return nil, fmt.Errorf("failed to copy encoder parameters: %w", err)
	}
	stream.SetTimeBase(encCtx.TimeBase())

	if fmtCtx.Oformat().Flags()&ffmpeg.AVFmtNofile == 0 {
		var pb *ffmpeg.AVIOContext
		if _, err := ffmpeg.AVIOOpen(&pb, pathC, ffmpeg.AVIOFlagWrite); err != nil {
			ffmpeg.AVCodecFreeContext(&encCtx)
			ffmpeg.AVFormatFreeContext(fmtCtx)
			return nil, fmt.Errorf("failed to open output file: %w", err)
		}
		fmtCtx.SetPb(pb)
	}

	if _, err := ffmpeg.AVFormatWriteHeader(fmtCtx, nil); err != nil {
		if fmtCtx.Pb() != nil {
			ffmpeg.AVIOClose(fmtCtx.Pb())
		}
		ffmpeg.AVCodecFreeContext(&encCtx)
		ffmpeg.AVFormatFreeContext(fmtCtx)
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	packet := ffmpeg.AVPacketAlloc()
	if packet == nil {
		if fmtCtx.Pb() != nil {
			ffmpeg.AVIOClose(fmtCtx.Pb())
		}
		ffmpeg.AVCodecFreeContext(&encCtx)
		ffmpeg.AVFormatFreeContext(fmtCtx)
		return nil, fmt.Errorf("failed to allocate packet for output: %s", path)
	}

	return &encodeWriter{
		fmtCtx:    fmtCtx,
		encCtx:    encCtx,
		stream:    stream,
		packet:    packet,
		streamIdx: 0,
	}, nil
}

// WriteFrame encodes and writes a single audio frame.
func (e *encodeWriter) WriteFrame(frame *ffmpeg.AVFrame) error {
	// Rescale PTS to encoder timebase if needed
	if frame.Pts() != ffmpeg.AVNoptsValue {
		frame.SetPts(
			ffmpeg.AVRescaleQ(frame.Pts(), frame.TimeBase(), e.encCtx.TimeBase()),
		)
	}

	if _, err := ffmpeg.AVCodecSendFrame(e.encCtx, frame); err != nil {
		return fmt.Errorf("failed to send frame to encoder: %w", err)
	}
	return e.receivePackets()
}

// Flush drains the encoder.
func (e *encodeWriter) Flush() error {
	if _, err := ffmpeg.AVCodecSendFrame(e.encCtx, nil); err != nil {
		return fmt.Errorf("failed to flush encoder: %w", err)
	}
	return e.receivePackets()
}

// receivePackets receives and writes packets from the encoder.
func (e *encodeWriter) receivePackets() error {
	for {
		ffmpeg.AVPacketUnref(e.packet)

		if _, err := ffmpeg.AVCodecReceivePacket(e.encCtx, e.packet); err != nil {
			if errors.Is(err, ffmpeg.EAgain) || errors.Is(err, ffmpeg.AVErrorEOF) {
				break
			}
			return fmt.Errorf("failed to receive packet: %w", err)
		}

		e.packet.SetStreamIndex(e.streamIdx)
		ffmpeg.AVPacketRescaleTs(e.packet, e.encCtx.TimeBase(), e.stream.TimeBase())

		if _, err := ffmpeg.AVInterleavedWriteFrame(e.fmtCtx, e.packet); err != nil {
			return fmt.Errorf("failed to write packet: %w", err)
		}
	}
	return nil
}

// Close finalises the output file and frees all resources.
// Safe to call multiple times - subsequent calls are no-ops.
func (e *encodeWriter) Close() error {
	if e.fmtCtx == nil {
		return nil
	}

	if _, err := ffmpeg.AVWriteTrailer(e.fmtCtx); err != nil {
		return fmt.Errorf("failed to write trailer: %w", err)
	}

	ffmpeg.AVPacketFree(&e.packet)
	ffmpeg.AVCodecFreeContext(&e.encCtx)

	if e.fmtCtx.Oformat().Flags()&ffmpeg.AVFmtNofile == 0 {
		if e.fmtCtx.Pb() != nil {
			if _, err := ffmpeg.AVIOClose(e.fmtCtx.Pb()); err != nil {
				return fmt.Errorf("failed to close output file: %w", err)
			}
			e.fmtCtx.SetPb(nil)
		}
	}

	ffmpeg.AVFormatFreeContext(e.fmtCtx)
	e.fmtCtx = nil

	return nil
}
