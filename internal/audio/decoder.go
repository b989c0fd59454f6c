package audio

import (
	"errors"
	"fmt"
	"unsafe"

	ffmpeg "github.com/csnewman/ffmpeg-go"
)

// Decoder decodes an encoded audio source into a Buffer, auto-detecting
// the container and codec from the stream contents.
type Decoder struct{}

// Decode reads the file at path and returns its PCM contents.
func (Decoder) Decode(path string) (*Buffer, error) {
	r, err := openInput(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	samples := make([]float64, 0, 1<<16)
	for {
		frame, err := r.ReadFrame()
		if err != nil {
			return nil, err
		}
		if frame == nil {
			break
		}
		samples, err = appendFrameSamples(samples, frame)
		if err != nil {
			return nil, err
		}
	}

	return NewBuffer(r.decCtx.SampleRate(), r.decCtx.ChLayout().NbChannels(), samples)
}

// reader wraps the libav demuxer and decoder for a single audio stream.
type reader struct {
	fmtCtx    *ffmpeg.AVFormatContext
	decCtx    *ffmpeg.AVCodecContext
	streamIdx int
	frame     *ffmpeg.AVFrame
	packet    *ffmpeg.AVPacket
}

// openInput opens path for decoding and positions the reader on the first
// audio stream.
func openInput(path string) (*reader, error) {
	var fmtCtx *ffmpeg.AVFormatContext

	pathC := ffmpeg.ToCStr(path)
	defer pathC.Free()

	if _, err := ffmpeg.AVFormatOpenInput(&fmtCtx, pathC, nil, nil); err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}

	if _, err := ffmpeg.AVFormatFindStreamInfo(fmtCtx, nil); err != nil {
		ffmpeg.AVFormatCloseInput(&fmtCtx)
		return nil, fmt.Errorf("failed to find stream info: %w", err)
	}

	// Find the first audio stream
	streamIdx := -1
	var audioStream *ffmpeg.AVStream
	streams := fmtCtx.Streams()
	for i := 0; i < int(fmtCtx.NbStreams()); i++ {
		stream := streams.Get(uintptr(i))
		if stream.Codecpar().CodecType() == ffmpeg.AVMediaTypeAudio {
			streamIdx = i
			audioStream = stream
			break
		}
	}
	if streamIdx == -1 {
		ffmpeg.AVFormatCloseInput(&fmtCtx)
		return nil, fmt.Errorf("no audio stream found in file: %s", path)
	}

	codecPar := audioStream.Codecpar()
	decoder := ffmpeg.AVCodecFindDecoder(codecPar.CodecId())
	if decoder == nil {
		ffmpeg.AVFormatCloseInput(&fmtCtx)
		return nil, fmt.Errorf("decoder not found for codec ID %d in file: %s", codecPar.CodecId(), path)
	}

	decCtx := ffmpeg.AVCodecAllocContext3(decoder)
	if decCtx == nil {
		ffmpeg.AVFormatCloseInput(&fmtCtx)
		return nil, fmt.Errorf("failed to allocate decoder context for file: %s", path)
	}

	if _, err := ffmpeg.AVCodecParametersToContext(decCtx, codecPar); err != nil {
		ffmpeg.AVCodecFreeContext(&decCtx)
		ffmpeg.AVFormatCloseInput(&fmtCtx)
		return nil, fmt.Errorf("failed to copy codec parameters: %w", err)
	}

	if _, err := ffmpeg.AVCodecOpen2(decCtx, decoder, nil); err != nil {
		ffmpeg.AVCodecFreeContext(&decCtx)
		ffmpeg.AVFormatCloseInput(&fmtCtx)
		return nil, fmt.Errorf("failed to open decoder: %w", err)
	}

	return &reader{
		fmtCtx:    fmtCtx,
		decCtx:    decCtx,
		streamIdx: streamIdx,
		frame:     ffmpeg.AVFrameAlloc(),
		packet:    ffmpeg.AVPacketAlloc(),
	}, nil
}

// ReadFrame returns the next decoded audio frame, or nil at end of file.
func (r *reader) ReadFrame() (*ffmpeg.AVFrame, error) {
	for {
		if _, err := ffmpeg.AVCodecReceiveFrame(r.decCtx, r.frame); err == nil {
			r.frame.SetPts(r.frame.BestEffortTimestamp())
			return r.frame, nil
		} else if !errors.Is(err, ffmpeg.EAgain) {
			if errors.Is(err, ffmpeg.AVErrorEOF) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to receive frame: %w", err)
		}

		// Decoder needs more input
		if _, err := ffmpeg.AVReadFrame(r.fmtCtx, r.packet); err != nil {
			if errors.Is(err, ffmpeg.AVErrorEOF) {
				if _, err := ffmpeg.AVCodecSendPacket(r.decCtx, nil); err != nil {
					return nil, fmt.Errorf("failed to flush decoder: %w", err)
				}
				continue
			}
			return nil, fmt.Errorf("failed to read frame: %w", err)
		}

		if r.packet.StreamIndex() != r.streamIdx {
			ffmpeg.AVPacketUnref(r.packet)
			continue
		}

		if _, err := ffmpeg.AVCodecSendPacket(r.decCtx, r.packet); err != nil {
			ffmpeg.AVPacketUnref(r.packet)
			return nil, fmt.Errorf("failed to send packet: %w", err)
		}

		ffmpeg.AVPacketUnref(r.packet)
	}
}

// Close releases all resources.
func (r *reader) Close() {
	if r.frame != nil {
		ffmpeg.AVFrameFree(&r.frame)
	}
	if r.packet != nil {
		ffmpeg.AVPacketFree(&r.packet)
	}
	if r.decCtx != nil {
		ffmpeg.AVCodecFreeContext(&r.decCtx)
	}
	if r.fmtCtx != nil {
		ffmpeg.AVFormatCloseInput(&r.fmtCtx)
	}
}

// appendFrameSamples converts a decoded frame to interleaved float64
// samples and appends them to dst. Packed formats are read from the first
// data plane; planar formats are interleaved from the per-channel planes.
func appendFrameSamples(dst []float64, frame *ffmpeg.AVFrame) ([]float64, error) {
	nbSamples := int(frame.NbSamples())
	nbChannels := frame.ChLayout().NbChannels()
	if nbSamples == 0 {
		return dst, nil
	}

	switch ffmpeg.AVSampleFormat(frame.Format()) {
	case ffmpeg.AVSampleFmtS16:
		data := unsafe.Slice((*int16)(frame.Data().Get(0)), nbSamples*nbChannels)
		for _, s := range data {
			dst = append(dst, float64(s)/32768.0)
		}
	case ffmpeg.AVSampleFmtS32:
		data := unsafe.Slice((*int32)(frame.Data().Get(0)), nbSamples*nbChannels)
		for _, s := range data {
			dst = append(dst, float64(s)/2147483648.0)
		}
	case ffmpeg.AVSampleFmtFlt:
		data := unsafe.Slice((*float32)(frame.Data().Get(0)), nbSamples*nbChannels)
		for _, s := range data {
			dst = append(dst, float64(s))
		}
	case ffmpeg.AVSampleFmtDbl:
		data := unsafe.Slice((*float64)(frame.Data().Get(0)), nbSamples*nbChannels)
		dst = append(dst, data...)
	case ffmpeg.AVSampleFmtS16P:
		planes := make([][]int16, nbChannels)
		for ch := 0; ch < nbChannels; ch++ {
			planes[ch] = unsafe.Slice((*int16)(frame.Data().Get(uintptr(ch))), nbSamples)
		}
		for i := 0; i < nbSamples; i++ {
			for ch := 0; ch < nbChannels; ch++ {
				dst = append(dst, float64(planes[ch][i])/32768.0)
			}
		}
	case ffmpeg.AVSampleFmtS32P:
		planes := make([][]int32, nbChannels)
		for ch := 0; ch < nbChannels; ch++ {
			planes[ch] = unsafe.Slice((*int32)(frame.Data().Get(uintptr(ch))), nbSamples)
		}
		for i := 0; i < nbSamples; i++ {
			for ch := 0; ch < nbChannels; ch++ {
				dst = append(dst, float64(planes[ch][i])/2147483648.0)
			}
		}
	case ffmpeg.AVSampleFmtFltp:
		planes := make([][]float32, nbChannels)
		for ch := 0; ch < nbChannels; ch++ {
			planes[ch] = unsafe.Slice((*float32)(frame.Data().Get(uintptr(ch))), nbSamples)
		}
		for i := 0; i < nbSamples; i++ {
			for ch := 0; ch < nbChannels; ch++ {
				dst = append(dst, float64(planes[ch][i]))
			}
		}
	case ffmpeg.AVSampleFmtDblp:
		planes := make([][]float64, nbChannels)
		for ch := 0; ch < nbChannels; ch++ {
			planes[ch] = unsafe.Slice((*float64)(frame.Data().Get(uintptr(ch))), nbSamples)
		}
		for i := 0; i < nbSamples; i++ {
			for ch := 0; ch < nbChannels; ch++ {
				dst = append(dst, planes[ch][i])
			}
		}
	default:
		name := ffmpeg.AVGetSampleFmtName(ffmpeg.AVSampleFormat(frame.Format()))
		return nil, fmt.Errorf("unsupported sample format: %s", name.String())
	}

	return dst, nil
}
