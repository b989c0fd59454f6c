package audio

import (
	"fmt"
	"math"
	"strconv"

	ffmpeg "github.com/csnewman/ffmpeg-go"
)

// Cached metadata key for loudness extraction - avoids per-frame C string
// allocations. GlobalCStr maintains an internal cache, so identical strings
// share the same CStr.
var metaKeyEbur128I = ffmpeg.GlobalCStr("lavfi.r128.I")

// Meter measures BS.1770 integrated loudness using libav's ebur128 filter.
// The filter graph is constructed per call from the buffer's own sample
// rate; loudness measurement is rate-dependent, so a meter bound to a fixed
// rate would misreport resampled material.
type Meter struct{}

// IntegratedLoudness returns the integrated loudness of buf in LUFS.
//
// ebur128 writes cumulative loudness to frame metadata under lavfi.r128.*
// keys; the value attached to the final frame is the whole-clip integrated
// loudness. dualmono=true treats mono input as dual mono, without which a
// mono clip measures ~3 LU quieter than intended.
func (Meter) IntegratedLoudness(buf *Buffer) (float64, error) {
	integrated := math.Inf(-1)
	found := false

	err := runGraph(buf, "ebur128=metadata=1:dualmono=true", func(frame *ffmpeg.AVFrame) error {
		metadata := frame.Metadata()
		if metadata == nil {
			return nil
		}
		if entry := ffmpeg.AVDictGet(metadata, metaKeyEbur128I, nil, 0); entry != nil {
			if value, err := strconv.ParseFloat(entry.Value().String(), 64); err == nil {
				integrated = value
				found = true
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("ebur128 measurements not found in frame metadata")
	}
	return integrated, nil
}
