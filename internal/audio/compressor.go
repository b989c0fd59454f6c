package audio

// Compressor applies dynamic range compression via libav's acompressor
// filter. Parameters are the filter's own defaults; the compression
// character is delegated, not tuned here.
type Compressor struct{}

// Compress returns a compressed copy of buf.
func (Compressor) Compress(buf *Buffer) (*Buffer, error) {
	return runFilter(buf, "acompressor")
}
