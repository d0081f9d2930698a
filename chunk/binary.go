package chunk

import (
	"sort"

	"github.com/wippyai/offload/errors"
)

// BinaryConfig tunes the binary strategy.
type BinaryConfig struct {
	// Compression enables zstd compression of chunk payloads. The header
	// Size always refers to the uncompressed slice; the checksum covers
	// the bytes as carried.
	Compression bool

	// CompletenessCheck makes Merge verify that the chunk count matches
	// the declared total and that indices form a contiguous run.
	CompletenessCheck bool
}

// Binary splits a byte buffer into fixed-size slices.
type Binary struct {
	cfg BinaryConfig
}

// NewBinary creates the binary strategy with completeness checking on and
// compression off.
func NewBinary() *Binary {
	return NewBinaryWithConfig(nil)
}

// NewBinaryWithConfig creates the binary strategy with custom configuration.
// A nil cfg selects the defaults of NewBinary.
func NewBinaryWithConfig(cfg *BinaryConfig) *Binary {
	c := BinaryConfig{CompletenessCheck: true}
	if cfg != nil {
		c = *cfg
	}
	return &Binary{cfg: c}
}

func (b *Binary) Name() string { return "binary" }

// Validate reports whether data is a non-empty byte buffer.
func (b *Binary) Validate(data any) bool {
	buf, ok := data.([]byte)
	return ok && len(buf) > 0
}

func (b *Binary) Split(data any, chunkSize int) ([]Chunk, error) {
	buf, ok := data.([]byte)
	if !ok {
		return nil, errors.InvalidInput(errors.PhaseSplit, "binary strategy requires []byte input")
	}
	if len(buf) == 0 {
		return nil, errors.InvalidInput(errors.PhaseSplit, "empty payload")
	}
	if chunkSize <= 0 {
		return nil, errors.InvalidInput(errors.PhaseSplit, "chunk size must be positive")
	}

	total := (len(buf) + chunkSize - 1) / chunkSize
	chunks := make([]Chunk, 0, total)
	for i := 0; i < total; i++ {
		off := i * chunkSize
		end := off + chunkSize
		if end > len(buf) {
			end = len(buf)
		}
		payload := make([]byte, end-off)
		copy(payload, buf[off:end])

		h := Header{
			Index:    i,
			Total:    total,
			Offset:   off,
			Size:     len(payload),
			Hash:     ContentHash(payload),
			Encoding: EncodingRaw,
		}
		if b.cfg.Compression {
			h.Compression = CompressionZstd
			payload = compress(payload)
		}
		h.Checksum = Checksum(payload)
		chunks = append(chunks, Chunk{Header: h, Data: payload})
	}
	return chunks, nil
}

func (b *Binary) Merge(chunks []Chunk) (any, error) {
	if len(chunks) == 0 {
		return nil, errors.InvalidInput(errors.PhaseMerge, "no chunks to merge")
	}

	sorted := make([]Chunk, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Header.Index < sorted[j].Header.Index })

	for i := 0; i+1 < len(sorted); i++ {
		if sorted[i].Header.Index == sorted[i+1].Header.Index {
			return nil, errors.DuplicateChunk(sorted[i].Header.Index)
		}
	}
	if b.cfg.CompletenessCheck {
		total := sorted[0].Header.Total
		if len(sorted) != total {
			return nil, errors.MissingChunk(firstGap(sorted), total)
		}
		for i, c := range sorted {
			if c.Header.Index != i {
				return nil, errors.MissingChunk(i, total)
			}
		}
	}

	size := 0
	for _, c := range sorted {
		size += c.Header.Size
	}
	out := make([]byte, 0, size)
	for _, c := range sorted {
		if got := Checksum(c.Data); got != c.Header.Checksum {
			return nil, errors.ChecksumMismatch(c.Header.Index, c.Header.Checksum, got)
		}
		payload := c.Data
		if c.Header.Compression == CompressionZstd {
			plain, err := decompress(payload)
			if err != nil {
				return nil, errors.CorruptFrame(c.Header.Index, "zstd decompression failed", err)
			}
			payload = plain
		}
		out = append(out, payload...)
	}
	return out, nil
}

// firstGap returns the lowest index missing from an index-sorted run.
func firstGap(sorted []Chunk) int {
	for i, c := range sorted {
		if c.Header.Index != i {
			return i
		}
	}
	return len(sorted)
}
