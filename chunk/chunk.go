package chunk

import (
	"encoding/hex"
	"fmt"

	"github.com/twmb/murmur3"
	"github.com/zeebo/blake3"
)

// Payload encodings recorded in Header.Encoding.
const (
	EncodingRaw  = "raw"
	EncodingUTF8 = "utf-8"
	EncodingJSON = "json"
)

// NodeKind tags a structured chunk with the shape of its fragment.
type NodeKind string

const (
	KindObject NodeKind = "object"
	KindArray  NodeKind = "array"
	KindValue  NodeKind = "value"
)

// Header is the per-chunk descriptor. Index is unique within one split and
// always less than Total; Checksum must match the freshly computed checksum
// of the chunk's payload at merge time.
type Header struct {
	Index       int      `json:"index"`
	Total       int      `json:"total"`
	Offset      int      `json:"offset"`
	Size        int      `json:"size"`
	Hash        string   `json:"hash"`
	Checksum    string   `json:"checksum"`
	Compression string   `json:"compression,omitempty"`
	Encoding    string   `json:"encoding,omitempty"`
	Path        []string `json:"path,omitempty"`
	Kind        NodeKind `json:"kind,omitempty"`
}

// Chunk binds a header to one payload fragment. Exactly one payload field
// is populated, matching the producing strategy; Header.Encoding records
// which.
type Chunk struct {
	Header Header
	Data   []byte // binary strategy
	Text   string // text strategy
	Value  any    // structured strategy
}

// Strategy is the common contract over one payload representation.
// Split is deterministic for a given (data, chunkSize) pair; every chunk's
// Size is at most chunkSize except where a single atomic element cannot be
// subdivided. Merge tolerates arbitrary chunk ordering and rejects
// corrupted or incomplete input.
type Strategy interface {
	Name() string
	Split(data any, chunkSize int) ([]Chunk, error)
	Merge(chunks []Chunk) (any, error)
	Validate(data any) bool
}

// ContentHash returns the BLAKE3-256 hex digest of b.
func ContentHash(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Checksum returns the murmur3 128-bit hex digest of b. It is a fast
// corruption detector, not a cryptographic hash.
func Checksum(b []byte) string {
	h1, h2 := murmur3.Sum128(b)
	return fmt.Sprintf("%016x%016x", h1, h2)
}

// WithData returns a copy of c carrying a replacement binary payload, with
// size, hash, and checksum refreshed. Workers whose operation transforms
// the payload use this so the result still verifies at merge time.
func (c Chunk) WithData(payload []byte) Chunk {
	out := c
	out.Text = ""
	out.Value = nil
	out.Header.Size = len(payload)
	out.Header.Hash = ContentHash(payload)
	if c.Header.Compression == CompressionZstd {
		payload = compress(payload)
	}
	out.Data = payload
	out.Header.Checksum = Checksum(payload)
	return out
}

// WithText returns a copy of c carrying a replacement text payload, with
// size, hash, and checksum refreshed.
func (c Chunk) WithText(s string) Chunk {
	out := c
	out.Data = nil
	out.Value = nil
	out.Text = s
	out.Header.Size = len(s)
	out.Header.Hash = ContentHash([]byte(s))
	out.Header.Checksum = Checksum([]byte(s))
	return out
}

// WithValue returns a copy of c carrying a replacement structured payload,
// with size, hash, and checksum refreshed. v must be JSON-serializable.
func (c Chunk) WithValue(v any) (Chunk, error) {
	data, err := marshalCanonical(v)
	if err != nil {
		return Chunk{}, err
	}
	out := c
	out.Data = nil
	out.Text = ""
	out.Value = v
	out.Header.Size = len(data)
	out.Header.Hash = ContentHash(data)
	out.Header.Checksum = Checksum(data)
	return out, nil
}
