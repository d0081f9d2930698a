package chunk

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/wippyai/offload/errors"
)

// TextConfig tunes the text strategy.
type TextConfig struct {
	CompletenessCheck bool
}

// Text splits a UTF-8 string on byte-length boundaries without ever
// splitting inside a multi-byte code point. UTF-8 is the only text
// encoding supported: Split rejects strings that fail utf8.ValidString,
// and Header.Encoding is always "utf-8". Payloads in other encodings
// belong to the binary strategy, which treats them as opaque bytes.
type Text struct {
	cfg TextConfig
}

// NewText creates the text strategy with completeness checking on.
func NewText() *Text {
	return NewTextWithConfig(nil)
}

// NewTextWithConfig creates the text strategy with custom configuration.
// A nil cfg selects the defaults of NewText.
func NewTextWithConfig(cfg *TextConfig) *Text {
	c := TextConfig{CompletenessCheck: true}
	if cfg != nil {
		c = *cfg
	}
	return &Text{cfg: c}
}

func (t *Text) Name() string { return "text" }

// Validate reports whether data is a non-empty, well-formed UTF-8 string.
func (t *Text) Validate(data any) bool {
	s, ok := data.(string)
	return ok && len(s) > 0 && utf8.ValidString(s)
}

func (t *Text) Split(data any, chunkSize int) ([]Chunk, error) {
	s, ok := data.(string)
	if !ok {
		return nil, errors.InvalidInput(errors.PhaseSplit, "text strategy requires string input")
	}
	if len(s) == 0 {
		return nil, errors.InvalidInput(errors.PhaseSplit, "empty payload")
	}
	if !utf8.ValidString(s) {
		return nil, errors.InvalidInput(errors.PhaseSplit, "payload is not valid UTF-8")
	}
	if chunkSize <= 0 {
		return nil, errors.InvalidInput(errors.PhaseSplit, "chunk size must be positive")
	}

	var chunks []Chunk
	for start := 0; start < len(s); {
		end := start + chunkSize
		if end >= len(s) {
			end = len(s)
		} else {
			for end > start && !utf8.RuneStart(s[end]) {
				end--
			}
			if end == start {
				// A single code point wider than chunkSize is atomic:
				// emit it as its own oversized chunk.
				_, width := utf8.DecodeRuneInString(s[start:])
				end = start + width
			}
		}

		payload := s[start:end]
		chunks = append(chunks, Chunk{
			Header: Header{
				Index:    len(chunks),
				Offset:   start,
				Size:     len(payload),
				Hash:     ContentHash([]byte(payload)),
				Checksum: Checksum([]byte(payload)),
				Encoding: EncodingUTF8,
			},
			Text: payload,
		})
		start = end
	}

	for i := range chunks {
		chunks[i].Header.Total = len(chunks)
	}
	return chunks, nil
}

func (t *Text) Merge(chunks []Chunk) (any, error) {
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
	if t.cfg.CompletenessCheck {
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

	var b strings.Builder
	for _, c := range sorted {
		if got := Checksum([]byte(c.Text)); got != c.Header.Checksum {
			return nil, errors.ChecksumMismatch(c.Header.Index, c.Header.Checksum, got)
		}
		b.WriteString(c.Text)
	}
	return b.String(), nil
}
