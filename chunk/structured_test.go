package chunk_test

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/wippyai/offload/chunk"
	"github.com/wippyai/offload/errors"
)

// jsonShape round-trips v through JSON, producing the canonical
// map[string]any / []any / float64 form that Merge reconstructs.
func jsonShape(t *testing.T, v any) any {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	return out
}

func sampleDocument() map[string]any {
	users := make([]any, 0, 40)
	for i := 0; i < 40; i++ {
		users = append(users, map[string]any{
			"id":   i,
			"name": fmt.Sprintf("user-%02d", i),
			"tags": []any{"alpha", "beta"},
		})
	}
	return map[string]any{
		"version": 3,
		"title":   "inventory snapshot",
		"users":   users,
		"totals": map[string]any{
			"count":  40,
			"active": true,
		},
	}
}

func TestStructuredRoundTripSingleChunk(t *testing.T) {
	s := chunk.NewStructured()
	input := map[string]any{"a": 1, "b": []any{"x", "y"}}

	chunks, err := s.Split(input, 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 {
		t.Fatalf("chunk count = %d, want 1", len(chunks))
	}

	merged, err := s.Merge(chunks)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(merged, jsonShape(t, input)) {
		t.Errorf("merged = %#v", merged)
	}
}

func TestStructuredRoundTripManyChunks(t *testing.T) {
	for _, chunkSize := range []int{64, 128, 300, 1024} {
		t.Run(fmt.Sprintf("chunkSize=%d", chunkSize), func(t *testing.T) {
			s := chunk.NewStructured()
			input := sampleDocument()

			chunks, err := s.Split(input, chunkSize)
			if err != nil {
				t.Fatal(err)
			}
			if len(chunks) < 2 {
				t.Fatalf("expected multiple chunks, got %d", len(chunks))
			}
			for i, c := range chunks {
				if c.Header.Index != i {
					t.Errorf("chunk %d has index %d", i, c.Header.Index)
				}
				if c.Header.Total != len(chunks) {
					t.Errorf("chunk %d total = %d, want %d", i, c.Header.Total, len(chunks))
				}
			}

			merged, err := s.Merge(shuffled(chunks, int64(chunkSize)))
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(merged, jsonShape(t, input)) {
				t.Error("merged output differs from input")
			}
		})
	}
}

func TestStructuredRootArray(t *testing.T) {
	s := chunk.NewStructured()
	input := make([]any, 100)
	for i := range input {
		input[i] = map[string]any{"n": i}
	}

	chunks, err := s.Split(input, 96)
	if err != nil {
		t.Fatal(err)
	}
	merged, err := s.Merge(shuffled(chunks, 11))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(merged, jsonShape(t, input)) {
		t.Error("root array round trip differs from input")
	}
}

// An array element that alone exceeds the chunk size is recursed into and
// spliced back at its position.
func TestStructuredOversizedArrayElement(t *testing.T) {
	s := chunk.NewStructured()
	big := map[string]any{}
	for i := 0; i < 50; i++ {
		big[fmt.Sprintf("key-%02d", i)] = strings.Repeat("v", 20)
	}
	input := []any{"small", big, "tail"}

	chunks, err := s.Split(input, 128)
	if err != nil {
		t.Fatal(err)
	}
	merged, err := s.Merge(shuffled(chunks, 5))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(merged, jsonShape(t, input)) {
		t.Error("oversized element round trip differs from input")
	}
}

// An atomic leaf wider than the chunk size becomes its own oversized chunk.
func TestStructuredReservedKeyRoundTrip(t *testing.T) {
	// "items" is the batch marker inside chunk paths, but payloads may
	// use it as an ordinary object key, even one whose value is big
	// enough to be split on its own.
	big := []any{strings.Repeat("a", 200), strings.Repeat("b", 200)}

	tests := []struct {
		name      string
		input     map[string]any
		chunkSize int
	}{
		{
			name:      "small items key",
			input:     map[string]any{"items": []any{1, 2, 3}, "name": "inventory"},
			chunkSize: 1 << 20,
		},
		{
			name:      "oversized items key",
			input:     map[string]any{"items": big, "name": "inventory"},
			chunkSize: 128,
		},
		{
			name:      "escape-prefixed keys",
			input:     map[string]any{"~items": big, "~": big, "plain": "x"},
			chunkSize: 128,
		},
		{
			name: "nested items keys",
			input: map[string]any{
				"outer": map[string]any{"items": big},
				"list":  []any{map[string]any{"items": big}},
			},
			chunkSize: 128,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := chunk.NewStructured()
			chunks, err := s.Split(tt.input, tt.chunkSize)
			if err != nil {
				t.Fatal(err)
			}

			merged, err := s.Merge(chunks)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(merged, jsonShape(t, tt.input)) {
				t.Errorf("merged = %#v, want %#v", merged, jsonShape(t, tt.input))
			}
		})
	}
}

func TestStructuredOversizedLeaf(t *testing.T) {
	s := chunk.NewStructured()
	input := map[string]any{"blob": strings.Repeat("x", 4096), "tiny": 1}

	chunks, err := s.Split(input, 256)
	if err != nil {
		t.Fatal(err)
	}
	oversized := 0
	for _, c := range chunks {
		if c.Header.Size > 256 {
			oversized++
		}
	}
	if oversized != 1 {
		t.Errorf("oversized chunk count = %d, want 1", oversized)
	}

	merged, err := s.Merge(chunks)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(merged, jsonShape(t, input)) {
		t.Error("oversized leaf round trip differs from input")
	}
}

func TestStructuredMaxDepthExceeded(t *testing.T) {
	s := chunk.NewStructuredWithConfig(&chunk.StructuredConfig{MaxDepth: 2, CompletenessCheck: true})
	depth3 := map[string]any{
		"level1": map[string]any{
			"level2": map[string]any{
				"too": "deep",
			},
		},
	}

	chunks, err := s.Split(depth3, 100)
	if err == nil {
		t.Fatal("expected max depth error")
	}
	if chunks != nil {
		t.Error("no chunks may be produced on depth rejection")
	}
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindMaxDepth {
		t.Fatalf("error = %v, want max_depth", err)
	}
	if !strings.Contains(err.Error(), "maximum depth exceeded") {
		t.Errorf("message %q should name the depth violation", err)
	}
}

func TestStructuredCyclicInputRejected(t *testing.T) {
	s := chunk.NewStructured()

	m := map[string]any{"name": "loop"}
	m["self"] = m

	_, err := s.Split(m, 100)
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindCyclicStructure {
		t.Fatalf("error = %v, want cyclic_structure", err)
	}
}

func TestStructuredCorruptionDetection(t *testing.T) {
	s := chunk.NewStructured()
	chunks, err := s.Split(sampleDocument(), 128)
	if err != nil {
		t.Fatal(err)
	}

	target := len(chunks) / 2
	chunks[target].Value = map[string]any{"tampered": true}

	_, err = s.Merge(chunks)
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindChecksumMismatch {
		t.Fatalf("error = %v, want checksum_mismatch", err)
	}
	if e.Index != target {
		t.Errorf("error names chunk %d, want %d", e.Index, target)
	}
}

func TestStructuredDuplicatePath(t *testing.T) {
	s := chunk.NewStructuredWithConfig(&chunk.StructuredConfig{CompletenessCheck: false})

	a := mustValueChunk(t, 0, []string{"a"}, "first")
	b := mustValueChunk(t, 1, []string{"a"}, "second")

	_, err := s.Merge([]chunk.Chunk{a, b})
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindDuplicatePath {
		t.Fatalf("error = %v, want duplicate_path", err)
	}
}

func mustValueChunk(t *testing.T, index int, path []string, v any) chunk.Chunk {
	t.Helper()
	c, err := chunk.Chunk{
		Header: chunk.Header{
			Index:    index,
			Total:    2,
			Encoding: chunk.EncodingJSON,
			Path:     path,
			Kind:     chunk.KindValue,
		},
	}.WithValue(v)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestStructuredMissingChunk(t *testing.T) {
	s := chunk.NewStructured()
	chunks, err := s.Split(sampleDocument(), 128)
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.Merge(chunks[:len(chunks)-1])
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindMissingChunk {
		t.Fatalf("error = %v, want missing_chunk", err)
	}
}

func TestStructuredNormalizesNumbers(t *testing.T) {
	s := chunk.NewStructured()
	input := map[string]any{"count": 7} // int in, float64 out

	chunks, err := s.Split(input, 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	merged, err := s.Merge(chunks)
	if err != nil {
		t.Fatal(err)
	}
	got := merged.(map[string]any)["count"]
	if _, ok := got.(float64); !ok {
		t.Errorf("count = %T, want float64", got)
	}
}

func TestStructuredValidate(t *testing.T) {
	s := chunk.NewStructured()
	if s.Validate(nil) {
		t.Error("nil should not validate")
	}
	if !s.Validate(map[string]any{"ok": true}) {
		t.Error("plain object should validate")
	}

	cyclic := map[string]any{}
	cyclic["self"] = cyclic
	if s.Validate(cyclic) {
		t.Error("cyclic structure should not validate")
	}

	limited := chunk.NewStructuredWithConfig(&chunk.StructuredConfig{MaxDepth: 1, CompletenessCheck: true})
	if limited.Validate(map[string]any{"nested": map[string]any{}}) {
		t.Error("too-deep structure should not validate")
	}
}
