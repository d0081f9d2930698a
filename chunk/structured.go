package chunk

import (
	"encoding/json"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/wippyai/offload/errors"
)

// pathItems is the reserved path segment under which array element batches
// are filed.
const pathItems = "items"

// keyEscape marks a path segment as a literal object key. A key equal to
// the reserved batch segment, or one already starting with the escape
// rune, gains a leading "~" when it enters a chunk path; merge strips it
// again. This keeps "items" unambiguous as the batch marker while letting
// payloads use it as an ordinary key.
const keyEscape = "~"

func escapeKey(k string) string {
	if k == pathItems || strings.HasPrefix(k, keyEscape) {
		return keyEscape + k
	}
	return k
}

func unescapeKey(seg string) string {
	return strings.TrimPrefix(seg, keyEscape)
}

// StructuredConfig tunes the structured strategy.
type StructuredConfig struct {
	// MaxDepth bounds object/array nesting. Input deeper than this is
	// rejected before any chunk is produced. 0 means 32.
	MaxDepth int

	CompletenessCheck bool
}

const defaultMaxDepth = 32

// Structured splits a nested object/array/value tree into path-addressed
// fragments. Payloads must be JSON-shaped; Split normalizes arbitrary
// serializable input through a JSON round trip so checksums are stable
// across the worker boundary.
type Structured struct {
	cfg StructuredConfig
}

// NewStructured creates the structured strategy with a depth limit of 32
// and completeness checking on.
func NewStructured() *Structured {
	return NewStructuredWithConfig(nil)
}

// NewStructuredWithConfig creates the structured strategy with custom
// configuration. A nil cfg selects the defaults of NewStructured.
func NewStructuredWithConfig(cfg *StructuredConfig) *Structured {
	c := StructuredConfig{MaxDepth: defaultMaxDepth, CompletenessCheck: true}
	if cfg != nil {
		c = *cfg
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = defaultMaxDepth
	}
	return &Structured{cfg: c}
}

func (s *Structured) Name() string { return "structured" }

// Validate reports whether data is a non-nil, acyclic, serializable
// structure within the depth limit.
func (s *Structured) Validate(data any) bool {
	if data == nil {
		return false
	}
	if err := s.checkShape(data); err != nil {
		return false
	}
	_, err := marshalCanonical(data)
	return err == nil
}

func marshalCanonical(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseSplit, errors.KindInvalidInput, err, "payload is not serializable")
	}
	return data, nil
}

// checkShape walks the raw input rejecting cycles and nesting beyond the
// configured maximum. Cycles must be caught here: a cyclic structure makes
// subtree size measurement ill-defined, so this runs before any
// serialization is attempted.
func (s *Structured) checkShape(v any) error {
	return s.walkShape(reflect.ValueOf(v), 0, nil, map[uintptr]bool{})
}

func (s *Structured) walkShape(v reflect.Value, depth int, path []string, visiting map[uintptr]bool) error {
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		if v.Kind() == reflect.Pointer {
			ptr := v.Pointer()
			if visiting[ptr] {
				return errors.CyclicStructure(path)
			}
			visiting[ptr] = true
			defer delete(visiting, ptr)
		}
		return s.walkShape(v.Elem(), depth, path, visiting)

	case reflect.Map:
		if depth+1 > s.cfg.MaxDepth {
			return errors.MaxDepth(depth+1, s.cfg.MaxDepth, path)
		}
		ptr := v.Pointer()
		if visiting[ptr] {
			return errors.CyclicStructure(path)
		}
		visiting[ptr] = true
		defer delete(visiting, ptr)
		iter := v.MapRange()
		for iter.Next() {
			key := iter.Key()
			seg := "?"
			if key.Kind() == reflect.String {
				seg = key.String()
			}
			if err := s.walkShape(iter.Value(), depth+1, append(path, seg), visiting); err != nil {
				return err
			}
		}
		return nil

	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
			return nil // byte payloads are scalar leaves
		}
		if depth+1 > s.cfg.MaxDepth {
			return errors.MaxDepth(depth+1, s.cfg.MaxDepth, path)
		}
		if v.Kind() == reflect.Slice && v.Len() > 0 {
			ptr := v.Pointer()
			if visiting[ptr] {
				return errors.CyclicStructure(path)
			}
			visiting[ptr] = true
			defer delete(visiting, ptr)
		}
		for i := 0; i < v.Len(); i++ {
			if err := s.walkShape(v.Index(i), depth+1, append(path, strconv.Itoa(i)), visiting); err != nil {
				return err
			}
		}
		return nil

	case reflect.Struct:
		if depth+1 > s.cfg.MaxDepth {
			return errors.MaxDepth(depth+1, s.cfg.MaxDepth, path)
		}
		for i := 0; i < v.NumField(); i++ {
			if err := s.walkShape(v.Field(i), depth+1, append(path, v.Type().Field(i).Name), visiting); err != nil {
				return err
			}
		}
		return nil

	default:
		return nil
	}
}

// normalize round-trips v through JSON so every container is a
// map[string]any or []any and every number a float64. This keeps the
// checksum of a fragment identical on both sides of a worker boundary.
func normalize(v any) (any, error) {
	data, err := marshalCanonical(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.Wrap(errors.PhaseSplit, errors.KindInvalidInput, err, "payload does not round-trip")
	}
	return out, nil
}

func kindOf(v any) NodeKind {
	switch v.(type) {
	case map[string]any:
		return KindObject
	case []any:
		return KindArray
	default:
		return KindValue
	}
}

func (s *Structured) Split(data any, chunkSize int) ([]Chunk, error) {
	if data == nil {
		return nil, errors.InvalidInput(errors.PhaseSplit, "nil payload")
	}
	if chunkSize <= 0 {
		return nil, errors.InvalidInput(errors.PhaseSplit, "chunk size must be positive")
	}
	if err := s.checkShape(data); err != nil {
		return nil, err
	}
	root, err := normalize(data)
	if err != nil {
		return nil, err
	}

	sp := &splitter{chunkSize: chunkSize}
	if err := sp.node(root, nil); err != nil {
		return nil, err
	}

	// The final chunk count is only known once the walk completes; patch
	// every header so completeness checks hold at merge time.
	for i := range sp.chunks {
		sp.chunks[i].Header.Total = len(sp.chunks)
	}
	return sp.chunks, nil
}

type splitter struct {
	chunkSize int
	chunks    []Chunk
	offset    int
}

func (sp *splitter) emit(v any, path []string, kind NodeKind) error {
	data, err := marshalCanonical(v)
	if err != nil {
		return err
	}
	sp.chunks = append(sp.chunks, Chunk{
		Header: Header{
			Index:    len(sp.chunks),
			Offset:   sp.offset,
			Size:     len(data),
			Hash:     ContentHash(data),
			Checksum: Checksum(data),
			Encoding: EncodingJSON,
			Path:     path,
			Kind:     kind,
		},
		Value: v,
	})
	sp.offset += len(data)
	return nil
}

func serializedSize(v any) (int, error) {
	data, err := marshalCanonical(v)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// pathWith returns a fresh path slice; paths are stored in headers and
// must not alias the walk's scratch slice.
func pathWith(path []string, segs ...string) []string {
	out := make([]string, 0, len(path)+len(segs))
	out = append(out, path...)
	return append(out, segs...)
}

func (sp *splitter) node(v any, path []string) error {
	size, err := serializedSize(v)
	if err != nil {
		return err
	}
	if size <= sp.chunkSize {
		return sp.emit(v, pathWith(path), kindOf(v))
	}

	switch t := v.(type) {
	case []any:
		return sp.array(t, path)
	case map[string]any:
		return sp.object(t, path)
	default:
		// An atomic leaf wider than chunkSize is emitted as its own
		// oversized chunk.
		return sp.emit(v, pathWith(path), KindValue)
	}
}

// array groups elements into run-length batches under [...path, "items"],
// flushing a batch when the next element would overflow it and recursing
// into any single container element that alone exceeds chunkSize.
func (sp *splitter) array(arr []any, path []string) error {
	var batch []any
	batchSize := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := sp.emit(batch, pathWith(path, pathItems), KindArray)
		batch = nil
		batchSize = 0
		return err
	}

	for i, elem := range arr {
		esz, err := serializedSize(elem)
		if err != nil {
			return err
		}
		if esz > sp.chunkSize && kindOf(elem) != KindValue {
			if err := flush(); err != nil {
				return err
			}
			if err := sp.node(elem, pathWith(path, pathItems, strconv.Itoa(i))); err != nil {
				return err
			}
			continue
		}
		if len(batch) > 0 && batchSize+esz > sp.chunkSize {
			if err := flush(); err != nil {
				return err
			}
		}
		batch = append(batch, elem)
		batchSize += esz
	}
	return flush()
}

// object groups keys under the parent path with the same flush/recurse
// rule. Keys are visited in sorted order so splits are deterministic.
func (sp *splitter) object(obj map[string]any, path []string) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	batch := map[string]any{}
	batchSize := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := sp.emit(batch, pathWith(path), KindObject)
		batch = map[string]any{}
		batchSize = 0
		return err
	}

	for _, k := range keys {
		val := obj[k]
		vsz, err := serializedSize(val)
		if err != nil {
			return err
		}
		vsz += len(k) + 4 // key, quotes, colon, comma
		if vsz > sp.chunkSize && kindOf(val) != KindValue {
			if err := flush(); err != nil {
				return err
			}
			if err := sp.node(val, pathWith(path, escapeKey(k))); err != nil {
				return err
			}
			continue
		}
		if len(batch) > 0 && batchSize+vsz > sp.chunkSize {
			if err := flush(); err != nil {
				return err
			}
		}
		batch[k] = val
		batchSize += vsz
	}
	return flush()
}

func (s *Structured) Merge(chunks []Chunk) (any, error) {
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
	if s.cfg.CompletenessCheck {
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

	seenValues := map[string]bool{}
	var root any
	rootSet := false
	for _, c := range sorted {
		data, err := marshalCanonical(c.Value)
		if err != nil {
			return nil, errors.CorruptFrame(c.Header.Index, "fragment is not serializable", err)
		}
		if got := Checksum(data); got != c.Header.Checksum {
			return nil, errors.ChecksumMismatch(c.Header.Index, c.Header.Checksum, got)
		}

		if c.Header.Kind == KindValue || (len(c.Header.Path) == 0 && c.Header.Kind == KindArray) {
			key := strings.Join(c.Header.Path, "\x1f")
			if seenValues[key] {
				return nil, errors.DuplicatePath(c.Header.Index, c.Header.Path)
			}
			seenValues[key] = true
		}

		if len(c.Header.Path) == 0 && c.Header.Kind != KindObject {
			if rootSet {
				return nil, errors.DuplicatePath(c.Header.Index, nil)
			}
			root = c.Value
			rootSet = true
			continue
		}

		next, err := applyChunk(root, c.Header.Path, c)
		if err != nil {
			return nil, err
		}
		root = next
		rootSet = true
	}
	return root, nil
}

// applyChunk walks the chunk's path from cur, materializing intermediate
// containers, and grafts the fragment at the leaf. It returns the possibly
// replaced subtree.
func applyChunk(cur any, segs []string, c Chunk) (any, error) {
	if len(segs) == 0 {
		return graft(cur, c)
	}

	seg := segs[0]
	if seg == pathItems {
		var arr []any
		switch t := cur.(type) {
		case nil:
			arr = []any{}
		case []any:
			arr = t
		default:
			return nil, errors.New(errors.PhaseMerge, errors.KindInvalidInput).
				Index(c.Header.Index).
				Path(c.Header.Path...).
				Detail("path expects an array, found %T", cur).
				Build()
		}

		if len(segs) == 1 {
			// Run-length batch: append elements in index order.
			vals, ok := c.Value.([]any)
			if !ok {
				return nil, errors.CorruptFrame(c.Header.Index, "array batch fragment is not an array", nil)
			}
			return append(arr, vals...), nil
		}

		idx, err := strconv.Atoi(segs[1])
		if err != nil || idx < 0 {
			return nil, errors.New(errors.PhaseMerge, errors.KindInvalidInput).
				Index(c.Header.Index).
				Path(c.Header.Path...).
				Detail("bad array index %q", segs[1]).
				Build()
		}
		for len(arr) <= idx {
			arr = append(arr, nil)
		}
		child, err := applyChunk(arr[idx], segs[2:], c)
		if err != nil {
			return nil, err
		}
		arr[idx] = child
		return arr, nil
	}

	var m map[string]any
	switch t := cur.(type) {
	case nil:
		m = map[string]any{}
	case map[string]any:
		m = t
	default:
		return nil, errors.New(errors.PhaseMerge, errors.KindInvalidInput).
			Index(c.Header.Index).
			Path(c.Header.Path...).
			Detail("path expects an object, found %T", cur).
			Build()
	}
	key := unescapeKey(seg)
	child, err := applyChunk(m[key], segs[1:], c)
	if err != nil {
		return nil, err
	}
	m[key] = child
	return m, nil
}

// graft places the fragment at its final position. Object fragments merge
// key-by-key into the container already at that position; anything else
// must land on an empty slot.
func graft(cur any, c Chunk) (any, error) {
	switch c.Header.Kind {
	case KindObject:
		src, ok := c.Value.(map[string]any)
		if !ok {
			return nil, errors.CorruptFrame(c.Header.Index, "object fragment is not an object", nil)
		}
		dst := map[string]any{}
		if cur != nil {
			existing, ok := cur.(map[string]any)
			if !ok {
				return nil, errors.DuplicatePath(c.Header.Index, c.Header.Path)
			}
			dst = existing
		}
		for k, v := range src {
			if _, exists := dst[k]; exists {
				return nil, errors.DuplicatePath(c.Header.Index, pathWith(c.Header.Path, k))
			}
			dst[k] = v
		}
		return dst, nil

	default:
		if cur != nil {
			return nil, errors.DuplicatePath(c.Header.Index, c.Header.Path)
		}
		return c.Value, nil
	}
}
