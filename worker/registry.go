package worker

import (
	"context"
	"strings"
	"sync"
	"unicode"

	offload "github.com/wippyai/offload"
	"github.com/wippyai/offload/chunk"
	"github.com/wippyai/offload/errors"
)

// Func is one in-process operation.
type Func func(ctx context.Context, call offload.Call) (any, error)

// Registry is an in-process Worker mapping operation names to functions.
// Registration is safe for concurrent use with Execute.
type Registry struct {
	mu  sync.RWMutex
	ops map[string]Func
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]Func)}
}

// NewRegistryWithBuiltins creates a registry preloaded with the built-in
// text operations: identity, uppercase, and normalize-whitespace.
func NewRegistryWithBuiltins() *Registry {
	r := NewRegistry()
	r.Register("identity", func(_ context.Context, call offload.Call) (any, error) {
		return call.Input, nil
	})
	r.Register("uppercase", Transform(strings.ToUpper))
	r.Register("normalize-whitespace", Transform(normalizeWhitespace))
	return r
}

// Register adds or replaces an operation.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[name] = fn
}

// Execute implements offload.Worker.
func (r *Registry) Execute(ctx context.Context, op string, call offload.Call) (any, error) {
	r.mu.RLock()
	fn, ok := r.ops[op]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound(errors.PhaseWorker, "operation", op)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fn(ctx, call)
}

// Transform lifts a string function into an operation over text and
// binary chunks, refreshing the chunk header around the new payload.
func Transform(fn func(string) string) Func {
	return func(_ context.Context, call offload.Call) (any, error) {
		c, ok := call.Input.(chunk.Chunk)
		if !ok {
			return nil, errors.InvalidInput(errors.PhaseWorker, "input is not a chunk")
		}
		switch c.Header.Encoding {
		case chunk.EncodingUTF8:
			return c.WithText(fn(c.Text)), nil
		case chunk.EncodingRaw:
			return c.WithData([]byte(fn(string(c.Data)))), nil
		default:
			return nil, errors.Unsupported(errors.PhaseWorker, "transform over structured chunks")
		}
	}
}

// normalizeWhitespace collapses runs of whitespace into single spaces,
// preserving newlines so paragraph structure survives.
func normalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case r == '\n':
			b.WriteRune(r)
			space = false
		case unicode.IsSpace(r):
			space = true
		default:
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		}
	}
	return b.String()
}
