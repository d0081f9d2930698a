package offload

import "context"

// PageSize is the granularity of linear memory growth, matching the
// WebAssembly page size.
const PageSize = 64 * 1024

// LinearMemory is a single growable, byte-addressable buffer modeled
// after a WASM instance's memory. The allocator in the memory package
// treats it as opaque beyond these operations.
type LinearMemory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error

	// Size returns the current length of the memory in bytes.
	Size() uint32

	// Grow extends the memory by the given number of pages and returns
	// the new total page count. Growth is all-or-nothing.
	Grow(pages uint32) (uint32, error)
}

// Call carries the arguments of one worker invocation: the chunk input
// plus its position within the originating split.
type Call struct {
	Input       any
	ChunkIndex  int
	TotalChunks int
}

// Worker executes a named operation against one chunk. Implementations
// may be backed by an in-process function table, a subprocess pool, or
// a WASM instance; the pipeline only requires that Execute is
// asynchronous-safe and fallible.
type Worker interface {
	Execute(ctx context.Context, op string, call Call) (any, error)
}
