// Package worker provides execution backends for the pipeline.
//
// Registry maps operation names to in-process Go functions; it is the
// simplest backend and the one tests use. WASM runs operations inside a
// compiled WebAssembly module, marshalling chunk bytes through the
// guest's linear memory with the memory package's allocator.
//
// Workers receive one chunk per call and return the processed chunk.
// Operations that transform the payload must refresh the chunk header
// (chunk.Chunk.WithData and friends) so the result still verifies at
// merge time.
package worker
