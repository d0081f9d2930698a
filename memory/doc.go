// Package memory provides a free-list allocator over a growable linear
// memory region.
//
// The Manager tracks contiguous byte ranges (blocks) inside an
// offload.LinearMemory. Alloc returns aligned offsets, splitting free
// blocks as needed; Free re-marks blocks; GC merges adjacent free blocks
// to reduce fragmentation. Used blocks are never moved, so callers may
// hold raw offsets across calls.
//
// Two substrates are provided: BufferMemory, an in-process growable byte
// slice, and WazeroMemory, which adapts a live wazero instance's memory.
//
// The Manager performs no internal locking. It is owned by a single
// goroutine; callers sharing one Manager across concurrent tasks must
// serialize access themselves.
package memory
