// Package offload splits large payloads into validated chunks, ships them
// through a bounded-concurrency pipeline to out-of-process compute workers,
// and reassembles the results into the original shape.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	offload/             Root package with LinearMemory and Worker interfaces
//	├── memory/          Free-list allocator over a growable linear memory
//	├── chunk/           Chunking strategies: binary, text, structured
//	├── pipeline/        Wave-based dispatch with timeout, retry, and stats
//	├── worker/          Worker implementations: in-process and wazero-backed
//	└── errors/          Structured error types for debugging
//
// # Quick Start
//
// Process a byte buffer through an in-process worker:
//
//	reg := worker.NewRegistry()
//	reg.Register("identity", func(ctx context.Context, call offload.Call) (any, error) {
//	    return call.Input, nil
//	})
//
//	p := pipeline.New(chunk.NewBinary(), reg)
//	out, err := p.Process(ctx, "identity", payload)
//
// The pipeline splits the payload with the chosen strategy, dispatches at
// most Config.MaxConcurrency chunks at a time, retries transient worker
// failures, and merges the surviving results in chunk order. Callers receive
// either the fully merged, validated output or a single aggregate error;
// partial results are never returned.
//
// # Linear Memory
//
// The memory package manages raw byte ranges inside a LinearMemory (an
// in-process buffer or a live wazero instance's memory) with alignment,
// block splitting, and adjacent free-block merging. It is the substrate the
// WASM-backed worker uses to move chunk bytes across the guest boundary.
package offload
