// Package errors provides structured error types for the offload library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type includes rich context: the offending chunk index,
// the structural path within a nested payload, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseMerge, errors.KindChecksumMismatch).
//		Index(3).
//		Detail("payload altered in flight").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.ChecksumMismatch(3, want, got)
//	err := errors.OutOfMemory(4096, 8, available)
//
// All errors implement the standard error interface and support errors.Is/As.
// Matching with errors.Is compares Phase and Kind only, so sentinel values
// built with New(...).Build() select whole error classes:
//
//	if errors.Is(err, errors.New(errors.PhaseAlloc, errors.KindOutOfMemory).Build()) {
//	    // shrink the request and retry
//	}
package errors
