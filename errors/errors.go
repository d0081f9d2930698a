package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseAlloc    Phase = "alloc"    // linear memory allocation
	PhaseGC       Phase = "gc"       // free-block reclamation
	PhaseSplit    Phase = "split"    // payload chunking
	PhaseMerge    Phase = "merge"    // chunk reassembly
	PhaseDispatch Phase = "dispatch" // pipeline task execution
	PhaseValidate Phase = "validate" // data validation
	PhaseWorker   Phase = "worker"   // worker backend
)

// Kind categorizes the error
type Kind string

const (
	KindOutOfMemory      Kind = "out_of_memory"
	KindChecksumMismatch Kind = "checksum_mismatch"
	KindMissingChunk     Kind = "missing_chunk"
	KindDuplicateChunk   Kind = "duplicate_chunk"
	KindDuplicatePath    Kind = "duplicate_path"
	KindMaxDepth         Kind = "max_depth"
	KindCyclicStructure  Kind = "cyclic_structure"
	KindInvalidInput     Kind = "invalid_input"
	KindTimeout          Kind = "timeout"
	KindTaskFailed       Kind = "task_failed"
	KindValidation       Kind = "validation"
	KindUnsupported      Kind = "unsupported"
	KindNotFound         Kind = "not_found"
	KindOutOfBounds      Kind = "out_of_bounds"
	KindCorruptFrame     Kind = "corrupt_frame"
)

// Error is the structured error type used throughout the library
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Path   []string

	// Index is the offending chunk index, or -1 when the error is not
	// tied to a particular chunk.
	Index int
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Index >= 0 {
		fmt.Fprintf(&b, " (chunk %d)", e.Index)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
			Index: -1,
		},
	}
}

// Path sets the structural path to the offending fragment
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Index sets the offending chunk index
func (b *Builder) Index(i int) *Builder {
	b.err.Index = i
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// OutOfMemory creates an allocation failure error carrying the request
// size, alignment, and the bytes still available.
func OutOfMemory(size, align uint32, available uint64) *Error {
	return &Error{
		Phase:  PhaseAlloc,
		Kind:   KindOutOfMemory,
		Index:  -1,
		Detail: fmt.Sprintf("cannot allocate %d bytes (align %d), %d bytes available", size, align, available),
		Value:  size,
	}
}

// ChecksumMismatch creates a corruption error naming the offending chunk
func ChecksumMismatch(index int, want, got string) *Error {
	return &Error{
		Phase:  PhaseMerge,
		Kind:   KindChecksumMismatch,
		Index:  index,
		Detail: fmt.Sprintf("checksum %s does not match header %s", got, want),
	}
}

// MissingChunk creates an incompleteness error for a gap in the index run
func MissingChunk(index, total int) *Error {
	return &Error{
		Phase:  PhaseMerge,
		Kind:   KindMissingChunk,
		Index:  index,
		Detail: fmt.Sprintf("expected %d chunks", total),
	}
}

// DuplicateChunk creates an error for a repeated chunk index
func DuplicateChunk(index int) *Error {
	return &Error{
		Phase: PhaseMerge,
		Kind:  KindDuplicateChunk,
		Index: index,
	}
}

// DuplicatePath creates an error for two structured chunks claiming one path
func DuplicatePath(index int, path []string) *Error {
	return &Error{
		Phase: PhaseMerge,
		Kind:  KindDuplicatePath,
		Index: index,
		Path:  path,
	}
}

// MaxDepth creates a structural error for nesting beyond the configured limit
func MaxDepth(depth, limit int, path []string) *Error {
	return &Error{
		Phase:  PhaseSplit,
		Kind:   KindMaxDepth,
		Index:  -1,
		Path:   path,
		Detail: fmt.Sprintf("maximum depth exceeded: %d > %d", depth, limit),
	}
}

// CyclicStructure creates a structural error for self-referential input
func CyclicStructure(path []string) *Error {
	return &Error{
		Phase:  PhaseSplit,
		Kind:   KindCyclicStructure,
		Index:  -1,
		Path:   path,
		Detail: "structure references itself",
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Index:  -1,
		Detail: detail,
	}
}

// Timeout creates a task timeout error
func Timeout(op string, index int) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindTimeout,
		Index:  index,
		Detail: fmt.Sprintf("operation %q timed out", op),
	}
}

// TaskFailed creates the pipeline's aggregate failure error
func TaskFailed(failed, total int, cause error) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindTaskFailed,
		Index:  -1,
		Detail: fmt.Sprintf("%d of %d tasks failed permanently", failed, total),
		Cause:  cause,
	}
}

// Validation creates a merged-output validation error
func Validation(detail string) *Error {
	return &Error{
		Phase:  PhaseValidate,
		Kind:   KindValidation,
		Index:  -1,
		Detail: detail,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Index:  -1,
		Detail: what,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Index:  -1,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// OutOfBounds creates an out of bounds error for linear memory access
func OutOfBounds(phase Phase, offset uint32, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Index:  -1,
		Detail: fmt.Sprintf("access at offset %d, length %d out of bounds", offset, length),
		Value:  offset,
	}
}

// CorruptFrame creates an error for an undecodable chunk wire frame
func CorruptFrame(index int, detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseMerge,
		Kind:   KindCorruptFrame,
		Index:  index,
		Detail: detail,
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Index:  -1,
		Detail: detail,
		Cause:  cause,
	}
}
