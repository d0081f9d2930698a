package worker

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	offload "github.com/wippyai/offload"
	"github.com/wippyai/offload/chunk"
	"github.com/wippyai/offload/errors"
	"github.com/wippyai/offload/memory"
)

// WASMConfig holds configuration for the WASM worker.
type WASMConfig struct {
	// MemoryLimitPages caps the instance's memory in 64 KiB pages.
	// 0 means the wazero default.
	MemoryLimitPages uint32

	// ModuleName names the instantiated module. Empty means "worker".
	ModuleName string
}

// WASM executes operations inside a compiled WebAssembly module.
//
// The guest ABI: every operation is an export with signature
// (ptr, len i32) -> i64, receiving one encoded chunk frame and returning
// the result frame's location packed as (ptr << 32) | len. Payload bytes
// move through the guest's exported "allocate"/"deallocate" functions
// when present; modules without their own allocator get host-managed
// allocation inside their linear memory instead.
//
// Guest calls are serialized: a module instance is not reentrant. The
// pipeline's concurrency still overlaps the host-side encode/decode work.
type WASM struct {
	runtime wazero.Runtime
	module  api.Module
	mem     *memory.WazeroMemory
	alloc   guestAllocator

	mu    sync.Mutex
	funcs map[string]api.Function
}

// NewWASM instantiates a worker module with default configuration.
func NewWASM(ctx context.Context, wasmBytes []byte) (*WASM, error) {
	return NewWASMWithConfig(ctx, wasmBytes, nil)
}

// NewWASMWithConfig instantiates a worker module with custom configuration.
// A nil cfg selects defaults.
func NewWASMWithConfig(ctx context.Context, wasmBytes []byte, cfg *WASMConfig) (*WASM, error) {
	c := WASMConfig{ModuleName: "worker"}
	if cfg != nil {
		c = *cfg
		if c.ModuleName == "" {
			c.ModuleName = "worker"
		}
	}

	runtimeCfg := wazero.NewRuntimeConfig()
	if c.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(c.MemoryLimitPages)
	}
	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	mod, err := r.InstantiateWithConfig(ctx, wasmBytes,
		wazero.NewModuleConfig().WithName(c.ModuleName))
	if err != nil {
		_ = r.Close(ctx)
		return nil, errors.Wrap(errors.PhaseWorker, errors.KindInvalidInput, err, "instantiate worker module")
	}

	memExport := mod.Memory()
	if memExport == nil {
		_ = r.Close(ctx)
		return nil, errors.InvalidInput(errors.PhaseWorker, "worker module exports no memory")
	}
	wmem := memory.WrapWazero(memExport)

	w := &WASM{
		runtime: r,
		module:  mod,
		mem:     wmem,
		funcs:   make(map[string]api.Function),
	}

	if allocFn := mod.ExportedFunction("allocate"); allocFn != nil {
		w.alloc = &guestExports{alloc: allocFn, free: mod.ExportedFunction("deallocate")}
	} else {
		offload.Logger().Debug("worker module has no allocator exports, using host-managed allocation",
			zap.String("module", c.ModuleName))
		w.alloc = &hostManaged{mgr: memory.NewManager(wmem)}
	}
	return w, nil
}

// Close releases the module and its runtime.
func (w *WASM) Close(ctx context.Context) error {
	return w.runtime.Close(ctx)
}

// Memory returns the guest's linear memory.
func (w *WASM) Memory() offload.LinearMemory {
	return w.mem
}

func (w *WASM) exported(op string) (api.Function, error) {
	if fn, ok := w.funcs[op]; ok {
		return fn, nil
	}
	fn := w.module.ExportedFunction(op)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseWorker, "operation", op)
	}
	w.funcs[op] = fn
	return fn, nil
}

// Execute implements offload.Worker.
func (w *WASM) Execute(ctx context.Context, op string, call offload.Call) (any, error) {
	c, ok := call.Input.(chunk.Chunk)
	if !ok {
		return nil, errors.InvalidInput(errors.PhaseWorker, "input is not a chunk")
	}
	frame, err := chunk.EncodeFrame(c)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	fn, err := w.exported(op)
	if err != nil {
		return nil, err
	}

	ptr, err := w.alloc.allocate(ctx, uint32(len(frame)))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseWorker, errors.KindOutOfMemory, err, "allocate guest frame")
	}
	defer w.alloc.deallocate(ctx, ptr, uint32(len(frame)))

	if err := w.mem.Write(ptr, frame); err != nil {
		return nil, errors.Wrap(errors.PhaseWorker, errors.KindOutOfBounds, err, "write guest frame")
	}

	results, err := fn.Call(ctx, uint64(ptr), uint64(len(frame)))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseWorker, errors.KindTaskFailed, err, "call guest operation")
	}
	if len(results) != 1 {
		return nil, errors.InvalidInput(errors.PhaseWorker, "guest operation returned no result")
	}

	rptr := uint32(results[0] >> 32)
	rlen := uint32(results[0])
	out, err := w.mem.Read(rptr, rlen)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseWorker, errors.KindOutOfBounds, err, "read guest result")
	}
	result, err := chunk.DecodeFrame(out)
	// Guests may answer in place; the input buffer is already deferred.
	if rptr != ptr {
		w.alloc.deallocate(ctx, rptr, rlen)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// guestAllocator abstracts where frame bytes live inside guest memory.
type guestAllocator interface {
	allocate(ctx context.Context, size uint32) (uint32, error)
	deallocate(ctx context.Context, ptr, size uint32)
}

// guestExports drives the module's own allocator exports.
type guestExports struct {
	alloc api.Function
	free  api.Function
}

func (g *guestExports) allocate(ctx context.Context, size uint32) (uint32, error) {
	results, err := g.alloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, err
	}
	if len(results) != 1 {
		return 0, errors.InvalidInput(errors.PhaseWorker, "guest allocate returned no pointer")
	}
	return uint32(results[0]), nil
}

func (g *guestExports) deallocate(ctx context.Context, ptr, size uint32) {
	if g.free == nil || ptr == 0 {
		return
	}
	if _, err := g.free.Call(ctx, uint64(ptr), uint64(size)); err != nil {
		offload.Logger().Warn("guest deallocate failed",
			zap.Uint32("ptr", ptr),
			zap.Uint32("size", size),
			zap.Error(err))
	}
}

// hostManaged allocates inside guest memory with the host-side free-list
// allocator. Only safe for modules that do not manage their own heap.
type hostManaged struct {
	mgr *memory.Manager
}

func (h *hostManaged) allocate(_ context.Context, size uint32) (uint32, error) {
	return h.mgr.Alloc(size, memory.DefaultAlign)
}

func (h *hostManaged) deallocate(_ context.Context, ptr, _ uint32) {
	h.mgr.Free(ptr)
}
