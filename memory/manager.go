package memory

import (
	"sort"
	"time"

	"go.uber.org/zap"

	offload "github.com/wippyai/offload"
	"github.com/wippyai/offload/errors"
)

// DefaultAlign is the alignment applied when Alloc is called with align 0.
const DefaultAlign = 8

// Block is one tracked contiguous byte range of the managed linear memory.
// Blocks never overlap and a Ptr uniquely identifies a block.
type Block struct {
	Ptr     uint32
	Size    uint32
	Used    bool
	Touched time.Time
}

// Config holds Manager tuning knobs. The zero value selects defaults.
type Config struct {
	// GCThreshold is the number of allocated bytes beyond which Alloc
	// runs a garbage collection pass before searching for a fit.
	// 0 means 1 MiB.
	GCThreshold uint64

	// GCCooldown is the minimum interval between GC passes. A pass
	// requested inside the window is skipped. 0 means 500ms; negative
	// disables rate limiting.
	GCCooldown time.Duration

	// MaxPages caps linear memory growth. 0 means 65536 pages (4 GiB).
	MaxPages uint32
}

const (
	defaultGCThreshold = 1 << 20
	defaultGCCooldown  = 500 * time.Millisecond
	defaultMaxPages    = 65536
)

// Stats is a point-in-time snapshot of the manager's accounting.
// Page counts for used and free space are rounded up, so a manager with
// any free bytes at all reports FreePages >= 1.
type Stats struct {
	TotalPages     uint32
	UsedPages      uint32
	FreePages      uint32
	GrowthCount    uint32
	GCRuns         uint64
	BytesAllocated uint64
}

// Manager is a free-list allocator over a LinearMemory.
// Not safe for concurrent use.
type Manager struct {
	mem       offload.LinearMemory
	cfg       Config
	blocks    []Block // sorted by Ptr
	allocated uint64
	growth    uint32
	gcRuns    uint64
	lastGC    time.Time
}

// NewManager creates a manager with default configuration.
func NewManager(mem offload.LinearMemory) *Manager {
	return NewManagerWithConfig(mem, nil)
}

// NewManagerWithConfig creates a manager with custom configuration.
// A nil cfg selects defaults.
func NewManagerWithConfig(mem offload.LinearMemory, cfg *Config) *Manager {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	if c.GCThreshold == 0 {
		c.GCThreshold = defaultGCThreshold
	}
	if c.GCCooldown == 0 {
		c.GCCooldown = defaultGCCooldown
	}
	if c.MaxPages == 0 {
		c.MaxPages = defaultMaxPages
	}
	m := &Manager{mem: mem, cfg: c}
	if size := mem.Size(); size > 0 {
		m.blocks = append(m.blocks, Block{Ptr: 0, Size: size, Touched: time.Now()})
	}
	return m
}

// Memory returns the underlying linear memory substrate.
func (m *Manager) Memory() offload.LinearMemory {
	return m.mem
}

func alignUp(ptr, align uint32) uint32 {
	return (ptr + align - 1) &^ (align - 1)
}

// Alloc reserves size bytes and returns an offset satisfying
// ptr % align == 0. align must be a power of two; 0 selects DefaultAlign.
// A zero size request returns an aligned offset without reserving a block.
func (m *Manager) Alloc(size, align uint32) (uint32, error) {
	if align == 0 {
		align = DefaultAlign
	}
	if align&(align-1) != 0 {
		return 0, errors.InvalidInput(errors.PhaseAlloc, "alignment must be a power of two")
	}

	if m.allocated+uint64(size) > m.cfg.GCThreshold {
		m.GC()
	}

	if ptr, ok := m.takeFit(size, align); ok {
		return ptr, nil
	}

	ptr, err := m.growFor(size, align)
	if err != nil {
		return 0, err
	}
	return ptr, nil
}

// takeFit scans the address-sorted free list for the first block whose
// aligned start plus size still fits, splitting the block into up to
// three parts: leading pad, the used block, and a trailing remainder.
func (m *Manager) takeFit(size, align uint32) (uint32, bool) {
	for i := range m.blocks {
		b := m.blocks[i]
		if b.Used {
			continue
		}
		start := alignUp(b.Ptr, align)
		if start < b.Ptr { // wrapped
			continue
		}
		pad := uint64(start) - uint64(b.Ptr)
		if pad+uint64(size) > uint64(b.Size) {
			continue
		}

		if size == 0 {
			return start, true
		}

		now := time.Now()
		repl := make([]Block, 0, 3)
		if pad > 0 {
			repl = append(repl, Block{Ptr: b.Ptr, Size: uint32(pad), Touched: now})
		}
		repl = append(repl, Block{Ptr: start, Size: size, Used: true, Touched: now})
		if rem := uint64(b.Size) - pad - uint64(size); rem > 0 {
			repl = append(repl, Block{Ptr: start + size, Size: uint32(rem), Touched: now})
		}

		m.blocks = append(m.blocks[:i], append(repl, m.blocks[i:][1:]...)...)
		m.allocated += uint64(size)
		return start, true
	}
	return 0, false
}

// growFor extends the linear memory by enough pages to cover size plus
// alignment slack and registers the allocation at the start of the newly
// granted region. The remainder of the grown region is tracked as a free
// block.
func (m *Manager) growFor(size, align uint32) (uint32, error) {
	need := uint64(size) + uint64(align)
	pages := uint32((need + offload.PageSize - 1) / offload.PageSize)
	if pages == 0 {
		pages = 1
	}

	curPages := m.mem.Size() / offload.PageSize
	if uint64(curPages)+uint64(pages) > uint64(m.cfg.MaxPages) {
		offload.Logger().Warn("allocation exceeds growth limit",
			zap.Uint32("size", size),
			zap.Uint32("align", align),
			zap.Uint32("max_pages", m.cfg.MaxPages))
		return 0, errors.OutOfMemory(size, align, m.freeBytes())
	}

	base := m.mem.Size()
	if _, err := m.mem.Grow(pages); err != nil {
		return 0, errors.New(errors.PhaseAlloc, errors.KindOutOfMemory).
			Cause(err).
			Detail("grow by %d pages failed", pages).
			Build()
	}
	m.growth++

	start := alignUp(base, align)
	now := time.Now()
	if start > base {
		m.insertBlock(Block{Ptr: base, Size: start - base, Touched: now})
	}
	if size > 0 {
		m.insertBlock(Block{Ptr: start, Size: size, Used: true, Touched: now})
		m.allocated += uint64(size)
	}
	end := base + pages*offload.PageSize
	if start+size < end {
		m.insertBlock(Block{Ptr: start + size, Size: end - start - size, Touched: now})
	}

	offload.Logger().Debug("linear memory grown",
		zap.Uint32("pages", pages),
		zap.Uint32("ptr", start),
		zap.Uint32("size", size))
	return start, nil
}

func (m *Manager) insertBlock(b Block) {
	i := sort.Search(len(m.blocks), func(i int) bool { return m.blocks[i].Ptr >= b.Ptr })
	m.blocks = append(m.blocks, Block{})
	copy(m.blocks[i+1:], m.blocks[i:])
	m.blocks[i] = b
}

func (m *Manager) findBlock(ptr uint32) int {
	i := sort.Search(len(m.blocks), func(i int) bool { return m.blocks[i].Ptr >= ptr })
	if i < len(m.blocks) && m.blocks[i].Ptr == ptr {
		return i
	}
	return -1
}

// Free marks the block at ptr as unused. Freeing an untracked pointer is
// a logged no-op. Freeing an already-free block re-touches it without
// double-subtracting its size.
func (m *Manager) Free(ptr uint32) {
	i := m.findBlock(ptr)
	if i < 0 {
		offload.Logger().Warn("free of untracked pointer", zap.Uint32("ptr", ptr))
		return
	}
	b := &m.blocks[i]
	b.Touched = time.Now()
	if !b.Used {
		offload.Logger().Debug("double free", zap.Uint32("ptr", ptr))
		return
	}
	b.Used = false
	m.allocated -= uint64(b.Size)
}

// GC merges adjacent free blocks left-to-right and returns the number of
// merges performed. Passes inside the cooldown window are skipped. Used
// blocks are never moved; there is no compaction.
func (m *Manager) GC() int {
	if m.cfg.GCCooldown > 0 && time.Since(m.lastGC) < m.cfg.GCCooldown {
		return 0
	}
	m.lastGC = time.Now()
	m.gcRuns++

	merged := 0
	for i := 0; i+1 < len(m.blocks); {
		cur := &m.blocks[i]
		next := m.blocks[i+1]
		if !cur.Used && !next.Used && cur.Ptr+cur.Size == next.Ptr {
			cur.Size += next.Size
			cur.Touched = m.lastGC
			m.blocks = append(m.blocks[:i+1], m.blocks[i+2:]...)
			merged++
			continue
		}
		i++
	}

	if merged > 0 {
		offload.Logger().Debug("gc merged free blocks", zap.Int("merged", merged))
	}
	return merged
}

func (m *Manager) freeBytes() uint64 {
	var n uint64
	for _, b := range m.blocks {
		if !b.Used {
			n += uint64(b.Size)
		}
	}
	return n
}

// Stats returns a snapshot of the manager's accounting.
func (m *Manager) Stats() Stats {
	free := m.freeBytes()
	s := Stats{
		TotalPages:     m.mem.Size() / offload.PageSize,
		GrowthCount:    m.growth,
		GCRuns:         m.gcRuns,
		BytesAllocated: m.allocated,
	}
	s.UsedPages = uint32((m.allocated + offload.PageSize - 1) / offload.PageSize)
	s.FreePages = uint32((free + offload.PageSize - 1) / offload.PageSize)
	return s
}

// Blocks returns a copy of the tracked blocks in address order.
func (m *Manager) Blocks() []Block {
	out := make([]Block, len(m.blocks))
	copy(out, m.blocks)
	return out
}
