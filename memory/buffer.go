package memory

import (
	"fmt"

	offload "github.com/wippyai/offload"
)

// BufferMemory is an in-process LinearMemory backed by a byte slice.
// It grows in whole pages like a WASM instance's memory.
type BufferMemory struct {
	data     []byte
	maxPages uint32
}

// NewBufferMemory creates a buffer of initialPages pages with no growth cap.
func NewBufferMemory(initialPages uint32) *BufferMemory {
	return NewBufferMemoryWithLimit(initialPages, 0)
}

// NewBufferMemoryWithLimit creates a buffer capped at maxPages pages.
// maxPages 0 means unlimited.
func NewBufferMemoryWithLimit(initialPages, maxPages uint32) *BufferMemory {
	return &BufferMemory{
		data:     make([]byte, initialPages*offload.PageSize),
		maxPages: maxPages,
	}
}

func (b *BufferMemory) Read(offset, length uint32) ([]byte, error) {
	if uint64(offset)+uint64(length) > uint64(len(b.data)) {
		return nil, fmt.Errorf("read out of bounds: offset=%d, length=%d", offset, length)
	}
	return b.data[offset : offset+length], nil
}

func (b *BufferMemory) Write(offset uint32, data []byte) error {
	if uint64(offset)+uint64(len(data)) > uint64(len(b.data)) {
		return fmt.Errorf("write out of bounds: offset=%d, length=%d", offset, len(data))
	}
	copy(b.data[offset:], data)
	return nil
}

func (b *BufferMemory) Size() uint32 {
	return uint32(len(b.data))
}

func (b *BufferMemory) Grow(pages uint32) (uint32, error) {
	cur := uint32(len(b.data)) / offload.PageSize
	if b.maxPages > 0 && cur+pages > b.maxPages {
		return 0, fmt.Errorf("grow by %d pages exceeds limit of %d", pages, b.maxPages)
	}
	b.data = append(b.data, make([]byte, pages*offload.PageSize)...)
	return cur + pages, nil
}
