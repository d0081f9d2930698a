package memory

import (
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// WazeroMemory adapts a wazero instance's memory to offload.LinearMemory,
// letting a Manager allocate directly inside a live guest address space.
type WazeroMemory struct {
	mem api.Memory
}

// WrapWazero wraps an exported wazero memory.
func WrapWazero(mem api.Memory) *WazeroMemory {
	return &WazeroMemory{mem: mem}
}

// Read returns a view into guest memory. The view is only valid until the
// next guest call that may grow memory.
func (m *WazeroMemory) Read(offset, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, fmt.Errorf("read out of bounds: offset=%d, length=%d", offset, length)
	}
	return data, nil
}

func (m *WazeroMemory) Write(offset uint32, data []byte) error {
	if ok := m.mem.Write(offset, data); !ok {
		return fmt.Errorf("write out of bounds: offset=%d, length=%d", offset, len(data))
	}
	return nil
}

func (m *WazeroMemory) Size() uint32 {
	return m.mem.Size()
}

func (m *WazeroMemory) Grow(pages uint32) (uint32, error) {
	prev, ok := m.mem.Grow(pages)
	if !ok {
		return 0, fmt.Errorf("grow by %d pages refused by instance", pages)
	}
	return prev + pages, nil
}
