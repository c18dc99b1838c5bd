package sim

import (
	"errors"
	"fmt"
	"sync"

	"gvisor.dev/gvisor/pkg/hostarch"
)

var (
	// ErrOutOfFrames is returned when an allocation exceeds the frame budget.
	ErrOutOfFrames = errors.New("sim: out of physical frames")
	// ErrUnmapped is returned when a mapping falls outside allocated frames.
	ErrUnmapped = errors.New("sim: frames are not allocated")
)

// DefaultPhysBase is the physical address of the first simulated frame.
const DefaultPhysBase = 0x100000

// Memory is a bump allocator over a fixed budget of page frames, backed by
// anonymous host memory. Physical addresses are synthetic and start at
// DefaultPhysBase.
type Memory struct {
	mu        sync.Mutex
	base      uint64
	buf       []byte
	used      int
	failAfter int
}

// NewMemory reserves frames pages.
func NewMemory(frames int) (*Memory, error) {
	if frames < 0 {
		return nil, fmt.Errorf("sim: negative frame budget %d", frames)
	}
	buf, err := allocate(frames * hostarch.PageSize)
	if err != nil {
		return nil, fmt.Errorf("sim: reserve %d frames: %w", frames, err)
	}
	return &Memory{base: DefaultPhysBase, buf: buf, failAfter: -1}, nil
}

// Frames returns the frame budget.
func (m *Memory) Frames() int {
	return len(m.buf) / hostarch.PageSize
}

// Used returns the number of allocated frames.
func (m *Memory) Used() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}

// FailAfter makes every allocation after the first n fail with
// ErrOutOfFrames, independent of the remaining budget. A negative n
// disables the injection.
func (m *Memory) FailAfter(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
}

// Allocate returns the physical address of count contiguous zeroed frames.
func (m *Memory) Allocate(count int) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if count <= 0 {
		return 0, fmt.Errorf("sim: allocate %d frames", count)
	}
	if m.failAfter == 0 {
		return 0, ErrOutOfFrames
	}
	if m.used+count > m.Frames() {
		return 0, fmt.Errorf("%w: %d requested, %d of %d in use", ErrOutOfFrames, count, m.used, m.Frames())
	}
	if m.failAfter > 0 {
		m.failAfter--
	}
	phys := m.base + uint64(m.used*hostarch.PageSize)
	m.used += count
	return phys, nil
}

// Map returns the host view of count frames starting at base.
func (m *Memory) Map(base uint64, count int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	off, ok := m.offset(base)
	if !ok || count <= 0 || !hostarch.Addr(base).IsPageAligned() {
		return nil, fmt.Errorf("%w: %#x", ErrUnmapped, base)
	}
	end := off + uint64(count*hostarch.PageSize)
	if end > uint64(m.used*hostarch.PageSize) {
		return nil, fmt.Errorf("%w: %#x+%d frames", ErrUnmapped, base, count)
	}
	return m.buf[off:end:end], nil
}

// Page returns the host view of the page containing phys, or nil.
func (m *Memory) Page(phys uint64) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	off, ok := m.offset(uint64(hostarch.Addr(phys).RoundDown()))
	if !ok {
		return nil
	}
	return m.buf[off : off+hostarch.PageSize]
}

func (m *Memory) offset(phys uint64) (uint64, bool) {
	if phys < m.base || phys-m.base >= uint64(len(m.buf)) {
		return 0, false
	}
	return phys - m.base, true
}

// Close releases the backing memory.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buf == nil {
		return nil
	}
	err := release(m.buf)
	m.buf = nil
	return err
}
