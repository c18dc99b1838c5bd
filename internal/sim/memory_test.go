package sim

import (
	"errors"
	"testing"

	"gvisor.dev/gvisor/pkg/hostarch"
)

func TestMemoryAllocate(t *testing.T) {
	m, err := NewMemory(3)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	defer m.Close()

	first, err := m.Allocate(1)
	if err != nil {
		t.Fatalf("Allocate(1): %v", err)
	}
	if first != DefaultPhysBase {
		t.Errorf("first frame at %#x, want %#x", first, DefaultPhysBase)
	}
	second, err := m.Allocate(2)
	if err != nil {
		t.Fatalf("Allocate(2): %v", err)
	}
	if second != first+hostarch.PageSize {
		t.Errorf("second allocation at %#x, want %#x", second, first+hostarch.PageSize)
	}
	if _, err := m.Allocate(1); !errors.Is(err, ErrOutOfFrames) {
		t.Errorf("Allocate past budget: err = %v, want ErrOutOfFrames", err)
	}
	if m.Used() != 3 {
		t.Errorf("Used() = %d, want 3", m.Used())
	}
}

func TestMemoryMap(t *testing.T) {
	m, err := NewMemory(2)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	defer m.Close()

	if _, err := m.Map(DefaultPhysBase, 1); !errors.Is(err, ErrUnmapped) {
		t.Errorf("Map before Allocate: err = %v, want ErrUnmapped", err)
	}

	phys, err := m.Allocate(1)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	b, err := m.Map(phys, 1)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if len(b) != hostarch.PageSize {
		t.Fatalf("len = %d, want %d", len(b), hostarch.PageSize)
	}
	b[10] = 0xaa
	if got := m.Page(phys + 10)[10]; got != 0xaa {
		t.Errorf("Page(phys+10)[10] = %#x, want 0xaa", got)
	}

	if _, err := m.Map(phys+1, 1); !errors.Is(err, ErrUnmapped) {
		t.Errorf("unaligned Map: err = %v, want ErrUnmapped", err)
	}
	if _, err := m.Map(phys, 2); !errors.Is(err, ErrUnmapped) {
		t.Errorf("Map beyond allocation: err = %v, want ErrUnmapped", err)
	}
	if m.Page(0) != nil {
		t.Error("Page(0) should be nil")
	}
}

func TestMemoryFailAfter(t *testing.T) {
	m, err := NewMemory(4)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	defer m.Close()

	m.FailAfter(1)
	if _, err := m.Allocate(1); err != nil {
		t.Fatalf("first Allocate: %v", err)
	}
	if _, err := m.Allocate(1); !errors.Is(err, ErrOutOfFrames) {
		t.Errorf("second Allocate: err = %v, want ErrOutOfFrames", err)
	}
}
