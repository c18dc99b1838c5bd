package vmx

import (
	"testing"

	"github.com/blacktop/go-vmxboot/internal/sim"
)

// newMachine returns an Intel processor attached to a memory of frames pages.
func newMachine(t *testing.T, frames int) (*sim.CPU, *sim.Memory) {
	t.Helper()
	mem, err := sim.NewMemory(frames)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	t.Cleanup(func() { mem.Close() })
	cpu := sim.NewIntelCPU()
	cpu.SetMemory(mem)
	return cpu, mem
}

// newRegion allocates a page and fills it with garbage so that tests observe
// the zeroing.
func newRegion(t *testing.T, mem *sim.Memory) Region {
	t.Helper()
	phys, err := mem.Allocate(1)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	virt, err := mem.Map(phys, 1)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	for i := range virt {
		virt[i] = 0xcc
	}
	return Region{Virt: virt, Phys: phys}
}

func isPrepared(page []byte, revision uint32) bool {
	if len(page) != RegionSize {
		return false
	}
	want := []byte{byte(revision), byte(revision >> 8), byte(revision >> 16), byte(revision >> 24)}
	for i, b := range page {
		if i < 4 {
			if b != want[i] {
				return false
			}
		} else if b != 0 {
			return false
		}
	}
	return true
}
