package vmxboot

import (
	"runtime"

	"github.com/blacktop/go-vmxboot/internal/x86"
)

// unavailable stands in for Virtualization on architectures without a
// supported technology. It keeps those builds compiling; every method panics.
type unavailable struct{}

// Unavailable returns the Virtualization of architectures without support.
func Unavailable() Virtualization { return unavailable{} }

func (unavailable) fail() {
	panic("vmxboot: hardware virtualization is not implemented on " + runtime.GOARCH)
}

func (u unavailable) Technology() Technology { u.fail(); return 0 }

func (u unavailable) IsSupported(x86.CPU) (Proof, bool) { u.fail(); return Proof{}, false }

func (u unavailable) InitializeProcessor(x86.CPU, Proof, RegionAllocator) (ProcessorState, error) {
	u.fail()
	return ProcessorState{}, nil
}

func (u unavailable) LoadGuest(_ x86.CPU, state ProcessorState, _ RegionAllocator, _ *x86.Snapshot) (ProcessorState, error) {
	u.fail()
	return state, nil
}

func (u unavailable) DisableInterrupts(x86.CPU) { u.fail() }

func (u unavailable) EnableInterrupts(x86.CPU) { u.fail() }
