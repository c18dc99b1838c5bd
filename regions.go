package vmxboot

import (
	"fmt"
	"math"

	"gvisor.dev/gvisor/pkg/hostarch"

	"github.com/blacktop/go-vmxboot/vmx"
)

// frameAllocator hands out VMX regions backed by platform page frames.
type frameAllocator struct {
	platform Platform
}

var _ RegionAllocator = frameAllocator{}

// AllocateRegion allocates and maps one frame. Platform errors are returned
// as ErrOutOfMemory or ErrMapFailure and wrap the platform's cause.
func (a frameAllocator) AllocateRegion() (vmx.Region, error) {
	if a.platform == nil {
		return vmx.Region{}, fmt.Errorf("vmxboot: platform is nil")
	}
	phys, err := a.platform.AllocateFrames(1)
	if err != nil {
		recordResourceError()
		return vmx.Region{}, newError(CodeOutOfMemory, err)
	}

	// Reject frames the processor cannot address as a region.
	if !hostarch.Addr(phys).IsPageAligned() {
		recordResourceError()
		return vmx.Region{}, newError(CodeMapFailure, fmt.Errorf("frame %#x not page-aligned (page size: %d)", phys, hostarch.PageSize))
	}
	if phys > math.MaxUint64-vmx.RegionSize {
		recordResourceError()
		return vmx.Region{}, newError(CodeMapFailure, fmt.Errorf("frame %#x: address range would overflow", phys))
	}

	virt, err := a.platform.MapFrames(phys, 1)
	if err != nil {
		recordResourceError()
		return vmx.Region{}, newError(CodeMapFailure, err)
	}
	if len(virt) < vmx.RegionSize {
		recordResourceError()
		return vmx.Region{}, newError(CodeMapFailure, fmt.Errorf("frame %#x mapped %d bytes, want %d", phys, len(virt), vmx.RegionSize))
	}

	recordRegionAllocation()
	return vmx.Region{Virt: virt[:vmx.RegionSize:vmx.RegionSize], Phys: phys}, nil
}
