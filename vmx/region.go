package vmx

import (
	"encoding/binary"
	"fmt"

	"gvisor.dev/gvisor/pkg/hostarch"
)

// RegionSize is the size of a VMXON or VMCS region.
const RegionSize = 4096

// Region is a VMXON or VMCS region: one page the processor owns once it has
// been handed to VMXON or VMPTRLD. It must stay mapped for as long as the
// processor is in VMX operation.
type Region struct {
	Virt []byte
	Phys uint64
}

// Prepare zeroes the whole page and then stores the VMCS revision identifier
// at offset 0.
func (r Region) Prepare(revision uint32) error {
	if len(r.Virt) != RegionSize {
		return fmt.Errorf("vmx: region is %d bytes, want %d", len(r.Virt), RegionSize)
	}
	if !hostarch.Addr(r.Phys).IsPageAligned() {
		return fmt.Errorf("vmx: region at %#x is not page aligned", r.Phys)
	}
	clear(r.Virt)
	binary.LittleEndian.PutUint32(r.Virt, revision)
	return nil
}

// Revision returns the revision identifier stored at offset 0.
func (r Region) Revision() uint32 {
	if len(r.Virt) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(r.Virt)
}

func (r Region) String() string {
	return fmt.Sprintf("%#x", r.Phys)
}
