// Package vmx implements the Intel VMX bring-up of a single logical
// processor: support detection, the enable sequence that enters VMX root
// operation, and the VMCS bootstrap that loads a guest-state snapshot.
//
// Every function operates on the processor behind the x86.CPU it is given and
// must run on that processor. Nothing here retries: a step either succeeds or
// the sequence is abandoned with an error.
package vmx

import (
	"encoding/binary"

	"github.com/blacktop/go-vmxboot/internal/x86"
)

// VendorIntel is the manufacturer identification string of Intel processors.
const VendorIntel = "GenuineIntel"

// CPUIDFeatureVMX is the VMX bit in CPUID.01H:ECX.
const CPUIDFeatureVMX = 1 << 5

// Vendor returns the manufacturer identification string from CPUID leaf 0,
// or "" when the processor has no CPUID.
func Vendor(id x86.Identifier) string {
	if !id.HasCPUID() {
		return ""
	}
	r := id.CPUID(0, 0)
	var b [12]byte
	binary.LittleEndian.PutUint32(b[0:], r.Ebx)
	binary.LittleEndian.PutUint32(b[4:], r.Edx)
	binary.LittleEndian.PutUint32(b[8:], r.Ecx)
	return string(b[:])
}

// Supported reports whether the processor is an Intel part advertising VMX.
// Leaf 1 is only queried once the vendor has matched.
func Supported(id x86.Identifier) bool {
	if Vendor(id) != VendorIntel {
		return false
	}
	return id.CPUID(1, 0).Ecx&CPUIDFeatureVMX != 0
}
