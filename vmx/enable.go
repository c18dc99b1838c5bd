package vmx

import (
	"gvisor.dev/gvisor/pkg/log"

	"github.com/blacktop/go-vmxboot/internal/x86"
)

// Enable enters VMX root operation on the calling processor using vmxon as
// the VMXON region. It returns the VMCS revision identifier, which the VMCS
// region must carry as well.
//
// The steps run in a fixed order and each is a precondition for the next:
// support check, IA32_FEATURE_CONTROL, CR4.VMXE, the CR0 and CR4 fixed bits,
// IA32_VMX_BASIC, region preparation and VMXON. On ErrFeatureDisabled no MSR
// or control register has been written. Any later failure leaves the
// processor outside VMX operation with its control registers modified.
func Enable(cpu x86.CPU, vmxon Region) (uint32, error) {
	if !Supported(cpu) {
		return 0, ErrNotSupported
	}

	fc := cpu.ReadMSR(x86.MSRFeatureControl)
	log.Debugf("IA32_FEATURE_CONTROL: %#x", fc)
	next, write, err := PlanFeatureControl(fc)
	if err != nil {
		return 0, err
	}
	if write {
		cpu.WriteMSR(x86.MSRFeatureControl, next)
		log.Debugf("IA32_FEATURE_CONTROL: %#x -> %#x", fc, next)
	}

	cpu.WriteCR4(cpu.ReadCR4() | uint64(x86.CR4VMXE))

	cr0 := ApplyFixedBits(cpu.ReadCR0(), cpu.ReadMSR(x86.MSRVMXCR0Fixed0), cpu.ReadMSR(x86.MSRVMXCR0Fixed1))
	cpu.WriteCR0(cr0)
	log.Debugf("CR0: %s", x86.CR0(cr0))

	cr4 := ApplyFixedBits(cpu.ReadCR4(), cpu.ReadMSR(x86.MSRVMXCR4Fixed0), cpu.ReadMSR(x86.MSRVMXCR4Fixed1))
	cpu.WriteCR4(cr4)
	log.Debugf("CR4: %s", x86.CR4(cr4))

	basic := cpu.ReadMSR(x86.MSRVMXBasic)
	revision := uint32(basic)
	log.Debugf("IA32_VMX_BASIC: %#x, revision %#x", basic, revision)

	if err := vmxon.Prepare(revision); err != nil {
		return 0, err
	}
	log.Debugf("VMXON region at %s", vmxon)
	if st := cpu.VMXON(vmxon.Phys); !st.Succeeded() {
		return 0, &InstructionError{Instruction: "VMXON", Operand: vmxon.Phys, Status: st}
	}
	log.Infof("Entered VMX root operation")
	return revision, nil
}
