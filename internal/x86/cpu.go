// Package x86 provides primitive access to x86-64 processor state: CPUID,
// model specific registers, control registers, descriptor table registers and
// the VMX instructions. It carries no policy.
//
// Two implementations exist: Native, which executes the instructions on the
// current processor and is only usable in ring 0, and the simulated processor
// in internal/sim used by tests and the simulate command.
package x86

import "fmt"

// CPUIDResult is the register output of a CPUID leaf.
type CPUIDResult struct {
	Eax uint32
	Ebx uint32
	Ecx uint32
	Edx uint32
}

// Identifier is the side-effect free identification surface of a processor.
type Identifier interface {
	// HasCPUID reports whether the CPUID instruction is available.
	HasCPUID() bool
	// CPUID executes CPUID with the given leaf and subleaf.
	CPUID(leaf, subleaf uint32) CPUIDResult
}

// CPU is the privileged register and instruction surface of one logical
// processor. Methods never fail in software; instruction outcomes that the
// hardware reports through RFLAGS are returned as a Status.
type CPU interface {
	Identifier

	ReadMSR(msr uint32) uint64
	WriteMSR(msr uint32, value uint64)

	ReadCR0() uint64
	WriteCR0(value uint64)
	ReadCR4() uint64
	WriteCR4(value uint64)

	// GDT and IDT return the current descriptor table registers.
	GDT() DescriptorTableRegister
	IDT() DescriptorTableRegister

	// Capture stores the complete register state of the calling context.
	Capture(s *Snapshot)

	VMXON(phys uint64) Status
	VMPTRLD(phys uint64) Status
	VMWRITE(field uint32, value uint64) Status

	DisableInterrupts()
	EnableInterrupts()
	// InterruptsEnabled reports RFLAGS.IF.
	InterruptsEnabled() bool
	// Halt stops instruction execution until the next interrupt.
	Halt()
}

// Status holds the arithmetic flags a VMX instruction reports its outcome in.
type Status uint8

const (
	// StatusCarry is set for VMfailInvalid.
	StatusCarry Status = 1 << iota
	// StatusZero is set for VMfailValid.
	StatusZero
)

// StatusFromFlags builds a Status from the carry and zero flags.
func StatusFromFlags(cf, zf bool) Status {
	var s Status
	if cf {
		s |= StatusCarry
	}
	if zf {
		s |= StatusZero
	}
	return s
}

// Succeeded reports VMsucceed: both CF and ZF clear.
func (s Status) Succeeded() bool {
	return s&(StatusCarry|StatusZero) == 0
}

func (s Status) String() string {
	switch {
	case s.Succeeded():
		return "VMsucceed"
	case s&StatusCarry != 0:
		return "VMfailInvalid"
	case s&StatusZero != 0:
		return "VMfailValid"
	default:
		return fmt.Sprintf("Status(%#x)", uint8(s))
	}
}
