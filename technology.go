package vmxboot

import (
	"fmt"

	"github.com/blacktop/go-vmxboot/internal/x86"
	"github.com/blacktop/go-vmxboot/vmx"
)

// Technology is a hardware virtualization extension.
type Technology uint8

const (
	// TechnologyVMX is Intel VMX.
	TechnologyVMX Technology = iota + 1
)

func (t Technology) String() string {
	switch t {
	case TechnologyVMX:
		return "VMX"
	default:
		return fmt.Sprintf("Technology(%d)", uint8(t))
	}
}

// DetectTechnology identifies the virtualization extension of a processor.
// It only executes CPUID and returns false for unknown vendors.
func DetectTechnology(id x86.Identifier) (Technology, bool) {
	if vmx.Supported(id) {
		return TechnologyVMX, true
	}
	return 0, false
}

// Proof records a successful support check. Only IsSupported issues one and
// it is bound to the processor it checked; the zero value is never valid.
type Proof struct {
	tech Technology
	cpu  x86.CPU
}

func (p Proof) validFor(tech Technology, cpu x86.CPU) bool {
	return p.tech == tech && p.cpu != nil && p.cpu == cpu
}

// ProcessorState is the VMX state of one logical processor. It is owned by
// that processor and not modified once bring-up has finished.
type ProcessorState struct {
	Processor  int
	Technology Technology
	// Revision is the VMCS revision identifier of the processor.
	Revision uint32
	VMXON    vmx.Region
	VMCS     vmx.Region
	// Report lists the guest-state writes of the VMCS bootstrap.
	Report *vmx.Report
}

// RegionAllocator supplies the page-sized regions VMX operation needs.
type RegionAllocator interface {
	AllocateRegion() (vmx.Region, error)
}

// Virtualization is one virtualization technology on one architecture.
type Virtualization interface {
	Technology() Technology
	// IsSupported checks cpu and returns the proof InitializeProcessor
	// requires.
	IsSupported(cpu x86.CPU) (Proof, bool)
	// InitializeProcessor enters root operation on cpu.
	InitializeProcessor(cpu x86.CPU, p Proof, alloc RegionAllocator) (ProcessorState, error)
	// LoadGuest creates the control structure of the guest that continues
	// from guest and returns the completed state.
	LoadGuest(cpu x86.CPU, state ProcessorState, alloc RegionAllocator, guest *x86.Snapshot) (ProcessorState, error)
	DisableInterrupts(cpu x86.CPU)
	EnableInterrupts(cpu x86.CPU)
}

type vmxVirtualization struct{}

// VMX returns the Intel VMX implementation.
func VMX() Virtualization { return vmxVirtualization{} }

func (vmxVirtualization) Technology() Technology { return TechnologyVMX }

func (vmxVirtualization) IsSupported(cpu x86.CPU) (Proof, bool) {
	if tech, ok := DetectTechnology(cpu); !ok || tech != TechnologyVMX {
		return Proof{}, false
	}
	return Proof{tech: TechnologyVMX, cpu: cpu}, true
}

func (vmxVirtualization) InitializeProcessor(cpu x86.CPU, p Proof, alloc RegionAllocator) (ProcessorState, error) {
	if !p.validFor(TechnologyVMX, cpu) {
		return ProcessorState{}, ErrForgedProof
	}
	region, err := alloc.AllocateRegion()
	if err != nil {
		return ProcessorState{}, err
	}
	revision, err := vmx.Enable(cpu, region)
	if err != nil {
		return ProcessorState{}, classify(err)
	}
	return ProcessorState{Technology: TechnologyVMX, Revision: revision, VMXON: region}, nil
}

func (vmxVirtualization) LoadGuest(cpu x86.CPU, state ProcessorState, alloc RegionAllocator, guest *x86.Snapshot) (ProcessorState, error) {
	region, err := alloc.AllocateRegion()
	if err != nil {
		return state, err
	}
	report, err := vmx.Bootstrap(cpu, region, state.Revision, guest)
	state.VMCS = region
	state.Report = report
	if err != nil {
		return state, classify(err)
	}
	return state, nil
}

func (vmxVirtualization) DisableInterrupts(cpu x86.CPU) { cpu.DisableInterrupts() }

func (vmxVirtualization) EnableInterrupts(cpu x86.CPU) { cpu.EnableInterrupts() }
