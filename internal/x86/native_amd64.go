//go:build amd64

package x86

import (
	"gvisor.dev/gvisor/pkg/cpuid"
)

// Native executes instructions on the current logical processor.
//
// Everything except CPUID requires ring 0. Native has no state, so a single
// value serves every processor.
type Native struct {
	cpuid cpuid.Native
}

var _ CPU = (*Native)(nil)

// HostIdentifier returns the identification surface of the calling processor.
// It is safe to use outside ring 0.
func HostIdentifier() Identifier { return &Native{} }

// HasCPUID always holds in long mode.
func (*Native) HasCPUID() bool { return true }

// CPUID implements Identifier.CPUID.
//
//go:nosplit
func (n *Native) CPUID(leaf, subleaf uint32) CPUIDResult {
	out := n.cpuid.Query(cpuid.In{Eax: leaf, Ecx: subleaf})
	return CPUIDResult{Eax: out.Eax, Ebx: out.Ebx, Ecx: out.Ecx, Edx: out.Edx}
}

// ReadMSR implements CPU.ReadMSR.
//
//go:nosplit
func (*Native) ReadMSR(msr uint32) uint64 { return rdmsr(msr) }

// WriteMSR implements CPU.WriteMSR.
//
//go:nosplit
func (*Native) WriteMSR(msr uint32, value uint64) { wrmsr(msr, value) }

//go:nosplit
func (*Native) ReadCR0() uint64 { return readCR0() }

//go:nosplit
func (*Native) WriteCR0(value uint64) { writeCR0(value) }

//go:nosplit
func (*Native) ReadCR4() uint64 { return readCR4() }

//go:nosplit
func (*Native) WriteCR4(value uint64) { writeCR4(value) }

// GDT implements CPU.GDT.
//
//go:nosplit
func (*Native) GDT() DescriptorTableRegister {
	var d DescriptorTableRegister
	sgdt(&d.Limit)
	return d
}

// IDT implements CPU.IDT.
//
//go:nosplit
func (*Native) IDT() DescriptorTableRegister {
	var d DescriptorTableRegister
	sidt(&d.Limit)
	return d
}

// Capture implements CPU.Capture.
//
//go:nosplit
func (*Native) Capture(s *Snapshot) { captureRegisters(s) }

//go:nosplit
func (*Native) VMXON(phys uint64) Status { return StatusFromFlags(vmxon(phys)) }

//go:nosplit
func (*Native) VMPTRLD(phys uint64) Status { return StatusFromFlags(vmptrld(phys)) }

//go:nosplit
func (*Native) VMWRITE(field uint32, value uint64) Status {
	return StatusFromFlags(vmwrite(uint64(field), value))
}

//go:nosplit
func (*Native) DisableInterrupts() { cli() }

//go:nosplit
func (*Native) EnableInterrupts() { sti() }

//go:nosplit
func (*Native) InterruptsEnabled() bool { return readFlags()&flagIF != 0 }

//go:nosplit
func (*Native) Halt() { hlt() }

// flagIF is RFLAGS.IF.
const flagIF = 1 << 9

// Ports performs I/O port accesses on the current processor.
type Ports struct{}

// In8 reads a byte from port.
//
//go:nosplit
func (Ports) In8(port uint16) uint8 { return inb(port) }

// Out8 writes a byte to port.
//
//go:nosplit
func (Ports) Out8(port uint16, value uint8) { outb(port, value) }

// rdmsr reads the given MSR.
func rdmsr(msr uint32) uint64

// wrmsr writes the given MSR.
func wrmsr(msr uint32, value uint64)

func readCR0() uint64
func writeCR0(value uint64)
func readCR4() uint64
func writeCR4(value uint64)

// sgdt and sidt store a descriptor table register starting at limit.
func sgdt(limit *uint16)
func sidt(limit *uint16)

// captureRegisters stores every general purpose, control and segment
// register into s. It touches no stack beyond its own return address.
func captureRegisters(s *Snapshot)

// vmxon, vmptrld and vmwrite return the carry and zero flags left by the
// instruction.
func vmxon(phys uint64) (cf, zf bool)
func vmptrld(phys uint64) (cf, zf bool)
func vmwrite(field, value uint64) (cf, zf bool)

func readFlags() uint64
func cli()
func sti()
func hlt()

func inb(port uint16) uint8
func outb(port uint16, value uint8)
