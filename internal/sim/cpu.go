// Package sim is a software model of an x86-64 machine. It implements
// x86.CPU for each logical processor and the platform services the
// hypervisor consumes, recording every privileged access so that tests can
// assert on the exact sequence a bring-up performed.
package sim

import (
	"encoding/binary"
	"maps"
	"slices"
	"sync"

	"github.com/blacktop/go-vmxboot/internal/x86"
)

// WriteKind identifies the register class of a recorded write.
type WriteKind int

const (
	WriteMSR WriteKind = iota
	WriteCR0
	WriteCR4
)

func (k WriteKind) String() string {
	switch k {
	case WriteMSR:
		return "MSR"
	case WriteCR0:
		return "CR0"
	case WriteCR4:
		return "CR4"
	default:
		return "unknown"
	}
}

// Write is a recorded MSR or control register write. Reg is the MSR address
// for WriteMSR and zero otherwise.
type Write struct {
	Kind  WriteKind
	Reg   uint32
	Value uint64
}

type leaf struct{ leaf, subleaf uint32 }

// CPU is a simulated logical processor. The zero value is not usable; create
// one with NewCPU or NewIntelCPU.
type CPU struct {
	mu sync.Mutex

	noCPUID bool
	leaves  map[leaf]x86.CPUIDResult
	queries []uint32

	msrs     map[uint32]uint64
	cr0, cr4 uint64
	gdt, idt x86.DescriptorTableRegister
	regs     x86.Snapshot
	writes   []Write

	mem *Memory

	vmxonStatus   x86.Status
	vmptrldStatus x86.Status
	fieldStatus   map[uint32]x86.Status

	inVMX     bool
	vmxonPage []byte
	current   uint64
	vmcsPage  []byte
	vmcs      map[uint64]map[uint32]uint64

	interrupts bool
	halts      int
}

var _ x86.CPU = (*CPU)(nil)

// NewCPU returns a processor with CPUID available but no leaves populated,
// all registers zero and interrupts enabled.
func NewCPU() *CPU {
	return &CPU{
		leaves:      make(map[leaf]x86.CPUIDResult),
		msrs:        make(map[uint32]uint64),
		fieldStatus: make(map[uint32]x86.Status),
		vmcs:        make(map[uint64]map[uint32]uint64),
		interrupts:  true,
	}
}

// Default register values of NewIntelCPU.
const (
	DefaultRevision  = 0x12
	DefaultVMXBasic  = 0x00da0400_00000000 | DefaultRevision
	DefaultCR0       = 0x80050033
	DefaultCR4       = 0x003606f0
	DefaultCR0Fixed0 = 0x80000021
	DefaultCR0Fixed1 = 0xffffffff
	DefaultCR4Fixed0 = 0x00002000
	DefaultCR4Fixed1 = 0x003767ff
)

// NewIntelCPU returns a processor that identifies as GenuineIntel with VMX,
// an unlocked IA32_FEATURE_CONTROL and the capability MSRs of a typical
// recent part.
func NewIntelCPU() *CPU {
	c := NewCPU()
	c.SetVendor("GenuineIntel")
	c.SetVMX(true)
	c.msrs[x86.MSRFeatureControl] = 0
	c.msrs[x86.MSRVMXBasic] = DefaultVMXBasic
	c.msrs[x86.MSRVMXCR0Fixed0] = DefaultCR0Fixed0
	c.msrs[x86.MSRVMXCR0Fixed1] = DefaultCR0Fixed1
	c.msrs[x86.MSRVMXCR4Fixed0] = DefaultCR4Fixed0
	c.msrs[x86.MSRVMXCR4Fixed1] = DefaultCR4Fixed1
	c.cr0 = DefaultCR0
	c.cr4 = DefaultCR4
	c.gdt = x86.NewDescriptorTableRegister(0xfffff000, 0x7f)
	c.idt = x86.NewDescriptorTableRegister(0xffffe000, 0xfff)
	c.regs = x86.Snapshot{
		RSP:    0x7fff0000,
		RIP:    0x100000,
		RFLAGS: 0x2,
		CR3:    0x1000,
		CS:     0x38,
		DS:     0x30,
		ES:     0x30,
		FS:     0x30,
		GS:     0x30,
		SS:     0x30,
	}
	return c
}

// SetVendor stores v as the leaf 0 manufacturer string.
func (c *CPU) SetVendor(v string) {
	var b [12]byte
	copy(b[:], v)
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.leaves[leaf{0, 0}]
	if r.Eax == 0 {
		r.Eax = 0x16
	}
	r.Ebx = binary.LittleEndian.Uint32(b[0:])
	r.Edx = binary.LittleEndian.Uint32(b[4:])
	r.Ecx = binary.LittleEndian.Uint32(b[8:])
	c.leaves[leaf{0, 0}] = r
}

// SetVMX sets or clears CPUID.01H:ECX.VMX.
func (c *CPU) SetVMX(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.leaves[leaf{1, 0}]
	if on {
		r.Ecx |= 1 << 5
	} else {
		r.Ecx &^= 1 << 5
	}
	c.leaves[leaf{1, 0}] = r
}

// SetCPUIDAvailable controls whether the processor reports CPUID.
func (c *CPU) SetCPUIDAvailable(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noCPUID = !ok
}

// SetCPUID replaces the output of a CPUID leaf.
func (c *CPU) SetCPUID(l, subleaf uint32, r x86.CPUIDResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaves[leaf{l, subleaf}] = r
}

// SetMSR sets an MSR without recording a write.
func (c *CPU) SetMSR(msr uint32, value uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msrs[msr] = value
}

// MSR returns the current value of an MSR.
func (c *CPU) MSR(msr uint32) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.msrs[msr]
}

// SetControlRegisters sets CR0 and CR4 without recording writes.
func (c *CPU) SetControlRegisters(cr0, cr4 uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cr0, c.cr4 = cr0, cr4
}

// SetDescriptorTables sets GDTR and IDTR.
func (c *CPU) SetDescriptorTables(gdt, idt x86.DescriptorTableRegister) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gdt, c.idt = gdt, idt
}

// SetRegisters sets the register file Capture reports. Control registers
// are taken from the live CR0 and CR4 instead.
func (c *CPU) SetRegisters(s x86.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regs = s
}

// SetMemory attaches the physical memory VMXON and VMPTRLD read their
// regions from.
func (c *CPU) SetMemory(m *Memory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mem = m
}

// FailVMXON makes VMXON report st.
func (c *CPU) FailVMXON(st x86.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vmxonStatus = st
}

// FailVMPTRLD makes VMPTRLD report st.
func (c *CPU) FailVMPTRLD(st x86.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vmptrldStatus = st
}

// FailField makes every VMWRITE of field report st.
func (c *CPU) FailField(field uint32, st x86.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fieldStatus[field] = st
}

// HasCPUID implements x86.Identifier.HasCPUID.
func (c *CPU) HasCPUID() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.noCPUID
}

// CPUID implements x86.Identifier.CPUID. Unknown leaves read as zero.
func (c *CPU) CPUID(l, subleaf uint32) x86.CPUIDResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, l)
	return c.leaves[leaf{l, subleaf}]
}

// Queries returns the CPUID leaves executed so far, in order.
func (c *CPU) Queries() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.queries)
}

// ReadMSR implements x86.CPU.ReadMSR.
func (c *CPU) ReadMSR(msr uint32) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.msrs[msr]
}

// WriteMSR implements x86.CPU.WriteMSR.
func (c *CPU) WriteMSR(msr uint32, value uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msrs[msr] = value
	c.writes = append(c.writes, Write{Kind: WriteMSR, Reg: msr, Value: value})
}

func (c *CPU) ReadCR0() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cr0
}

func (c *CPU) WriteCR0(value uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cr0 = value
	c.writes = append(c.writes, Write{Kind: WriteCR0, Value: value})
}

func (c *CPU) ReadCR4() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cr4
}

func (c *CPU) WriteCR4(value uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cr4 = value
	c.writes = append(c.writes, Write{Kind: WriteCR4, Value: value})
}

// Writes returns every recorded MSR and control register write, in order.
func (c *CPU) Writes() []Write {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.writes)
}

func (c *CPU) GDT() x86.DescriptorTableRegister {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gdt
}

func (c *CPU) IDT() x86.DescriptorTableRegister {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idt
}

// Capture implements x86.CPU.Capture.
func (c *CPU) Capture(s *x86.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	*s = c.regs
	s.CR0 = c.cr0
	s.CR4 = c.cr4
}

// VMXON implements x86.CPU.VMXON. On success the region page as seen at
// the time of the call is retained for VMXONPage.
func (c *CPU) VMXON(phys uint64) x86.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.vmxonStatus.Succeeded() {
		return c.vmxonStatus
	}
	if c.inVMX || x86.CR4(c.cr4)&x86.CR4VMXE == 0 {
		return x86.StatusCarry
	}
	c.vmxonPage = c.page(phys)
	c.inVMX = true
	return 0
}

// VMPTRLD implements x86.CPU.VMPTRLD.
func (c *CPU) VMPTRLD(phys uint64) x86.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.vmptrldStatus.Succeeded() {
		return c.vmptrldStatus
	}
	if !c.inVMX {
		return x86.StatusCarry
	}
	c.vmcsPage = c.page(phys)
	c.current = phys
	if c.vmcs[phys] == nil {
		c.vmcs[phys] = make(map[uint32]uint64)
	}
	return 0
}

// VMWRITE implements x86.CPU.VMWRITE against the current VMCS.
func (c *CPU) VMWRITE(field uint32, value uint64) x86.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.fieldStatus[field]; ok && !st.Succeeded() {
		return st
	}
	store := c.vmcs[c.current]
	if !c.inVMX || store == nil {
		return x86.StatusCarry
	}
	store[field] = value
	return 0
}

// page copies the page at phys, or returns nil without attached memory.
func (c *CPU) page(phys uint64) []byte {
	if c.mem == nil {
		return nil
	}
	return slices.Clone(c.mem.Page(phys))
}

// InVMX reports whether VMXON has succeeded.
func (c *CPU) InVMX() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inVMX
}

// VMXONPage returns the VMXON region as it was when VMXON executed.
func (c *CPU) VMXONPage() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vmxonPage
}

// VMCSPage returns the VMCS region as it was when VMPTRLD executed.
func (c *CPU) VMCSPage() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vmcsPage
}

// CurrentVMCS returns the physical address of the current VMCS.
func (c *CPU) CurrentVMCS() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// VMREAD reads a field of the current VMCS.
func (c *CPU) VMREAD(field uint32) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.vmcs[c.current][field]
	return v, ok
}

// VMCSFields returns a copy of every field written to the current VMCS.
func (c *CPU) VMCSFields() map[uint32]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.vmcs[c.current])
}

func (c *CPU) DisableInterrupts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interrupts = false
}

func (c *CPU) EnableInterrupts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interrupts = true
}

// InterruptsEnabled reports RFLAGS.IF.
func (c *CPU) InterruptsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interrupts
}

// Halt implements x86.CPU.Halt. It counts the halt and returns immediately,
// as a real processor does on the next interrupt.
func (c *CPU) Halt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.halts++
}

// Halts returns the number of executed halts.
func (c *CPU) Halts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.halts
}
