package sim

import (
	"fmt"

	"github.com/blacktop/go-vmxboot/config"
	"github.com/blacktop/go-vmxboot/internal/x86"
)

// ParseStatus maps a failure name to the VMX status it reports.
func ParseStatus(s string) (x86.Status, error) {
	switch s {
	case "":
		return 0, nil
	case "invalid":
		return x86.StatusCarry, nil
	case "valid":
		return x86.StatusZero, nil
	default:
		return 0, fmt.Errorf("sim: unknown status %q", s)
	}
}

// FromProfile builds the machine a profile describes.
func FromProfile(p config.Profile) (*Platform, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	mem, err := NewMemory(p.FrameBudget())
	if err != nil {
		return nil, err
	}
	cpus := make([]*CPU, p.Processors)
	for i := range cpus {
		c := NewIntelCPU()
		if err := apply(c, p.CPU); err != nil {
			mem.Close()
			return nil, err
		}
		if o, ok := p.Override(i); ok {
			if err := apply(c, o); err != nil {
				mem.Close()
				return nil, fmt.Errorf("processor %d: %w", i, err)
			}
		}
		c.SetRegisters(guest(p.Guest, c))
		cpus[i] = c
	}
	return NewPlatform(cpus, mem), nil
}

func apply(c *CPU, p config.CPUProfile) error {
	if p.Vendor != "" {
		c.SetVendor(p.Vendor)
	}
	if p.CPUID != nil {
		c.SetCPUIDAvailable(*p.CPUID)
	}
	if p.VMX != nil {
		c.SetVMX(*p.VMX)
	}
	msrs := []struct {
		msr   uint32
		value *uint64
	}{
		{x86.MSRFeatureControl, p.FeatureControl},
		{x86.MSRVMXBasic, p.VMXBasic},
		{x86.MSRVMXCR0Fixed0, p.CR0Fixed0},
		{x86.MSRVMXCR0Fixed1, p.CR0Fixed1},
		{x86.MSRVMXCR4Fixed0, p.CR4Fixed0},
		{x86.MSRVMXCR4Fixed1, p.CR4Fixed1},
	}
	for _, m := range msrs {
		if m.value != nil {
			c.SetMSR(m.msr, *m.value)
		}
	}
	cr0, cr4 := c.ReadCR0(), c.ReadCR4()
	if p.CR0 != nil {
		cr0 = *p.CR0
	}
	if p.CR4 != nil {
		cr4 = *p.CR4
	}
	c.SetControlRegisters(cr0, cr4)

	gdt, idt := c.GDT(), c.IDT()
	if p.GDT != nil {
		gdt = x86.NewDescriptorTableRegister(p.GDT.Base, p.GDT.Limit)
	}
	if p.IDT != nil {
		idt = x86.NewDescriptorTableRegister(p.IDT.Base, p.IDT.Limit)
	}
	c.SetDescriptorTables(gdt, idt)

	st, err := ParseStatus(p.Failures.VMXON)
	if err != nil {
		return err
	}
	if st != 0 {
		c.FailVMXON(st)
	}
	if st, err = ParseStatus(p.Failures.VMPTRLD); err != nil {
		return err
	}
	if st != 0 {
		c.FailVMPTRLD(st)
	}
	for _, f := range p.Failures.Fields {
		c.FailField(f, x86.StatusZero)
	}
	return nil
}

// guest returns the register file of c with the non-zero profile values
// applied.
func guest(g config.Guest, c *CPU) x86.Snapshot {
	var s x86.Snapshot
	c.Capture(&s)
	set64 := func(dst *uint64, v uint64) {
		if v != 0 {
			*dst = v
		}
	}
	set16 := func(dst *uint16, v uint16) {
		if v != 0 {
			*dst = v
		}
	}
	set64(&s.RIP, g.RIP)
	set64(&s.RSP, g.RSP)
	set64(&s.RFLAGS, g.RFLAGS)
	set64(&s.CR3, g.CR3)
	set16(&s.CS, g.CS)
	set16(&s.SS, g.SS)
	set16(&s.DS, g.DS)
	set16(&s.ES, g.ES)
	set16(&s.FS, g.FS)
	set16(&s.GS, g.GS)
	set16(&s.LDTR, g.LDTR)
	set16(&s.TR, g.TR)
	return s
}
