package vmx

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/blacktop/go-vmxboot/internal/sim"
	"github.com/blacktop/go-vmxboot/internal/x86"
)

func TestEnable(t *testing.T) {
	cpu, mem := newMachine(t, 1)
	cpu.SetMSR(x86.MSRFeatureControl, 0)
	cpu.SetMSR(x86.MSRVMXBasic, 0x00da0400_00000004)
	cpu.SetMSR(x86.MSRVMXCR0Fixed0, 1)
	cpu.SetMSR(x86.MSRVMXCR0Fixed1, ^uint64(0))
	cpu.SetMSR(x86.MSRVMXCR4Fixed0, 1)
	cpu.SetMSR(x86.MSRVMXCR4Fixed1, ^uint64(0))
	cpu.SetControlRegisters(0, 0)
	region := newRegion(t, mem)

	revision, err := Enable(cpu, region)
	if err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if revision != 4 {
		t.Errorf("revision = %#x, want 4", revision)
	}
	if got := cpu.MSR(x86.MSRFeatureControl); got&0x5 != 0x5 {
		t.Errorf("IA32_FEATURE_CONTROL = %#x, want bits 0 and 2", got)
	}
	if got := x86.CR4(cpu.ReadCR4()); got&x86.CR4VMXE == 0 {
		t.Errorf("CR4 = %s, want VMXE", got)
	}
	if got := cpu.ReadCR0(); got&1 == 0 {
		t.Errorf("CR0 = %#x, want bit 0", got)
	}
	if got := cpu.ReadCR4(); got&1 == 0 {
		t.Errorf("CR4 = %#x, want bit 0", got)
	}
	if !cpu.InVMX() {
		t.Fatal("processor is not in VMX operation")
	}
	if !isPrepared(cpu.VMXONPage(), revision) {
		t.Error("VMXON saw a region that is not zeroed with the revision at offset 0")
	}

	want := []sim.Write{
		{Kind: sim.WriteMSR, Reg: x86.MSRFeatureControl, Value: 0x5},
		{Kind: sim.WriteCR4, Value: uint64(x86.CR4VMXE)},
		{Kind: sim.WriteCR0, Value: 0x1},
		{Kind: sim.WriteCR4, Value: uint64(x86.CR4VMXE) | 0x1},
	}
	if diff := cmp.Diff(want, cpu.Writes()); diff != "" {
		t.Errorf("write sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestEnableFixedBits(t *testing.T) {
	cpu, mem := newMachine(t, 1)
	cpu.SetControlRegisters(uint64(x86.CR0CD|x86.CR0PE), uint64(x86.CR4PAE|x86.CR4SMXE))
	cpu.SetMSR(x86.MSRVMXCR0Fixed0, uint64(x86.CR0PE|x86.CR0NE|x86.CR0PG))
	cpu.SetMSR(x86.MSRVMXCR0Fixed1, 0xffffffff&^uint64(x86.CR0CD))
	cpu.SetMSR(x86.MSRVMXCR4Fixed0, uint64(x86.CR4VMXE))
	cpu.SetMSR(x86.MSRVMXCR4Fixed1, uint64(x86.CR4PAE|x86.CR4VMXE))

	if _, err := Enable(cpu, newRegion(t, mem)); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if got, want := x86.CR0(cpu.ReadCR0()), x86.CR0PE|x86.CR0NE|x86.CR0PG; got != want {
		t.Errorf("CR0 = %s, want %s", got, want)
	}
	if got, want := x86.CR4(cpu.ReadCR4()), x86.CR4PAE|x86.CR4VMXE; got != want {
		t.Errorf("CR4 = %s, want %s", got, want)
	}
}

func TestEnableLocked(t *testing.T) {
	cpu, mem := newMachine(t, 1)
	cpu.SetMSR(x86.MSRFeatureControl, 1)
	cr0, cr4 := cpu.ReadCR0(), cpu.ReadCR4()

	_, err := Enable(cpu, newRegion(t, mem))
	if !errors.Is(err, ErrFeatureDisabled) {
		t.Fatalf("Enable: err = %v, want ErrFeatureDisabled", err)
	}
	if w := cpu.Writes(); len(w) != 0 {
		t.Errorf("locked processor saw writes: %v", w)
	}
	if cpu.ReadCR0() != cr0 || cpu.ReadCR4() != cr4 {
		t.Error("control registers changed")
	}
	if cpu.InVMX() {
		t.Error("processor entered VMX operation")
	}
}

func TestEnableAlreadyEnabledByFirmware(t *testing.T) {
	cpu, mem := newMachine(t, 1)
	cpu.SetMSR(x86.MSRFeatureControl, 0x5)

	if _, err := Enable(cpu, newRegion(t, mem)); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	for _, w := range cpu.Writes() {
		if w.Kind == sim.WriteMSR {
			t.Errorf("unexpected MSR write %+v", w)
		}
	}
}

func TestEnableNotSupported(t *testing.T) {
	cpu, mem := newMachine(t, 1)
	cpu.SetVMX(false)

	if _, err := Enable(cpu, newRegion(t, mem)); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("Enable: err = %v, want ErrNotSupported", err)
	}
	if w := cpu.Writes(); len(w) != 0 {
		t.Errorf("unsupported processor saw writes: %v", w)
	}
}

func TestEnableVMXONFailure(t *testing.T) {
	for _, st := range []x86.Status{x86.StatusCarry, x86.StatusZero} {
		t.Run(st.String(), func(t *testing.T) {
			cpu, mem := newMachine(t, 1)
			cpu.FailVMXON(st)
			region := newRegion(t, mem)

			_, err := Enable(cpu, region)
			var ie *InstructionError
			if !errors.As(err, &ie) {
				t.Fatalf("Enable: err = %v, want *InstructionError", err)
			}
			if ie.Instruction != "VMXON" || ie.Status != st || ie.Operand != region.Phys {
				t.Errorf("InstructionError = %+v", ie)
			}
		})
	}
}
