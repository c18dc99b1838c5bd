package vmx

import (
	"gvisor.dev/gvisor/pkg/log"

	"github.com/blacktop/go-vmxboot/internal/x86"
)

// Report lists every guest-state write Bootstrap attempted and which of them
// failed.
type Report struct {
	Written  []Field
	Failures []FieldFailure
}

// Failed reports whether any write, required or optional, was rejected.
func (r *Report) Failed() bool { return len(r.Failures) != 0 }

type guestWrite struct {
	field    Field
	value    uint64
	required bool
}

// guestState lists the fields loaded from snap. The descriptor table
// registers are read from the processor at call time, not from the snapshot.
func guestState(cpu x86.CPU, snap *x86.Snapshot) []guestWrite {
	gdt, idt := cpu.GDT(), cpu.IDT()
	return []guestWrite{
		{GuestESSelector, uint64(snap.ES), true},
		{GuestCSSelector, uint64(snap.CS), true},
		{GuestSSSelector, uint64(snap.SS), true},
		{GuestDSSelector, uint64(snap.DS), true},
		{GuestFSSelector, uint64(snap.FS), true},
		{GuestGSSelector, uint64(snap.GS), true},
		{GuestLDTRSelector, uint64(snap.LDTR), false},
		{GuestTRSelector, uint64(snap.TR), false},
		{GuestCR0, snap.CR0, true},
		{GuestCR3, snap.CR3, true},
		{GuestCR4, snap.CR4, true},
		{GuestRSP, snap.RSP, true},
		{GuestRIP, snap.RIP, true},
		{GuestRFLAGS, snap.RFLAGS, true},
		{GuestGDTRBase, gdt.Base, true},
		{GuestGDTRLimit, uint64(gdt.Limit), true},
		{GuestIDTRBase, idt.Base, true},
		{GuestIDTRLimit, uint64(idt.Limit), true},
	}
}

// Bootstrap makes vmcs the current VMCS of the calling processor and loads
// the guest-state area from snap. The processor must already be in VMX root
// operation and revision must be the one Enable returned.
//
// Every rejected write is recorded in the report. Bootstrap returns a
// *FieldError when a required field was rejected; the LDTR and TR selectors
// are optional.
func Bootstrap(cpu x86.CPU, vmcs Region, revision uint32, snap *x86.Snapshot) (*Report, error) {
	if err := vmcs.Prepare(revision); err != nil {
		return nil, err
	}
	if st := cpu.VMPTRLD(vmcs.Phys); !st.Succeeded() {
		return nil, &InstructionError{Instruction: "VMPTRLD", Operand: vmcs.Phys, Status: st}
	}
	log.Debugf("VMCS at %s is current", vmcs)

	report := &Report{}
	fatal := false
	for _, w := range guestState(cpu, snap) {
		st := cpu.VMWRITE(uint32(w.field), w.value)
		if st.Succeeded() {
			report.Written = append(report.Written, w.field)
			continue
		}
		log.Warningf("VMWRITE %s=%#x: %s", w.field, w.value, st)
		report.Failures = append(report.Failures, FieldFailure{Field: w.field, Value: w.value, Status: st, Required: w.required})
		if w.required {
			fatal = true
		}
	}
	if fatal {
		return report, &FieldError{Failures: report.Failures}
	}
	return report, nil
}
