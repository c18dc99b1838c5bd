package vmxboot

import (
	"errors"
	"sync"
	"testing"

	"github.com/blacktop/go-vmxboot/internal/sim"
	"github.com/blacktop/go-vmxboot/internal/x86"
	"github.com/blacktop/go-vmxboot/vmx"
)

func newPlatform(t *testing.T, processors, frames int) *sim.Platform {
	t.Helper()
	p, err := sim.NewIntelPlatform(processors, frames)
	if err != nil {
		t.Fatalf("NewIntelPlatform: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestInitializeSingleWinner(t *testing.T) {
	p := newPlatform(t, 2, 4)
	hv := New(p, WithVirtualization(VMX()))

	const callers = 32
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, callers)
	)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs[i] = hv.Initialize(nil)
		}()
	}
	close(start)
	wg.Wait()

	var winners, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrAlreadyActive):
			rejected++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if winners != 1 || rejected != callers-1 {
		t.Errorf("winners = %d, rejected = %d; want 1 and %d", winners, rejected, callers-1)
	}
	if p.Broadcasts() != 1 {
		t.Errorf("broadcasts = %d, want 1", p.Broadcasts())
	}
	if hv.State() != StateActive {
		t.Errorf("State() = %s, want active", hv.State())
	}
	if err := hv.Initialize(nil); !errors.Is(err, ErrAlreadyActive) {
		t.Errorf("late Initialize: err = %v, want ErrAlreadyActive", err)
	}
}

func TestInitializeFourProcessors(t *testing.T) {
	p := newPlatform(t, 4, 8)
	hv := New(p, WithVirtualization(VMX()))

	if err := hv.Initialize(nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if hv.ProcessorCount() != 4 {
		t.Errorf("ProcessorCount() = %d, want 4", hv.ProcessorCount())
	}

	results := hv.Results()
	if len(results) != 4 {
		t.Fatalf("len(Results()) = %d, want 4", len(results))
	}
	regions := make(map[uint64]int)
	for i, r := range results {
		if r.Err != nil {
			t.Errorf("processor %d: %v", i, r.Err)
			continue
		}
		if r.Processor != i || r.Writer != i || r.State.Processor != i {
			t.Errorf("slot %d: Processor=%d Writer=%d State.Processor=%d", i, r.Processor, r.Writer, r.State.Processor)
		}
		if r.State.Technology != TechnologyVMX {
			t.Errorf("slot %d: technology %s", i, r.State.Technology)
		}
		regions[r.State.VMXON.Phys]++
		regions[r.State.VMCS.Phys]++

		cpu := p.CPU(i)
		if !cpu.InVMX() {
			t.Errorf("processor %d not in VMX operation", i)
		}
		if cpu.CurrentVMCS() != r.State.VMCS.Phys {
			t.Errorf("processor %d current VMCS %#x, want %#x", i, cpu.CurrentVMCS(), r.State.VMCS.Phys)
		}
		if !cpu.InterruptsEnabled() {
			t.Errorf("processor %d left with interrupts disabled", i)
		}
	}
	if len(regions) != 8 {
		t.Errorf("%d distinct regions, want 8 (one VMXON and one VMCS per processor)", len(regions))
	}
	if used := p.Memory().Used(); used != 8 {
		t.Errorf("frames used = %d, want 8", used)
	}
}

func TestInitializeBootstrapGuest(t *testing.T) {
	p := newPlatform(t, 3, 6)
	hv := New(p, WithVirtualization(VMX()))

	guest := x86.Snapshot{RIP: 0xffffffff81001234, RSP: 0xffffc90000003f00, RFLAGS: 0x2, CS: 0x10, SS: 0x18}
	if err := hv.Initialize(&guest); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if rip, _ := p.CPU(0).VMREAD(uint32(vmx.GuestRIP)); rip != guest.RIP {
		t.Errorf("bootstrap processor guest RIP = %#x, want %#x", rip, guest.RIP)
	}
	if cs, _ := p.CPU(0).VMREAD(uint32(vmx.GuestCSSelector)); cs != uint64(guest.CS) {
		t.Errorf("bootstrap processor guest CS = %#x, want %#x", cs, guest.CS)
	}
	for i := 1; i < 3; i++ {
		var own x86.Snapshot
		p.CPU(i).Capture(&own)
		if rip, _ := p.CPU(i).VMREAD(uint32(vmx.GuestRIP)); rip != own.RIP {
			t.Errorf("processor %d guest RIP = %#x, want its own %#x", i, rip, own.RIP)
		}
	}
}

func TestInitializePartialFailure(t *testing.T) {
	for _, tt := range []struct {
		name    string
		policy  FailurePolicy
		wantErr bool
	}{
		{name: "continue", policy: Continue},
		{name: "fail fast", policy: FailFast, wantErr: true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			ResetMetrics()
			p := newPlatform(t, 4, 8)
			p.CPU(2).SetMSR(x86.MSRFeatureControl, 1)
			hv := New(p, WithVirtualization(VMX()), WithFailurePolicy(tt.policy))

			err := hv.Initialize(nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Initialize: err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrFeatureDisabled) {
				t.Errorf("err = %v, want ErrFeatureDisabled", err)
			}

			for i, r := range hv.Results() {
				if i == 2 {
					var pe *ProcessorError
					if !errors.As(r.Err, &pe) || pe.Processor != 2 {
						t.Errorf("slot 2 err = %v, want ProcessorError for processor 2", r.Err)
					}
					if !errors.Is(r.Err, ErrFeatureDisabled) || !errors.Is(r.Err, vmx.ErrFeatureDisabled) {
						t.Errorf("slot 2 err = %v, want FeatureDisabled", r.Err)
					}
					if len(p.CPU(2).Writes()) != 0 {
						t.Errorf("locked processor saw writes: %v", p.CPU(2).Writes())
					}
					continue
				}
				if r.Err != nil {
					t.Errorf("slot %d: %v", i, r.Err)
				}
			}

			m := GetMetrics()
			if m.ProcessorsActive != 3 || m.ProcessorsFailed != 1 {
				t.Errorf("metrics active=%d failed=%d, want 3 and 1", m.ProcessorsActive, m.ProcessorsFailed)
			}
		})
	}
}

func TestInitializeNothingSupported(t *testing.T) {
	p := newPlatform(t, 2, 4)
	for i := range 2 {
		p.CPU(i).SetVendor("AuthenticAMD")
	}
	hv := New(p, WithVirtualization(VMX()))

	err := hv.Initialize(nil)
	if !errors.Is(err, ErrNotSupported) {
		t.Fatalf("Initialize: err = %v, want ErrNotSupported", err)
	}
	if hv.State() != StateActive {
		t.Errorf("State() = %s, want active", hv.State())
	}
	if p.Memory().Used() != 0 {
		t.Errorf("unsupported processors allocated %d frames", p.Memory().Used())
	}
}

func TestInitializeNoProcessors(t *testing.T) {
	mem, err := sim.NewMemory(1)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	p := sim.NewPlatform(nil, mem)
	t.Cleanup(func() { p.Close() })
	hv := New(p, WithVirtualization(VMX()))

	if err := hv.Initialize(nil); !errors.Is(err, ErrNoProcessors) {
		t.Fatalf("Initialize: err = %v, want ErrNoProcessors", err)
	}
	if hv.State() != StateStarting {
		t.Errorf("State() = %s, want starting", hv.State())
	}
	if p.Broadcasts() != 0 {
		t.Errorf("broadcasts = %d, want 0", p.Broadcasts())
	}
	if hv.Results() != nil {
		t.Error("Results() != nil without processors")
	}
	if err := hv.Initialize(nil); !errors.Is(err, ErrAlreadyActive) {
		t.Errorf("second Initialize: err = %v, want ErrAlreadyActive", err)
	}
}

func TestInitializeRestoresInterruptFlag(t *testing.T) {
	p := newPlatform(t, 2, 4)
	p.CPU(0).DisableInterrupts()
	hv := New(p, WithVirtualization(VMX()))

	if err := hv.Initialize(nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if p.CPU(0).InterruptsEnabled() {
		t.Error("processor 0 entered with interrupts disabled and left with them enabled")
	}
	if !p.CPU(1).InterruptsEnabled() {
		t.Error("processor 1 entered with interrupts enabled and left with them disabled")
	}
}

func TestInitializeAllocationFailure(t *testing.T) {
	tests := []struct {
		name   string
		frames int
	}{
		{name: "no vmxon region", frames: 0},
		{name: "no vmcs region", frames: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPlatform(t, 1, tt.frames)
			hv := New(p, WithVirtualization(VMX()))

			err := hv.Initialize(nil)
			if !errors.Is(err, ErrOutOfMemory) {
				t.Fatalf("Initialize: err = %v, want ErrOutOfMemory", err)
			}
			if !errors.Is(err, sim.ErrOutOfFrames) {
				t.Errorf("err = %v does not wrap the platform error", err)
			}
		})
	}
}

func TestInitializeInstructionFailure(t *testing.T) {
	ResetMetrics()
	p := newPlatform(t, 2, 4)
	p.CPU(1).FailVMXON(x86.StatusCarry)
	hv := New(p, WithVirtualization(VMX()))

	if err := hv.Initialize(nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	r := hv.Results()[1]
	var ie *vmx.InstructionError
	if !errors.Is(r.Err, ErrInstructionFailed) || !errors.As(r.Err, &ie) {
		t.Fatalf("slot 1 err = %v, want VMXON instruction failure", r.Err)
	}
	if ie.Status != x86.StatusCarry {
		t.Errorf("status = %s, want VMfailInvalid", ie.Status)
	}
	if m := GetMetrics(); m.VMXONFailures != 1 {
		t.Errorf("VMXONFailures = %d, want 1", m.VMXONFailures)
	}
}

func TestInitializeOptionalFieldFailure(t *testing.T) {
	ResetMetrics()
	p := newPlatform(t, 1, 2)
	p.CPU(0).FailField(uint32(vmx.GuestTRSelector), x86.StatusZero)
	hv := New(p, WithVirtualization(VMX()))

	if err := hv.Initialize(nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	r := hv.Results()[0]
	if r.Err != nil {
		t.Fatalf("optional field failure was fatal: %v", r.Err)
	}
	if r.State.Report == nil || len(r.State.Report.Failures) != 1 {
		t.Fatalf("report = %+v, want one failure", r.State.Report)
	}
	if m := GetMetrics(); m.FieldFailures != 1 {
		t.Errorf("FieldFailures = %d, want 1", m.FieldFailures)
	}
}

func TestResultsBeforeInitialize(t *testing.T) {
	hv := New(newPlatform(t, 1, 2), WithVirtualization(VMX()))
	if r := hv.Results(); r != nil {
		t.Errorf("Results() = %v before Initialize", r)
	}
	if hv.State() != StateUninitialized {
		t.Errorf("State() = %s", hv.State())
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		StateUninitialized: "uninitialized",
		StateStarting:      "starting",
		StateActive:        "active",
		StateStopping:      "stopping",
		State(9):           "State(9)",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", uint32(s), got, want)
		}
	}
}
