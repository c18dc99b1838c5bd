// Package vmxboot brings every logical processor of an x86-64 machine into
// VMX root operation at the moment firmware boot services exit, and loads the
// register state the booting operating system was about to continue with
// into a VMCS, so that the operating system keeps running as a guest.
//
// # Requirements
//
//   - Intel processor with VMX (CPUID.01H:ECX bit 5)
//   - IA32_FEATURE_CONTROL unlocked, or locked with VMX outside SMX enabled
//   - Ring 0 with paging enabled and identity-mapped page frames
//
// Everything that touches hardware goes through the x86.CPU and Platform
// interfaces. The simulator in internal/sim implements both and is what the
// tests and the vmxboot simulate command run against.
//
// # Basic Usage
//
// Check whether the calling processor supports a technology:
//
//	if tech, ok := vmxboot.DetectTechnology(cpu); ok {
//		log.Infof("%s available", tech)
//	}
//
// Bring up all processors from the boot-services exit path:
//
//	hv := vmxboot.New(platform)
//	if err := hv.Initialize(&snapshot); err != nil {
//		log.Warningf("bring-up: %v", err)
//	}
//	for _, r := range hv.Results() {
//		if r.Err != nil {
//			log.Warningf("processor %d: %v", r.Processor, r.Err)
//		}
//	}
//
// The exitboot package arranges for Initialize to run with the snapshot
// captured when ExitBootServices returned.
//
// # Lifecycle
//
// A Hypervisor moves from StateUninitialized through StateStarting to
// StateActive. Only the first Initialize does any work; every other call,
// concurrent or later, returns ErrAlreadyActive. There is no way back from
// StateStarting: processors that entered root operation stay there.
//
// # Per-processor Bring-up
//
// Each processor runs detection, the VMX enable sequence with its own VMXON
// region, and the VMCS bootstrap with its own VMCS region, then stores its
// ProcessorState in the slot matching its identity. A failing processor does
// not stop the others. With FailFast any failure is returned from
// Initialize; with Continue, the default, Initialize fails only when no
// processor succeeded.
//
// # Error Handling
//
// Errors are HVError values carrying a code and wrapping the underlying
// cause, so both errors.Is(err, ErrFeatureDisabled) and
// errors.As(err, &instructionErr) work. Per-processor failures are wrapped in
// ProcessorError. Messages are sanitized when VMXBOOT_ENV=production or
// VMXBOOT_DEBUG=false.
//
// # Platform Support
//
// The VMX implementation is selected on amd64. Other architectures compile
// against a stand-in whose methods panic; the simulator still exercises the
// VMX implementation there through WithVirtualization(VMX()).
package vmxboot
