package vmxboot

import "github.com/blacktop/go-vmxboot/internal/x86"

// Platform is the boot environment the hypervisor runs in.
type Platform interface {
	// ProcessorCount returns the number of logical processors.
	ProcessorCount() int
	// ProcessorIdentity returns the 0-based index of the calling processor.
	// It is stable for the lifetime of the boot.
	ProcessorIdentity() int
	// Processor returns the register surface of the calling processor.
	Processor() x86.CPU
	// ExecuteOnAllProcessors runs fn once on every processor, including
	// the caller, and returns when all of them have finished. It is called
	// at most once.
	ExecuteOnAllProcessors(fn func())
	// AllocateFrames returns the physical address of count contiguous page
	// frames.
	AllocateFrames(count int) (uint64, error)
	// MapFrames returns a writable view of count frames starting at base.
	MapFrames(base uint64, count int) ([]byte, error)
}
