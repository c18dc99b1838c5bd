// Package exitboot intercepts the firmware's ExitBootServices call. Once the
// firmware has let go of the machine, the wrapper captures the register state
// of the caller and hands it to the hypervisor. It never returns to the
// caller after a successful exit.
package exitboot

import (
	"errors"
	"fmt"

	"gvisor.dev/gvisor/pkg/atomicbitops"
	"gvisor.dev/gvisor/pkg/log"

	"github.com/blacktop/go-vmxboot/internal/x86"
	"github.com/blacktop/go-vmxboot/vmx"
)

// Status is a firmware status code. Error codes have the high bit set.
type Status uint64

const errorBit Status = 1 << 63

const (
	Success          Status = 0
	LoadError        Status = errorBit | 1
	InvalidParameter Status = errorBit | 2
	Unsupported      Status = errorBit | 3
)

// IsError reports whether s is an error code.
func (s Status) IsError() bool { return s&errorBit != 0 }

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case LoadError:
		return "load error"
	case InvalidParameter:
		return "invalid parameter"
	case Unsupported:
		return "unsupported"
	default:
		if s.IsError() {
			return fmt.Sprintf("error %d", uint64(s&^errorBit))
		}
		return fmt.Sprintf("warning %d", uint64(s))
	}
}

// ExitFunc is the ExitBootServices entry point.
type ExitFunc func(image, mapKey uintptr) Status

// Table is the part of the boot services table the interceptor patches.
type Table struct {
	ExitBootServices ExitFunc
}

var (
	errNilTable     = errors.New("exitboot: nil boot services table")
	errNilEntry     = errors.New("exitboot: table has no ExitBootServices entry")
	errInstalled    = errors.New("exitboot: already installed")
	errNotInstalled = errors.New("exitboot: not installed")
	errNoDispatch   = errors.New("exitboot: no dispatch function")
	errNoCPU        = errors.New("exitboot: no processor")
)

// Interceptor replaces ExitBootServices with a wrapper that starts the
// hypervisor. The exported fields must be set before Install.
type Interceptor struct {
	// CPU is the processor the firmware calls ExitBootServices on.
	CPU x86.CPU
	// Support decides whether CPU can be virtualized. It defaults to
	// vmx.Supported.
	Support func(x86.Identifier) bool
	// Dispatch brings up the hypervisor from the captured state.
	Dispatch func(*x86.Snapshot) error
	// Transition runs right after capture, before anything logs. It
	// typically moves logging off the firmware console.
	Transition func()
	// Halt stops CPU for good. It defaults to halting in a loop.
	Halt func(x86.CPU)

	table    *Table
	original ExitFunc
	entered  atomicbitops.Uint32
	snap     x86.Snapshot
}

// Install swaps the wrapper into t and keeps the original entry point.
func (i *Interceptor) Install(t *Table) error {
	switch {
	case t == nil:
		return errNilTable
	case t.ExitBootServices == nil:
		return errNilEntry
	case i.table != nil:
		return errInstalled
	case i.Dispatch == nil:
		return errNoDispatch
	case i.CPU == nil:
		return errNoCPU
	}
	i.table = t
	i.original = t.ExitBootServices
	t.ExitBootServices = i.exit
	log.Debugf("ExitBootServices intercepted")
	return nil
}

// Restore puts the original entry point back.
func (i *Interceptor) Restore() error {
	if i.table == nil {
		return errNotInstalled
	}
	i.table.ExitBootServices = i.original
	i.table = nil
	i.original = nil
	return nil
}

// Snapshot returns the state captured at the exit. It is the zero value
// until a successful exit.
func (i *Interceptor) Snapshot() x86.Snapshot { return i.snap }

// exit is the installed wrapper. Nothing after the original call may rely on
// boot services or allocate.
func (i *Interceptor) exit(image, mapKey uintptr) Status {
	st := i.original(image, mapKey)
	if st != Success {
		return st
	}

	i.CPU.DisableInterrupts()
	if !i.entered.CompareAndSwap(0, 1) {
		i.halt()
	}
	i.CPU.Capture(&i.snap)
	if i.Transition != nil {
		i.Transition()
	}
	log.Infof("Boot services exited, RIP %#x RSP %#x", i.snap.RIP, i.snap.RSP)

	support := i.Support
	if support == nil {
		support = vmx.Supported
	}
	if !support(i.CPU) {
		log.Warningf("Virtualization is not supported, halting")
		i.halt()
	}

	if err := i.Dispatch(&i.snap); err != nil {
		log.Warningf("Hypervisor failed to start: %v", err)
	} else {
		log.Infof("Hypervisor started")
	}
	i.halt()
	return st
}

func (i *Interceptor) halt() {
	if i.Halt != nil {
		i.Halt(i.CPU)
	}
	for {
		i.CPU.Halt()
	}
}
