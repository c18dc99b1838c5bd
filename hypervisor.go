package vmxboot

import (
	"errors"
	"fmt"
	"time"

	"gvisor.dev/gvisor/pkg/atomicbitops"
	"gvisor.dev/gvisor/pkg/log"

	"github.com/blacktop/go-vmxboot/internal/x86"
	"github.com/blacktop/go-vmxboot/vmx"
)

// State is the lifecycle of a Hypervisor.
type State uint32

const (
	StateUninitialized State = iota
	StateStarting
	StateActive
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

// FailurePolicy decides how processor failures affect Initialize.
type FailurePolicy int

const (
	// Continue logs failed processors and lets the others proceed.
	// Initialize only fails when no processor entered root operation.
	Continue FailurePolicy = iota
	// FailFast makes Initialize fail when any processor failed. Processors
	// that succeeded stay in root operation.
	FailFast
)

// Option configures a Hypervisor.
type Option func(*Hypervisor)

// WithVirtualization overrides the build-selected technology.
func WithVirtualization(v Virtualization) Option {
	return func(h *Hypervisor) { h.virt = v }
}

// WithFailurePolicy sets the failure policy.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(h *Hypervisor) { h.policy = p }
}

// Hypervisor brings every logical processor of a platform into VMX root
// operation exactly once.
type Hypervisor struct {
	platform Platform
	virt     Virtualization
	policy   FailurePolicy
	alloc    frameAllocator

	state atomicbitops.Uint32
	count atomicbitops.Uint32

	// Written by the initializer before the broadcast, read-only after.
	slots     []slot
	bootstrap int
	guest     *x86.Snapshot
	guestUsed atomicbitops.Uint32
}

// slot is the result of one processor. It is written at most once, by the
// processor whose identity is its index.
type slot struct {
	written atomicbitops.Uint32
	writer  int
	state   ProcessorState
	err     error
}

func (s *slot) store(writer int, state ProcessorState, err error) bool {
	if !s.written.CompareAndSwap(0, 1) {
		return false
	}
	s.writer = writer
	s.state = state
	s.err = err
	return true
}

// Result is the outcome of bring-up on one processor.
type Result struct {
	Processor int
	// Writer is the identity of the processor that stored the result.
	Writer int
	State  ProcessorState
	Err    error
}

// New returns an uninitialized hypervisor for platform.
func New(platform Platform, opts ...Option) *Hypervisor {
	h := &Hypervisor{
		platform: platform,
		virt:     Default(),
		alloc:    frameAllocator{platform: platform},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// State returns the lifecycle state.
func (h *Hypervisor) State() State { return State(h.state.Load()) }

// ProcessorCount returns the processor count recorded by Initialize.
func (h *Hypervisor) ProcessorCount() int { return int(h.count.Load()) }

func (h *Hypervisor) transition(from, to State) bool {
	for {
		cur := h.state.Load()
		if State(cur) != from {
			return false
		}
		if h.state.CompareAndSwap(cur, uint32(to)) {
			return true
		}
	}
}

// Initialize brings up every processor. guest is the register state the
// bootstrap processor continues from; it is consumed once, by the calling
// processor. The other processors capture their own state. A nil guest makes
// every processor capture its own.
//
// Only the first call does any work; every other call returns
// ErrAlreadyActive. When the platform reports no processors, Initialize
// returns ErrNoProcessors without broadcasting and the hypervisor stays in
// StateStarting for good, with Results nil.
//
// Each processor runs bring-up with interrupts disabled and gets its
// interrupt flag back as it was on entry.
func (h *Hypervisor) Initialize(guest *x86.Snapshot) error {
	if !h.transition(StateUninitialized, StateStarting) {
		recordRejected()
		return ErrAlreadyActive
	}
	start := time.Now()
	defer func() { recordInitialize(time.Since(start)) }()

	n := h.platform.ProcessorCount()
	if n <= 0 {
		log.Warningf("Platform reports %d processors", n)
		return ErrNoProcessors
	}
	h.count.Store(uint32(n))
	h.slots = make([]slot, n)
	h.bootstrap = h.platform.ProcessorIdentity()
	h.guest = guest
	log.Infof("Starting %s on %d processors", h.virt.Technology(), n)

	h.platform.ExecuteOnAllProcessors(h.initializeProcessor)

	h.transition(StateStarting, StateActive)
	return h.outcome()
}

// initializeProcessor runs on every processor.
func (h *Hypervisor) initializeProcessor() {
	id := h.platform.ProcessorIdentity()
	start := time.Now()
	state, err := h.bringUp(id, h.platform.Processor())
	recordProcessor(time.Since(start), err)
	if err != nil {
		err = &ProcessorError{Processor: id, Err: err}
		log.Warningf("Processor %d: %v", id, err)
	} else {
		log.Infof("Processor %d: %s active, VMXON %s, VMCS %s", id, state.Technology, state.VMXON, state.VMCS)
	}

	if id < 0 || id >= len(h.slots) {
		log.Warningf("Processor %d is outside 0..%d, result dropped", id, len(h.slots)-1)
		return
	}
	if !h.slots[id].store(id, state, err) {
		log.Warningf("Processor %d ran bring-up twice, second result dropped", id)
	}
}

func (h *Hypervisor) bringUp(id int, cpu x86.CPU) (ProcessorState, error) {
	proof, ok := h.virt.IsSupported(cpu)
	if !ok {
		return ProcessorState{}, ErrNotSupported
	}

	// Interrupts stay off afterwards if they were off on entry, as they are
	// once boot services have exited.
	restore := cpu.InterruptsEnabled()
	h.virt.DisableInterrupts(cpu)
	if restore {
		defer h.virt.EnableInterrupts(cpu)
	}

	state, err := h.virt.InitializeProcessor(cpu, proof, h.alloc)
	state.Processor = id
	if err != nil {
		recordFailure(err)
		return state, err
	}

	var own x86.Snapshot
	guest := h.guest
	if id != h.bootstrap || guest == nil || !h.guestUsed.CompareAndSwap(0, 1) {
		cpu.Capture(&own)
		guest = &own
	}
	state, err = h.virt.LoadGuest(cpu, state, h.alloc, guest)
	if state.Report != nil {
		recordFieldFailures(len(state.Report.Failures))
	}
	if err != nil {
		recordFailure(err)
		return state, err
	}
	return state, nil
}

func recordFailure(err error) {
	var ie *vmx.InstructionError
	if errors.As(err, &ie) {
		recordInstructionFailure(ie.Instruction)
	}
}

// outcome applies the failure policy to the stored results.
func (h *Hypervisor) outcome() error {
	var (
		errs   []error
		active int
	)
	for i := range h.slots {
		s := &h.slots[i]
		switch {
		case s.written.Load() == 0:
			errs = append(errs, &ProcessorError{Processor: i, Err: errors.New("did not report")})
		case s.err != nil:
			errs = append(errs, s.err)
		default:
			active++
		}
	}
	log.Infof("%d of %d processors in root operation", active, len(h.slots))
	if len(errs) == 0 {
		return nil
	}
	if h.policy == FailFast || active == 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Results returns the outcome of every processor, indexed by identity. It is
// nil until Initialize has finished the broadcast.
func (h *Hypervisor) Results() []Result {
	if h.State() != StateActive {
		return nil
	}
	results := make([]Result, len(h.slots))
	for i := range h.slots {
		s := &h.slots[i]
		results[i] = Result{Processor: i, Writer: -1}
		if s.written.Load() == 0 {
			continue
		}
		results[i].Writer = s.writer
		results[i].State = s.state
		results[i].Err = s.err
	}
	return results
}
