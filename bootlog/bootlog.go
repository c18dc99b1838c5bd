// Package bootlog routes the global gvisor logger to the firmware console
// while boot services are available and to a serial port afterwards.
package bootlog

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"gvisor.dev/gvisor/pkg/atomicbitops"
	"gvisor.dev/gvisor/pkg/log"
)

// Phase is the boot phase the logger is in.
type Phase uint32

const (
	// PhaseBootServices logs to the firmware console.
	PhaseBootServices Phase = iota
	// PhaseInitializing logs to the serial port while the hypervisor starts.
	PhaseInitializing
	// PhaseRunning logs to the serial port with the guest running.
	PhaseRunning
)

func (p Phase) String() string {
	switch p {
	case PhaseBootServices:
		return "boot-services"
	case PhaseInitializing:
		return "initializing"
	case PhaseRunning:
		return "running"
	default:
		return fmt.Sprintf("Phase(%d)", uint32(p))
	}
}

var phase atomicbitops.Uint32

// CurrentPhase returns the current boot phase.
func CurrentPhase() Phase { return Phase(phase.Load()) }

// LineEmitter writes one "[LEVEL]: message" line per log call. Lines from
// concurrent processors are not interleaved.
type LineEmitter struct {
	mu   sync.Mutex
	next log.Emitter
}

// NewLineEmitter returns an emitter writing to w.
func NewLineEmitter(w io.Writer) *LineEmitter {
	return &LineEmitter{next: &log.Writer{Next: w}}
}

// Emit implements log.Emitter.Emit.
func (e *LineEmitter) Emit(depth int, level log.Level, timestamp time.Time, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next.Emit(depth+1, level, timestamp, "[%s]: %s\n", levelName(level), msg)
}

func levelName(l log.Level) string {
	switch l {
	case log.Warning:
		return "WARN"
	case log.Info:
		return "INFO"
	case log.Debug:
		return "DEBUG"
	default:
		return fmt.Sprintf("LEVEL%d", l)
	}
}

// route is the emitter the global logger is pointed at. It forwards to the
// current line emitter so that switching destinations does not allocate.
type route struct{}

var current atomic.Pointer[LineEmitter]

// Emit implements log.Emitter.Emit.
func (route) Emit(depth int, level log.Level, timestamp time.Time, format string, args ...any) {
	if e := current.Load(); e != nil {
		e.Emit(depth+1, level, timestamp, format, args...)
	}
}

// Init sends log output to the firmware console at the given level.
func Init(console io.Writer, level log.Level) {
	phase.Store(uint32(PhaseBootServices))
	current.Store(NewLineEmitter(console))
	log.SetTarget(route{})
	log.SetLevel(level)
}

// Transition switches log output to serial once boot services have exited.
// serial must be built beforehand: Transition only swaps it in and does not
// allocate or log.
func Transition(serial *LineEmitter) {
	current.Store(serial)
	phase.Store(uint32(PhaseInitializing))
}

// Running records that bring-up has finished.
func Running() {
	phase.Store(uint32(PhaseRunning))
}
