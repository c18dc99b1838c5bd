package sim

import (
	"fmt"
	"sync"

	"gvisor.dev/gvisor/pkg/atomicbitops"

	"github.com/blacktop/go-vmxboot/internal/x86"
)

// Platform is a simulated multi-processor machine. Processor 0 is the
// bootstrap processor: the thread that calls ExecuteOnAllProcessors, and any
// thread outside a broadcast, runs as processor 0.
type Platform struct {
	cpus []*CPU
	mem  *Memory

	ids        identities
	broadcasts atomicbitops.Uint32
}

// NewPlatform assembles a machine from its processors and physical memory.
// Every processor is attached to mem.
func NewPlatform(cpus []*CPU, mem *Memory) *Platform {
	for _, c := range cpus {
		c.SetMemory(mem)
	}
	return &Platform{cpus: cpus, mem: mem}
}

// NewIntelPlatform returns n processors from NewIntelCPU sharing a memory of
// frames pages.
func NewIntelPlatform(n, frames int) (*Platform, error) {
	mem, err := NewMemory(frames)
	if err != nil {
		return nil, err
	}
	cpus := make([]*CPU, n)
	for i := range cpus {
		cpus[i] = NewIntelCPU()
	}
	return NewPlatform(cpus, mem), nil
}

// ProcessorCount returns the number of logical processors.
func (p *Platform) ProcessorCount() int { return len(p.cpus) }

// ProcessorIdentity returns the index of the calling processor.
func (p *Platform) ProcessorIdentity() int { return p.ids.current() }

// Processor returns the CPU of the calling processor.
func (p *Platform) Processor() x86.CPU { return p.cpus[p.ids.current()] }

// CPU returns processor i.
func (p *Platform) CPU(i int) *CPU { return p.cpus[i] }

// Memory returns the physical memory of the machine.
func (p *Platform) Memory() *Memory { return p.mem }

// AllocateFrames implements the platform frame allocator.
func (p *Platform) AllocateFrames(count int) (uint64, error) { return p.mem.Allocate(count) }

// MapFrames implements the platform frame mapper.
func (p *Platform) MapFrames(base uint64, count int) ([]byte, error) { return p.mem.Map(base, count) }

// Broadcasts returns how many times ExecuteOnAllProcessors ran.
func (p *Platform) Broadcasts() uint32 { return p.broadcasts.Load() }

// ExecuteOnAllProcessors runs fn once on every processor and returns when all
// of them have finished. The application processors are started first; the
// calling thread then runs fn as the bootstrap processor.
func (p *Platform) ExecuteOnAllProcessors(fn func()) {
	p.broadcasts.Add(1)
	if len(p.cpus) == 0 {
		return
	}
	var wg sync.WaitGroup
	p.ids.run(len(p.cpus), &wg, fn)
	wg.Wait()
}

// Close releases the physical memory.
func (p *Platform) Close() error {
	if err := p.mem.Close(); err != nil {
		return fmt.Errorf("sim: release memory: %w", err)
	}
	return nil
}
