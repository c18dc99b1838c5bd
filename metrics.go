package vmxboot

import (
	"time"

	"gvisor.dev/gvisor/pkg/atomicbitops"
)

// Bring-up metrics
var (
	// Orchestrator counters
	initializeCount atomicbitops.Uint64
	rejectedCount   atomicbitops.Uint64

	// Processor counters
	processorsStarted atomicbitops.Uint64
	processorsActive  atomicbitops.Uint64
	processorsFailed  atomicbitops.Uint64

	// Instruction and field failures
	vmxonFailures   atomicbitops.Uint64
	vmptrldFailures atomicbitops.Uint64
	fieldFailures   atomicbitops.Uint64

	// Allocation counters
	regionAllocations atomicbitops.Uint64
	resourceErrors    atomicbitops.Uint64

	// Timing metrics (nanoseconds)
	totalInitializeTime atomicbitops.Uint64
	totalProcessorTime  atomicbitops.Uint64
)

// Metrics provides access to bring-up metrics
type Metrics struct {
	Initializations     uint64 `json:"initializations"`
	Rejected            uint64 `json:"rejected"`
	ProcessorsStarted   uint64 `json:"processors_started"`
	ProcessorsActive    uint64 `json:"processors_active"`
	ProcessorsFailed    uint64 `json:"processors_failed"`
	VMXONFailures       uint64 `json:"vmxon_failures"`
	VMPTRLDFailures     uint64 `json:"vmptrld_failures"`
	FieldFailures       uint64 `json:"field_failures"`
	RegionAllocations   uint64 `json:"region_allocations"`
	ResourceErrors      uint64 `json:"resource_errors"`
	AvgInitializeTimeNs uint64 `json:"avg_initialize_time_ns"`
	AvgProcessorTimeNs  uint64 `json:"avg_processor_time_ns"`
}

// GetMetrics returns current bring-up metrics
func GetMetrics() Metrics {
	inits := initializeCount.Load()
	started := processorsStarted.Load()

	var avgInit, avgProc uint64
	if inits > 0 {
		avgInit = totalInitializeTime.Load() / inits
	}
	if started > 0 {
		avgProc = totalProcessorTime.Load() / started
	}

	return Metrics{
		Initializations:     inits,
		Rejected:            rejectedCount.Load(),
		ProcessorsStarted:   started,
		ProcessorsActive:    processorsActive.Load(),
		ProcessorsFailed:    processorsFailed.Load(),
		VMXONFailures:       vmxonFailures.Load(),
		VMPTRLDFailures:     vmptrldFailures.Load(),
		FieldFailures:       fieldFailures.Load(),
		RegionAllocations:   regionAllocations.Load(),
		ResourceErrors:      resourceErrors.Load(),
		AvgInitializeTimeNs: avgInit,
		AvgProcessorTimeNs:  avgProc,
	}
}

// ResetMetrics clears all bring-up metrics
func ResetMetrics() {
	initializeCount.Store(0)
	rejectedCount.Store(0)
	processorsStarted.Store(0)
	processorsActive.Store(0)
	processorsFailed.Store(0)
	vmxonFailures.Store(0)
	vmptrldFailures.Store(0)
	fieldFailures.Store(0)
	regionAllocations.Store(0)
	resourceErrors.Store(0)
	totalInitializeTime.Store(0)
	totalProcessorTime.Store(0)
}

// Internal metric recording functions
func recordInitialize(duration time.Duration) {
	initializeCount.Add(1)
	totalInitializeTime.Add(uint64(duration.Nanoseconds()))
}

func recordRejected() {
	rejectedCount.Add(1)
}

func recordProcessor(duration time.Duration, err error) {
	processorsStarted.Add(1)
	totalProcessorTime.Add(uint64(duration.Nanoseconds()))
	if err != nil {
		processorsFailed.Add(1)
	} else {
		processorsActive.Add(1)
	}
}

func recordInstructionFailure(instruction string) {
	switch instruction {
	case "VMXON":
		vmxonFailures.Add(1)
	case "VMPTRLD":
		vmptrldFailures.Add(1)
	}
}

func recordFieldFailures(n int) {
	fieldFailures.Add(uint64(n))
}

func recordRegionAllocation() {
	regionAllocations.Add(1)
}

func recordResourceError() {
	resourceErrors.Add(1)
}
