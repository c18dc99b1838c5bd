package vmxboot

import (
	"errors"
	"math"
	"testing"

	"gvisor.dev/gvisor/pkg/hostarch"

	"github.com/blacktop/go-vmxboot/internal/x86"
	"github.com/blacktop/go-vmxboot/vmx"
)

// framePlatform returns fixed allocation and mapping results.
type framePlatform struct {
	phys     uint64
	allocErr error
	view     []byte
	mapErr   error
}

func (framePlatform) ProcessorCount() int           { return 1 }
func (framePlatform) ProcessorIdentity() int        { return 0 }
func (framePlatform) Processor() x86.CPU            { return nil }
func (framePlatform) ExecuteOnAllProcessors(func()) {}

func (p framePlatform) AllocateFrames(int) (uint64, error) { return p.phys, p.allocErr }

func (p framePlatform) MapFrames(uint64, int) ([]byte, error) { return p.view, p.mapErr }

func TestAllocateRegionValidation(t *testing.T) {
	errFirmware := errors.New("firmware: out of resources")
	page := make([]byte, 2*hostarch.PageSize)

	for _, tt := range []struct {
		name     string
		platform Platform
		want     error
		cause    error
	}{
		{"nil platform", nil, nil, nil},
		{"allocation failure", framePlatform{allocErr: errFirmware}, ErrOutOfMemory, errFirmware},
		{"unaligned frame", framePlatform{phys: 0x100010, view: page}, ErrMapFailure, nil},
		{"overflowing frame", framePlatform{phys: math.MaxUint64 &^ (hostarch.PageSize - 1), view: page}, ErrMapFailure, nil},
		{"mapping failure", framePlatform{phys: 0x100000, mapErr: errFirmware}, ErrMapFailure, errFirmware},
		{"short mapping", framePlatform{phys: 0x100000, view: page[:100]}, ErrMapFailure, nil},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := frameAllocator{platform: tt.platform}.AllocateRegion()
			if err == nil {
				t.Fatal("AllocateRegion succeeded")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("AllocateRegion = %v, want %v", err, tt.want)
			}
			if tt.cause != nil && !errors.Is(err, tt.cause) {
				t.Errorf("AllocateRegion = %v, does not wrap %v", err, tt.cause)
			}
		})
	}
}

func TestAllocateRegion(t *testing.T) {
	ResetMetrics()
	page := make([]byte, 2*hostarch.PageSize)
	a := frameAllocator{platform: framePlatform{phys: 0x200000, view: page}}

	r, err := a.AllocateRegion()
	if err != nil {
		t.Fatalf("AllocateRegion: %v", err)
	}
	if r.Phys != 0x200000 {
		t.Errorf("Phys = %#x, want 0x200000", r.Phys)
	}
	if len(r.Virt) != vmx.RegionSize || cap(r.Virt) != vmx.RegionSize {
		t.Errorf("region is %d bytes with capacity %d, want %d", len(r.Virt), cap(r.Virt), vmx.RegionSize)
	}
	if got := GetMetrics().RegionAllocations; got != 1 {
		t.Errorf("RegionAllocations = %d, want 1", got)
	}
}
