package vmx

import (
	"errors"
	"math/rand/v2"
	"testing"
)

func TestPlanFeatureControl(t *testing.T) {
	tests := []struct {
		name      string
		old       uint64
		want      uint64
		wantWrite bool
		wantErr   error
	}{
		{name: "clear", old: 0, want: 0x5, wantWrite: true},
		{name: "outside smx only", old: 0x4, want: 0x5, wantWrite: true},
		{name: "enabled and locked", old: 0x5, want: 0x5},
		{name: "locked without vmx", old: 0x1, want: 0x1, wantErr: ErrFeatureDisabled},
		{name: "locked inside smx only", old: 0x3, want: 0x3, wantErr: ErrFeatureDisabled},
		{name: "unrelated bits kept", old: 0xff00, want: 0xff05, wantWrite: true},
		{name: "sgx bits kept", old: 0x40000 | 0x2, want: 0x40007, wantWrite: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, write, err := PlanFeatureControl(tt.old)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want || write != tt.wantWrite {
				t.Errorf("PlanFeatureControl(%#x) = %#x, %v; want %#x, %v", tt.old, got, write, tt.want, tt.wantWrite)
			}
		})
	}
}

func TestPlanFeatureControlNeverClearsBits(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for range 10000 {
		old := r.Uint64()
		next, write, err := PlanFeatureControl(old)
		if err != nil {
			continue
		}
		if next&old != old {
			t.Fatalf("PlanFeatureControl(%#x) = %#x cleared bits %#x", old, next, old&^next)
		}
		if write && next != old|FeatureControlRequired {
			t.Fatalf("PlanFeatureControl(%#x) = %#x, want %#x", old, next, old|FeatureControlRequired)
		}
	}
}

func TestApplyFixedBits(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	for range 10000 {
		v := r.Uint64()
		mayBeOne := r.Uint64()
		mustBeOne := r.Uint64() & mayBeOne
		got := ApplyFixedBits(v, mustBeOne, mayBeOne)
		if got&mustBeOne != mustBeOne {
			t.Fatalf("ApplyFixedBits(%#x, %#x, %#x) = %#x misses must-be-one bits", v, mustBeOne, mayBeOne, got)
		}
		if got&^mayBeOne != 0 {
			t.Fatalf("ApplyFixedBits(%#x, %#x, %#x) = %#x sets must-be-zero bits", v, mustBeOne, mayBeOne, got)
		}
		if (got^v)&^(mustBeOne|^mayBeOne) != 0 {
			t.Fatalf("ApplyFixedBits(%#x, %#x, %#x) = %#x changed unconstrained bits", v, mustBeOne, mayBeOne, got)
		}
	}
}
