package msrdev

import (
	"errors"
	"testing"

	"github.com/blacktop/go-vmxboot/internal/x86"
	"github.com/blacktop/go-vmxboot/vmx"
)

func TestPath(t *testing.T) {
	if got := Path(3); got != "/dev/cpu/3/msr" {
		t.Errorf("Path(3) = %q", got)
	}
}

func TestOpenMissing(t *testing.T) {
	if _, err := Open(1 << 20); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Open = %v, want ErrUnavailable", err)
	}
}

func TestReadVMXBasic(t *testing.T) {
	d, err := Open(0)
	if err != nil {
		t.Skipf("msr device: %v", err)
	}
	defer d.Close()
	if id := x86.HostIdentifier(); id == nil || !vmx.Supported(id) {
		t.Skip("host has no VMX")
	}
	basic, err := d.Read(x86.MSRVMXBasic)
	if err != nil {
		t.Skipf("read: %v", err)
	}
	if rev := uint32(basic); rev == 0 || rev&(1<<31) != 0 {
		t.Errorf("VMCS revision %#x out of range", rev)
	}
}
