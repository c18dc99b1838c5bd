//go:build amd64

package uart

import "github.com/blacktop/go-vmxboot/internal/x86"

var _ PortIO = x86.Ports{}

// Native programs the port at base through IN and OUT instructions. It
// requires I/O privilege, which firmware and ring 0 have.
func Native(base, divisor uint16) *Port {
	return New(x86.Ports{}, base, divisor)
}
