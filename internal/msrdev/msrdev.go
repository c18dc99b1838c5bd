// Package msrdev reads model specific registers of the host through the Linux
// msr driver. It needs the msr module loaded and CAP_SYS_RAWIO.
package msrdev

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrUnavailable is returned when the msr device cannot be opened.
var ErrUnavailable = errors.New("msrdev: msr device unavailable")

// Device is the msr device of one logical processor.
type Device struct {
	cpu int
	fd  int
}

// Path returns the device path of processor cpu.
func Path(cpu int) string { return fmt.Sprintf("/dev/cpu/%d/msr", cpu) }

// Open opens the msr device of processor cpu read-only.
func Open(cpu int) (*Device, error) {
	fd, err := unix.Open(Path(cpu), unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, Path(cpu), err)
	}
	return &Device{cpu: cpu, fd: fd}, nil
}

// Read returns the value of msr. The driver maps the file offset to the
// register address.
func (d *Device) Read(msr uint32) (uint64, error) {
	var buf [8]byte
	n, err := unix.Pread(d.fd, buf[:], int64(msr))
	if err != nil {
		return 0, fmt.Errorf("msrdev: cpu %d: read %#x: %w", d.cpu, msr, err)
	}
	if n != len(buf) {
		return 0, fmt.Errorf("msrdev: cpu %d: read %#x: short read of %d bytes", d.cpu, msr, n)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// ReadAll reads every msr in msrs. The first failure stops the scan.
func (d *Device) ReadAll(msrs ...uint32) (map[uint32]uint64, error) {
	out := make(map[uint32]uint64, len(msrs))
	for _, m := range msrs {
		v, err := d.Read(m)
		if err != nil {
			return out, err
		}
		out[m] = v
	}
	return out, nil
}

// Close closes the device.
func (d *Device) Close() error {
	if err := unix.Close(d.fd); err != nil {
		return fmt.Errorf("msrdev: close: %w", err)
	}
	return nil
}
