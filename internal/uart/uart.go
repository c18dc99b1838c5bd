// Package uart drives a 16550-compatible serial port through port I/O.
package uart

import (
	"errors"
	"time"
)

// COM1 is the conventional base port of the first serial port.
const COM1 = 0x3f8

// Register offsets from the base port.
const (
	regData         = 0 // DLL with DLAB set
	regIER          = 1 // DLM with DLAB set
	regFCR          = 2
	regLCR          = 3
	regLSR          = 5
	regDivisorLatch = 0
	regDivisorHigh  = 1
)

// Register values.
const (
	LCRDLAB = 0x80
	// LCR8N1 selects 8 data bits, no parity and one stop bit.
	LCR8N1 = 0x03

	FCREnable       = 1 << 0
	FCRResetReceive = 1 << 1
	FCRResetSend    = 1 << 2
	FCRDMAMode      = 1 << 3
	FCRTrigger14    = 3 << 6

	LSRTransmitEmpty = 1 << 5
)

// spinLimit bounds the wait for the transmit holding register.
const spinLimit = 1 << 20

// ErrTimeout is returned when the transmitter never drains.
var ErrTimeout = errors.New("uart: transmitter did not become ready")

// PortIO performs byte-wide I/O port accesses.
type PortIO interface {
	In8(port uint16) uint8
	Out8(port uint16, value uint8)
}

// Port is a programmed serial port. It implements io.Writer.
type Port struct {
	io   PortIO
	base uint16
}

// New programs the port at base for polled output: interrupts off, the
// given baud divisor (1 is 115200 baud), 8N1 and FIFOs enabled and reset
// with a 14 byte trigger level.
func New(io PortIO, base, divisor uint16) *Port {
	io.Out8(base+regIER, 0)
	io.Out8(base+regLCR, LCRDLAB)
	io.Out8(base+regDivisorLatch, uint8(divisor))
	io.Out8(base+regDivisorHigh, uint8(divisor>>8))
	io.Out8(base+regLCR, LCR8N1)
	io.Out8(base+regFCR, FCREnable|FCRResetReceive|FCRResetSend|FCRDMAMode|FCRTrigger14)
	return &Port{io: io, base: base}
}

// Base returns the base port.
func (p *Port) Base() uint16 { return p.base }

// WriteByte sends one byte once the transmit holding register is empty.
func (p *Port) WriteByte(b byte) error {
	for range spinLimit {
		if p.io.In8(p.base+regLSR)&LSRTransmitEmpty != 0 {
			p.io.Out8(p.base+regData, b)
			return nil
		}
	}
	return ErrTimeout
}

// Write sends b, translating "\n" to "\r\n".
func (p *Port) Write(b []byte) (int, error) {
	for i, c := range b {
		if c == '\n' {
			if err := p.WriteByte('\r'); err != nil {
				return i, err
			}
		}
		if err := p.WriteByte(c); err != nil {
			return i, err
		}
	}
	return len(b), nil
}

// BaudRate returns the baud rate of divisor on the standard 1.8432 MHz clock.
func BaudRate(divisor uint16) int {
	if divisor == 0 {
		return 0
	}
	return 115200 / int(divisor)
}

// CharacterTime returns how long one 8N1 character takes at divisor.
func CharacterTime(divisor uint16) time.Duration {
	rate := BaudRate(divisor)
	if rate == 0 {
		return 0
	}
	return 10 * time.Second / time.Duration(rate)
}
