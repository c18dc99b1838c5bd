package uart

import (
	"io"
	"sync"
)

// Access is one recorded port access.
type Access struct {
	Write bool
	Port  uint16
	Value uint8
}

// Loopback is a software 16550 that records every access. Its transmitter is
// always ready and transmitted bytes are collected in order.
type Loopback struct {
	mu       sync.Mutex
	base     uint16
	accesses []Access
	sent     []byte
	busy     int
	lcr      uint8
	divisor  uint16
	echo     io.Writer
}

// NewLoopback returns a loopback device at base.
func NewLoopback(base uint16) *Loopback { return &Loopback{base: base} }

// SetEcho forwards every transmitted byte to w as well.
func (l *Loopback) SetEcho(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.echo = w
}

// SetBusy makes the next n status reads report a full transmitter.
func (l *Loopback) SetBusy(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.busy = n
}

func (l *Loopback) In8(port uint16) uint8 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var v uint8
	if port == l.base+regLSR {
		if l.busy > 0 {
			l.busy--
		} else {
			v = LSRTransmitEmpty
		}
	}
	l.accesses = append(l.accesses, Access{Port: port, Value: v})
	return v
}

func (l *Loopback) Out8(port uint16, value uint8) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accesses = append(l.accesses, Access{Write: true, Port: port, Value: value})
	dlab := l.lcr&LCRDLAB != 0
	switch {
	case port == l.base+regLCR:
		l.lcr = value
	case port == l.base+regDivisorLatch && dlab:
		l.divisor = l.divisor&0xff00 | uint16(value)
	case port == l.base+regDivisorHigh && dlab:
		l.divisor = l.divisor&0x00ff | uint16(value)<<8
	case port == l.base+regData:
		l.sent = append(l.sent, value)
		if l.echo != nil {
			l.echo.Write([]byte{value})
		}
	}
}

// LineControl returns the last value written to LCR.
func (l *Loopback) LineControl() uint8 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lcr
}

// Divisor returns the programmed baud divisor.
func (l *Loopback) Divisor() uint16 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.divisor
}

// Accesses returns every recorded access.
func (l *Loopback) Accesses() []Access {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Access(nil), l.accesses...)
}

// Sent returns the transmitted bytes.
func (l *Loopback) Sent() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]byte(nil), l.sent...)
}
