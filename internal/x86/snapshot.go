package x86

// Snapshot is the machine state captured at the boot-services exit boundary.
//
// The layout is shared with the assembly capture routine: field order and
// sizes must match the Snapshot* offsets below.
type Snapshot struct {
	RAX uint64
	RBX uint64
	RCX uint64
	RDX uint64
	RSI uint64
	RDI uint64
	RBP uint64
	RSP uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	RIP    uint64
	RFLAGS uint64

	CR0 uint64
	CR2 uint64
	CR3 uint64
	CR4 uint64

	ES   uint16
	CS   uint16
	SS   uint16
	DS   uint16
	FS   uint16
	GS   uint16
	LDTR uint16
	TR   uint16
}

// Offsets of Snapshot fields, as used by the capture routine.
const (
	SnapshotRAX    = 0x00
	SnapshotRBX    = 0x08
	SnapshotRCX    = 0x10
	SnapshotRDX    = 0x18
	SnapshotRSI    = 0x20
	SnapshotRDI    = 0x28
	SnapshotRBP    = 0x30
	SnapshotRSP    = 0x38
	SnapshotR8     = 0x40
	SnapshotR9     = 0x48
	SnapshotR10    = 0x50
	SnapshotR11    = 0x58
	SnapshotR12    = 0x60
	SnapshotR13    = 0x68
	SnapshotR14    = 0x70
	SnapshotR15    = 0x78
	SnapshotRIP    = 0x80
	SnapshotRFLAGS = 0x88
	SnapshotCR0    = 0x90
	SnapshotCR2    = 0x98
	SnapshotCR3    = 0xa0
	SnapshotCR4    = 0xa8
	SnapshotES     = 0xb0
	SnapshotCS     = 0xb2
	SnapshotSS     = 0xb4
	SnapshotDS     = 0xb6
	SnapshotFS     = 0xb8
	SnapshotGS     = 0xba
	SnapshotLDTR   = 0xbc
	SnapshotTR     = 0xbe

	SnapshotSize = 0xc0
)
