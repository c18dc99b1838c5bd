package x86

import "strings"

// Model specific register addresses.
const (
	MSRFeatureControl = 0x3a
	MSRVMXBasic       = 0x480
	MSRVMXCR0Fixed0   = 0x486
	MSRVMXCR0Fixed1   = 0x487
	MSRVMXCR4Fixed0   = 0x488
	MSRVMXCR4Fixed1   = 0x489
)

// CR0 is the value of control register 0.
type CR0 uint64

// CR0 flags.
const (
	CR0PE CR0 = 1 << 0
	CR0MP CR0 = 1 << 1
	CR0EM CR0 = 1 << 2
	CR0TS CR0 = 1 << 3
	CR0ET CR0 = 1 << 4
	CR0NE CR0 = 1 << 5
	CR0WP CR0 = 1 << 16
	CR0AM CR0 = 1 << 18
	CR0NW CR0 = 1 << 29
	CR0CD CR0 = 1 << 30
	CR0PG CR0 = 1 << 31
)

var cr0Names = []struct {
	flag CR0
	name string
}{
	{CR0PE, "PE"},
	{CR0MP, "MP"},
	{CR0EM, "EM"},
	{CR0TS, "TS"},
	{CR0ET, "ET"},
	{CR0NE, "NE"},
	{CR0WP, "WP"},
	{CR0AM, "AM"},
	{CR0NW, "NW"},
	{CR0CD, "CD"},
	{CR0PG, "PG"},
}

// String renders the set flags as "PE | NE | PG".
func (c CR0) String() string {
	var parts []string
	for _, n := range cr0Names {
		if c&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, " | ")
}

// CR4 is the value of control register 4.
type CR4 uint64

// CR4 flags.
const (
	CR4VME        CR4 = 1 << 0
	CR4PVI        CR4 = 1 << 1
	CR4TSD        CR4 = 1 << 2
	CR4DE         CR4 = 1 << 3
	CR4PSE        CR4 = 1 << 4
	CR4PAE        CR4 = 1 << 5
	CR4MCE        CR4 = 1 << 6
	CR4PGE        CR4 = 1 << 7
	CR4PCE        CR4 = 1 << 8
	CR4OSFXSR     CR4 = 1 << 9
	CR4OSXMMEXCPT CR4 = 1 << 10
	CR4UMIP       CR4 = 1 << 11
	CR4LA57       CR4 = 1 << 12
	CR4VMXE       CR4 = 1 << 13
	CR4SMXE       CR4 = 1 << 14
	CR4FSGSBASE   CR4 = 1 << 16
	CR4PCIDE      CR4 = 1 << 17
	CR4OSXSAVE    CR4 = 1 << 18
	CR4KL         CR4 = 1 << 19
	CR4SMEP       CR4 = 1 << 20
	CR4SMAP       CR4 = 1 << 21
	CR4PKE        CR4 = 1 << 22
	CR4CET        CR4 = 1 << 23
	CR4PKS        CR4 = 1 << 24
	CR4UINTR      CR4 = 1 << 25
)

var cr4Names = []struct {
	flag CR4
	name string
}{
	{CR4VME, "VME"},
	{CR4PVI, "PVI"},
	{CR4TSD, "TSD"},
	{CR4DE, "DE"},
	{CR4PSE, "PSE"},
	{CR4PAE, "PAE"},
	{CR4MCE, "MCE"},
	{CR4PGE, "PGE"},
	{CR4PCE, "PCE"},
	{CR4OSFXSR, "OSFXSR"},
	{CR4OSXMMEXCPT, "OSXMMEXCPT"},
	{CR4UMIP, "UMIP"},
	{CR4LA57, "LA57"},
	{CR4VMXE, "VMXE"},
	{CR4SMXE, "SMXE"},
	{CR4FSGSBASE, "FSGSBASE"},
	{CR4PCIDE, "PCIDE"},
	{CR4OSXSAVE, "OSXSAVE"},
	{CR4KL, "KL"},
	{CR4SMEP, "SMEP"},
	{CR4SMAP, "SMAP"},
	{CR4PKE, "PKE"},
	{CR4CET, "CET"},
	{CR4PKS, "PKS"},
	{CR4UINTR, "UINTR"},
}

// String renders the set flags as "PAE | VMXE".
func (c CR4) String() string {
	var parts []string
	for _, n := range cr4Names {
		if c&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, " | ")
}

// DescriptorTableRegister is the in-memory image of GDTR or IDTR.
//
// SGDT and SIDT store a 2 byte limit followed by an 8 byte base. The leading
// padding places the store target at offset 6 so that Base is naturally
// aligned.
type DescriptorTableRegister struct {
	_     [6]byte
	Limit uint16
	Base  uint64
}

// NewDescriptorTableRegister returns a register image with the given base and limit.
func NewDescriptorTableRegister(base uint64, limit uint16) DescriptorTableRegister {
	return DescriptorTableRegister{Limit: limit, Base: base}
}
