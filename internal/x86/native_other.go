//go:build !amd64

package x86

// HostIdentifier returns nil: CPUID does not exist on this architecture.
func HostIdentifier() Identifier { return nil }
