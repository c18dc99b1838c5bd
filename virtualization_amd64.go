//go:build amd64

package vmxboot

// Default returns the virtualization technology of this architecture.
func Default() Virtualization { return VMX() }
