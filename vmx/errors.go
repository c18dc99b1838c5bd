package vmx

import (
	"errors"
	"fmt"
	"strings"

	"github.com/blacktop/go-vmxboot/internal/x86"
)

var (
	// ErrNotSupported is returned when the processor does not advertise VMX.
	ErrNotSupported = errors.New("vmx: not supported by this processor")
	// ErrFeatureDisabled is returned when IA32_FEATURE_CONTROL is locked
	// without VMX outside SMX enabled.
	ErrFeatureDisabled = errors.New("vmx: disabled and locked in IA32_FEATURE_CONTROL")
)

// InstructionError reports a VMX instruction that did not return VMsucceed.
type InstructionError struct {
	Instruction string
	Operand     uint64
	Status      x86.Status
}

func (e *InstructionError) Error() string {
	return fmt.Sprintf("vmx: %s %#x: %s", e.Instruction, e.Operand, e.Status)
}

// FieldFailure is a single rejected VMWRITE.
type FieldFailure struct {
	Field    Field
	Value    uint64
	Status   x86.Status
	Required bool
}

func (f FieldFailure) String() string {
	return fmt.Sprintf("%s=%#x: %s", f.Field, f.Value, f.Status)
}

// FieldError reports that at least one required guest-state field could not
// be written. Failures lists every rejected write, required or not.
type FieldError struct {
	Failures []FieldFailure
}

func (e *FieldError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.String())
	}
	return "vmx: guest-state write failed: " + strings.Join(parts, ", ")
}
