package vmxboot

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gvisor.dev/gvisor/pkg/atomicbitops"

	"github.com/blacktop/go-vmxboot/vmx"
)

// Bring-up error codes.
const (
	CodeSuccess           uint32 = 0x00000000
	CodeAlreadyActive     uint32 = 0x564d0001
	CodeNotSupported      uint32 = 0x564d0002
	CodeFeatureDisabled   uint32 = 0x564d0003
	CodeInstructionFailed uint32 = 0x564d0004
	CodeOutOfMemory       uint32 = 0x564d0005
	CodeMapFailure        uint32 = 0x564d0006
	CodeFieldWrite        uint32 = 0x564d0007
	CodeForgedProof       uint32 = 0x564d0008
)

// HVError is a bring-up failure classified by Code. It wraps the underlying
// cause, if any. Two HVErrors match under errors.Is when their codes are
// equal.
type HVError struct {
	Code    uint32
	message string // Optional custom message for specific errors
	err     error
}

func (e HVError) Error() string {
	if e.message != "" {
		return e.message
	}

	if isProductionEnv() {
		return e.sanitizedError()
	}
	msg := e.detailedError()
	if e.err != nil {
		msg += ": " + e.err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e HVError) Unwrap() error { return e.err }

// Is reports whether target carries the same code.
func (e HVError) Is(target error) bool {
	switch t := target.(type) {
	case *HVError:
		return t != nil && t.Code == e.Code
	case HVError:
		return t.Code == e.Code
	}
	return false
}

// detailedError provides full error context for development
func (e HVError) detailedError() string {
	switch e.Code {
	case CodeSuccess:
		return "vmxboot: success"
	case CodeAlreadyActive:
		return "vmxboot: already initialized (AlreadyActive) - bring-up runs once per boot"
	case CodeNotSupported:
		return "vmxboot: virtualization not supported (NotSupported) - processor is not an Intel part with VMX"
	case CodeFeatureDisabled:
		return "vmxboot: VMX disabled by firmware (FeatureDisabled) - IA32_FEATURE_CONTROL is locked without VMX outside SMX"
	case CodeInstructionFailed:
		return "vmxboot: VMX instruction failed (InstructionFailed) - check region alignment, revision and CR0/CR4 fixed bits"
	case CodeOutOfMemory:
		return "vmxboot: out of memory (OutOfMemory) - platform could not allocate a page frame"
	case CodeMapFailure:
		return "vmxboot: mapping failed (MapFailure) - platform could not map an allocated frame"
	case CodeFieldWrite:
		return "vmxboot: guest-state write failed (FieldWrite) - a required VMCS field was rejected"
	case CodeForgedProof:
		return "vmxboot: invalid support proof (ForgedProof) - InitializeProcessor requires a proof from IsSupported on the same processor"
	default:
		return fmt.Sprintf("vmxboot: unknown error code 0x%08x", e.Code)
	}
}

// sanitizedError provides minimal error information for production
func (e HVError) sanitizedError() string {
	switch e.Code {
	case CodeSuccess:
		return "vmxboot: success"
	case CodeAlreadyActive:
		return "vmxboot: already initialized"
	case CodeNotSupported:
		return "vmxboot: not supported"
	case CodeFeatureDisabled:
		return "vmxboot: feature disabled"
	case CodeInstructionFailed:
		return "vmxboot: instruction failed"
	case CodeOutOfMemory:
		return "vmxboot: out of memory"
	case CodeMapFailure:
		return "vmxboot: mapping failed"
	case CodeFieldWrite:
		return "vmxboot: field write failed"
	case CodeForgedProof:
		return "vmxboot: invalid proof"
	default:
		return "vmxboot: bring-up error"
	}
}

var productionErrors atomicbitops.Bool

// SetProductionErrors forces sanitized error messages regardless of the
// environment.
func SetProductionErrors(on bool) { productionErrors.Store(on) }

// isProductionEnv checks if we're running in production environment
func isProductionEnv() bool {
	if productionErrors.Load() {
		return true
	}

	env := os.Getenv("VMXBOOT_ENV")
	if env == "production" || env == "prod" {
		return true
	}

	// Check if debug mode is explicitly disabled
	if debug := os.Getenv("VMXBOOT_DEBUG"); debug != "" {
		if val, err := strconv.ParseBool(debug); err == nil && !val {
			return true
		}
	}

	return false
}

func newError(code uint32, err error) error {
	return &HVError{Code: code, err: err}
}

// classify maps an error from the vmx package or the platform to its code.
func classify(err error) error {
	var hv *HVError
	if errors.As(err, &hv) {
		return err
	}
	var (
		ie *vmx.InstructionError
		fe *vmx.FieldError
	)
	switch {
	case errors.Is(err, vmx.ErrNotSupported):
		return newError(CodeNotSupported, err)
	case errors.Is(err, vmx.ErrFeatureDisabled):
		return newError(CodeFeatureDisabled, err)
	case errors.As(err, &ie):
		return newError(CodeInstructionFailed, err)
	case errors.As(err, &fe):
		return newError(CodeFieldWrite, err)
	default:
		return err
	}
}

// ProcessorError is the failure of one logical processor.
type ProcessorError struct {
	Processor int
	Err       error
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("processor %d: %v", e.Processor, e.Err)
}

func (e *ProcessorError) Unwrap() error { return e.Err }

// Common specific errors for API consumers
var (
	ErrAlreadyActive     = &HVError{Code: CodeAlreadyActive, message: "vmxboot: hypervisor already initialized"}
	ErrNotSupported      = &HVError{Code: CodeNotSupported, message: "vmxboot: virtualization not supported"}
	ErrFeatureDisabled   = &HVError{Code: CodeFeatureDisabled, message: "vmxboot: VMX disabled and locked by firmware"}
	ErrInstructionFailed = &HVError{Code: CodeInstructionFailed, message: "vmxboot: VMX instruction failed"}
	ErrOutOfMemory       = &HVError{Code: CodeOutOfMemory, message: "vmxboot: out of memory"}
	ErrMapFailure        = &HVError{Code: CodeMapFailure, message: "vmxboot: frame mapping failed"}
	ErrFieldWrite        = &HVError{Code: CodeFieldWrite, message: "vmxboot: guest-state field write failed"}
	ErrForgedProof       = &HVError{Code: CodeForgedProof, message: "vmxboot: proof was not issued for this processor"}
	ErrNoProcessors      = &HVError{Code: CodeNotSupported, message: "vmxboot: platform reports no processors"}
)
