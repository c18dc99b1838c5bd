package vmx

// IA32_FEATURE_CONTROL bits.
const (
	FeatureControlLocked               = 1 << 0
	FeatureControlVMXInsideSMX         = 1 << 1
	FeatureControlVMXOutsideSMX        = 1 << 2
	FeatureControlRequired      uint64 = FeatureControlLocked | FeatureControlVMXOutsideSMX
)

// PlanFeatureControl decides what to do with the current IA32_FEATURE_CONTROL
// value. It returns the value to write and whether a write is needed. The
// planned value is always old with the required bits added; no bit is ever
// cleared.
//
// A locked register without the required bits cannot be changed until reset
// and yields ErrFeatureDisabled.
func PlanFeatureControl(old uint64) (next uint64, write bool, err error) {
	if old&FeatureControlRequired == FeatureControlRequired {
		return old, false, nil
	}
	if old&FeatureControlLocked != 0 {
		return old, false, ErrFeatureDisabled
	}
	return old | FeatureControlRequired, true, nil
}

// ApplyFixedBits forces the bits of v that VMX operation constrains:
// mustBeOne (IA32_VMX_CRx_FIXED0) are set and bits outside mayBeOne
// (IA32_VMX_CRx_FIXED1) are cleared.
func ApplyFixedBits(v, mustBeOne, mayBeOne uint64) uint64 {
	return (v | mustBeOne) & mayBeOne
}
