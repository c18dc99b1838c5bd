package vmx

import "fmt"

// Field is a VMCS field encoding.
type Field uint32

// Guest-state field encodings.
const (
	GuestESSelector   Field = 0x0800
	GuestCSSelector   Field = 0x0802
	GuestSSSelector   Field = 0x0804
	GuestDSSelector   Field = 0x0806
	GuestFSSelector   Field = 0x0808
	GuestGSSelector   Field = 0x080a
	GuestLDTRSelector Field = 0x080c
	GuestTRSelector   Field = 0x080e

	GuestGDTRLimit Field = 0x4810
	GuestIDTRLimit Field = 0x4812

	GuestCR0 Field = 0x6800
	GuestCR3 Field = 0x6802
	GuestCR4 Field = 0x6804

	GuestGDTRBase Field = 0x6816
	GuestIDTRBase Field = 0x6818

	GuestRSP    Field = 0x681c
	GuestRIP    Field = 0x681e
	GuestRFLAGS Field = 0x6820
)

var fieldNames = map[Field]string{
	GuestESSelector:   "GUEST_ES_SELECTOR",
	GuestCSSelector:   "GUEST_CS_SELECTOR",
	GuestSSSelector:   "GUEST_SS_SELECTOR",
	GuestDSSelector:   "GUEST_DS_SELECTOR",
	GuestFSSelector:   "GUEST_FS_SELECTOR",
	GuestGSSelector:   "GUEST_GS_SELECTOR",
	GuestLDTRSelector: "GUEST_LDTR_SELECTOR",
	GuestTRSelector:   "GUEST_TR_SELECTOR",
	GuestGDTRLimit:    "GUEST_GDTR_LIMIT",
	GuestIDTRLimit:    "GUEST_IDTR_LIMIT",
	GuestCR0:          "GUEST_CR0",
	GuestCR3:          "GUEST_CR3",
	GuestCR4:          "GUEST_CR4",
	GuestGDTRBase:     "GUEST_GDTR_BASE",
	GuestIDTRBase:     "GUEST_IDTR_BASE",
	GuestRSP:          "GUEST_RSP",
	GuestRIP:          "GUEST_RIP",
	GuestRFLAGS:       "GUEST_RFLAGS",
}

func (f Field) String() string {
	if name, ok := fieldNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Field(%#04x)", uint32(f))
}
