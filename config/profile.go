package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Profile describes a simulated machine. Zero values select the simulator
// defaults of a recent Intel part.
type Profile struct {
	Name       string `yaml:"name"`
	Processors int    `yaml:"processors"`
	// Frames is the physical frame budget. Zero sizes it for two regions per
	// processor.
	Frames    int          `yaml:"frames"`
	CPU       CPUProfile   `yaml:"cpu"`
	Overrides []CPUProfile `yaml:"overrides"`
	Guest     Guest        `yaml:"guest"`
}

// CPUProfile describes one processor. In Profile.CPU it applies to every
// processor; in Profile.Overrides it applies to the processor with index
// Processor on top of Profile.CPU.
type CPUProfile struct {
	Processor int    `yaml:"processor"`
	Vendor    string `yaml:"vendor"`
	CPUID     *bool  `yaml:"cpuid"`
	VMX       *bool  `yaml:"vmx"`

	FeatureControl *uint64 `yaml:"feature_control"`
	VMXBasic       *uint64 `yaml:"vmx_basic"`
	CR0            *uint64 `yaml:"cr0"`
	CR4            *uint64 `yaml:"cr4"`
	CR0Fixed0      *uint64 `yaml:"cr0_fixed0"`
	CR0Fixed1      *uint64 `yaml:"cr0_fixed1"`
	CR4Fixed0      *uint64 `yaml:"cr4_fixed0"`
	CR4Fixed1      *uint64 `yaml:"cr4_fixed1"`

	GDT *Table `yaml:"gdt"`
	IDT *Table `yaml:"idt"`

	// Failures injects instruction failures.
	Failures Failures `yaml:"failures"`
}

// Table is a descriptor table register.
type Table struct {
	Base  uint64 `yaml:"base"`
	Limit uint16 `yaml:"limit"`
}

// Failures names VMX instructions to fail and the status they report,
// "invalid" (CF) or "valid" (ZF).
type Failures struct {
	VMXON   string   `yaml:"vmxon"`
	VMPTRLD string   `yaml:"vmptrld"`
	Fields  []uint32 `yaml:"fields"`
}

// Guest is the register state captured at the boot-services exit.
type Guest struct {
	RIP    uint64 `yaml:"rip"`
	RSP    uint64 `yaml:"rsp"`
	RFLAGS uint64 `yaml:"rflags"`
	CR3    uint64 `yaml:"cr3"`
	CS     uint16 `yaml:"cs"`
	SS     uint16 `yaml:"ss"`
	DS     uint16 `yaml:"ds"`
	ES     uint16 `yaml:"es"`
	FS     uint16 `yaml:"fs"`
	GS     uint16 `yaml:"gs"`
	LDTR   uint16 `yaml:"ldtr"`
	TR     uint16 `yaml:"tr"`
}

// DefaultProfile is a single-processor machine.
func DefaultProfile() Profile {
	return Profile{Name: "default", Processors: 1}
}

// ParseProfile decodes a machine profile.
func ParseProfile(data []byte) (Profile, error) {
	p := DefaultProfile()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("config: parse profile: %w", err)
	}
	return p, p.Validate()
}

// LoadProfile reads the profile at path. An empty path yields DefaultProfile.
func LoadProfile(path string) (Profile, error) {
	if path == "" {
		return DefaultProfile(), nil
	}
	data, err := readFile(path)
	if err != nil {
		return Profile{}, err
	}
	p, err := ParseProfile(data)
	if err != nil {
		return Profile{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Validate checks processor indices and failure statuses.
func (p Profile) Validate() error {
	if p.Processors <= 0 {
		return fmt.Errorf("config: profile %q: processors must be positive, got %d", p.Name, p.Processors)
	}
	if p.Frames < 0 {
		return fmt.Errorf("config: profile %q: negative frame budget", p.Name)
	}
	if err := p.CPU.Failures.validate(); err != nil {
		return fmt.Errorf("config: profile %q: %w", p.Name, err)
	}
	seen := make(map[int]bool)
	for _, o := range p.Overrides {
		if o.Processor < 0 || o.Processor >= p.Processors {
			return fmt.Errorf("config: profile %q: override for processor %d of %d", p.Name, o.Processor, p.Processors)
		}
		if seen[o.Processor] {
			return fmt.Errorf("config: profile %q: duplicate override for processor %d", p.Name, o.Processor)
		}
		seen[o.Processor] = true
		if err := o.Failures.validate(); err != nil {
			return fmt.Errorf("config: profile %q: processor %d: %w", p.Name, o.Processor, err)
		}
	}
	return nil
}

// FrameBudget returns Frames, or two frames per processor when unset.
func (p Profile) FrameBudget() int {
	if p.Frames == 0 {
		return 2 * p.Processors
	}
	return p.Frames
}

// Override returns the override for processor i, if any.
func (p Profile) Override(i int) (CPUProfile, bool) {
	for _, o := range p.Overrides {
		if o.Processor == i {
			return o, true
		}
	}
	return CPUProfile{}, false
}

func (f Failures) validate() error {
	for _, s := range []string{f.VMXON, f.VMPTRLD} {
		switch s {
		case "", "invalid", "valid":
		default:
			return fmt.Errorf("unknown failure status %q", s)
		}
	}
	return nil
}
