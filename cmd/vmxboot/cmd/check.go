/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/blacktop/go-vmxboot"
	"github.com/blacktop/go-vmxboot/internal/msrdev"
	"github.com/blacktop/go-vmxboot/internal/x86"
	"github.com/blacktop/go-vmxboot/vmx"
)

// CheckResult is the VMX capability of the host.
type CheckResult struct {
	Arch       string          `json:"arch"`
	Vendor     string          `json:"vendor,omitempty"`
	Technology string          `json:"technology,omitempty"`
	Supported  bool            `json:"supported"`
	Processors []ProcessorMSRs `json:"processors,omitempty"`
	MSRError   string          `json:"msr_error,omitempty"`
}

// ProcessorMSRs is the VMX MSR state of one host processor.
type ProcessorMSRs struct {
	Processor      int    `json:"processor"`
	FeatureControl uint64 `json:"feature_control"`
	Locked         bool   `json:"locked"`
	Enableable     bool   `json:"enableable"`
	Revision       uint32 `json:"revision"`
	CR0Fixed0      uint64 `json:"cr0_fixed0"`
	CR0Fixed1      uint64 `json:"cr0_fixed1"`
	CR4Fixed0      uint64 `json:"cr4_fixed0"`
	CR4Fixed1      uint64 `json:"cr4_fixed1"`
	Error          string `json:"error,omitempty"`
}

var checkMSRs bool

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().BoolVarP(&checkMSRs, "msr", "m", false, "read the VMX MSRs of every processor through /dev/cpu/*/msr")
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check VMX support of the host processor",
	RunE: func(cmd *cobra.Command, args []string) error {
		res := CheckResult{Arch: runtime.GOARCH}
		id := x86.HostIdentifier()
		if id != nil && id.HasCPUID() {
			res.Vendor = vmx.Vendor(id)
			if tech, ok := vmxboot.DetectTechnology(id); ok {
				res.Technology = tech.String()
				res.Supported = true
			}
		}
		if checkMSRs && res.Supported {
			for i := range runtime.NumCPU() {
				p, err := readProcessor(i)
				if errors.Is(err, msrdev.ErrUnavailable) {
					res.MSRError = err.Error()
					break
				}
				res.Processors = append(res.Processors, p)
			}
		}

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		printCheck(res)
		return nil
	},
}

func readProcessor(i int) (ProcessorMSRs, error) {
	p := ProcessorMSRs{Processor: i}
	d, err := msrdev.Open(i)
	if err != nil {
		return p, err
	}
	defer d.Close()

	v, err := d.ReadAll(
		x86.MSRFeatureControl,
		x86.MSRVMXBasic,
		x86.MSRVMXCR0Fixed0,
		x86.MSRVMXCR0Fixed1,
		x86.MSRVMXCR4Fixed0,
		x86.MSRVMXCR4Fixed1,
	)
	if err != nil {
		p.Error = err.Error()
		return p, nil
	}
	p.FeatureControl = v[x86.MSRFeatureControl]
	p.Locked = p.FeatureControl&vmx.FeatureControlLocked != 0
	_, _, err = vmx.PlanFeatureControl(p.FeatureControl)
	p.Enableable = err == nil
	p.Revision = uint32(v[x86.MSRVMXBasic])
	p.CR0Fixed0 = v[x86.MSRVMXCR0Fixed0]
	p.CR0Fixed1 = v[x86.MSRVMXCR0Fixed1]
	p.CR4Fixed0 = v[x86.MSRVMXCR4Fixed0]
	p.CR4Fixed1 = v[x86.MSRVMXCR4Fixed1]
	return p, nil
}

func printCheck(res CheckResult) {
	switch {
	case res.Vendor == "":
		fmt.Printf("cpuid: unavailable on %s\n", res.Arch)
		return
	case res.Supported:
		fmt.Printf("vendor: %s\ntechnology: %s\n", res.Vendor, res.Technology)
	default:
		fmt.Printf("vendor: %s\ntechnology: none\n", res.Vendor)
	}
	if res.MSRError != "" {
		fmt.Printf("msr: %s\n", res.MSRError)
	}
	for _, p := range res.Processors {
		if p.Error != "" {
			fmt.Printf("cpu%d: %s\n", p.Processor, p.Error)
			continue
		}
		fmt.Printf("cpu%d: feature_control=%#x locked=%v enableable=%v revision=%#x\n",
			p.Processor, p.FeatureControl, p.Locked, p.Enableable, p.Revision)
		fmt.Printf("      cr0 must be 1: %s\n", x86.CR0(p.CR0Fixed0))
		fmt.Printf("      cr4 must be 1: %s\n", x86.CR4(p.CR4Fixed0))
	}
}
