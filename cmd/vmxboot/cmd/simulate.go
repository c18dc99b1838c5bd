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
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/blacktop/go-vmxboot"
	"github.com/blacktop/go-vmxboot/bootlog"
	"github.com/blacktop/go-vmxboot/config"
	"github.com/blacktop/go-vmxboot/exitboot"
	"github.com/blacktop/go-vmxboot/internal/sim"
	"github.com/blacktop/go-vmxboot/internal/uart"
	"github.com/blacktop/go-vmxboot/internal/x86"
)

// SimulationResult is the outcome of one simulated boot.
type SimulationResult struct {
	Profile    string            `json:"profile"`
	Exited     string            `json:"exit_status"`
	Dispatched bool              `json:"dispatched"`
	Error      string            `json:"error,omitempty"`
	Processors []ProcessorResult `json:"processors,omitempty"`
	Metrics    vmxboot.Metrics   `json:"metrics"`
}

// ProcessorResult is the bring-up outcome of one simulated processor.
type ProcessorResult struct {
	Processor     int      `json:"processor"`
	Active        bool     `json:"active"`
	Revision      uint32   `json:"revision,omitempty"`
	VMXON         uint64   `json:"vmxon,omitempty"`
	VMCS          uint64   `json:"vmcs,omitempty"`
	FieldsWritten int      `json:"fields_written"`
	FieldFailures []string `json:"field_failures,omitempty"`
	Error         string   `json:"error,omitempty"`
}

var profilePath string

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVarP(&profilePath, "profile", "p", "", "machine profile (YAML), defaults to one Intel processor")
}

var simulateCmd = &cobra.Command{
	Use:     "simulate",
	Aliases: []string{"sim"},
	Short:   "Run VMX bring-up on a simulated machine",
	Long: `Run the boot-services exit interception and the VMX bring-up of every
processor against a simulated machine.

Log output goes to stderr: console lines before the exit, then the serial
transcript of the configured UART. Results are printed to stdout.`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	profile, err := config.LoadProfile(profilePath)
	if err != nil {
		return err
	}
	vmxboot.SetProductionErrors(cfg.Production)
	vmxboot.ResetMetrics()
	bootlog.Init(os.Stderr, cfg.Level())

	machine, err := sim.FromProfile(profile)
	if err != nil {
		return fmt.Errorf("failed to build machine: %w", err)
	}
	defer machine.Close()

	com := uart.NewLoopback(cfg.Serial.Port)
	com.SetEcho(os.Stderr)
	serial := bootlog.NewLineEmitter(uart.New(com, cfg.Serial.Port, cfg.Serial.Divisor))

	policy := vmxboot.Continue
	if cfg.FailFast() {
		policy = vmxboot.FailFast
	}
	hv := vmxboot.New(machine,
		vmxboot.WithVirtualization(vmxboot.VMX()),
		vmxboot.WithFailurePolicy(policy),
	)

	res := SimulationResult{Profile: profile.Name}
	var initErr error
	interceptor := &exitboot.Interceptor{
		CPU:        machine.CPU(0),
		Transition: func() { bootlog.Transition(serial) },
		Dispatch: func(guest *x86.Snapshot) error {
			res.Dispatched = true
			initErr = hv.Initialize(guest)
			bootlog.Running()
			return initErr
		},
		Halt: func(x86.CPU) { runtime.Goexit() },
	}
	table := &exitboot.Table{
		ExitBootServices: func(image, mapKey uintptr) exitboot.Status { return exitboot.Success },
	}
	if err := interceptor.Install(table); err != nil {
		return err
	}

	// The firmware call runs on its own goroutine so the halt can end it.
	done := make(chan exitboot.Status, 1)
	go func() {
		defer close(done)
		done <- table.ExitBootServices(0, 0)
	}()
	if st, returned := <-done; returned {
		res.Exited = st.String()
	} else {
		res.Exited = "halted"
	}

	if initErr != nil {
		res.Error = initErr.Error()
	} else if !res.Dispatched {
		res.Error = vmxboot.ErrNotSupported.Error()
	}
	for _, r := range hv.Results() {
		res.Processors = append(res.Processors, processorResult(r))
	}
	res.Metrics = vmxboot.GetMetrics()

	if err := printSimulation(res); err != nil {
		return err
	}
	if res.Error != "" {
		return fmt.Errorf("simulation of %q failed", profile.Name)
	}
	return nil
}

func processorResult(r vmxboot.Result) ProcessorResult {
	p := ProcessorResult{
		Processor: r.Processor,
		Active:    r.Err == nil && r.Writer >= 0,
		Revision:  r.State.Revision,
		VMXON:     r.State.VMXON.Phys,
		VMCS:      r.State.VMCS.Phys,
	}
	if r.Writer < 0 {
		p.Error = "did not report"
	} else if r.Err != nil {
		p.Error = r.Err.Error()
	}
	if rep := r.State.Report; rep != nil {
		p.FieldsWritten = len(rep.Written)
		for _, f := range rep.Failures {
			p.FieldFailures = append(p.FieldFailures, fmt.Sprintf("%s: %s", f.Field, f.Status))
		}
	}
	return p
}

func printSimulation(res SimulationResult) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Printf("profile: %s\n", res.Profile)
	fmt.Printf("exit: %s\n", res.Exited)
	for _, p := range res.Processors {
		if !p.Active {
			fmt.Printf("cpu%d: failed: %s\n", p.Processor, p.Error)
			continue
		}
		fmt.Printf("cpu%d: active revision=%#x vmxon=%#x vmcs=%#x fields=%d\n",
			p.Processor, p.Revision, p.VMXON, p.VMCS, p.FieldsWritten)
		for _, f := range p.FieldFailures {
			fmt.Printf("      %s\n", f)
		}
	}
	m := res.Metrics
	fmt.Printf("active %d of %d, vmxon failures %d, vmptrld failures %d, field failures %d\n",
		m.ProcessorsActive, m.ProcessorsStarted, m.VMXONFailures, m.VMPTRLDFailures, m.FieldFailures)
	if res.Error != "" {
		fmt.Printf("error: %s\n", res.Error)
	}
	return nil
}
