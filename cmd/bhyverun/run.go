//  SPDX-FileCopyrightText: 2024-2025 OOMOL, Inc. <https://www.oomol.com>
//  SPDX-License-Identifier: MPL-2.0

package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"bhyverun/cmd/registry"
	"bhyverun/pkg/supervisor"
	"bhyverun/pkg/vmspec"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
)

var runOpts struct {
	config      string
	target      string
	dryRun      bool
	printConfig bool
	noReboot    bool
	rebootCount int
	rebootOn    []int
	bhyve       string
	translate   string
	runtimeDir  string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Resolve a VM description and supervise the hypervisor",
	RunE:  runVM,
}

func init() {
	flags := runCmd.Flags()
	flags.StringVarP(&runOpts.config, "config", "c", "", "path to the VM description (required)")
	flags.StringVarP(&runOpts.target, "target", "t", "", "boot target to resolve for the first launch")
	flags.BoolVar(&runOpts.dryRun, "dry-run", false, "print the generated command line instead of launching")
	flags.BoolVar(&runOpts.printConfig, "print-config", false, "print the resolved configuration instead of launching")
	flags.BoolVar(&runOpts.noReboot, "no-reboot", false, "terminate on guest reboot instead of relaunching")
	flags.IntVar(&runOpts.rebootCount, "reboot-count", 0, "maximum reboots to follow, 0 for unlimited")
	flags.IntSliceVar(&runOpts.rebootOn, "reboot-on", nil, "exit codes treated as guest reboots")
	flags.StringVar(&runOpts.bhyve, "bhyve", "", "hypervisor executable, overrides BHYVE_EXEC")
	flags.StringVar(&runOpts.translate, "translate", "", "filter the description through this command before decoding")
	flags.StringVar(&runOpts.runtimeDir, "runtime-dir", "", "directory for per-VM runtime state")

	_ = runCmd.MarkFlagRequired("config")

	registry.Commands = append(registry.Commands, registry.CliCommand{Command: runCmd})
}

// loadSpec reads the description, optionally piping it through an external
// translator that emits the native JSON format on stdout.
func loadSpec(ctx context.Context) (*vmspec.VMSpec, error) {
	if runOpts.translate == "" {
		return vmspec.Load(runOpts.config)
	}

	raw, err := os.ReadFile(runOpts.config)
	if err != nil {
		return nil, err
	}

	parts := strings.Fields(runOpts.translate)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Stdin = bytes.NewReader(raw)
	cmd.Stderr = os.Stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("translator %q: %w", runOpts.translate, err)
	}
	return vmspec.Decode(bytes.NewReader(out))
}

func runVM(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	spec, err := loadSpec(ctx)
	if err != nil {
		return err
	}

	sup := supervisor.New(spec, supervisor.Options{
		Target:     runOpts.target,
		DryRun:     runOpts.dryRun || runOpts.printConfig,
		NoReboot:   runOpts.noReboot,
		MaxReboots: runOpts.rebootCount,
		RebootOn:   runOpts.rebootOn,
		Binary:     runOpts.bhyve,
		RuntimeDir: runOpts.runtimeDir,
	})

	outcome, err := sup.Run(ctx)
	if err != nil {
		return err
	}

	if runOpts.printConfig {
		pretty := jsoniter.ConfigCompatibleWithStandardLibrary
		encoded, err := pretty.MarshalIndent(sup.ResolvedConfig(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
		return nil
	}
	if runOpts.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(sup.CommandLine(), " "))
		return nil
	}

	if outcome.Classification == vmspec.Crash {
		registry.SetExitCode(outcome.RawExitCode)
	}
	return nil
}
