//  SPDX-FileCopyrightText: 2024-2025 OOMOL, Inc. <https://www.oomol.com>
//  SPDX-License-Identifier: MPL-2.0

package supervisor

import (
	"errors"
	"os"

	"bhyverun/pkg/vmspec"
)

// DefaultRebootStatus is the exit status the hypervisor uses to report a
// guest-initiated reset. Status 0 always means the guest powered off.
const DefaultRebootStatus = 1

// ErrNoExitStatus is returned when the child's exit status could not be
// obtained, e.g. after termination by signal.
var ErrNoExitStatus = errors.New("could not obtain hypervisor exit status")

// SpawnError reports a failure to start the hypervisor process at all.
type SpawnError struct {
	Cause error
}

func (e *SpawnError) Error() string {
	return "failed to spawn hypervisor: " + e.Cause.Error()
}

func (e *SpawnError) Unwrap() error { return e.Cause }

// RunOutcome is the classification of one hypervisor exit.
type RunOutcome struct {
	// RawExitCode is the observed exit status, -1 when none was available.
	RawExitCode int

	Classification vmspec.Classification
}

// Classify buckets a process exit by the fixed status contract: a code in
// rebootOn is a guest-initiated reboot, 0 is a power-off, any other code is
// a crash, and an unobtainable status (signal termination) is unknown.
func Classify(state *os.ProcessState, rebootOn []int) RunOutcome {
	if state == nil || !state.Exited() {
		return RunOutcome{RawExitCode: -1, Classification: vmspec.Unknown}
	}
	code := state.ExitCode()
	for _, r := range rebootOn {
		if code == r {
			return RunOutcome{RawExitCode: code, Classification: vmspec.Reboot}
		}
	}
	if code == 0 {
		return RunOutcome{RawExitCode: 0, Classification: vmspec.PowerOff}
	}
	return RunOutcome{RawExitCode: code, Classification: vmspec.Crash}
}
