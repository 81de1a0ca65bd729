//  SPDX-FileCopyrightText: 2024-2025 OOMOL, Inc. <https://www.oomol.com>
//  SPDX-License-Identifier: MPL-2.0

// Package registry collects the CLI commands so each command file can hook
// itself up from its init function.
package registry

import (
	"github.com/spf13/cobra"
)

// CliCommand pairs a command with its parent; a nil parent attaches to the
// root.
type CliCommand struct {
	Command *cobra.Command
	Parent  *cobra.Command
}

var (
	exitCode = 0

	// Commands holds every registered subcommand.
	Commands []CliCommand
)

func SetExitCode(code int) {
	exitCode = code
}

func GetExitCode() int {
	return exitCode
}
