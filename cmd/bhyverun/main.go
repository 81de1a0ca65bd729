//  SPDX-FileCopyrightText: 2024-2025 OOMOL, Inc. <https://www.oomol.com>
//  SPDX-License-Identifier: MPL-2.0

package main

import (
	"os"

	"bhyverun/cmd/registry"
	"bhyverun/pkg/log"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:          "bhyverun",
	Short:        "Run and supervise a bhyve virtual machine",
	Long:         "bhyverun resolves a declarative VM description into a bhyve command line, supervises the hypervisor across guest reboots, and reclaims leftover resources between runs.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return log.Setup(logLevel)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

func main() {
	for _, c := range registry.Commands {
		parent := c.Parent
		if parent == nil {
			parent = rootCmd
		}
		parent.AddCommand(c.Command)
	}

	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err.Error())
		registry.SetExitCode(1)
	}
	os.Exit(registry.GetExitCode())
}
