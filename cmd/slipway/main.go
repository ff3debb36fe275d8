// SPDX-License-Identifier: GPL-3.0-or-later

// Command slipway is the reference CLI: it wires a DirLoader, the
// engine, and the configured host capabilities together to validate and
// run Rig documents from the filesystem.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "slipway",
		Short: "Evaluates Rig documents against a directory of components.",
	}

	var cfgFile string
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./slipway.yaml)")

	root.AddCommand(newRunCommand(&cfgFile))
	root.AddCommand(newValidateCommand(&cfgFile))
	root.AddCommand(newVersionCommand())

	if err := root.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}
