// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/slipwayhq/slipway/internal/rig"
)

func newValidateCommand(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <rig.json>",
		Short: "Validates a Rig document against its components without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateRig(cmd, *cfgFile, args[0])
		},
	}
	return cmd
}

func validateRig(cmd *cobra.Command, cfgFile, rigPath string) error {
	ctx := cmd.Context()

	s, err := loadSetup(ctx, cfgFile)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	loader, err := s.loader()
	if err != nil {
		return err
	}

	rigJSON, err := os.ReadFile(rigPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", rigPath, err)
	}

	v, err := rig.Validate(ctx, rigJSON, loader)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "invalid: %v\n", err)
		return errExitCode(exitCodeValidationError)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "valid: %d node(s)\n", len(v.Graph.Nodes))
	return nil
}
