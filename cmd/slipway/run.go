// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/slipwayhq/slipway/internal/store"
)

func newRunCommand(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <rig.json>",
		Short: "Evaluates a Rig document and prints every node's final state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRig(cmd, *cfgFile, args[0])
		},
	}
	return cmd
}

func runRig(cmd *cobra.Command, cfgFile, rigPath string) error {
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
	eng, err := s.engine(loader)
	if err != nil {
		return err
	}

	rigJSON, err := os.ReadFile(rigPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", rigPath, err)
	}

	states, err := eng.Evaluate(ctx, rigJSON, s.cfg.Permissions.Set(), nil, nil)
	if err != nil {
		return err
	}

	failed := false
	for handle, st := range states {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", handle, st.Status())
		if st.Status() == store.StatusFailed {
			failed = true
			fmt.Fprintf(cmd.ErrOrStderr(), "  error: %v\n", st.Err())
		}
	}
	if failed {
		return errExitCode(exitCodeComponentError)
	}
	return nil
}
