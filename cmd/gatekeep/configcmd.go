// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatekeep/gatekeep/internal/config"
)

func newConfigCmd(state *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := config.RenderYAML(state.Config.Redacted())
			if err != nil {
				return err
			}
			cmd.Print(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate FILE",
		Short: "Check a YAML config file against the schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return oops.Code("CONFIG_FILE_READ").With("file", args[0]).Wrap(err)
			}
			if err := config.ValidateYAML(data); err != nil {
				return err
			}
			cmd.Printf("%s is valid\n", args[0])
			return nil
		},
	})

	return cmd
}
