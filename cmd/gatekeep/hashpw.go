// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/gatekeep/gatekeep/internal/auth"
)

func newHashPasswordCmd(state *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password read from standard input",
		Long: `Read a password from the first line of standard input and print its
argon2id hash using the configured cost parameters.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hasher, err := auth.NewArgon2idHasherWithParams(state.Config.ToAuthConfig().Argon2)
			if err != nil {
				return err
			}
			password, err := readSecretLine(cmd.InOrStdin())
			if err != nil {
				return err
			}
			hash, err := hasher.Hash(password)
			if err != nil {
				return err
			}
			cmd.Println(hash)
			return nil
		},
	}
}
