// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/auth/postgres"
)

func newOtpCmd(state *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "otp",
		Short: "Maintain one-time tokens",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Delete expired one-time tokens",
		Long: `Delete every expired email verification and password reset token.
Expired tokens are already rejected; pruning only reclaims space.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			pool, err := openDatabase(ctx, state.Config, state.Logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			n, err := pruneOtps(ctx, postgres.NewOtpTokenRepository(pool), state)
			if err != nil {
				return err
			}
			cmd.Printf("Deleted %d expired tokens\n", n)
			return nil
		},
	})

	return cmd
}

func pruneOtps(ctx context.Context, repo auth.OtpTokenRepository, state *cli) (int64, error) {
	otps, err := auth.NewOtpTokenStore(repo, state.Config.Auth.InvalidatePriorOtps, auth.WithOtpLogger(state.Logger))
	if err != nil {
		return 0, err
	}
	return otps.PruneExpired(ctx)
}
