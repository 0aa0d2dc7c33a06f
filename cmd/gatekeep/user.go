// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/auth/postgres"
)

type userCreateOptions struct {
	email      string
	name       string
	noPassword bool
}

func newUserCmd(state *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	opts := &userCreateOptions{}
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user account",
		Long: `Create a user account. The password is read from the first line of
standard input. With --no-password the account can only sign in after a
password reset.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUserCreate(cmd, state, opts)
		},
	}
	create.Flags().StringVar(&opts.email, "email", "", "email address (required)")
	create.Flags().StringVar(&opts.name, "name", "", "display name (required)")
	create.Flags().BoolVar(&opts.noPassword, "no-password", false, "create the account without a password")
	_ = create.MarkFlagRequired("email")
	_ = create.MarkFlagRequired("name")
	cmd.AddCommand(create)

	var unlockEmail string
	unlock := &cobra.Command{
		Use:   "unlock",
		Short: "Lift a login lockout",
		Long:  `Reset the failed login counter of an account and lift any active lockout.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			pool, err := openDatabase(ctx, state.Config, state.Logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			user, err := unlockUser(ctx, postgres.NewUserRepository(pool), unlockEmail)
			if err != nil {
				return err
			}
			cmd.Printf("Unlocked user %s <%s>\n", user.ID, user.Email)
			return nil
		},
	}
	unlock.Flags().StringVar(&unlockEmail, "email", "", "email address (required)")
	_ = unlock.MarkFlagRequired("email")
	cmd.AddCommand(unlock)

	return cmd
}

func runUserCreate(cmd *cobra.Command, state *cli, opts *userCreateOptions) error {
	ctx := cmd.Context()
	hasher, err := auth.NewArgon2idHasherWithParams(state.Config.ToAuthConfig().Argon2)
	if err != nil {
		return err
	}

	var hash *string
	if !opts.noPassword {
		password, err := readSecretLine(cmd.InOrStdin())
		if err != nil {
			return err
		}
		h, err := hasher.Hash(password)
		if err != nil {
			return err
		}
		hash = &h
	}

	user, err := auth.NewUser(opts.email, opts.name, hash)
	if err != nil {
		return err
	}

	pool, err := openDatabase(ctx, state.Config, state.Logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := createUser(ctx, postgres.NewUserRepository(pool), user); err != nil {
		return err
	}
	cmd.Printf("Created user %s <%s>\n", user.ID, user.Email)
	return nil
}

func createUser(ctx context.Context, users auth.UserRepository, user *auth.User) error {
	if err := users.Create(ctx, user); err != nil {
		return oops.With("operation", "create user").With("email", user.Email).Wrap(err)
	}
	return nil
}

func unlockUser(ctx context.Context, users auth.UserRepository, email string) (*auth.User, error) {
	user, err := users.GetByEmail(ctx, auth.NormalizeEmail(email))
	if err != nil {
		return nil, oops.With("operation", "find user").With("email", email).Wrap(err)
	}
	if err := users.UpdateCredential(ctx, user.ID, auth.CredentialUpdate{ResetFailures: true}); err != nil {
		return nil, oops.With("operation", "reset login failures").With("user_id", user.ID.String()).Wrap(err)
	}
	return user, nil
}

// readSecretLine returns the first line of r without its line ending.
func readSecretLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", oops.Code("CLI_INPUT_FAILED").Wrap(err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", auth.ErrEmptyPassword
	}
	return line, nil
}
