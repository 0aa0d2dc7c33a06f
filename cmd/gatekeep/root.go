// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/gatekeep/gatekeep/internal/config"
	"github.com/gatekeep/gatekeep/internal/logging"
	"github.com/gatekeep/gatekeep/internal/xdg"
)

// cli holds state shared by every subcommand. Config and Logger are set
// by the root PersistentPreRunE.
type cli struct {
	configFile string
	envFiles   []string

	Config *config.Config
	Logger *slog.Logger
}

// NewRootCmd creates the root command for the gatekeep CLI.
func NewRootCmd() *cobra.Command {
	state := &cli{}

	cmd := &cobra.Command{
		Use:   "gatekeep",
		Short: "Gatekeep - credential and session lifecycle service",
		Long: `Gatekeep authenticates users with email and password, keeps their
sessions alive with short-lived access tokens and a single refresh token,
and runs email verification and password reset with one-time tokens.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return state.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&state.configFile, "config", "", "YAML config file path (default: $XDG_CONFIG_HOME/gatekeep/config.yaml if present)")
	cmd.PersistentFlags().StringSliceVar(&state.envFiles, "env-file", nil, "load environment variables from these files first")
	config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(newServeCmd(state))
	cmd.AddCommand(newMigrateCmd(state))
	cmd.AddCommand(newUserCmd(state))
	cmd.AddCommand(newHashPasswordCmd(state))
	cmd.AddCommand(newOtpCmd(state))
	cmd.AddCommand(newConfigCmd(state))
	cmd.AddCommand(newStatusCmd(state))

	return cmd
}

func (c *cli) load(cmd *cobra.Command) error {
	file := c.configFile
	if file == "" {
		found, err := xdg.FindConfigFile()
		if err != nil {
			return err
		}
		file = found
	}

	cfg, err := config.Load(config.Options{
		File:     file,
		EnvFiles: c.envFiles,
		Flags:    cmd.Flags(),
	})
	if err != nil {
		return err
	}
	c.Config = cfg
	c.Logger = logging.SetDefault(logging.Options{
		Service: "gatekeep",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	}, cmd.ErrOrStderr())
	return nil
}
