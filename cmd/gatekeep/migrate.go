// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatekeep/gatekeep/internal/store"
)

// migrator is the part of *store.Migrator the commands use.
type migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Status() (*store.MigrationStatus, error)
	Close() error
}

// newMigrator is replaced in tests.
var newMigrator = func(databaseURL string) (migrator, error) {
	m, err := store.NewMigrator(databaseURL)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func newMigrateCmd(state *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long:  `Apply, roll back or inspect the embedded PostgreSQL schema migrations.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(state, func(m migrator) error {
				if err := m.Up(); err != nil {
					return err
				}
				cmd.Println("Migrations applied")
				return nil
			})
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Long:  `Roll back the given number of migrations, or all of them with --all.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			all, _ := cmd.Flags().GetBool("all") //nolint:errcheck // flag registered below
			if !all && steps < 1 {
				return oops.Code("MIGRATION_INVALID_ARGS").Errorf("pass --steps N or --all")
			}
			return withMigrator(state, func(m migrator) error {
				var err error
				if all {
					err = m.Down()
				} else {
					err = m.Steps(-steps)
				}
				if err != nil {
					return err
				}
				cmd.Println("Migrations rolled back")
				return nil
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 0, "number of migrations to roll back")
	down.Flags().Bool("all", false, "roll back every migration")
	cmd.AddCommand(down)

	var jsonOut bool
	status := &cobra.Command{
		Use:   "status",
		Short: "Show the schema version and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(state, func(m migrator) error {
				st, err := m.Status()
				if err != nil {
					return err
				}
				out, err := formatMigrationStatus(st, jsonOut)
				if err != nil {
					return err
				}
				cmd.Print(out)
				return nil
			})
		},
	}
	status.Flags().BoolVar(&jsonOut, "json", false, "output status as JSON")
	cmd.AddCommand(status)

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Record VERSION as applied and clear the dirty flag",
		Long: `Force sets the recorded schema version without running any migration.
Use it only to recover from a failed migration after fixing the schema by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return oops.Code("MIGRATION_INVALID_ARGS").With("version", args[0]).Wrap(err)
			}
			return withMigrator(state, func(m migrator) error {
				if err := m.Force(v); err != nil {
					return err
				}
				cmd.Printf("Schema version forced to %d\n", v)
				return nil
			})
		},
	})

	return cmd
}

func withMigrator(state *cli, fn func(m migrator) error) error {
	if err := state.Config.RequireDatabase(); err != nil {
		return err
	}
	m, err := newMigrator(state.Config.Database.URL)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			state.Logger.Warn("closing migrator failed", "operation", "close_migrator", "error", err)
		}
	}()
	return fn(m)
}

func migrateUp(databaseURL string) error {
	m, err := newMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()
	return m.Up()
}

func formatMigrationStatus(st *store.MigrationStatus, asJSON bool) (string, error) {
	if asJSON {
		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return "", oops.Code("MIGRATION_STATUS_FAILED").Wrap(err)
		}
		return string(data) + "\n", nil
	}

	out := fmt.Sprintf("Version: %d", st.Version)
	if st.Dirty {
		out += " (dirty)"
	}
	out += "\n"
	for _, v := range st.Applied {
		name, _ := store.MigrationName(v) //nolint:errcheck // name is cosmetic
		out += fmt.Sprintf("  applied  %s\n", orVersion(name, v))
	}
	for _, v := range st.Pending {
		name, _ := store.MigrationName(v) //nolint:errcheck // name is cosmetic
		out += fmt.Sprintf("  pending  %s\n", orVersion(name, v))
	}
	return out, nil
}

func orVersion(name string, v uint) string {
	if name == "" {
		return fmt.Sprintf("%06d", v)
	}
	return name
}
