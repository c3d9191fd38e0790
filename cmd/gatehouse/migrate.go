// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"os"
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatehouse/gatehouse/internal/config"
	"github.com/gatehouse/gatehouse/internal/session/postgres"
)

// newMigrateCmd creates the migrate subcommand and its up/down/version
// children.
func newMigrateCmd() *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the session table schema",
		Long: `Apply or roll back schema migrations for the PostgreSQL
session store. The database URL comes from --database-url, the config
file, or the DATABASE_URL environment variable, in that order.`,
	}
	cmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL")

	newMigrator := func() (*postgres.Migrator, error) {
		dbURL, err := resolveDatabaseURL(databaseURL)
		if err != nil {
			return nil, err
		}
		return postgres.NewMigrator(dbURL)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := newMigrator()
			if err != nil {
				return err
			}
			defer m.Close() //nolint:errcheck

			if err := m.Up(); err != nil {
				return err
			}
			cmd.Println("Migrations applied")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := newMigrator()
			if err != nil {
				return err
			}
			defer m.Close() //nolint:errcheck

			if err := m.Down(); err != nil {
				return err
			}
			cmd.Println("Migration rolled back")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "steps <n>",
		Short: "Migrate n versions forward (or backward, if negative)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return oops.Code("CONFIG_INVALID").
					With("steps", args[0]).
					Wrapf(err, "steps must be an integer")
			}

			m, err := newMigrator()
			if err != nil {
				return err
			}
			defer m.Close() //nolint:errcheck

			if err := m.Steps(n); err != nil {
				return err
			}
			cmd.Printf("Migrated %d step(s)\n", n)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the current schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := newMigrator()
			if err != nil {
				return err
			}
			defer m.Close() //nolint:errcheck

			v, dirty, err := m.Version()
			if err != nil {
				return err
			}
			if dirty {
				cmd.Printf("Schema version: %d (dirty)\n", v)
			} else {
				cmd.Printf("Schema version: %d\n", v)
			}
			return nil
		},
	})

	return cmd
}

// resolveDatabaseURL picks the database URL from the flag, the config
// file, or the environment.
func resolveDatabaseURL(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if configFile != "" {
		cfg, err := config.Load(configFile, nil)
		if err != nil {
			return "", err
		}
		if cfg.Session.DatabaseURL != "" {
			return cfg.Session.DatabaseURL, nil
		}
	}
	if env := os.Getenv("DATABASE_URL"); env != "" {
		return env, nil
	}
	return "", oops.Code("CONFIG_INVALID").
		Errorf("no database URL: set --database-url, session.database_url, or DATABASE_URL")
}
