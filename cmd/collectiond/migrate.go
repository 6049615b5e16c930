package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/collectiond/internal/config"
	"github.com/fyrsmithlabs/collectiond/internal/database/migrations"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long: `Apply, revert or inspect the collectiond database schema.

Examples:
  collectiond migrate up
  collectiond migrate status
  collectiond migrate down --yes`,
	}

	var yes bool
	down := &cobra.Command{
		Use:   "down",
		Short: "Revert every migration (drops all collection data)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to drop the schema without --yes")
			}
			return withDatabase(cmd, opts, func(m migrator) error {
				if err := m.down(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema reverted")
				return nil
			})
		},
	}
	down.Flags().BoolVar(&yes, "yes", false, "confirm dropping the schema")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(cmd, opts, func(m migrator) error {
					if err := m.up(); err != nil {
						return err
					}
					v, err := m.status()
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", v)
					return nil
				})
			},
		},
		down,
		&cobra.Command{
			Use:   "status",
			Short: "Show the applied schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(cmd, opts, func(m migrator) error {
					v, err := m.status()
					if errors.Is(err, migrations.ErrNeedsMigration) {
						fmt.Fprintf(cmd.OutOrStdout(), "schema needs migration: %v\n", err)
						return nil
					}
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "schema current at version %d\n", v)
					return nil
				})
			},
		},
	)
	return cmd
}

type migrator struct {
	up     func() error
	down   func() error
	status func() (uint, error)
}

func withDatabase(cmd *cobra.Command, opts *rootOptions, fn func(migrator) error) error {
	cfg, err := config.LoadWithFile(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := openDatabase(cmd.Context(), cfg.Database, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(migrator{
		up:     func() error { return migrations.Up(db) },
		down:   func() error { return migrations.Down(db) },
		status: func() (uint, error) { return migrations.Status(db) },
	})
}
