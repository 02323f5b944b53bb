/*
Copyright © 2025 Your Name

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package handlers

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"octopus/internal/persistence"
)

// NewMigrateCmd creates the migrate command for database migrations
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long: `Manage database schema migrations.

Subcommands:
  up       Apply all pending migrations
  status   Show migration status
  rollback Revert the last applied migration

Applied migrations are tracked in the schema_migrations table.

Examples:
  octopus migrate up
  octopus migrate status
  octopus migrate rollback --force`,
	}

	cmd.AddCommand(newMigrateUpCmd())
	cmd.AddCommand(newMigrateStatusCmd())
	cmd.AddCommand(newMigrateRollbackCmd())

	return cmd
}

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *persistence.MigrationManager) error {
				if err := m.Migrate(cmd.Context()); err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Println("✅ All migrations applied successfully")
				return nil
			})
		},
	}
}

func newMigrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *persistence.MigrationManager) error {
				return runMigrateStatus(cmd.Context(), m, os.Stdout)
			})
		},
	}
}

func newMigrateRollbackCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Revert the last applied migration",
		Long: `Revert the last applied migration by running its down section and
removing its schema_migrations record. Data in dropped tables is lost.

Use --force to skip the confirmation prompt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				ok, err := confirm(os.Stdin, os.Stdout, "Revert the last migration? Data may be lost. (yes/no): ")
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println("Rollback cancelled")
					return nil
				}
			}
			return withMigrator(func(m *persistence.MigrationManager) error {
				if err := m.Rollback(cmd.Context()); err != nil {
					return fmt.Errorf("rollback failed: %w", err)
				}
				fmt.Println("✅ Last migration reverted")
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip confirmation prompt")

	return cmd
}

func withMigrator(fn func(m *persistence.MigrationManager) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(persistence.NewMigrationManager(a.db))
}

func runMigrateStatus(ctx context.Context, m *persistence.MigrationManager, out io.Writer) error {
	status, err := m.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	if len(status) == 0 {
		fmt.Fprintln(out, "No migrations found")
		return nil
	}

	fmt.Fprintf(out, "%-10s %-10s %s\n", "Version", "Status", "Description")
	pending := 0
	for _, s := range status {
		state := "applied"
		if !s.Applied {
			state = "pending"
			pending++
		}
		fmt.Fprintf(out, "%-10d %-10s %s\n", s.Version, state, s.Description)
	}

	fmt.Fprintf(out, "\nApplied: %d | Pending: %d | Total: %d\n", len(status)-pending, pending, len(status))
	if pending > 0 {
		fmt.Fprintln(out, "Run 'octopus migrate up' to apply pending migrations")
	}
	return nil
}

// confirm asks a yes/no question; only "yes" or "y" confirms
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprint(out, question)
	response, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read response: %w", err)
	}
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "yes" || response == "y", nil
}
