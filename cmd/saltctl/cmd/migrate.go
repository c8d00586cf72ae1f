package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"saltapi/internal/migrate"
	"saltapi/internal/store/pg"
)

var migrateDSN string

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd, migrateSeedCmd)
	migrateCmd.PersistentFlags().StringVar(&migrateDSN, "dsn", "", "Status database DSN (default: status_db.dsn)")
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the status database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd, func(ctx context.Context, m *migrate.Manager) error {
			return m.Up(ctx)
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the latest migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd, func(ctx context.Context, m *migrate.Manager) error {
			return m.Down(ctx)
		})
	},
}

var migrateSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert the subsystems and their initial status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd, func(ctx context.Context, m *migrate.Manager) error {
			return m.Seed(ctx)
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List applied migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd, func(ctx context.Context, m *migrate.Manager) error {
			applied, err := m.Status(ctx)
			if err != nil {
				return err
			}
			return formatOutput(cmd.OutOrStdout(), applied, func(w io.Writer) error {
				for _, a := range applied {
					if _, err := fmt.Fprintf(w, "%s\t%s\n", a.Version, a.AppliedAt.Format(time.RFC3339)); err != nil {
						return err
					}
				}
				return nil
			})
		})
	},
}

func withManager(cmd *cobra.Command, fn func(context.Context, *migrate.Manager) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dsn := migrateDSN
	if dsn == "" {
		dsn = cfg.StatusDB.DSN
	}
	if dsn == "" {
		return errors.New("missing DSN: provide via --dsn or SALTAPI_STATUS_DB_DSN")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	st, err := pg.Open(cfg.StatusDB.Driver, dsn)
	if err != nil {
		return fmt.Errorf("open status database: %w", err)
	}
	defer st.Close()

	mgr, err := migrate.NewEmbedded(st.DB())
	if err != nil {
		return err
	}
	if err := fn(ctx, mgr); err != nil {
		return fmt.Errorf("migrate %s: %w", cmd.Name(), err)
	}
	return nil
}
