package main

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx драйвер для database/sql
	"github.com/spf13/cobra"

	"github.com/akriventsev/ordering/framework/migrations"
	"github.com/akriventsev/ordering/internal/config"
	ordermigrations "github.com/akriventsev/ordering/internal/ordering/infrastructure/migrations"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	databaseURL string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "ordering-migrate",
		Short:         "Ordering Migration Tool",
		Long:          "Applies the embedded PostgreSQL schema of the ordering service with goose.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file")
	root.PersistentFlags().StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection string (overrides storage.postgres.dsn)")

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(opts, func(m *migrations.Migrator) error {
					if err := m.Up(cmd.Context()); err != nil {
						return err
					}
					cmd.Println("Migrations applied successfully")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down [N]",
			Short: "Rollback N migrations (default: 1)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				steps, err := parseSteps(args)
				if err != nil {
					return err
				}
				return withMigrator(opts, func(m *migrations.Migrator) error {
					if err := m.DownBy(cmd.Context(), steps); err != nil {
						return err
					}
					cmd.Printf("Rolled back %d migration(s)\n", steps)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show status of all migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(opts, func(m *migrations.Migrator) error {
					statuses, err := m.Status(cmd.Context())
					if err != nil {
						return err
					}
					cmd.Println("Migration Status:")
					for _, s := range statuses {
						line := fmt.Sprintf("  [%s] %d - %s", s.Status, s.Version, s.Name)
						if s.AppliedAt != nil {
							line += fmt.Sprintf(" (applied at %s)", s.AppliedAt.Format("2006-01-02 15:04:05"))
						}
						cmd.Println(line)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show current migration version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(opts, func(m *migrations.Migrator) error {
					v, err := m.Version(cmd.Context())
					if err != nil {
						return err
					}
					cmd.Printf("Current version: %d\n", v)
					return nil
				})
			},
		},
		newCreateCmd(),
	)
	return root
}

func newCreateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new SQL migration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrations.Create(dir, args[0])
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "internal/ordering/infrastructure/migrations/sql", "directory for new migration files")
	return cmd
}

func parseSteps(args []string) (int64, error) {
	if len(args) == 0 {
		return 1, nil
	}
	n, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid number of steps: %s", args[0])
	}
	return n, nil
}

func withMigrator(opts *options, fn func(m *migrations.Migrator) error) error {
	dsn := opts.databaseURL
	if dsn == "" {
		cfg, err := config.Load(opts.configPath)
		if err != nil {
			return err
		}
		dsn = cfg.Storage.Postgres.DSN
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	m, err := migrations.NewMigrator(db, ordermigrations.FS, ordermigrations.Dir, "postgres", nil)
	if err != nil {
		return err
	}
	return fn(m)
}
