package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ramiqadoumi/agentq/internal/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the result archive schema in PostgreSQL",
	Long: `Connect to PostgreSQL and apply the result archive migrations.

Reads the DSN from --postgres-dsn flag, POSTGRES_DSN env var, or config file.
Migrations are idempotent and safe to re-run.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	dsn := viper.GetString("postgres_dsn")
	if dsn == "" {
		return fmt.Errorf("postgres_dsn is not set")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	out := cmd.OutOrStdout()
	err = postgres.Migrate(ctx, pool, func(name string) {
		fmt.Fprintf(out, "applied %s\n", name)
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "migrations complete")
	return nil
}
