package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/zatekoja/codelookup/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/codelookup/internal/infrastructure/observability"
	"github.com/zatekoja/codelookup/pkg/config"
	"github.com/zatekoja/codelookup/pkg/secrets"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dir string
	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the code catalog schema",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&dir, "dir", "", "migration source (default DB_MIGRATIONS_DIR)")

	root.AddCommand(
		newStepCmd("up", "Apply pending migrations", postgres.DirectionUp, &dir),
		newStepCmd("down", "Revert applied migrations", postgres.DirectionDown, &dir),
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				version, dirty, err := postgres.MigrationVersion(source(dir, cfg), cfg.Database.DatabaseURL())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
				return nil
			},
		},
	)
	return root
}

func newStepCmd(use, short string, direction postgres.Direction, dir *string) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps < 0 {
				return fmt.Errorf("--steps must not be negative")
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			src := source(*dir, cfg)
			if err := postgres.Migrate(src, cfg.Database.DatabaseURL(), direction, steps); err != nil {
				return err
			}
			log.Info().Str("direction", string(direction)).Int("steps", steps).Str("source", src).Msg("Migrations applied")
			return nil
		},
	}
	cmd.Flags().IntVarP(&steps, "steps", "n", 0, "number of migrations to apply (0 applies all)")
	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if _, err := secrets.ApplyVaultSecrets(cmd.Context(), secrets.LoadVaultConfigFromEnv()); err != nil {
		return nil, fmt.Errorf("failed to load secrets from Vault: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	observability.InitLogger("code-lookup-migrate", cfg.Env, cfg.LogLevel)
	return cfg, nil
}

func source(flag string, cfg *config.Config) string {
	if flag != "" {
		return flag
	}
	return cfg.Database.MigrationsDir
}
