package main

import (
	"errors"

	"github.com/spf13/cobra"

	"token-risk-lab/internal/storage/migrations"
	pgstore "token-risk-lab/internal/storage/postgres"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply embedded postgres and clickhouse migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if cfg.Storage.PostgresDSN == "" && cfg.Storage.ClickHouseDSN == "" {
				return errors.New("no postgresDSN or clickhouseDSN configured, nothing to migrate")
			}

			if cfg.Storage.PostgresDSN != "" {
				pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN, postgresPoolOptions(cfg.Storage))
				if err != nil {
					return err
				}
				defer pool.Close()

				applied, err := migrations.RunPostgresMigrations(ctx, pool)
				if err != nil {
					return err
				}
				log.Info().Strs("files", applied).Msg("postgres migrations applied")
			}

			if cfg.Storage.ClickHouseDSN != "" {
				conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickHouseDSN)
				if err != nil {
					return err
				}
				defer conn.Close()
				log.Info().Msg("clickhouse migrations applied")
			}
			return nil
		},
	}
}
