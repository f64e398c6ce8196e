package migrations

import (
	"context"
	"fmt"
	"strings"

	"token-risk-lab/internal/storage/postgres"
)

// RunPostgresMigrations applies every embedded postgres file and returns the
// names applied. Files are idempotent (CREATE ... IF NOT EXISTS), so there is
// no version table; pgx runs a multi-statement file as one simple query.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) ([]string, error) {
	files, err := sqlFiles(PostgresFS, "postgres")
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, m := range files {
		if strings.TrimSpace(m.sql) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, m.sql); err != nil {
			return applied, fmt.Errorf("apply migration %s: %w", m.name, err)
		}
		applied = append(applied, m.name)
	}
	return applied, nil
}
