// Package postgres provides a PostgreSQL-backed [resultstore.Store].
//
// Each analysis result is one row keyed by (sentence, seed, sources
// fingerprint); the candidates are kept as a JSONB array of arrays of
// phoneme references.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlAnalysisResults = `
CREATE TABLE IF NOT EXISTS analysis_results (
    sentence     TEXT         NOT NULL,
    seed         BIGINT       NOT NULL,
    sources      TEXT         NOT NULL,
    candidates   JSONB        NOT NULL DEFAULT '[]',
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (sentence, seed, sources)
);

CREATE INDEX IF NOT EXISTS idx_analysis_results_sources
    ON analysis_results (sources);
`

// Migrate creates the result table if needed. It is idempotent and safe to
// call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlAnalysisResults); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
