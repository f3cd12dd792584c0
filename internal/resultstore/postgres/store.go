package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/phonemix/internal/resultstore"
)

var _ resultstore.Store = (*Store)(nil)

// Store is a PostgreSQL result store. All operations are safe for concurrent
// use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, pings the server and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Get implements [resultstore.Store].
func (s *Store) Get(ctx context.Context, key resultstore.Key) (resultstore.Result, error) {
	const q = `
		SELECT candidates
		FROM   analysis_results
		WHERE  sentence = $1 AND seed = $2 AND sources = $3`

	var raw []byte
	err := s.pool.QueryRow(ctx, q, key.Sentence, key.Seed, key.Sources).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", resultstore.ErrNotFound, key.Sentence)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get result: %w", err)
	}

	var res resultstore.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("postgres store: decode candidates: %w", err)
	}
	return res, nil
}

// Put implements [resultstore.Store]. An existing row for the key is
// replaced.
func (s *Store) Put(ctx context.Context, key resultstore.Key, res resultstore.Result) error {
	if res == nil {
		res = resultstore.Result{}
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("postgres store: encode candidates: %w", err)
	}

	const q = `
		INSERT INTO analysis_results (sentence, seed, sources, candidates, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (sentence, seed, sources) DO UPDATE SET
		    candidates = EXCLUDED.candidates,
		    updated_at = now()`

	if _, err := s.pool.Exec(ctx, q, key.Sentence, key.Seed, key.Sources, raw); err != nil {
		return fmt.Errorf("postgres store: put result: %w", err)
	}
	return nil
}

// Ping checks connectivity. It is used as a readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}
