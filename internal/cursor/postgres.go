package cursor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps one named cursor row in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
	name string
}

func NewPostgresStore(ctx context.Context, databaseURL, name string) (*PostgresStore, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "default"
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, name: name}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS relay_cursors (
			name TEXT PRIMARY KEY,
			last_id BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (State, bool, error) {
	var st State
	err := s.pool.QueryRow(ctx,
		`SELECT last_id, updated_at FROM relay_cursors WHERE name=$1`,
		s.name,
	).Scan(&st.ID, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return State{}, false, nil
		}
		return State{}, false, &PersistenceError{Backend: "postgres", Op: "load", Err: err}
	}
	st.UpdatedAt = st.UpdatedAt.UTC()
	return st, true, nil
}

func (s *PostgresStore) Save(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO relay_cursors (name, last_id, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (name) DO UPDATE SET last_id = EXCLUDED.last_id, updated_at = EXCLUDED.updated_at`,
		s.name,
		id,
	)
	if err != nil {
		return &PersistenceError{Backend: "postgres", Op: "save", Err: err}
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
