package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/facebench/internal/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoResult is returned when a (clip, model) pair has never been persisted.
var ErrNoResult = fmt.Errorf("%w: result not found", types.ErrPersistence)

// ResultStore persists detector output per (clip, model).
type ResultStore interface {
	SaveResult(ctx context.Context, clip, model string, r types.ClipResult) error
	LoadResult(ctx context.Context, clip, model string) (types.ClipResult, error)
	HasResult(ctx context.Context, clip, model string) (bool, error)
	Reset(ctx context.Context) error
	Close(ctx context.Context)
}

var (
	_ ResultStore = (*FileStore)(nil)
	_ ResultStore = (*Store)(nil)
)

// Store manages the PostgreSQL connections for clip results and run timings.
// It is safe for concurrent use; parallel adapters share one Store.
type Store struct {
	pool *pgxpool.Pool
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// initSchema creates the result and timing tables if they don't exist.
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS clip_results (
			clip TEXT NOT NULL,
			model TEXT NOT NULL,
			frames INT NOT NULL,
			payload BYTEA NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (clip, model)
		);
		CREATE TABLE IF NOT EXISTS detector_runs (
			id BIGSERIAL PRIMARY KEY,
			clip TEXT NOT NULL,
			model TEXT NOT NULL,
			seconds DOUBLE PRECISION NOT NULL,
			finished_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS detector_runs_clip_idx ON detector_runs (clip);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

// Close terminates every pooled connection.
func (s *Store) Close(ctx context.Context) {
	s.pool.Close()
}

// SaveResult stores the encoded result. A re-run of the same (clip, model) replaces the row.
func (s *Store) SaveResult(ctx context.Context, clip, model string, r types.ClipResult) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO clip_results (clip, model, frames, payload, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (clip, model) DO UPDATE SET frames = EXCLUDED.frames, payload = EXCLUDED.payload, created_at = NOW()
	`, clip, model, r.Frames(), Encode(r))
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrPersistence, err)
	}
	return nil
}

// LoadResult fetches and decodes a stored result.
func (s *Store) LoadResult(ctx context.Context, clip, model string) (types.ClipResult, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, "SELECT payload FROM clip_results WHERE clip = $1 AND model = $2", clip, model).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.ClipResult{}, fmt.Errorf("%w: no %s result for clip %s", ErrNoResult, model, clip)
	}
	if err != nil {
		return types.ClipResult{}, fmt.Errorf("%w: %v", types.ErrPersistence, err)
	}
	return Decode(payload)
}

// HasResult reports whether a result row exists.
func (s *Store) HasResult(ctx context.Context, clip, model string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM clip_results WHERE clip = $1 AND model = $2)", clip, model).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: %v", types.ErrPersistence, err)
	}
	return exists, nil
}

// InsertRun records how long one detector took on one clip.
func (s *Store) InsertRun(ctx context.Context, clip, model string, took time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO detector_runs (clip, model, seconds)
		VALUES ($1, $2, $3)
	`, clip, model, took.Seconds())
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrPersistence, err)
	}
	return nil
}

// RunStat is the aggregated timing for one model.
type RunStat struct {
	Model   string
	Runs    int
	Seconds float64
}

// RunStats summarizes detector_runs per model, ordered by model.
func (s *Store) RunStats(ctx context.Context) ([]RunStat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT model, COUNT(*), COALESCE(SUM(seconds), 0)
		FROM detector_runs
		GROUP BY model
		ORDER BY model
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []RunStat
	for rows.Next() {
		var st RunStat
		if err := rows.Scan(&st.Model, &st.Runs, &st.Seconds); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// Reset drops all application tables to clear the database state.
// The next New call recreates them.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DROP TABLE IF EXISTS clip_results CASCADE;
		DROP TABLE IF EXISTS detector_runs CASCADE;
	`)
	return err
}
