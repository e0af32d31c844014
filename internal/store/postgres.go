package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/climatecredit/credit-engine/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore implements Repository using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS assessments (
	id             TEXT PRIMARY KEY,
	mfi_id         TEXT NOT NULL,
	status         TEXT NOT NULL,
	recommendation TEXT NOT NULL,
	risk_score     INTEGER NOT NULL,
	data           JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_mfi_created ON assessments(mfi_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_assessments_status ON assessments(status);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*model.Assessment, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM assessments WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get assessment %s", id)
	}
	return decodeAssessment(data)
}

func (s *PostgresStore) Put(ctx context.Context, a *model.Assessment) error {
	return pgPut(ctx, s.pool, a)
}

// Update locks the row with SELECT ... FOR UPDATE for the duration of fn.
func (s *PostgresStore) Update(ctx context.Context, id string, fn UpdateFunc) (*model.Assessment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin update")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var data []byte
	err = tx.QueryRow(ctx, `SELECT data FROM assessments WHERE id = $1 FOR UPDATE`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load assessment %s", id)
	}
	a, err := decodeAssessment(data)
	if err != nil {
		return nil, err
	}
	if err := fn(a); err != nil {
		return nil, err
	}
	if err := pgPut(ctx, tx, a); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrapf(err, "postgres: commit update %s", id)
	}
	return a, nil
}

func pgPut(ctx context.Context, ex pgExecer, a *model.Assessment) error {
	data, err := json.Marshal(a)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal assessment")
	}

	_, err = ex.Exec(ctx, `
		INSERT INTO assessments (id, mfi_id, status, recommendation, risk_score, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			mfi_id = EXCLUDED.mfi_id,
			status = EXCLUDED.status,
			recommendation = EXCLUDED.recommendation,
			risk_score = EXCLUDED.risk_score,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at`,
		a.ID, a.MFIID, string(a.Status), string(a.Recommendation.Type), a.Results.ClimateRiskScore,
		data, a.CreatedAt, updatedAt(a),
	)
	return eris.Wrapf(err, "postgres: put assessment %s", a.ID)
}

func (s *PostgresStore) ListByOwner(ctx context.Context, mfiID string) ([]*model.Assessment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM assessments WHERE mfi_id = $1 ORDER BY created_at DESC, id DESC`, mfiID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list assessments")
	}
	return scanPgRows(rows)
}

func (s *PostgresStore) Filter(ctx context.Context, mfiID string, f Filter) (*Page, error) {
	f = f.Normalize()
	where, args := whereClause(mfiID, f, func(n int) string { return fmt.Sprintf("$%d", n) })

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM assessments WHERE `+where, args...).Scan(&total); err != nil {
		return nil, eris.Wrap(err, "postgres: count assessments")
	}

	q := fmt.Sprintf(`SELECT data FROM assessments WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2)
	rows, err := s.pool.Query(ctx, q, append(args, f.Limit, f.Offset())...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: filter assessments")
	}
	items, err := scanPgRows(rows)
	if err != nil {
		return nil, err
	}
	return &Page{Items: items, Total: total, Page: f.Page, Limit: f.Limit}, nil
}

func scanPgRows(rows pgx.Rows) ([]*model.Assessment, error) {
	defer rows.Close()

	out := make([]*model.Assessment, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan assessment")
		}
		a, err := decodeAssessment(data)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate assessments")
}
