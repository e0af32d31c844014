package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/climatecredit/credit-engine/internal/model"
)

// SQLiteStore implements Repository using modernc.org/sqlite. Writes are
// serialized in-process; a WAL reader cannot upgrade to a writer once
// another write has committed.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Timestamps are stored as unix nanoseconds so ordering is numeric.
const sqliteMigration = `
CREATE TABLE IF NOT EXISTS assessments (
	id             TEXT PRIMARY KEY,
	mfi_id         TEXT NOT NULL,
	status         TEXT NOT NULL,
	recommendation TEXT NOT NULL,
	risk_score     INTEGER NOT NULL,
	data           TEXT NOT NULL,
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_mfi_created ON assessments(mfi_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_assessments_status ON assessments(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Assessment, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM assessments WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get assessment %s", id)
	}
	return decodeAssessment([]byte(data))
}

func (s *SQLiteStore) Put(ctx context.Context, a *model.Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sqlitePut(ctx, s.db, a)
}

func (s *SQLiteStore) Update(ctx context.Context, id string, fn UpdateFunc) (*model.Assessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin update")
	}
	defer tx.Rollback() //nolint:errcheck

	var data string
	err = tx.QueryRowContext(ctx, `SELECT data FROM assessments WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load assessment %s", id)
	}
	a, err := decodeAssessment([]byte(data))
	if err != nil {
		return nil, err
	}
	if err := fn(a); err != nil {
		return nil, err
	}
	if err := sqlitePut(ctx, tx, a); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrapf(err, "sqlite: commit update %s", id)
	}
	return a, nil
}

func sqlitePut(ctx context.Context, ex sqlExecer, a *model.Assessment) error {
	data, err := json.Marshal(a)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal assessment")
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO assessments (id, mfi_id, status, recommendation, risk_score, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			mfi_id = excluded.mfi_id,
			status = excluded.status,
			recommendation = excluded.recommendation,
			risk_score = excluded.risk_score,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		a.ID, a.MFIID, string(a.Status), string(a.Recommendation.Type), a.Results.ClimateRiskScore,
		string(data), a.CreatedAt.UnixNano(), updatedAt(a).UnixNano(),
	)
	return eris.Wrapf(err, "sqlite: put assessment %s", a.ID)
}

func (s *SQLiteStore) ListByOwner(ctx context.Context, mfiID string) ([]*model.Assessment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM assessments WHERE mfi_id = ? ORDER BY created_at DESC, id DESC`, mfiID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list assessments")
	}
	return scanSQLRows(rows)
}

func (s *SQLiteStore) Filter(ctx context.Context, mfiID string, f Filter) (*Page, error) {
	f = f.Normalize()
	where, args := whereClause(mfiID, f, func(int) string { return "?" })

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM assessments WHERE `+where, args...).Scan(&total); err != nil {
		return nil, eris.Wrap(err, "sqlite: count assessments")
	}

	q := fmt.Sprintf(`SELECT data FROM assessments WHERE %s ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, where)
	rows, err := s.db.QueryContext(ctx, q, append(args, f.Limit, f.Offset())...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: filter assessments")
	}
	items, err := scanSQLRows(rows)
	if err != nil {
		return nil, err
	}
	return &Page{Items: items, Total: total, Page: f.Page, Limit: f.Limit}, nil
}

func scanSQLRows(rows *sql.Rows) ([]*model.Assessment, error) {
	defer rows.Close() //nolint:errcheck

	out := make([]*model.Assessment, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan assessment")
		}
		a, err := decodeAssessment([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate assessments")
}

func decodeAssessment(data []byte) (*model.Assessment, error) {
	var a model.Assessment
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, eris.Wrap(err, "store: decode assessment")
	}
	return &a, nil
}

func updatedAt(a *model.Assessment) time.Time {
	if a.UpdatedAt.IsZero() {
		return a.CreatedAt
	}
	return a.UpdatedAt
}
