// Package store persists assessments behind the Repository interface.
package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/climatecredit/credit-engine/internal/apperr"
	"github.com/climatecredit/credit-engine/internal/model"
)

// Supported drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Paging defaults.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Filter narrows an MFI's assessments. Zero values match everything.
type Filter struct {
	Recommendation model.RecommendationType `json:"recommendation,omitempty"`
	Status         model.Status             `json:"status,omitempty"`
	MinRisk        *int                     `json:"min_risk,omitempty"`
	MaxRisk        *int                     `json:"max_risk,omitempty"`
	Page           int                      `json:"page,omitempty"`
	Limit          int                      `json:"limit,omitempty"`
}

// Normalize applies paging defaults: page starts at 1 and limit is
// clamped to [1, MaxLimit].
func (f Filter) Normalize() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultLimit
	case f.Limit > MaxLimit:
		f.Limit = MaxLimit
	}
	return f
}

// Offset returns the number of rows skipped before the page.
func (f Filter) Offset() int {
	f = f.Normalize()
	return (f.Page - 1) * f.Limit
}

// Matches reports whether a passes the non-paging criteria.
func (f Filter) Matches(a *model.Assessment) bool {
	if f.Recommendation != "" && a.Recommendation.Type != f.Recommendation {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.MinRisk != nil && a.Results.ClimateRiskScore < *f.MinRisk {
		return false
	}
	if f.MaxRisk != nil && a.Results.ClimateRiskScore > *f.MaxRisk {
		return false
	}
	return true
}

// Page is one page of filtered assessments with the unpaged total.
type Page struct {
	Items []*model.Assessment `json:"assessments"`
	Total int                 `json:"total"`
	Page  int                 `json:"page"`
	Limit int                 `json:"limit"`
}

// UpdateFunc mutates a freshly loaded assessment. A non-nil error aborts
// the write and is returned from Update unchanged.
type UpdateFunc func(a *model.Assessment) error

// Repository is the persistence boundary for assessments. Put is an
// upsert; concurrent Puts to one id are last-write-wins. Update is a
// read-modify-write that never interleaves with another Update of the same
// store. Lists are newest first.
type Repository interface {
	Get(ctx context.Context, id string) (*model.Assessment, error)
	Put(ctx context.Context, a *model.Assessment) error
	Update(ctx context.Context, id string, fn UpdateFunc) (*model.Assessment, error)
	ListByOwner(ctx context.Context, mfiID string) ([]*model.Assessment, error)
	Filter(ctx context.Context, mfiID string, f Filter) (*Page, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open returns a migrated repository for driver.
func Open(ctx context.Context, driver, dsn string) (Repository, error) {
	var (
		repo Repository
		err  error
	)
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverMemory:
		repo = NewMemory()
	case DriverSQLite:
		if dsn == "" {
			dsn = "credit-engine.db"
		}
		repo, err = NewSQLite(dsn)
	case DriverPostgres:
		if dsn == "" {
			return nil, eris.New("store: postgres requires store.database_url")
		}
		repo, err = NewPostgres(ctx, dsn, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := repo.Migrate(ctx); err != nil {
		_ = repo.Close()
		return nil, err
	}
	return repo, nil
}

func notFound(id string) error {
	return apperr.Newf(apperr.NotFound, "assessment %s not found", id)
}

// whereClause renders the filter predicates for SQL backends. ph returns
// the placeholder for the n-th argument (1-based).
func whereClause(mfiID string, f Filter, ph func(n int) string) (string, []any) {
	conds := []string{"mfi_id = " + ph(1)}
	args := []any{mfiID}
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, cond+" "+ph(len(args)))
	}
	if f.Recommendation != "" {
		add("recommendation =", string(f.Recommendation))
	}
	if f.Status != "" {
		add("status =", string(f.Status))
	}
	if f.MinRisk != nil {
		add("risk_score >=", *f.MinRisk)
	}
	if f.MaxRisk != nil {
		add("risk_score <=", *f.MaxRisk)
	}
	return strings.Join(conds, " AND "), args
}
