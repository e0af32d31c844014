package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climatecredit/credit-engine/internal/apperr"
	"github.com/climatecredit/credit-engine/internal/model"
)

var base = time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)

func newAssessment(id, mfi string, score int, rec model.RecommendationType, created time.Time) *model.Assessment {
	return &model.Assessment{
		ID:          id,
		MFIID:       mfi,
		LoanDetails: model.LoanDetails{Amount: decimal.RequireFromString("1500.50"), Purpose: "agriculture", CropType: "rice"},
		ClimateData: model.ClimateSnapshot{
			Source:  model.SourceFallback,
			Hazards: map[model.HazardType]float64{model.HazardFlood: 0.7},
		},
		Results:        model.Results{ClimateRiskScore: score},
		Recommendation: model.Recommendation{Type: rec, Label: string(rec)},
		Status:         model.StatusPending,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func repositories(t *testing.T) map[string]Repository {
	return map[string]Repository{
		"memory": NewMemory(),
		"sqlite": newTestSQLiteStore(t),
	}
}

func TestRepository_PutGet(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := newAssessment("assess_1", "mfi-a", 55, model.RecommendCaution, base)
			require.NoError(t, repo.Put(ctx, a))

			got, err := repo.Get(ctx, "assess_1")
			require.NoError(t, err)
			assert.Equal(t, "mfi-a", got.MFIID)
			assert.True(t, got.LoanDetails.Amount.Equal(decimal.RequireFromString("1500.50")))
			assert.InDelta(t, 0.7, got.ClimateData.Hazard(model.HazardFlood), 1e-9)
			assert.True(t, base.Equal(got.CreatedAt))

			// Stored values are isolated from the caller.
			got.Status = model.StatusApproved
			again, err := repo.Get(ctx, "assess_1")
			require.NoError(t, err)
			assert.Equal(t, model.StatusPending, again.Status)

			_, err = repo.Get(ctx, "missing")
			assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
		})
	}
}

func TestRepository_PutIsUpsert(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := newAssessment("assess_1", "mfi-a", 55, model.RecommendCaution, base)
			require.NoError(t, repo.Put(ctx, a))

			a.Status = model.StatusApproved
			a.Decision = &model.Decision{Action: model.StatusApproved, DecidedBy: "Rahim", DecidedAt: base.Add(time.Hour)}
			a.UpdatedAt = base.Add(time.Hour)
			require.NoError(t, repo.Put(ctx, a))

			got, err := repo.Get(ctx, "assess_1")
			require.NoError(t, err)
			assert.Equal(t, model.StatusApproved, got.Status)
			require.NotNil(t, got.Decision)
			assert.Equal(t, "Rahim", got.Decision.DecidedBy)

			list, err := repo.ListByOwner(ctx, "mfi-a")
			require.NoError(t, err)
			assert.Len(t, list, 1)
		})
	}
}

func TestRepository_ListAndFilter(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			fixtures := []*model.Assessment{
				newAssessment("a1", "mfi-a", 20, model.RecommendApprove, base),
				newAssessment("a2", "mfi-a", 55, model.RecommendCaution, base.Add(1*time.Minute)),
				newAssessment("a3", "mfi-a", 70, model.RecommendDefer, base.Add(2*time.Minute)),
				newAssessment("a4", "mfi-a", 60, model.RecommendCaution, base.Add(3*time.Minute)),
				newAssessment("b1", "mfi-b", 40, model.RecommendCaution, base.Add(4*time.Minute)),
			}
			fixtures[3].Status = model.StatusApproved
			for _, a := range fixtures {
				require.NoError(t, repo.Put(ctx, a))
			}

			list, err := repo.ListByOwner(ctx, "mfi-a")
			require.NoError(t, err)
			assert.Equal(t, []string{"a4", "a3", "a2", "a1"}, ids(list))

			empty, err := repo.ListByOwner(ctx, "mfi-z")
			require.NoError(t, err)
			assert.NotNil(t, empty)
			assert.Empty(t, empty)

			page, err := repo.Filter(ctx, "mfi-a", Filter{Recommendation: model.RecommendCaution})
			require.NoError(t, err)
			assert.Equal(t, []string{"a4", "a2"}, ids(page.Items))
			assert.Equal(t, 2, page.Total)

			page, err = repo.Filter(ctx, "mfi-a", Filter{Status: model.StatusPending, MinRisk: intPtr(50)})
			require.NoError(t, err)
			assert.Equal(t, []string{"a3", "a2"}, ids(page.Items))

			page, err = repo.Filter(ctx, "mfi-a", Filter{MaxRisk: intPtr(55)})
			require.NoError(t, err)
			assert.Equal(t, []string{"a2", "a1"}, ids(page.Items))

			page, err = repo.Filter(ctx, "mfi-a", Filter{Page: 2, Limit: 3})
			require.NoError(t, err)
			assert.Equal(t, []string{"a1"}, ids(page.Items))
			assert.Equal(t, 4, page.Total)
			assert.Equal(t, 2, page.Page)
			assert.Equal(t, 3, page.Limit)

			page, err = repo.Filter(ctx, "mfi-a", Filter{Page: 5, Limit: 3})
			require.NoError(t, err)
			assert.Empty(t, page.Items)
			assert.Equal(t, 4, page.Total)
		})
	}
}

func TestRepository_Update(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, repo.Put(ctx, newAssessment("assess_1", "mfi-a", 55, model.RecommendCaution, base)))

			got, err := repo.Update(ctx, "assess_1", func(a *model.Assessment) error {
				a.Status = model.StatusRejected
				a.UpdatedAt = base.Add(time.Hour)
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, model.StatusRejected, got.Status)

			stored, err := repo.Get(ctx, "assess_1")
			require.NoError(t, err)
			assert.Equal(t, model.StatusRejected, stored.Status)
			assert.True(t, base.Add(time.Hour).Equal(stored.UpdatedAt))

			// A failing fn leaves the record as it was.
			_, err = repo.Update(ctx, "assess_1", func(a *model.Assessment) error {
				a.Status = model.StatusApproved
				return apperr.New(apperr.DecisionConflict, "already rejected")
			})
			assert.Equal(t, apperr.DecisionConflict, apperr.KindOf(err))
			stored, err = repo.Get(ctx, "assess_1")
			require.NoError(t, err)
			assert.Equal(t, model.StatusRejected, stored.Status)

			_, err = repo.Update(ctx, "missing", func(*model.Assessment) error { return nil })
			assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
		})
	}
}

func TestRepository_ConcurrentUpdatesDoNotLoseWrites(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, repo.Put(ctx, newAssessment("assess_1", "mfi-a", 0, model.RecommendApprove, base)))

			var wg sync.WaitGroup
			for range 20 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := repo.Update(ctx, "assess_1", func(a *model.Assessment) error {
						a.Results.ClimateRiskScore++
						return nil
					})
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			got, err := repo.Get(ctx, "assess_1")
			require.NoError(t, err)
			assert.Equal(t, 20, got.Results.ClimateRiskScore)
		})
	}
}

func TestMemory_ConcurrentPut(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a := newAssessment(fmt.Sprintf("assess_%d", i%5), "mfi-a", i, model.RecommendCaution, base)
			assert.NoError(t, repo.Put(ctx, a))
			_, _ = repo.Get(ctx, a.ID)
		}(i)
	}
	wg.Wait()

	list, err := repo.ListByOwner(ctx, "mfi-a")
	require.NoError(t, err)
	assert.Len(t, list, 5)
}

func TestFilter_Normalize(t *testing.T) {
	f := Filter{}.Normalize()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, DefaultLimit, f.Limit)
	assert.Equal(t, 0, f.Offset())

	f = Filter{Page: 3, Limit: 1000}.Normalize()
	assert.Equal(t, MaxLimit, f.Limit)
	assert.Equal(t, 200, f.Offset())
}

func TestWhereClause(t *testing.T) {
	where, args := whereClause("mfi-a", Filter{
		Recommendation: model.RecommendDefer,
		MinRisk:        intPtr(10),
		MaxRisk:        intPtr(90),
	}, func(n int) string { return fmt.Sprintf("$%d", n) })
	assert.Equal(t, "mfi_id = $1 AND recommendation = $2 AND risk_score >= $3 AND risk_score <= $4", where)
	assert.Equal(t, []any{"mfi-a", "defer", 10, 90}, args)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	repo, err := Open(ctx, "", "")
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, repo)

	repo, err = Open(ctx, "SQLite", filepath.Join(t.TempDir(), "open.db"))
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, repo)
	require.NoError(t, repo.Close())

	_, err = Open(ctx, "postgres", "")
	assert.Error(t, err)

	_, err = Open(ctx, "mongo", "")
	assert.Error(t, err)
}

func ids(items []*model.Assessment) []string {
	out := make([]string, len(items))
	for i, a := range items {
		out[i] = a.ID
	}
	return out
}

func intPtr(v int) *int { return &v }
