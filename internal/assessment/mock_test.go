package assessment

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/climatecredit/credit-engine/internal/gateway"
	"github.com/climatecredit/credit-engine/internal/model"
)

type mockAssistant struct {
	mock.Mock
}

func (m *mockAssistant) Extract(ctx context.Context, transcript string) gateway.Result[*model.ExtractionResult] {
	args := m.Called(ctx, transcript)
	return args.Get(0).(gateway.Result[*model.ExtractionResult])
}

func (m *mockAssistant) Analyze(ctx context.Context, a *model.Assessment, sc gateway.SupplementalContext) gateway.Result[*model.AIAnalysis] {
	args := m.Called(ctx, a, sc)
	return args.Get(0).(gateway.Result[*model.AIAnalysis])
}

type mockClimate struct {
	mock.Mock
}

func (m *mockClimate) Fetch(ctx context.Context, lat, lng float64) (*model.ClimateSnapshot, error) {
	args := m.Called(ctx, lat, lng)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ClimateSnapshot), args.Error(1)
}
