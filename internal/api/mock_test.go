package api

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

type stubStatus struct {
	providers []string
	states    map[string]string
}

func (s stubStatus) Providers() []string              { return s.providers }
func (s stubStatus) BreakerStates() map[string]string { return s.states }
