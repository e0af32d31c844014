// Package assessment orchestrates the climate fetcher, risk engine, AI
// gateway and repository into the loan assessment lifecycle.
package assessment

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/climatecredit/credit-engine/internal/apperr"
	"github.com/climatecredit/credit-engine/internal/climate"
	"github.com/climatecredit/credit-engine/internal/gateway"
	"github.com/climatecredit/credit-engine/internal/metrics"
	"github.com/climatecredit/credit-engine/internal/model"
	"github.com/climatecredit/credit-engine/internal/risk"
	"github.com/climatecredit/credit-engine/internal/store"
)

// IDPrefix starts every assessment id.
const IDPrefix = "assess_"

// ClimateSource produces the snapshot an assessment is scored against.
type ClimateSource interface {
	Fetch(ctx context.Context, lat, lng float64) (*model.ClimateSnapshot, error)
}

// Assistant is the AI capability surface the service depends on.
type Assistant interface {
	Extract(ctx context.Context, transcript string) gateway.Result[*model.ExtractionResult]
	Analyze(ctx context.Context, a *model.Assessment, sc gateway.SupplementalContext) gateway.Result[*model.AIAnalysis]
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics counts created assessments and recorded decisions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock injects the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator replaces the uuid-based id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// Service runs the assessment operations. It holds no per-request state.
type Service struct {
	repo    store.Repository
	climate ClimateSource
	engine  *risk.Engine
	ai      Assistant
	metrics *metrics.Metrics
	now     func() time.Time
	newID   func() string
}

// New creates a Service. ai may be nil, in which case extraction and
// analysis fail with NotConfigured.
func New(repo store.Repository, cs ClimateSource, engine *risk.Engine, ai Assistant, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		climate: cs,
		engine:  engine,
		ai:      ai,
		now:     time.Now,
		newID:   func() string { return IDPrefix + uuid.NewString() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Engine returns the risk engine assessments are scored with.
func (s *Service) Engine() *risk.Engine { return s.engine }

// Create validates the request, scores it and stores a pending assessment.
// Location and purpose are checked before any network call.
func (s *Service) Create(ctx context.Context, officer model.Officer, loc model.LocationInput, loan model.LoanInput, client model.ClientInput) (*model.Assessment, error) {
	if err := requireOfficer(officer); err != nil {
		return nil, err
	}
	if err := climate.ValidateLocation(loc.Latitude, loc.Longitude); err != nil {
		return nil, err
	}
	purpose, err := s.engine.Policy().NormalizePurpose(loan.Purpose)
	if err != nil {
		return nil, err
	}
	if err := validateLoan(loan, client); err != nil {
		return nil, err
	}

	log := zap.L().With(
		zap.String("mfi_id", officer.MFIID),
		zap.String("purpose", purpose),
		zap.Float64("latitude", loc.Latitude),
		zap.Float64("longitude", loc.Longitude),
	)

	snap, err := s.climate.Fetch(ctx, loc.Latitude, loc.Longitude)
	if err != nil {
		return nil, eris.Wrap(err, "assessment: fetch climate")
	}

	crop := strings.TrimSpace(loan.CropType)
	result, err := s.engine.Score(snap, purpose, crop)
	if err != nil {
		return nil, eris.Wrap(err, "assessment: score")
	}

	existing := 0
	if client.ExistingLoans != nil {
		existing = max(*client.ExistingLoans, 0)
	}
	prob := s.engine.Estimate(result.Score, risk.Borrower{
		Age:              client.Age,
		ExistingLoans:    existing,
		RepaymentHistory: client.RepaymentHistory,
	})
	rec := s.engine.Recommend(result, prob, purpose, crop)

	now := s.now().UTC()
	a := &model.Assessment{
		ID:              s.newID(),
		MFIID:           officer.MFIID,
		MFIName:         officer.MFIName,
		LoanOfficerID:   officer.OfficerID,
		LoanOfficerName: officer.OfficerName,
		Location: model.AssessmentLocation{
			Latitude:  loc.Latitude,
			Longitude: loc.Longitude,
			Name:      firstNonEmpty(loc.Name, snap.Location.Region),
			Country:   snap.Location.Country,
		},
		LoanDetails: model.LoanDetails{
			Amount:     loan.Amount,
			Purpose:    purpose,
			CropType:   crop,
			TermMonths: loan.TermMonths,
		},
		ClientInfo: model.ClientInfo{
			Name:             strings.TrimSpace(client.Name),
			Age:              client.Age,
			ExistingLoans:    existing,
			RepaymentHistory: client.RepaymentHistory,
		},
		ClimateData: *snap,
		Results: model.Results{
			ClimateRiskScore:   result.Score,
			RiskFactors:        result.Factors,
			SeasonalMultiplier: result.SeasonalMultiplier,
			ActiveSeasons:      result.ActiveSeasons,
			WeightTable:        result.WeightTable,
			DefaultProbability: prob,
		},
		Recommendation: rec,
		Status:         model.StatusPending,
		PolicyVersion:  s.engine.Policy().Version,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.Put(ctx, a); err != nil {
		return nil, eris.Wrap(err, "assessment: save")
	}
	s.metrics.AssessmentCreated(string(rec.Type))
	log.Info("assessment: created",
		zap.String("id", a.ID),
		zap.Int("risk_score", result.Score),
		zap.String("recommendation", string(rec.Type)),
		zap.String("climate_source", string(snap.Source)),
	)
	return a, nil
}

// Get returns assessment id if the officer's MFI owns it.
func (s *Service) Get(ctx context.Context, officer model.Officer, id string) (*model.Assessment, error) {
	if err := requireOfficer(officer); err != nil {
		return nil, err
	}
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(officer, a); err != nil {
		return nil, err
	}
	return a, nil
}

// List returns one page of mfiID's assessments, newest first.
func (s *Service) List(ctx context.Context, officer model.Officer, mfiID string, f store.Filter) (*store.Page, error) {
	if err := checkMFI(officer, mfiID); err != nil {
		return nil, err
	}
	page, err := s.repo.Filter(ctx, mfiID, f)
	if err != nil {
		return nil, eris.Wrap(err, "assessment: list")
	}
	return page, nil
}

// RecordDecision moves a pending assessment to the officer's decision.
// Repeating the recorded decision overwrites its notes and timestamp; a
// different decision on a decided assessment is a DecisionConflict. The
// status check and the write happen in one repository update.
func (s *Service) RecordDecision(ctx context.Context, officer model.Officer, id, decision, notes string) (*model.Assessment, error) {
	status, ok := model.ParseDecision(decision)
	if !ok {
		return nil, apperr.Newf(apperr.InvalidInput, "decision %q must be approved, rejected or deferred", decision)
	}
	if err := requireOfficer(officer); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	a, err := s.repo.Update(ctx, id, func(a *model.Assessment) error {
		if err := checkOwner(officer, a); err != nil {
			return err
		}
		if a.Status.Terminal() && a.Status != status {
			return apperr.Newf(apperr.DecisionConflict, "assessment %s is already %s", id, a.Status)
		}
		a.Status = status
		a.Decision = &model.Decision{
			Action:      status,
			Notes:       strings.TrimSpace(notes),
			DecidedBy:   officer.OfficerName,
			DecidedByID: officer.OfficerID,
			DecidedAt:   now,
		}
		a.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "assessment: save decision")
	}

	s.metrics.DecisionRecorded(string(status))
	zap.L().Info("assessment: decision recorded",
		zap.String("id", id),
		zap.String("decision", string(status)),
		zap.String("officer_id", officer.OfficerID),
	)
	return a, nil
}

// Analyze attaches AI underwriting rationale to assessment id. Lookup and
// access failures are returned as the error; an AI failure is reported in
// the result and leaves the stored assessment untouched. Only the analysis
// and UpdatedAt are written back, onto the record as it is when the
// provider returns.
func (s *Service) Analyze(ctx context.Context, officer model.Officer, id string, sc gateway.SupplementalContext) (gateway.Result[*model.AIAnalysis], error) {
	var none gateway.Result[*model.AIAnalysis]

	a, err := s.Get(ctx, officer, id)
	if err != nil {
		return none, err
	}
	if s.ai == nil {
		return gateway.Result[*model.AIAnalysis]{Failure: notConfigured()}, nil
	}

	res := s.ai.Analyze(ctx, a, sc)
	if !res.OK() {
		zap.L().Warn("assessment: analysis failed",
			zap.String("id", id),
			zap.String("reason", string(res.Failure.Reason)),
		)
		return res, nil
	}

	analysis := *res.Value
	analysis.GeneratedBy = firstNonEmpty(officer.OfficerName, officer.OfficerID)
	_, err = s.repo.Update(ctx, id, func(cur *model.Assessment) error {
		if err := checkOwner(officer, cur); err != nil {
			return err
		}
		cur.AIAnalysis = &analysis
		cur.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return none, eris.Wrap(err, "assessment: save analysis")
	}
	res.Value = &analysis
	return res, nil
}

// ExtractFromTranscript runs extraction and merges the outcome into a copy
// of draft. On failure the returned draft equals the input.
func (s *Service) ExtractFromTranscript(ctx context.Context, transcript string, draft *model.ApplicationDraft) (gateway.Result[*model.ExtractionResult], *model.ApplicationDraft) {
	merged := cloneDraft(draft)
	if s.ai == nil {
		return gateway.Result[*model.ExtractionResult]{Failure: notConfigured()}, merged
	}

	res := s.ai.Extract(ctx, transcript)
	if !res.OK() {
		return res, merged
	}
	MergeExtraction(merged, res.Value, s.engine.Policy())
	return res, merged
}

func notConfigured() *gateway.Failure {
	return &gateway.Failure{
		Reason:  apperr.NotConfigured,
		Message: "no AI provider configured; set an Anthropic or Groq API key",
	}
}

func requireOfficer(o model.Officer) error {
	if strings.TrimSpace(o.MFIID) == "" {
		return apperr.New(apperr.InvalidInput, "mfi id is required")
	}
	return nil
}

func checkMFI(o model.Officer, mfiID string) error {
	if err := requireOfficer(o); err != nil {
		return err
	}
	if o.MFIID != mfiID {
		return apperr.New(apperr.AccessDenied, "officer does not belong to this MFI")
	}
	return nil
}

func checkOwner(o model.Officer, a *model.Assessment) error {
	if a.MFIID != o.MFIID {
		return apperr.Newf(apperr.AccessDenied, "assessment %s belongs to another MFI", a.ID)
	}
	return nil
}

func validateLoan(loan model.LoanInput, client model.ClientInput) error {
	if !loan.Amount.IsPositive() {
		return apperr.New(apperr.InvalidInput, "loan amount must be greater than 0")
	}
	if loan.TermMonths != nil && *loan.TermMonths <= 0 {
		return apperr.New(apperr.InvalidInput, "loan term must be a positive number of months")
	}
	if client.Age != nil && *client.Age <= 0 {
		return apperr.New(apperr.InvalidInput, "client age must be positive")
	}
	if h := client.RepaymentHistory; h != nil && (*h < 0 || *h > 100) {
		return apperr.New(apperr.InvalidInput, "repayment history must be between 0 and 100")
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
