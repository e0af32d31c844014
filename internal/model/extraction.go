package model

// Confidence is a categorical trust level for an extracted field.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Extraction schema field names.
const (
	FieldClientName         = "clientName"
	FieldClientAge          = "clientAge"
	FieldProjectType        = "projectType"
	FieldCropType           = "cropType"
	FieldLoanAmount         = "loanAmount"
	FieldLoanPurpose        = "loanPurpose"
	FieldLoanTerm           = "loanTerm"
	FieldLoanType           = "loanType"
	FieldExistingLoans      = "existingLoans"
	FieldRepaymentHistory   = "repaymentHistory"
	FieldMonthlyIncome      = "monthlyIncome"
	FieldCollateralType     = "collateralType"
	FieldBusinessExperience = "businessExperience"
	FieldLandOwnership      = "landOwnership"
	FieldIrrigationAccess   = "irrigationAccess"
	FieldInsuranceStatus    = "insuranceStatus"
)

// ExtractionFields lists the schema fields in prompt order.
var ExtractionFields = []string{
	FieldClientName,
	FieldClientAge,
	FieldProjectType,
	FieldCropType,
	FieldLoanAmount,
	FieldLoanPurpose,
	FieldLoanTerm,
	FieldLoanType,
	FieldExistingLoans,
	FieldRepaymentHistory,
	FieldMonthlyIncome,
	FieldCollateralType,
	FieldBusinessExperience,
	FieldLandOwnership,
	FieldIrrigationAccess,
	FieldInsuranceStatus,
}

// Quality summarizes how much the extracted fields can be trusted.
type Quality struct {
	Score           float64    `json:"score"`
	Level           Confidence `json:"level"`
	FieldsExtracted int        `json:"fields_extracted"`
	TotalFields     int        `json:"total_fields"`
}

// ExtractionResult is the structured output of transcript extraction.
// Fields hold nil for values the provider could not determine.
type ExtractionResult struct {
	Provider   string                `json:"provider"`
	Fields     map[string]any        `json:"extracted"`
	Confidence map[string]Confidence `json:"confidence"`
	Summary    string                `json:"summary"`
	Quality    Quality               `json:"quality"`
	Issues     []string              `json:"issues,omitempty"`
}

// FieldSource records who supplied a draft field.
type FieldSource string

const (
	SourceOperator  FieldSource = "operator"
	SourceExtracted FieldSource = "extracted"
)

// DraftField is one field of an in-progress application.
type DraftField struct {
	Value      any         `json:"value"`
	Source     FieldSource `json:"source"`
	Confidence Confidence  `json:"confidence,omitempty"`
}

// ApplicationDraft is an operator's in-progress application form.
type ApplicationDraft struct {
	Fields map[string]DraftField `json:"fields"`
}

// NewApplicationDraft returns an empty draft.
func NewApplicationDraft() *ApplicationDraft {
	return &ApplicationDraft{Fields: make(map[string]DraftField)}
}

// SetOperator records a value typed by the operator.
func (d *ApplicationDraft) SetOperator(name string, value any) {
	if d.Fields == nil {
		d.Fields = make(map[string]DraftField)
	}
	d.Fields[name] = DraftField{Value: value, Source: SourceOperator, Confidence: ConfidenceHigh}
}

// Value returns the draft value for name and whether it is present.
func (d *ApplicationDraft) Value(name string) (any, bool) {
	if d == nil || d.Fields == nil {
		return nil, false
	}
	f, ok := d.Fields[name]
	if !ok || f.Value == nil {
		return nil, false
	}
	return f.Value, true
}
