package gateway

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/climatecredit/credit-engine/internal/apperr"
	"github.com/climatecredit/credit-engine/internal/model"
)

// MinTranscriptLength is the shortest trimmed transcript worth extracting.
const MinTranscriptLength = 20

// Extraction field bounds.
const (
	minClientAge  = 18
	maxClientAge  = 100
	maxLoanAmount = 10_000_000
	maxLoanTerm   = 120
)

const extractionSystem = `You extract structured loan application data from conversations between a microfinance loan officer and a client. Respond with a single valid JSON object and nothing else.`

const extractionSchema = `Extract the fields below from the conversation transcript.

For every field also report a confidence level:
- "high": stated explicitly
- "medium": implied, or you are reasonably sure
- "low": guessed or not mentioned

Respond with JSON of exactly this shape:
{
  "data": {
    "clientName": string | null,
    "clientAge": number | null,
    "projectType": "agriculture" | "livestock" | "retail" | "manufacturing" | "services" | "housing" | "fishing" | "transport" | null,
    "cropType": string | null,
    "loanAmount": number | null,
    "loanPurpose": string | null,
    "loanTerm": number | null,
    "loanType": "working-capital" | "equipment-purchase" | "land-acquisition" | "crop-inputs" | "livestock-purchase" | "construction" | null,
    "existingLoans": number | null,
    "repaymentHistory": number | null,
    "monthlyIncome": number | null,
    "collateralType": "land-title" | "savings-deposit" | "equipment" | "livestock" | "group-guarantee" | "none" | null,
    "businessExperience": number | null,
    "landOwnership": "owned" | "leased-long" | "leased-short" | "sharecropping" | null,
    "irrigationAccess": "full" | "partial" | "rain-fed" | null,
    "insuranceStatus": "crop-and-health" | "crop-only" | "health-only" | "none" | null
  },
  "confidence": { "<field>": "high" | "medium" | "low", ... one entry per field above },
  "summary": "one or two sentences on what was discussed"
}

Use null with confidence "low" for anything unclear or not mentioned.
Convert currency amounts to plain numbers ("5000 dollars" becomes 5000).
Loan term is in months. Repayment history is a percentage from 0 to 100 ("always paid on time" is about 95).

CONVERSATION TRANSCRIPT:
`

// ExtractionPrompt returns the user prompt for transcript.
func ExtractionPrompt(transcript string) string {
	return extractionSchema + strings.TrimSpace(transcript)
}

// Extract converts a conversation transcript into structured loan fields.
// Unparseable completions count as MalformedResponse and fall through to
// the next provider.
func (g *Gateway) Extract(ctx context.Context, transcript string) Result[*model.ExtractionResult] {
	if !g.Configured() {
		return failed[*model.ExtractionResult](apperr.NotConfigured, notConfiguredMessage, nil)
	}
	if len(strings.TrimSpace(transcript)) < MinTranscriptLength {
		return failed[*model.ExtractionResult](apperr.InvalidInput,
			"transcript too short; provide more of the conversation", nil)
	}

	req := Request{
		System:      extractionSystem,
		Prompt:      ExtractionPrompt(transcript),
		MaxTokens:   1024,
		Temperature: 0.1,
		JSON:        true,
	}
	return AttemptInOrder(ctx, g.chain, CapabilityExtraction, func(ctx context.Context, p Provider) (*model.ExtractionResult, error) {
		comp, err := p.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		record(g.costs, g.metrics, comp, CapabilityExtraction)

		res, err := ParseExtraction(comp.Text)
		if err != nil {
			return nil, err
		}
		res.Provider = p.Name()
		return res, nil
	})
}

type extractionPayload struct {
	Data       map[string]any    `json:"data"`
	Confidence map[string]string `json:"confidence"`
	Summary    string            `json:"summary"`
}

// ParseExtraction decodes a completion into a validated ExtractionResult.
func ParseExtraction(text string) (*model.ExtractionResult, error) {
	obj, ok := FirstJSONObject(text)
	if !ok {
		return nil, apperr.New(apperr.MalformedResponse, "completion contains no JSON object")
	}

	var payload extractionPayload
	if err := json.Unmarshal([]byte(obj), &payload); err != nil {
		return nil, apperr.Wrap(err, apperr.MalformedResponse, "completion JSON does not match the extraction schema")
	}
	if payload.Data == nil {
		return nil, apperr.New(apperr.MalformedResponse, "completion JSON has no data object")
	}

	fields := make(map[string]any, len(model.ExtractionFields))
	for _, name := range model.ExtractionFields {
		fields[name] = payload.Data[name]
	}
	issues := validateFields(fields)

	confidence := make(map[string]model.Confidence, len(payload.Confidence))
	for name, level := range payload.Confidence {
		confidence[name] = parseConfidence(level)
	}

	extracted := 0
	for _, name := range model.ExtractionFields {
		if fields[name] != nil {
			extracted++
		}
	}

	return &model.ExtractionResult{
		Fields:     fields,
		Confidence: confidence,
		Summary:    strings.TrimSpace(payload.Summary),
		Quality:    quality(confidence, extracted),
		Issues:     issues,
	}, nil
}

func parseConfidence(s string) model.Confidence {
	switch model.Confidence(strings.ToLower(strings.TrimSpace(s))) {
	case model.ConfidenceHigh:
		return model.ConfidenceHigh
	case model.ConfidenceMedium:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

// validateFields nulls an implausible age, clamps repayment history and
// reports out-of-range amounts and terms. fields is modified in place.
func validateFields(fields map[string]any) []string {
	var issues []string

	if age, ok := number(fields[model.FieldClientAge]); ok {
		if age < minClientAge || age > maxClientAge {
			issues = append(issues, "client age is outside 18-100 and was discarded")
			fields[model.FieldClientAge] = nil
		}
	}
	if amount, ok := number(fields[model.FieldLoanAmount]); ok {
		if amount <= 0 || amount > maxLoanAmount {
			issues = append(issues, "loan amount looks invalid")
		}
	}
	if history, ok := number(fields[model.FieldRepaymentHistory]); ok {
		fields[model.FieldRepaymentHistory] = math.Max(0, math.Min(100, history))
	}
	if term, ok := number(fields[model.FieldLoanTerm]); ok {
		if term <= 0 || term > maxLoanTerm {
			issues = append(issues, "loan term looks invalid")
		}
	}
	return issues
}

// quality scores high as 1 and medium as 0.6 over the number of confidence
// entries.
func quality(confidence map[string]model.Confidence, extracted int) model.Quality {
	var high, medium int
	for _, c := range confidence {
		switch c {
		case model.ConfidenceHigh:
			high++
		case model.ConfidenceMedium:
			medium++
		}
	}
	total := len(confidence)
	if total == 0 {
		total = 1
	}

	raw := (float64(high) + 0.6*float64(medium)) / float64(total)
	level := model.ConfidenceLow
	switch {
	case raw > 0.7:
		level = model.ConfidenceHigh
	case raw > 0.4:
		level = model.ConfidenceMedium
	}
	return model.Quality{
		Score:           math.Round(raw*100) / 100,
		Level:           level,
		FieldsExtracted: extracted,
		TotalFields:     total,
	}
}

// number reads a JSON number, or a numeric string, as float64.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(n, ",", "")), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
