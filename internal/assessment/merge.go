package assessment

import (
	"fmt"

	"github.com/climatecredit/credit-engine/internal/model"
	"github.com/climatecredit/credit-engine/internal/policy"
)

// MergeExtraction copies non-null extracted values into draft. Fields the
// operator entered are never overwritten. The loan purpose is taken from
// projectType when the policy recognizes it, else from a recognizable
// free-text loanPurpose; an unrecognized purpose is not merged.
func MergeExtraction(draft *model.ApplicationDraft, res *model.ExtractionResult, pol *policy.Policy) {
	if draft == nil || res == nil {
		return
	}
	if draft.Fields == nil {
		draft.Fields = make(map[string]model.DraftField)
	}

	for _, name := range model.ExtractionFields {
		if name == model.FieldLoanPurpose {
			continue
		}
		if v := res.Fields[name]; v != nil {
			setExtracted(draft, name, v, confidenceOf(res, name))
		}
	}

	if pol == nil {
		return
	}
	for _, name := range []string{model.FieldProjectType, model.FieldLoanPurpose} {
		s, ok := res.Fields[name].(string)
		if !ok {
			continue
		}
		purpose, err := pol.NormalizePurpose(s)
		if err != nil {
			continue
		}
		setExtracted(draft, model.FieldLoanPurpose, purpose, confidenceOf(res, name))
		return
	}
}

func setExtracted(draft *model.ApplicationDraft, name string, v any, c model.Confidence) {
	if cur, ok := draft.Fields[name]; ok && cur.Source == model.SourceOperator && cur.Value != nil {
		return
	}
	draft.Fields[name] = model.DraftField{Value: v, Source: model.SourceExtracted, Confidence: c}
}

func confidenceOf(res *model.ExtractionResult, name string) model.Confidence {
	if c, ok := res.Confidence[name]; ok {
		return c
	}
	return model.ConfidenceLow
}

func cloneDraft(d *model.ApplicationDraft) *model.ApplicationDraft {
	out := model.NewApplicationDraft()
	if d == nil {
		return out
	}
	for k, v := range d.Fields {
		out.Fields[k] = v
	}
	return out
}

// DraftString returns the draft value for name formatted as text.
func DraftString(d *model.ApplicationDraft, name string) string {
	v, ok := d.Value(name)
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
