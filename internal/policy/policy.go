// Package policy holds the versioned business policy for climate-risk
// scoring: hazard weight tables, seasonal multipliers, default-probability
// parameters, recommendation thresholds and the mitigation product catalog.
package policy

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/climatecredit/credit-engine/internal/apperr"
	"github.com/climatecredit/credit-engine/internal/model"
)

// weightEpsilon is the tolerance for weight tables summing to 1.
const weightEpsilon = 1e-6

// WeightTable maps each hazard to its weight in a score.
type WeightTable map[model.HazardType]float64

// Sum returns the total weight.
func (w WeightTable) Sum() float64 {
	var s float64
	for _, h := range model.Hazards {
		s += w[h]
	}
	return s
}

// PurposePolicy holds the purpose-level table and optional crop tables.
type PurposePolicy struct {
	Weights WeightTable            `yaml:"weights"`
	Crops   map[string]WeightTable `yaml:"crops,omitempty"`
}

// Season raises a hazard's contribution during its active months within a
// latitude band [LatMin, LatMax).
type Season struct {
	Name       string           `yaml:"name"`
	Hazard     model.HazardType `yaml:"hazard"`
	LatMin     float64          `yaml:"lat_min"`
	LatMax     float64          `yaml:"lat_max"`
	Months     []int            `yaml:"months"`
	Multiplier float64          `yaml:"multiplier"`
}

// Covers reports whether the season is active at lat during month.
func (s Season) Covers(lat float64, month int) bool {
	if lat < s.LatMin || lat >= s.LatMax {
		return false
	}
	for _, m := range s.Months {
		if m == month {
			return true
		}
	}
	return false
}

// Probability parameterizes the default probability model.
type Probability struct {
	Baseline                 float64 `yaml:"baseline"`
	ClimateSensitivity       float64 `yaml:"climate_sensitivity"`
	MitigationFactor         float64 `yaml:"mitigation_factor"`
	AgeMin                   int     `yaml:"age_min"`
	AgeMax                   int     `yaml:"age_max"`
	AgePenalty               float64 `yaml:"age_penalty"`
	LoanPenalty              float64 `yaml:"loan_penalty"`
	MaxLoansCounted          int     `yaml:"max_loans_counted"`
	RepaymentFloor           float64 `yaml:"repayment_floor"`
	RepaymentPenaltyPerPoint float64 `yaml:"repayment_penalty_per_point"`
	MaxRepaymentPenalty      float64 `yaml:"max_repayment_penalty"`
	DefaultAge               int     `yaml:"default_age"`
	DefaultRepaymentHistory  float64 `yaml:"default_repayment_history"`
}

// Thresholds are the inclusive upper score bounds of the approve and
// caution tiers.
type Thresholds struct {
	ApproveMax           int     `yaml:"approve_max"`
	CautionMax           int     `yaml:"caution_max"`
	HighDefaultThreshold float64 `yaml:"high_default_threshold"`
}

// Catalog lists mitigation products by recommendation tier and purpose.
type Catalog struct {
	Labels      map[model.RecommendationType]string                     `yaml:"labels"`
	Products    map[model.RecommendationType]map[string][]model.Product `yaml:"products"`
	Crops       map[string][]model.Product                              `yaml:"crops"`
	HighDefault model.Product                                           `yaml:"high_default"`
}

// Policy is the complete, versioned scoring policy.
type Policy struct {
	Version              string                   `yaml:"version"`
	Purposes             map[string]PurposePolicy `yaml:"purposes"`
	Aliases              map[string]string        `yaml:"aliases"`
	AgriculturalPurposes []string                 `yaml:"agricultural_purposes"`
	Seasons              []Season                 `yaml:"seasons"`
	Probability          Probability              `yaml:"probability"`
	Thresholds           Thresholds               `yaml:"thresholds"`
	Catalog              Catalog                  `yaml:"catalog"`
}

// Load reads a YAML policy file and validates it. An empty path returns the
// built-in default policy.
func Load(path string) (*Policy, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "policy: read %s", path)
	}
	return Parse(data)
}

// Parse decodes a YAML policy document and validates it.
func Parse(data []byte) (*Policy, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var p Policy
	if err := dec.Decode(&p); err != nil {
		return nil, eris.Wrap(err, "policy: decode")
	}
	p.normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Marshal renders the policy as YAML.
func (p *Policy) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return nil, eris.Wrap(err, "policy: encode")
	}
	if err := enc.Close(); err != nil {
		return nil, eris.Wrap(err, "policy: encode")
	}
	return buf.Bytes(), nil
}

func (p *Policy) normalize() {
	purposes := make(map[string]PurposePolicy, len(p.Purposes))
	for name, pp := range p.Purposes {
		crops := make(map[string]WeightTable, len(pp.Crops))
		for crop, w := range pp.Crops {
			crops[normalizeKey(crop)] = w
		}
		pp.Crops = crops
		purposes[normalizeKey(name)] = pp
	}
	p.Purposes = purposes

	aliases := make(map[string]string, len(p.Aliases))
	for from, to := range p.Aliases {
		aliases[normalizeKey(from)] = normalizeKey(to)
	}
	p.Aliases = aliases

	for i, a := range p.AgriculturalPurposes {
		p.AgriculturalPurposes[i] = normalizeKey(a)
	}

	for rt, byPurpose := range p.Catalog.Products {
		keyed := make(map[string][]model.Product, len(byPurpose))
		for name, products := range byPurpose {
			keyed[normalizeKey(name)] = products
		}
		p.Catalog.Products[rt] = keyed
	}
	crops := make(map[string][]model.Product, len(p.Catalog.Crops))
	for crop, products := range p.Catalog.Crops {
		crops[normalizeKey(crop)] = products
	}
	p.Catalog.Crops = crops
}

// Validate checks that the policy is internally consistent: every weight
// table sums to 1, thresholds are ordered and probabilities are in range.
func (p *Policy) Validate() error {
	var errs []string

	if strings.TrimSpace(p.Version) == "" {
		errs = append(errs, "version is required")
	}
	if len(p.Purposes) == 0 {
		errs = append(errs, "at least one purpose is required")
	}

	for name, pp := range p.Purposes {
		errs = append(errs, validateTable(name, pp.Weights)...)
		for crop, w := range pp.Crops {
			errs = append(errs, validateTable(name+"/"+crop, w)...)
		}
	}

	for from, to := range p.Aliases {
		if _, ok := p.Purposes[to]; !ok {
			errs = append(errs, fmt.Sprintf("alias %q targets unknown purpose %q", from, to))
		}
	}
	for _, a := range p.AgriculturalPurposes {
		if _, ok := p.Purposes[a]; !ok {
			errs = append(errs, fmt.Sprintf("agricultural purpose %q is not defined", a))
		}
	}

	for i, s := range p.Seasons {
		if !knownHazard(s.Hazard) {
			errs = append(errs, fmt.Sprintf("season %d (%s): unknown hazard %q", i, s.Name, s.Hazard))
		}
		if s.LatMin >= s.LatMax || s.LatMin < -90 || s.LatMax > 90.0001 {
			errs = append(errs, fmt.Sprintf("season %d (%s): invalid latitude band [%g, %g)", i, s.Name, s.LatMin, s.LatMax))
		}
		if len(s.Months) == 0 {
			errs = append(errs, fmt.Sprintf("season %d (%s): months are required", i, s.Name))
		}
		for _, m := range s.Months {
			if m < 1 || m > 12 {
				errs = append(errs, fmt.Sprintf("season %d (%s): month %d out of range", i, s.Name, m))
			}
		}
		if s.Multiplier < 1 {
			errs = append(errs, fmt.Sprintf("season %d (%s): multiplier must be >= 1", i, s.Name))
		}
	}

	pr := p.Probability
	if pr.Baseline < 0 || pr.Baseline > 1 {
		errs = append(errs, "probability.baseline must be between 0 and 1")
	}
	if pr.ClimateSensitivity < 0 {
		errs = append(errs, "probability.climate_sensitivity must be >= 0")
	}
	if pr.MitigationFactor < 0 || pr.MitigationFactor > 1 {
		errs = append(errs, "probability.mitigation_factor must be between 0 and 1")
	}
	if pr.AgeMin > pr.AgeMax {
		errs = append(errs, "probability.age_min must be <= age_max")
	}
	if pr.AgePenalty < 0 || pr.LoanPenalty < 0 || pr.RepaymentPenaltyPerPoint < 0 || pr.MaxRepaymentPenalty < 0 {
		errs = append(errs, "probability penalties must be >= 0")
	}
	if pr.MaxLoansCounted < 0 {
		errs = append(errs, "probability.max_loans_counted must be >= 0")
	}

	th := p.Thresholds
	if th.ApproveMax < 0 || th.CautionMax > 100 || th.ApproveMax > th.CautionMax {
		errs = append(errs, "thresholds must satisfy 0 <= approve_max <= caution_max <= 100")
	}
	if th.HighDefaultThreshold < 0 || th.HighDefaultThreshold > 1 {
		errs = append(errs, "thresholds.high_default_threshold must be between 0 and 1")
	}

	for _, rt := range []model.RecommendationType{model.RecommendApprove, model.RecommendCaution, model.RecommendDefer} {
		if len(p.Catalog.Products[rt]["default"]) == 0 {
			errs = append(errs, fmt.Sprintf("catalog.products.%s.default must list at least one product", rt))
		}
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return eris.Errorf("policy: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateTable(name string, w WeightTable) []string {
	var errs []string
	for h, v := range w {
		if !knownHazard(h) {
			errs = append(errs, fmt.Sprintf("%s: unknown hazard %q", name, h))
		}
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Sprintf("%s: weight for %s must be between 0 and 1", name, h))
		}
	}
	if sum := w.Sum(); math.Abs(sum-1) > weightEpsilon {
		errs = append(errs, fmt.Sprintf("%s: weights should sum to 1, got %.4f", name, sum))
	}
	return errs
}

func knownHazard(h model.HazardType) bool {
	for _, k := range model.Hazards {
		if k == h {
			return true
		}
	}
	return false
}

// NormalizePurpose resolves a loan purpose (or alias) to a policy purpose.
// Unknown purposes fail with UnknownLoanPurpose.
func (p *Policy) NormalizePurpose(purpose string) (string, error) {
	key := normalizeKey(purpose)
	if key == "" {
		return "", apperr.New(apperr.UnknownLoanPurpose, "loan purpose is required")
	}
	if _, ok := p.Purposes[key]; ok {
		return key, nil
	}
	if to, ok := p.Aliases[key]; ok {
		return to, nil
	}
	return "", apperr.Newf(apperr.UnknownLoanPurpose, "loan purpose %q is not covered by policy %s", purpose, p.Version)
}

// Table returns the weight table for (purpose, crop) and its name. A crop
// with no table of its own falls back to the purpose table.
func (p *Policy) Table(purpose, crop string) (WeightTable, string, error) {
	key, err := p.NormalizePurpose(purpose)
	if err != nil {
		return nil, "", err
	}
	pp := p.Purposes[key]
	if c := normalizeKey(crop); c != "" {
		if w, ok := pp.Crops[c]; ok {
			return w, key + "/" + c, nil
		}
	}
	return pp.Weights, key, nil
}

// CropProducts returns the crop-specific mitigation products for crop.
func (p *Policy) CropProducts(crop string) []model.Product {
	return p.Catalog.Crops[normalizeKey(crop)]
}

// IsAgricultural reports whether purpose carries crop-specific handling.
func (p *Policy) IsAgricultural(purpose string) bool {
	key, err := p.NormalizePurpose(purpose)
	if err != nil {
		return false
	}
	for _, a := range p.AgriculturalPurposes {
		if a == key {
			return true
		}
	}
	return false
}

// PurposeNames returns the defined purposes in sorted order.
func (p *Policy) PurposeNames() []string {
	names := make([]string, 0, len(p.Purposes))
	for name := range p.Purposes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	return strings.ReplaceAll(s, " ", "_")
}
