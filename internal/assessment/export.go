package assessment

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/climatecredit/credit-engine/internal/apperr"
	"github.com/climatecredit/credit-engine/internal/model"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

const exportSheet = "Assessments"

// ExportRow is one flattened assessment in an export.
type ExportRow struct {
	ID                 string  `csv:"id"`
	CreatedAt          string  `csv:"created_at"`
	ClientName         string  `csv:"client_name"`
	Location           string  `csv:"location"`
	Country            string  `csv:"country"`
	LoanAmount         string  `csv:"loan_amount"`
	LoanPurpose        string  `csv:"loan_purpose"`
	CropType           string  `csv:"crop_type"`
	ClimateRiskScore   int     `csv:"climate_risk_score"`
	FloodRisk          float64 `csv:"flood_risk"`
	DroughtRisk        float64 `csv:"drought_risk"`
	HeatwaveRisk       float64 `csv:"heatwave_risk"`
	DefaultProbability float64 `csv:"default_probability"`
	AdjustedDefault    float64 `csv:"adjusted_default_probability"`
	Recommendation     string  `csv:"recommendation"`
	Status             string  `csv:"status"`
	DecidedBy          string  `csv:"decided_by"`
	LoanOfficer        string  `csv:"loan_officer"`
	ClimateSource      string  `csv:"climate_source"`
}

// exportColumns is the header shared by both formats.
var exportColumns = []string{
	"id", "created_at", "client_name", "location", "country", "loan_amount",
	"loan_purpose", "crop_type", "climate_risk_score", "flood_risk",
	"drought_risk", "heatwave_risk", "default_probability",
	"adjusted_default_probability", "recommendation", "status", "decided_by",
	"loan_officer", "climate_source",
}

// NewExportRow flattens a.
func NewExportRow(a *model.Assessment) ExportRow {
	row := ExportRow{
		ID:                 a.ID,
		CreatedAt:          a.CreatedAt.UTC().Format(time.RFC3339),
		ClientName:         a.ClientInfo.Name,
		Location:           a.Location.Name,
		Country:            a.Location.Country,
		LoanAmount:         a.LoanDetails.Amount.StringFixed(2),
		LoanPurpose:        a.LoanDetails.Purpose,
		CropType:           a.LoanDetails.CropType,
		ClimateRiskScore:   a.Results.ClimateRiskScore,
		FloodRisk:          a.ClimateData.Hazard(model.HazardFlood),
		DroughtRisk:        a.ClimateData.Hazard(model.HazardDrought),
		HeatwaveRisk:       a.ClimateData.Hazard(model.HazardHeatwave),
		DefaultProbability: a.Results.DefaultProbability.Unadjusted,
		AdjustedDefault:    a.Results.DefaultProbability.Adjusted,
		Recommendation:     string(a.Recommendation.Type),
		Status:             string(a.Status),
		LoanOfficer:        a.LoanOfficerName,
		ClimateSource:      string(a.ClimateData.Source),
	}
	if a.Decision != nil {
		row.DecidedBy = a.Decision.DecidedBy
	}
	return row
}

func (r ExportRow) cells() []string {
	return []string{
		r.ID, r.CreatedAt, r.ClientName, r.Location, r.Country, r.LoanAmount,
		r.LoanPurpose, r.CropType, fmt.Sprint(r.ClimateRiskScore),
		fmt.Sprint(r.FloodRisk), fmt.Sprint(r.DroughtRisk), fmt.Sprint(r.HeatwaveRisk),
		fmt.Sprint(r.DefaultProbability), fmt.Sprint(r.AdjustedDefault),
		r.Recommendation, r.Status, r.DecidedBy, r.LoanOfficer, r.ClimateSource,
	}
}

// ParseFormat normalizes an export format name. Empty means csv.
func ParseFormat(s string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(s)); f {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", apperr.Newf(apperr.InvalidInput, "export format %q must be csv or xlsx", s)
	}
}

// Export writes every assessment of mfiID to w, newest first.
func (s *Service) Export(ctx context.Context, officer model.Officer, mfiID, format string, w io.Writer) (int, error) {
	format, err := ParseFormat(format)
	if err != nil {
		return 0, err
	}
	if err := checkMFI(officer, mfiID); err != nil {
		return 0, err
	}
	items, err := s.repo.ListByOwner(ctx, mfiID)
	if err != nil {
		return 0, eris.Wrap(err, "assessment: export list")
	}

	rows := make([]ExportRow, len(items))
	for i, a := range items {
		rows[i] = NewExportRow(a)
	}

	switch format {
	case FormatXLSX:
		err = WriteXLSX(w, rows)
	default:
		err = WriteCSV(w, rows)
	}
	return len(rows), err
}

// WriteCSV writes rows with a header line. The header is written even
// when rows is empty.
func WriteCSV(w io.Writer, rows []ExportRow) error {
	cw := csv.NewWriter(w)
	if len(rows) == 0 {
		if err := cw.Write(exportColumns); err != nil {
			return eris.Wrap(err, "export: write header")
		}
	} else if err := csvutil.NewEncoder(cw).Encode(rows); err != nil {
		return eris.Wrap(err, "export: encode csv")
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// WriteXLSX writes rows to a single-sheet workbook.
func WriteXLSX(w io.Writer, rows []ExportRow) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(exportSheet)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range exportColumns {
		header.AddCell().SetString(col)
	}
	for _, r := range rows {
		row := sheet.AddRow()
		for _, v := range r.cells() {
			row.AddCell().SetString(v)
		}
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write xlsx")
	}
	return nil
}
