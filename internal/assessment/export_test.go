package assessment

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/climatecredit/credit-engine/internal/apperr"
	"github.com/climatecredit/credit-engine/internal/model"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{in: "", want: FormatCSV},
		{in: "CSV", want: FormatCSV},
		{in: " xlsx ", want: FormatXLSX},
		{in: "pdf", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.err {
				assert.Equal(t, apperr.InvalidInput, apperr.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExport_CSV(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()
	first := createSylhet(t, svc)
	second := createSylhet(t, svc)
	_, err := svc.RecordDecision(ctx, sylhetOfficer, first.ID, "approved", "")
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := svc.Export(ctx, sylhetOfficer, sylhetOfficer.MFIID, "csv", &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, exportColumns, records[0])

	assert.Equal(t, second.ID, records[1][0])
	assert.Equal(t, first.ID, records[2][0])
	assert.Equal(t, "50000.00", records[2][5])
	assert.Equal(t, "agriculture", records[2][6])
	assert.Equal(t, "69", records[2][8])
	assert.Equal(t, "approved", records[2][15])
	assert.Equal(t, "Rahima Begum", records[2][16])
	assert.Equal(t, "fallback", records[2][18])
}

func TestExport_EmptyCSVHasHeader(t *testing.T) {
	svc, _ := newTestService(nil)

	var buf bytes.Buffer
	n, err := svc.Export(context.Background(), sylhetOfficer, sylhetOfficer.MFIID, "", &buf)
	require.NoError(t, err)
	assert.Zero(t, n)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, exportColumns, records[0])
}

func TestExport_XLSX(t *testing.T) {
	svc, _ := newTestService(nil)
	a := createSylhet(t, svc)

	var buf bytes.Buffer
	n, err := svc.Export(context.Background(), sylhetOfficer, sylhetOfficer.MFIID, "xlsx", &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)
	sheet := f.Sheets[0]
	assert.Equal(t, exportSheet, sheet.Name)
	require.Len(t, sheet.Rows, 2)
	assert.Equal(t, exportColumns, rowStrings(sheet.Rows[0]))
	assert.Equal(t, a.ID, sheet.Rows[1].Cells[0].String())
	assert.Equal(t, "Sylhet", sheet.Rows[1].Cells[3].String())
}

func TestExport_Guards(t *testing.T) {
	svc, _ := newTestService(nil)
	var buf bytes.Buffer

	_, err := svc.Export(context.Background(), otherOfficer, sylhetOfficer.MFIID, "csv", &buf)
	assert.Equal(t, apperr.AccessDenied, apperr.KindOf(err))

	_, err = svc.Export(context.Background(), sylhetOfficer, sylhetOfficer.MFIID, "pdf", &buf)
	assert.Equal(t, apperr.InvalidInput, apperr.KindOf(err))
	assert.Zero(t, buf.Len())
}

func TestNewExportRow_Undecided(t *testing.T) {
	a := &model.Assessment{
		ID:          "assess_x",
		LoanDetails: model.LoanDetails{Amount: decimal.RequireFromString("1250.5")},
		Status:      model.StatusPending,
	}
	row := NewExportRow(a)
	assert.Equal(t, "1250.50", row.LoanAmount)
	assert.Empty(t, row.DecidedBy)
	assert.Len(t, row.cells(), len(exportColumns))
}

func rowStrings(row *xlsx.Row) []string {
	out := make([]string, len(row.Cells))
	for i, c := range row.Cells {
		out[i] = c.String()
	}
	return out
}
