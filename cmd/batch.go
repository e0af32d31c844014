package main

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/climatecredit/credit-engine/internal/assessment"
	"github.com/climatecredit/credit-engine/internal/model"
	"github.com/climatecredit/credit-engine/internal/resilience"
)

var (
	batchOfficer officerFlags
	batchInput   string
	batchOutput  string
	batchLimit   int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Assess loan applications from a CSV file",
	Long: `Reads applications from a CSV with the header columns

  client_name, latitude, longitude, location_name, loan_amount, loan_purpose,
  crop_type, loan_term, client_age, existing_loans, repayment_history

and writes one export row per successful assessment. Optional columns may
be omitted. Failed rows are logged and skipped.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("batch"); err != nil {
			return err
		}

		f, err := os.Open(batchInput)
		if err != nil {
			return eris.Wrapf(err, "batch: open %s", batchInput)
		}
		defer f.Close() //nolint:errcheck

		rows, err := readBatchCSV(f)
		if err != nil {
			return err
		}
		if batchLimit > 0 && len(rows) > batchLimit {
			rows = rows[:batchLimit]
		}

		env, err := initApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		officer := batchOfficer.officer()
		results := processBatch(ctx, rows, cfg.Batch.Concurrency, func(ctx context.Context, row batchRow) (*model.Assessment, error) {
			loc, loan, client := row.inputs()
			return env.Assessments.Create(ctx, officer, loc, loan, client)
		})

		out, closeOut, err := openOutput(cmd, batchOutput)
		if err != nil {
			return err
		}
		exportRows := make([]assessment.ExportRow, 0, len(results))
		for _, a := range results {
			if a != nil {
				exportRows = append(exportRows, assessment.NewExportRow(a))
			}
		}
		if err := assessment.WriteCSV(out, exportRows); err != nil {
			_ = closeOut()
			return err
		}
		return closeOut()
	},
}

// batchRow is one application in the batch input file.
type batchRow struct {
	ClientName       string          `csv:"client_name"`
	Latitude         float64         `csv:"latitude"`
	Longitude        float64         `csv:"longitude"`
	LocationName     string          `csv:"location_name"`
	LoanAmount       decimal.Decimal `csv:"loan_amount"`
	LoanPurpose      string          `csv:"loan_purpose"`
	CropType         string          `csv:"crop_type"`
	LoanTerm         *int            `csv:"loan_term"`
	ClientAge        *int            `csv:"client_age"`
	ExistingLoans    *int            `csv:"existing_loans"`
	RepaymentHistory *float64        `csv:"repayment_history"`
}

func (r batchRow) inputs() (model.LocationInput, model.LoanInput, model.ClientInput) {
	return model.LocationInput{Latitude: r.Latitude, Longitude: r.Longitude, Name: r.LocationName},
		model.LoanInput{Amount: r.LoanAmount, Purpose: r.LoanPurpose, CropType: r.CropType, TermMonths: r.LoanTerm},
		model.ClientInput{Name: r.ClientName, Age: r.ClientAge, ExistingLoans: r.ExistingLoans, RepaymentHistory: r.RepaymentHistory}
}

// batchReader remembers the last read error so a bad record can be told
// apart from a failing input.
type batchReader struct {
	r   *csv.Reader
	err error
}

func (b *batchReader) Read() ([]string, error) {
	rec, err := b.r.Read()
	b.err = err
	return rec, err
}

// readBatchCSV decodes every row of r. Columns not in the header stay at
// their zero value. Rows that fail to parse or decode are logged and
// skipped.
func readBatchCSV(r io.Reader) ([]batchRow, error) {
	br := &batchReader{r: csv.NewReader(r)}
	dec, err := csvutil.NewDecoder(br)
	if err != nil {
		if err == io.EOF {
			return nil, eris.New("batch: input is empty")
		}
		return nil, eris.Wrap(err, "batch: read header")
	}

	var rows []batchRow
	for n := 1; ; n++ {
		var row batchRow
		err := dec.Decode(&row)
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if br.err != nil && !errors.As(br.err, &perr) {
				return nil, eris.Wrapf(err, "batch: read row %d", n)
			}
			zap.L().Warn("batch: skipping row", zap.Int("row", n), zap.Error(err))
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// assessFunc is the callback signature for assessing one batch row.
type assessFunc func(ctx context.Context, row batchRow) (*model.Assessment, error)

// processBatch assesses rows concurrently. The result slice is index-aligned
// with rows; failed rows are nil.
func processBatch(ctx context.Context, rows []batchRow, concurrency int, assess assessFunc) []*model.Assessment {
	results := make([]*model.Assessment, len(rows))
	if len(rows) == 0 {
		zap.L().Info("no applications in batch")
		return results
	}
	if concurrency < 1 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.Int("applications", len(rows)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed atomic.Int64

	for i, row := range rows {
		g.Go(func() error {
			log := zap.L().With(zap.Int("row", i+1), zap.String("client", row.ClientName))

			a, err := assess(gctx, row)
			if err != nil {
				failed.Add(1)
				log.Error("assessment failed",
					zap.String("failure", resilience.ClassifyError(err)),
					zap.Error(err),
				)
				return nil // don't abort batch on individual failure
			}

			results[i] = a
			succeeded.Add(1)
			log.Info("assessment complete",
				zap.String("id", a.ID),
				zap.Int("climate_risk_score", a.Results.ClimateRiskScore),
				zap.String("recommendation", string(a.Recommendation.Type)),
			)
			return nil
		})
	}
	_ = g.Wait()

	zap.L().Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return results
}

func init() {
	batchOfficer.bind(batchCmd)
	batchCmd.Flags().StringVar(&batchInput, "input", "", "applications CSV file (required)")
	batchCmd.Flags().StringVarP(&batchOutput, "output", "o", "", "output CSV file (default stdout)")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of rows to process (0 = all)")
	_ = batchCmd.MarkFlagRequired("input")
	_ = batchCmd.MarkFlagRequired("mfi")
	rootCmd.AddCommand(batchCmd)
}
