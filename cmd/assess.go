package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/climatecredit/credit-engine/internal/model"
)

// officerFlags identifies the caller for commands that act on assessments.
type officerFlags struct {
	mfiID       string
	mfiName     string
	officerID   string
	officerName string
}

func (o *officerFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.mfiID, "mfi", "", "lending institution id (required)")
	cmd.Flags().StringVar(&o.mfiName, "mfi-name", "", "lending institution name")
	cmd.Flags().StringVar(&o.officerID, "officer", "cli", "loan officer id")
	cmd.Flags().StringVar(&o.officerName, "officer-name", "", "loan officer name")
}

func (o *officerFlags) officer() model.Officer {
	return model.Officer{
		MFIID:       o.mfiID,
		MFIName:     o.mfiName,
		OfficerID:   o.officerID,
		OfficerName: o.officerName,
	}
}

var (
	assessOfficer officerFlags
	assessLat     float64
	assessLng     float64
	assessPlace   string
	assessAmount  string
	assessPurpose string
	assessCrop    string
	assessTerm    int
	assessClient  string
	assessAge     int
	assessLoans   int
	assessHistory float64
)

var assessCmd = &cobra.Command{
	Use:   "assess",
	Short: "Assess one loan application and print the result as JSON",
	Example: `  credit-engine assess --mfi mfi_brac --lat 24.8949 --lng 91.8687 \
    --amount 500 --purpose agriculture --crop rice --age 34 --history 92`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("assess"); err != nil {
			return err
		}

		amount, err := decimal.NewFromString(assessAmount)
		if err != nil {
			return eris.Wrapf(err, "assess: parse amount %q", assessAmount)
		}

		env, err := initApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		loan := model.LoanInput{Amount: amount, Purpose: assessPurpose, CropType: assessCrop}
		client := model.ClientInput{Name: assessClient}
		flags := cmd.Flags()
		if flags.Changed("term") {
			loan.TermMonths = &assessTerm
		}
		if flags.Changed("age") {
			client.Age = &assessAge
		}
		if flags.Changed("existing-loans") {
			client.ExistingLoans = &assessLoans
		}
		if flags.Changed("history") {
			client.RepaymentHistory = &assessHistory
		}

		a, err := env.Assessments.Create(ctx, assessOfficer.officer(),
			model.LocationInput{Latitude: assessLat, Longitude: assessLng, Name: assessPlace},
			loan, client)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), a)
	},
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return eris.Wrap(err, "encode json")
	}
	return nil
}

// openOutput returns stdout for "" or "-", else a created file.
func openOutput(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "create %s", path)
	}
	return f, f.Close, nil
}

func init() {
	assessOfficer.bind(assessCmd)
	assessCmd.Flags().Float64Var(&assessLat, "lat", 0, "latitude in degrees")
	assessCmd.Flags().Float64Var(&assessLng, "lng", 0, "longitude in degrees")
	assessCmd.Flags().StringVar(&assessPlace, "location", "", "location name (default from climate lookup)")
	assessCmd.Flags().StringVar(&assessAmount, "amount", "", "loan amount")
	assessCmd.Flags().StringVar(&assessPurpose, "purpose", "", "loan purpose or project type")
	assessCmd.Flags().StringVar(&assessCrop, "crop", "", "crop type for agriculture loans")
	assessCmd.Flags().IntVar(&assessTerm, "term", 12, "loan term in months")
	assessCmd.Flags().StringVar(&assessClient, "client", "", "client name")
	assessCmd.Flags().IntVar(&assessAge, "age", 0, "client age")
	assessCmd.Flags().IntVar(&assessLoans, "existing-loans", 0, "number of existing loans")
	assessCmd.Flags().Float64Var(&assessHistory, "history", 0, "repayment history percentage (0-100)")
	_ = assessCmd.MarkFlagRequired("mfi")
	_ = assessCmd.MarkFlagRequired("lat")
	_ = assessCmd.MarkFlagRequired("lng")
	_ = assessCmd.MarkFlagRequired("amount")
	_ = assessCmd.MarkFlagRequired("purpose")
	rootCmd.AddCommand(assessCmd)
}
