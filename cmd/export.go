package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	exportOfficer officerFlags
	exportFormat  string
	exportOutput  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export an institution's assessments as CSV or XLSX",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("assess"); err != nil {
			return err
		}

		env, err := initApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		out, closeOut, err := openOutput(cmd, exportOutput)
		if err != nil {
			return err
		}
		officer := exportOfficer.officer()
		n, err := env.Assessments.Export(ctx, officer, officer.MFIID, exportFormat, out)
		if err != nil {
			_ = closeOut()
			return err
		}
		zap.L().Info("export complete",
			zap.String("mfi_id", officer.MFIID),
			zap.String("format", exportFormat),
			zap.Int("rows", n),
		)
		return closeOut()
	},
}

func init() {
	exportOfficer.bind(exportCmd)
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "output format: csv or xlsx")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default stdout)")
	_ = exportCmd.MarkFlagRequired("mfi")
	rootCmd.AddCommand(exportCmd)
}
