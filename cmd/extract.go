package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/climatecredit/credit-engine/internal/model"
)

var (
	extractFile  string
	extractDraft string
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Draft a loan application from an officer/client transcript",
	Long: `Sends the transcript to the configured AI providers and merges the
extracted fields into a draft application. Fields already present in --draft
are kept as operator input.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		transcript, err := readTranscript(cmd.InOrStdin(), extractFile)
		if err != nil {
			return err
		}

		draft := model.NewApplicationDraft()
		if extractDraft != "" {
			data, err := os.ReadFile(extractDraft)
			if err != nil {
				return eris.Wrapf(err, "extract: read draft %s", extractDraft)
			}
			var operator map[string]any
			if err := json.Unmarshal(data, &operator); err != nil {
				return eris.Wrap(err, "extract: parse draft")
			}
			for name, v := range operator {
				draft.SetOperator(name, v)
			}
		}

		env, err := initApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		res, merged := env.Assessments.ExtractFromTranscript(ctx, transcript, draft)
		if !res.OK() {
			for _, a := range res.Attempts {
				zap.L().Warn("extraction attempt failed",
					zap.String("provider", a.Provider),
					zap.String("reason", string(a.Reason)),
					zap.String("message", a.Message),
				)
			}
			return res.Err()
		}

		return printJSON(cmd.OutOrStdout(), map[string]any{
			"provider":   res.Provider,
			"extraction": res.Value,
			"draft":      merged,
		})
	},
}

// readTranscript reads path, or stdin when path is "" or "-".
func readTranscript(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", eris.Wrap(err, "extract: read transcript")
	}
	return string(data), nil
}

func init() {
	extractCmd.Flags().StringVarP(&extractFile, "file", "f", "", "transcript file (default stdin)")
	extractCmd.Flags().StringVar(&extractDraft, "draft", "", "JSON object of fields already entered by the officer")
	rootCmd.AddCommand(extractCmd)
}
