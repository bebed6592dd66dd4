package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relieftrack/activity-import/internal/ingest"
)

var templateOut string

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Write a blank upload workbook with the expected columns",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		f, err := os.Create(templateOut)
		if err != nil {
			return eris.Wrap(err, "create template file")
		}
		defer f.Close()

		if err := ingest.WriteTemplate(ctx, st, f); err != nil {
			return err
		}

		zap.L().Info("template written", zap.String("path", templateOut))
		return nil
	},
}

func init() {
	templateCmd.Flags().StringVar(&templateOut, "out", "activity_template.xlsx", "output path")
	rootCmd.AddCommand(templateCmd)
}
