package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relieftrack/activity-import/internal/seed"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed master data (statuses, currencies, funders, clusters)",
	Long: `Inserts master data entries that don't already exist and refreshes the
default flags of statuses and currencies to match the seed. Without
--file the built-in defaults are applied: the implementation-status
lifecycle and the working currencies.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		f := seed.Defaults()
		if seedFile != "" {
			f, err = seed.Load(seedFile)
			if err != nil {
				return err
			}
		}

		res, err := seed.Apply(ctx, st, f)
		if err != nil {
			return eris.Wrap(err, "seed")
		}

		zap.L().Info("seed complete",
			zap.Int("created", res.Created),
			zap.Int("updated", res.Updated),
			zap.Int("skipped", res.Skipped),
		)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "", "YAML seed file (default: built-in defaults)")
	rootCmd.AddCommand(seedCmd)
}
