package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relieftrack/activity-import/internal/ingest"
)

var (
	commitActor          string
	commitSkipRows       []int
	commitCreateFunders  []string
	commitCreateClusters []string
)

var commitCmd = &cobra.Command{
	Use:   "commit [file]",
	Short: "Import an upload into the activity store",
	Long: `Stages the file, reconciles it against master data, and commits every
row not skipped. Unknown statuses block the whole commit; unknown
funders or clusters drop their rows unless creation is confirmed with
--create-funder / --create-cluster.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		rc, name, err := openInput(ctx, args)
		if err != nil {
			return err
		}
		defer rc.Close()

		im := newImporter(st)
		_, sum, err := im.Stage(ctx, "cli", rc, name)
		if err != nil {
			return eris.Wrap(err, "stage upload")
		}
		defer im.Discard("cli")
		if sum.HardBlocked() {
			printSummary(cmd.OutOrStdout(), name, sum)
			return eris.New("upload has unresolved statuses; fix master data and retry")
		}

		dec := &ingest.Decisions{
			CreateFunders:  commitCreateFunders,
			CreateClusters: commitCreateClusters,
		}
		if len(commitSkipRows) > 0 {
			dec.Rows = make(map[int]ingest.Decision, len(commitSkipRows))
			for _, n := range commitSkipRows {
				dec.Rows[n] = ingest.DecisionSkip
			}
		}

		result, err := im.Commit(ctx, "cli", commitActor, dec)
		if err != nil {
			return eris.Wrap(err, "commit upload")
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Created: %d  Updated: %d  Skipped: %d\n",
			result.Created, result.Updated, result.Skipped)
		if len(result.Errors) > 0 {
			fmt.Fprintf(out, "Row errors (%d): %s\n",
				len(result.Errors), result.ErrorPreview(cfg.Import.ErrorPreview))
			for _, e := range result.Errors {
				zap.L().Warn("row error", zap.String("detail", e))
			}
		}
		return nil
	},
}

func init() {
	commitCmd.Flags().StringVar(&commitActor, "actor", "cli", "name recorded in the audit log")
	commitCmd.Flags().IntSliceVar(&commitSkipRows, "skip-row", nil, "row number to skip (repeatable)")
	commitCmd.Flags().StringSliceVar(&commitCreateFunders, "create-funder", nil, "unknown funder name to create (repeatable)")
	commitCmd.Flags().StringSliceVar(&commitCreateClusters, "create-cluster", nil, "unknown cluster name to create (repeatable)")
	commitCmd.Flags().StringVar(&stageURL, "url", "", "fetch the file from an http(s) or ftp URL instead of disk")
	rootCmd.AddCommand(commitCmd)
}
