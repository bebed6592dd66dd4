package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/relieftrack/activity-import/internal/fetch"
	"github.com/relieftrack/activity-import/internal/ingest"
)

var stageURL string

var stageCmd = &cobra.Command{
	Use:   "stage [file]",
	Short: "Parse an upload and print its review summary without writing anything",
	Args:  cobra.MaximumNArgs(1),
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

		printSummary(cmd.OutOrStdout(), name, sum)
		return nil
	},
}

func init() {
	stageCmd.Flags().StringVar(&stageURL, "url", "", "fetch the file from an http(s) or ftp URL instead of disk")
	rootCmd.AddCommand(stageCmd)
}

// openInput resolves the upload source: a local path argument or the
// --url flag.
func openInput(ctx context.Context, args []string) (io.ReadCloser, string, error) {
	if stageURL != "" {
		rc, err := fetch.Open(ctx, stageURL)
		if err != nil {
			return nil, "", err
		}
		return rc, path.Base(stageURL), nil
	}
	if len(args) == 0 {
		return nil, "", eris.New("a file path or --url is required")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, "", eris.Wrap(err, "open upload file")
	}
	return f, path.Base(args[0]), nil
}

func printSummary(w io.Writer, name string, sum *ingest.Summary) {
	fmt.Fprintf(w, "File: %s\n", name)
	fmt.Fprintf(w, "Rows: %d  Budget: %.2f  Disbursed: %.2f\n", sum.TotalRows, sum.BudgetSum, sum.DisbursedSum)
	if sum.FirstDate != "" {
		fmt.Fprintf(w, "Planned range: %s to %s\n", sum.FirstDate, sum.LastDate)
	}
	if sum.InvalidDates > 0 {
		fmt.Fprintf(w, "Rows with invalid or missing dates: %d\n", sum.InvalidDates)
	}

	printFreq(w, "Statuses", sum.Statuses)
	printFreq(w, "Clusters", sum.Clusters)
	printFreq(w, "Funders", sum.Funders)

	if len(sum.Updates) > 0 {
		fmt.Fprintf(w, "Updates to existing activities: %d\n", len(sum.Updates))
		for _, u := range sum.Updates {
			fmt.Fprintf(w, "  row %d: %s -> %s (%s)\n", u.Row, u.Name, u.ExistingName, u.ActivityID)
		}
	}
	if len(sum.Duplicates) > 0 {
		fmt.Fprintf(w, "Possible duplicates: %d\n", len(sum.Duplicates))
		for _, d := range sum.Duplicates {
			fmt.Fprintf(w, "  row %d: %s resembles %s (%s, %d)\n",
				d.Row, d.Name, d.Existing.Name, d.Existing.ActivityID, d.Existing.Year)
		}
	}

	printUnknown(w, "Unknown funders", sum.UnknownFunders)
	printUnknown(w, "Unknown clusters", sum.UnknownClusters)

	if len(sum.UnknownStatuses) > 0 {
		fmt.Fprintf(w, "BLOCKED: unknown statuses: %s\n", strings.Join(sum.UnknownStatuses, ", "))
		fmt.Fprintf(w, "Valid statuses are: %s\n", strings.Join(sum.AvailableStatuses, ", "))
	}
	if sum.DefaultStatusMissing {
		fmt.Fprintln(w, "BLOCKED: blank statuses present and no default status is configured")
	}
	if !sum.HardBlocked() {
		fmt.Fprintln(w, "OK to commit")
	}
}

func printFreq(w io.Writer, label string, entries []ingest.FreqEntry) {
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", label)
	for _, e := range entries {
		fmt.Fprintf(w, "  %s: %d\n", e.Name, e.Count)
	}
}

func printUnknown(w io.Writer, label string, entries []ingest.UnknownEntity) {
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(w, "%s (will need creation or a decision at commit):\n", label)
	for _, e := range entries {
		if len(e.Suggestions) > 0 {
			fmt.Fprintf(w, "  %s (did you mean: %s)\n", e.Name, strings.Join(e.Suggestions, ", "))
		} else {
			fmt.Fprintf(w, "  %s\n", e.Name)
		}
	}
}
