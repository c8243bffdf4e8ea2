package main

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/book-expert/media-service/internal/artifact"
	"github.com/book-expert/media-service/internal/config"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newSweepCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete outputs older than the retention window from the temp root",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			return runSweep(cmd.OutOrStdout(), cfg, dryRun, time.Now())
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would be deleted without deleting it")

	return cmd
}

func runSweep(out io.Writer, cfg *config.Config, dryRun bool, now time.Time) error {
	log, err := setupLogger(cfg.Paths.BaseLogsDir, sweepLogFileName)
	if err != nil {
		return err
	}
	defer closeLogger(log)

	store, err := artifact.NewStore(cfg.Paths.TempRoot, cfg.Retention.Window(), log)
	if err != nil {
		return fmt.Errorf("failed to open temp root: %w", err)
	}

	var report artifact.SweepReport
	if dryRun {
		report = store.Preview(now)
	} else {
		report = store.Sweep(now)
	}

	_, err = io.WriteString(out, renderSweepReport(report, cfg.Paths.TempRoot, dryRun))
	if err != nil {
		return fmt.Errorf("failed to write sweep report: %w", err)
	}

	if len(report.Errors) > 0 {
		return fmt.Errorf("sweep finished with %d errors", len(report.Errors))
	}

	return nil
}

func renderSweepReport(report artifact.SweepReport, root string, dryRun bool) string {
	verb := "Removed"
	if dryRun {
		verb = "Would remove"
	}

	if len(report.Removed) == 0 && len(report.RemovedDirs) == 0 && len(report.Skipped) == 0 && len(report.Errors) == 0 {
		return fmt.Sprintf("Nothing to sweep under %s\n", root)
	}

	rows := make([][]string, 0, len(report.Removed)+len(report.Skipped)+len(report.Errors))

	for _, removed := range report.Removed {
		rows = append(rows, []string{
			verb,
			relativeTo(root, removed.Path),
			humanize.Bytes(uint64(max(removed.Size, 0))),
			removed.Age.Truncate(time.Second).String(),
		})
	}

	for _, dir := range report.RemovedDirs {
		rows = append(rows, []string{verb + " dir", relativeTo(root, dir), "", ""})
	}

	for _, skipped := range report.Skipped {
		rows = append(rows, []string{"Skipped (in use)", relativeTo(root, skipped), "", ""})
	}

	for _, failure := range report.Errors {
		rows = append(rows, []string{"Error", relativeTo(root, failure.Path) + ": " + failure.Error, "", ""})
	}

	table := renderTable(
		[]string{"Action", "Path", "Size", "Age"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight},
	)

	summary := fmt.Sprintf("%s %d files, %s reclaimed under %s\n", verb,
		len(report.Removed), humanize.Bytes(uint64(max(report.BytesReclaimed, 0))), root)

	return table + "\n" + summary
}

func relativeTo(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}

	return rel
}
