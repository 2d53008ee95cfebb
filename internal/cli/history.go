package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show past pipeline runs from the run ledger",
	Long: `Without arguments, history lists recent runs. With a run ID it shows
every external command that run issued and its lifecycle events.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, err := openLedger()
		if err != nil {
			return fmt.Errorf("open run ledger: %w", err)
		}
		defer ledger.Close()

		w := cmd.OutOrStdout()

		if len(args) == 0 {
			limit, _ := cmd.Flags().GetInt("limit")
			runs, err := ledger.ListRuns(limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(w, "No runs recorded.")
				return nil
			}
			fmt.Fprintf(w, "%-36s %-10s %-19s %s\n", "RUN", "STATUS", "STARTED", "OUTPUT")
			for _, r := range runs {
				fmt.Fprintf(w, "%-36s %-10s %-19s %s\n", r.ID, r.Status, r.StartedAt, r.OutDir)
			}
			return nil
		}

		runID := args[0]
		run, err := ledger.GetRun(runID)
		if err != nil {
			return fmt.Errorf("run %s not found: %w", runID, err)
		}
		fmt.Fprintf(w, "run %s: %s (started %s)\n", run.ID, run.Status, run.StartedAt)
		if run.Detail != "" {
			fmt.Fprintf(w, "detail: %s\n", run.Detail)
		}

		events, err := ledger.ListRunEvents(runID)
		if err != nil {
			return err
		}
		if len(events) > 0 {
			fmt.Fprintln(w, "\nevents:")
			for _, e := range events {
				fmt.Fprintf(w, "  %s %-18s %s\n", e.Timestamp, e.Event, e.Detail)
			}
		}

		invs, err := ledger.ListInvocations(runID)
		if err != nil {
			return err
		}
		if len(invs) > 0 {
			fmt.Fprintln(w, "\ncommands:")
			for _, i := range invs {
				status := "ok"
				if i.ExitCode != 0 {
					status = fmt.Sprintf("exit %d", i.ExitCode)
				}
				line := i.Tool + " " + i.Args
				if len(line) > 100 {
					line = line[:97] + "..."
				}
				fmt.Fprintf(w, "  %-8s %6dms  %s\n", status, i.DurationMs, strings.TrimSpace(line))
			}
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "Maximum number of runs to list")
}
