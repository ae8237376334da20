package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/mesolab/batchkeeper/internal/config"
	"github.com/mesolab/batchkeeper/pkg/discover"
	"github.com/mesolab/batchkeeper/pkg/tracker"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List tracker files and their run state",
	Long: `Scan the processed-data tree for tracker files and print one line per
tracker with its current run state.

Examples:
  batchkeeper status
  batchkeeper status --pattern 'cortex/**/*.yaml'
  batchkeeper status --root /workdir/processed_data`,
	RunE: runStatus,
}

var (
	statusPattern string
	statusRoot    string
)

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusPattern, "pattern", "", "Doublestar glob scoping the scan (default entire tree)")
	statusCmd.Flags().StringVar(&statusRoot, "root", "", "Override the processed-data root")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	root := cfg.ProcessedDataRoot
	if statusRoot != "" {
		root = statusRoot
	}

	summaries, err := discover.Scan(root, statusPattern, tracker.WithLockTimeout(cfg.LockTimeout))
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Tracker scan failed", err)
	}
	if len(summaries) == 0 {
		fmt.Println("No tracker files found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tSTATE\tMANAGER\tJOBS\tPATH")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n",
			s.Kind, stateWord(s.State), managerWord(s.State.Manager),
			s.State.CompletedJobs, s.State.JobCount, s.Path)
	}
	return w.Flush()
}

func stateWord(st tracker.State) string {
	switch {
	case st.Running:
		return "running"
	case st.Error:
		return "error"
	case st.Complete:
		return "complete"
	default:
		return "idle"
	}
}

func managerWord(id int) string {
	if id == tracker.UnownedID {
		return "-"
	}
	return fmt.Sprintf("%d", id)
}
