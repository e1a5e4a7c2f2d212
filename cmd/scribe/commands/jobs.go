package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/pulse/async"
	"github.com/teranos/scribe/sym"
)

// JobsCmd shows the job history recorded by past runs.
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: sym.Prefix("jobs") + sym.CommandDescriptions["jobs"],
	Long: sym.Pulse + ` jobs: job history

Every phase change of every job is recorded, so past runs can be inspected
after the process exits.

Examples:
  scribe jobs ls
  scribe jobs ls --phase failed_permanently
  scribe jobs stats`,
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List jobs, most recently updated first",
	Args:  cobra.NoArgs,
	RunE:  runJobsLs,
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count recorded jobs by phase",
	Args:  cobra.NoArgs,
	RunE:  runJobsStats,
}

var (
	jobsPhase string
	jobsLimit int
	jobsJSON  bool
)

func init() {
	jobsLsCmd.Flags().StringVar(&jobsPhase, "phase", "", "Only jobs in this phase")
	jobsLsCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 50, "Maximum jobs to list")
	JobsCmd.PersistentFlags().BoolVar(&jobsJSON, "json", false, "Output as JSON")

	JobsCmd.AddCommand(jobsLsCmd)
	JobsCmd.AddCommand(jobsStatsCmd)
}

func openHistory() (*async.HistoryStore, func() error, error) {
	_, database, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	return async.NewHistoryStore(database), database.Close, nil
}

// parsePhase validates a --phase value. Empty means all phases.
func parsePhase(s string) (*async.Phase, error) {
	if s == "" {
		return nil, nil
	}
	p := async.Phase(s)
	if !p.Valid() {
		return nil, errors.WithHintf(errors.NewInvalidRequestError("unknown phase %q", s),
			"phases: %v", async.Phases)
	}
	return &p, nil
}

func runJobsLs(cmd *cobra.Command, args []string) error {
	phase, err := parsePhase(jobsPhase)
	if err != nil {
		return err
	}
	history, closeDB, err := openHistory()
	if err != nil {
		return err
	}
	defer closeDB()

	jobs, err := history.List(cmd.Context(), phase, jobsLimit)
	if err != nil {
		return err
	}
	if jobsJSON {
		return printJSON(jobs)
	}
	if len(jobs) == 0 {
		pterm.Info.Println("No jobs recorded")
		return nil
	}
	return pterm.DefaultTable.WithHasHeader().WithData(jobTable(jobs)).Render()
}

func runJobsStats(cmd *cobra.Command, args []string) error {
	history, closeDB, err := openHistory()
	if err != nil {
		return err
	}
	defer closeDB()

	counts, err := history.CountByPhase(cmd.Context())
	if err != nil {
		return err
	}
	if jobsJSON {
		return printJSON(counts)
	}

	data := pterm.TableData{{"PHASE", "JOBS"}}
	for _, p := range async.Phases {
		if n := counts[p]; n > 0 {
			data = append(data, []string{phaseLabel(p), pterm.Sprint(n)})
		}
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
