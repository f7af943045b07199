package cmd

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/caretaker/internal/errors"
	"github.com/felixgeelhaar/caretaker/internal/pipeline"
	"github.com/felixgeelhaar/caretaker/internal/progress"
	"github.com/felixgeelhaar/caretaker/internal/scheduler"
)

var runCmd = &cobra.Command{
	Use:   "run [owner/name...]",
	Short: "Run the maintenance pipeline once",
	Long: `Run the maintenance pipeline once over the configured repositories, or over
the repositories given as arguments, and print a summary.

Repository failures are reported in the summary and never change the exit
code; only configuration errors do.

Examples:
  # Run over github.repositories from caretaker.yaml
  caretaker run

  # Run over two repositories with 2 workers
  caretaker run acme/api acme/web --workers 2`,
	RunE: runRun,
}

var (
	runWorkers int
	runQuiet   bool
)

func init() {
	runCmd.Flags().IntVarP(&runWorkers, "workers", "w", 0, "override concurrency.max_workers")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "disable the progress spinner")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	repos := cfg.Repositories()
	if len(args) > 0 {
		repos = args
	}
	if len(repos) == 0 {
		return errors.NewConfigError("no repositories to process", nil).
			WithSuggestion("Set github.repositories or pass owner/name arguments")
	}

	workers := cfg.Concurrency.MaxWorkers
	if runWorkers > 0 {
		workers = runWorkers
	}

	indicator := progress.NewIndicator(progress.Config{
		Writer:      cmd.ErrOrStderr(),
		Total:       len(repos),
		ShowSpinner: !runQuiet,
	})

	a, err := newApp(ctx, cfg, logger, nil, indicator)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	start := time.Now()
	indicator.Start()
	outcomes := a.scheduler.RunAll(ctx, repos, workers)
	indicator.Stop()
	renderSummary(cmd.OutOrStdout(), outcomes, time.Since(start))
	return nil
}

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99")).Padding(0, 1)
	cellStyle     = lipgloss.NewStyle().Padding(0, 1)
	doneStyle     = cellStyle.Foreground(lipgloss.Color("42"))
	degradedStyle = cellStyle.Foreground(lipgloss.Color("214"))
	failedStyle   = cellStyle.Foreground(lipgloss.Color("196"))
	footerStyle   = lipgloss.NewStyle().Faint(true)
)

const outcomeColumn = 1

// summaryRows renders one row per repository, sorted by repository id.
func summaryRows(outcomes map[string]scheduler.Outcome) [][]string {
	repos := make([]string, 0, len(outcomes))
	for repo := range outcomes {
		repos = append(repos, repo)
	}
	sort.Strings(repos)

	rows := make([][]string, 0, len(repos))
	for _, repo := range repos {
		o := outcomes[repo]
		row := []string{repo, string(o.Status), "-", "-", "-", "-", "-", truncate(o.Reason, 60)}
		if run := o.Run; run != nil {
			var degraded, skipped int
			for _, st := range run.Stages {
				switch st.Status {
				case pipeline.StatusDegraded:
					degraded++
				case pipeline.StatusSkipped:
					skipped++
				}
			}
			row[2] = run.Branch
			row[3] = fmt.Sprintf("%d/%d/%d", len(run.Stages)-degraded-skipped, degraded, skipped)
			row[4] = strconv.Itoa(len(run.Report.Commits))
			row[5] = strconv.Itoa(len(run.Report.Issues) + len(run.Report.PullRequests))
			row[6] = run.Duration().Round(time.Millisecond).String()
		}
		rows = append(rows, row)
	}
	return rows
}

func renderSummary(w io.Writer, outcomes map[string]scheduler.Outcome, elapsed time.Duration) {
	rows := summaryRows(outcomes)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("REPOSITORY", "OUTCOME", "BRANCH", "STAGES ok/deg/skip", "COMMITS", "ISSUES+PRS", "DURATION", "REASON").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col != outcomeColumn || row < 0 || row >= len(rows) {
				return cellStyle
			}
			switch pipeline.Outcome(rows[row][outcomeColumn]) {
			case pipeline.OutcomeDone:
				return doneStyle
			case pipeline.OutcomeDegraded:
				return degradedStyle
			default:
				return failedStyle
			}
		})

	counts := map[pipeline.Outcome]int{}
	for _, o := range outcomes {
		counts[o.Status]++
	}

	fmt.Fprintln(w, t.String())
	fmt.Fprintln(w, footerStyle.Render(fmt.Sprintf("%d repositories in %s: %d done, %d degraded, %d failed",
		len(outcomes), elapsed.Round(time.Millisecond),
		counts[pipeline.OutcomeDone], counts[pipeline.OutcomeDegraded], counts[pipeline.OutcomeFailed])))
}

func truncate(s string, n int) string {
	for i, r := range s {
		if r == '\n' {
			s = s[:i]
			break
		}
	}
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
