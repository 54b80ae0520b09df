package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wonny/otcseller/internal/scheduler"
	"github.com/wonny/otcseller/internal/scheduler/jobs"
)

var (
	pollerCmd = &cobra.Command{
		Use:   "poller",
		Short: "Complete filled orders on a schedule",
		Long: `Sweep settled orders and complete the ones the protocol has filled.

The schedule is POLL_SCHEDULE (cron with seconds, default every two minutes).
Orders still unfilled after validTo are reported and left for cancel.

Example:
  otcseller poller
  otcseller poller --once`,
		RunE: runPoller,
	}

	pollOnce bool
)

func init() {
	rootCmd.AddCommand(pollerCmd)

	pollerCmd.Flags().BoolVar(&pollOnce, "once", false, "run a single sweep and exit")
}

// newPoller registers the completion job; the seller itself is the caller
func newPoller(a *app, s *seller) (*scheduler.Scheduler, error) {
	sched := scheduler.New(a.log)
	job := jobs.NewCompletionJob(s.ledger, s.engine, s.env.Deployment.Seller, a.cfg.Seller.PollSchedule, a.log)
	if err := sched.AddJob(job); err != nil {
		return nil, fmt.Errorf("schedule %s: %w", job.Name(), err)
	}
	return sched, nil
}

func runPoller(cmd *cobra.Command, args []string) error {
	a, s, err := openForCommand(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if pollOnce {
		job := jobs.NewCompletionJob(s.ledger, s.engine, s.env.Deployment.Seller, "", a.log)
		summary, err := job.Sweep(cmd.Context())
		if !printJSON(summary) {
			printHeader("Completion sweep")
			printField("Checked", summary.Checked)
			printField("Completed", summary.Completed)
			printField("Pending", summary.Pending)
			printField("Expired", summary.Expired)
			printField("Failed", summary.Failed)
			printFooter()
		}
		return err
	}

	sched, err := newPoller(a, s)
	if err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	fmt.Printf("✅ Poller running (%s)\n", a.cfg.Seller.PollSchedule)
	fmt.Println("Press Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	for name, stats := range sched.GetJobStats() {
		a.log.WithFields(map[string]interface{}{
			"job":     name,
			"runs":    stats.TotalRuns,
			"success": stats.SuccessCount,
			"failed":  stats.FailureCount,
		}).Info("Poller stopped")
	}
	return nil
}
