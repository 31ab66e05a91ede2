package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"blocklock/pkg/concurrency/lock"
	"blocklock/pkg/tableview"
	"blocklock/pkg/workload"
)

const watchCmdName = "watch"

func newWatchCmd(opts *options) *cobra.Command {
	var refresh time.Duration
	cmd := &cobra.Command{
		Use:       watchCmdName + " [scenario]",
		Short:     "Run a scenario and watch its lock table live",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: workload.Scenarios,
		RunE: func(cmd *cobra.Command, args []string) error {
			scenario := workload.ScenarioDeadlock
			if len(args) == 1 {
				scenario = args[0]
			}
			cfg, err := opts.workloadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			return watch(cmd, cfg, scenario, refresh)
		},
	}
	cmd.Flags().DurationVar(&refresh, "refresh", 100*time.Millisecond, "how often the view polls the lock table")
	return cmd
}

func watch(cmd *cobra.Command, cfg workload.Config, scenario string, refresh time.Duration) error {
	var table atomic.Pointer[lock.LockTable]
	runner, err := workload.NewRunner(cfg, workload.WithTableObserver(table.Store))
	if err != nil {
		return err
	}

	snapshot := func() []lock.QueueView {
		if lt := table.Load(); lt != nil {
			return lt.Snapshot()
		}
		return nil
	}
	title := fmt.Sprintf("lockbench %s · %s", scenario, cfg.Lock.Strategy)
	p := tea.NewProgram(
		tableview.New(title, snapshot, refresh),
		tea.WithAltScreen(),
		tea.WithInput(cmd.InOrStdin()),
		tea.WithOutput(cmd.OutOrStdout()),
	)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		res, err := runner.Run(ctx, scenario)
		p.Send(tableview.DoneMsg{Summary: summarize(res), Err: err})
		done <- err
	}()

	if _, err := p.Run(); err != nil {
		return errors.Wrap(err, "running watch view")
	}
	select {
	case err := <-done:
		return err
	default:
		// Quit before the scenario finished; whatever it reports now is
		// the cancellation.
		cancel()
		<-done
		return nil
	}
}

func summarize(res workload.Result) string {
	return fmt.Sprintf("%d/%d committed in %d attempts, aborts: %s, p99 %s",
		res.Commits, res.Transactions, res.Attempts, formatAborts(res), formatDuration(res.P99Duration))
}
