package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"blocklock/pkg/concurrency/lock"
	"blocklock/pkg/logging"
	"blocklock/pkg/workload"
)

func newScenarioCmd(opts *options, scenario, short string) *cobra.Command {
	return &cobra.Command{
		Use:   scenario,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScenarios(cmd, opts, []string{scenario})
		},
	}
}

func newAllCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run every scenario under every strategy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMatrix(cmd, opts)
		},
	}
}

func runScenarios(cmd *cobra.Command, opts *options, scenarios []string) error {
	cfg, err := opts.workloadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	return execute(cmd, opts, []workload.Config{cfg}, scenarios)
}

func runMatrix(cmd *cobra.Command, opts *options) error {
	base, err := opts.workloadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	cfgs := make([]workload.Config, 0, len(lock.StrategyKinds))
	for _, kind := range lock.StrategyKinds {
		cfg := base
		cfg.Lock.Strategy = kind
		cfgs = append(cfgs, cfg)
	}
	return execute(cmd, opts, cfgs, workload.Scenarios)
}

// execute runs every scenario under every config and prints one report.
func execute(cmd *cobra.Command, opts *options, cfgs []workload.Config, scenarios []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	reg := prometheus.NewRegistry()
	metrics := lock.NewMetrics(reg)
	if opts.metricsAddr != "" {
		srv, err := startMetricsServer(opts.metricsAddr, reg)
		if err != nil {
			return err
		}
		defer shutdownMetricsServer(srv)
	}

	report, err := runReport(ctx, cfgs, scenarios, workload.WithMetrics(metrics))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printReport(out, report)
	if opts.jsonPath != "" {
		if err := saveJSONReport(report, opts.jsonPath); err != nil {
			return err
		}
		printSaved(out, opts.jsonPath)
	}
	return nil
}

func runReport(
	ctx context.Context, cfgs []workload.Config, scenarios []string, runOpts ...workload.Option,
) (workload.Report, error) {
	logger := logging.WithComponent("lockbench")
	report := workload.Report{StartTime: time.Now()}

	for _, cfg := range cfgs {
		runner, err := workload.NewRunner(cfg, runOpts...)
		if err != nil {
			return report, err
		}
		for _, scenario := range scenarios {
			logger.Info("running scenario", "scenario", scenario, "strategy", cfg.Lock.Strategy.String())
			res, err := runner.Run(ctx, scenario)
			if err != nil {
				return report, err
			}
			report.Results = append(report.Results, res)
		}
	}

	report.EndTime = time.Now()
	report.TotalDuration = report.EndTime.Sub(report.StartTime)
	return report, nil
}

func printSaved(w io.Writer, path string) {
	_, _ = io.WriteString(w, mutedStyle.Render("JSON report saved: "+path)+"\n")
}
