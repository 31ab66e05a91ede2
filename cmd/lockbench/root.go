package main

import (
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"blocklock/pkg/concurrency/lock"
	"blocklock/pkg/logging"
	"blocklock/pkg/workload"
)

// strategyValue lets --strategy accept the names ParseStrategyKind knows.
type strategyValue struct {
	kind lock.StrategyKind
}

var _ pflag.Value = (*strategyValue)(nil)

func (v *strategyValue) String() string { return v.kind.String() }

func (v *strategyValue) Set(s string) error {
	kind, err := lock.ParseStrategyKind(s)
	if err != nil {
		return err
	}
	v.kind = kind
	return nil
}

func (v *strategyValue) Type() string { return "strategy" }

type options struct {
	configPath  string
	strategy    strategyValue
	maxWait     time.Duration
	rounds      int
	blocks      int
	think       time.Duration
	jsonPath    string
	metricsAddr string
	logLevel    string
	logFile     string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "lockbench",
		Short:         "Exercise the block lock manager under concurrent workloads",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.initLogging(cmd.Name() == watchCmdName)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return logging.Close()
		},
	}

	opts.bindFlags(root.PersistentFlags())

	root.AddCommand(
		newScenarioCmd(opts, workload.ScenarioDeadlock,
			"Two transactions per round take blocks A and B in opposite orders"),
		newScenarioCmd(opts, workload.ScenarioContention,
			"One reader scans every block while one writer per block updates it"),
		newAllCmd(opts),
		newWatchCmd(opts),
	)
	return root
}

func (o *options) bindFlags(flags *pflag.FlagSet) {
	defaults := workload.DefaultConfig()
	o.strategy.kind = defaults.Lock.Strategy
	flags.StringVarP(&o.configPath, "config", "c", "", "YAML workload config; flags override its values")
	flags.VarP(&o.strategy, "strategy", "s", "conflict resolution strategy: timeout, wait-die, wound-wait or graph")
	flags.DurationVar(&o.maxWait, "max-wait", defaults.Lock.MaxWait, "longest a request waits under the timeout strategy")
	flags.IntVar(&o.rounds, "rounds", defaults.Rounds, "rounds per scenario")
	flags.IntVar(&o.blocks, "blocks", defaults.Blocks, "blocks touched by the contention scenario")
	flags.DurationVar(&o.think, "think", defaults.Think, "pause between the steps of a transaction")
	flags.StringVar(&o.jsonPath, "json", "", "also write the report as JSON to this file")
	flags.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	flags.StringVar(&o.logLevel, "log-level", "warn", "debug, info, warn or error")
	flags.StringVar(&o.logFile, "log-file", "", "write logs to this file instead of stderr")
}

// initLogging installs the process logger. The watch view owns the
// terminal, so unless --log-file is given its logs are discarded.
func (o *options) initLogging(quiet bool) error {
	level, err := logging.ParseLevel(o.logLevel)
	if err != nil {
		return err
	}
	cfg := logging.Config{
		Level:      level,
		OutputPath: o.logFile,
		Format:     logging.FormatText,
	}
	if quiet && o.logFile == "" {
		cfg.Writer = io.Discard
	}
	// A previous command in the same process may have failed before its
	// post-run hook closed the logger.
	if err := logging.Close(); err != nil {
		return err
	}
	return logging.Init(cfg)
}

// workloadConfig loads --config when given and applies every flag the user
// set explicitly on top of it.
func (o *options) workloadConfig(flags *pflag.FlagSet) (workload.Config, error) {
	cfg := workload.DefaultConfig()
	if o.configPath != "" {
		loaded, err := workload.LoadConfig(o.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	if flags.Changed("strategy") {
		cfg.Lock.Strategy = o.strategy.kind
	}
	if flags.Changed("max-wait") {
		cfg.Lock.MaxWait = o.maxWait
	}
	if flags.Changed("rounds") {
		cfg.Rounds = o.rounds
	}
	if flags.Changed("blocks") {
		cfg.Blocks = o.blocks
	}
	if flags.Changed("think") {
		cfg.Think = o.think
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}
