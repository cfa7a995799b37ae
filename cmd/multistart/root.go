package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/copyleftdev/multistart/internal/logging"
)

// app carries state shared by the subcommands.
type app struct {
	logLevel  string
	logFormat string

	logger *logging.Logger
	zap    *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "multistart",
		Short: "Multistart global optimization with annealed restarts",
		Long: `multistart minimizes benchmark objectives by combining random restarts
with a cooling pull toward the best point found so far. Each restart is
refined by a local optimizer (BFGS, L-BFGS or Nelder-Mead).`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.logger = logging.NewWithFormat(logging.ParseLevel(a.logLevel), logging.ParseFormat(a.logFormat), cmd.ErrOrStderr())
			a.zap = logging.NewZapLogger(a.logger)
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "text", "Log format (json, text)")

	rootCmd.AddCommand(
		newRunCmd(a),
		newObjectivesCmd(),
		newVersionCmd(),
	)
	return rootCmd
}
