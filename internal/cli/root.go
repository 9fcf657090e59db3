// Package cli provides the csvtypes command-line interface.
package cli

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/AliothCancer/typed-csv/internal/logger"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

// Streams are the process's standard streams.
type Streams struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// app is the state shared by the commands of one invocation.
type app struct {
	cfgFile string
	streams Streams
	cfg     *Config
	log     *zap.Logger
}

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd(streams Streams) *cobra.Command {
	a := &app{streams: streams}

	root := &cobra.Command{
		Use:   "csvtypes",
		Short: "Infer column types of a CSV and generate Go types for it",
		Long: `csvtypes reads a CSV file (or an HTML table) without a declared schema,
profiles every column and generates Go source: one type per column, a Column
enumeration and a DataFrame container with a constructor.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			cfg, err := Load(a.cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			a.cfg = cfg
			a.log = logger.New(logger.Options{JSON: cfg.Log.JSON, Verbosity: cfg.Verbose, Out: cmd.ErrOrStderr()})
			if cfg.ConfigFile != "" {
				a.log.Info("using config file", zap.String("path", cfg.ConfigFile))
			}
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(streams.In)
	root.SetOut(streams.Out)
	root.SetErr(streams.Err)
	root.SetVersionTemplate("{{.Name}} {{.Version}}\n")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return errors.Mark(err, ErrUsage)
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default: ./csvtypes.yaml)")
	pf.CountP("verbose", "v", "log progress (-v) and per-column decisions (-vv) to stderr")
	pf.Bool("log-json", false, "log as JSON instead of console text")

	root.AddCommand(newGenerateCmd(a))
	root.AddCommand(newProfileCmd(a))
	root.AddCommand(newSchemaCmd(a))
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the root command with args and returns the process exit
// code: 0 on success, 2 for usage or configuration errors, 1 otherwise.
// Errors and their hints are printed to streams.Err.
func Execute(ctx context.Context, args []string, streams Streams) int {
	root := NewRootCmd(streams)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	PrintError(streams.Err, err)
	return ExitCode(err)
}

// ExitCode maps an error returned by a command to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrUsage):
		return 2
	default:
		return 1
	}
}

// PrintError writes err and any hints attached to it.
func PrintError(w io.Writer, err error) {
	_, _ = io.WriteString(w, "Error: "+err.Error()+"\n")
	for _, h := range errors.GetAllHints(err) {
		_, _ = io.WriteString(w, "hint: "+h+"\n")
	}
}

// usageArgs marks cobra's positional argument errors as usage errors.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		return errors.Mark(check(cmd, args), ErrUsage)
	}
}
