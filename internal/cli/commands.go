package cli

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/AliothCancer/typed-csv/internal/codegen"
	"github.com/AliothCancer/typed-csv/internal/profile"
	"github.com/AliothCancer/typed-csv/internal/source/csv"
)

// addInputFlags registers the flags that describe the input.
func addInputFlags(fs *pflag.FlagSet) {
	fs.StringP("input", "i", "", "input .csv/.html file, - for stdin, or an http(s) URL")
	fs.String("format", "", "input format: auto, csv or html")
	fs.StringSliceP("null-values", "n", nil, "comma-separated tokens that mean Null (e.g. NA,N/A)")
	fs.StringP("delimiter", "d", "", `field delimiter (one character, or "tab")`)
	fs.Bool("lazy-quotes", false, "allow quotes inside unquoted fields")
	fs.Bool("trim-space", false, "trim leading and trailing whitespace of every field")
	fs.String("encoding", "", fmt.Sprintf("input charset %v", csv.Encodings()))
	fs.String("table-selector", "", "CSS selector of the HTML table")
	fs.Int("table-index", 0, "which matching HTML table to read (0-based)")
	fs.String("cell-match", "", "regexp applied to HTML data cells (group 1 is kept)")
	fs.Duration("http-timeout", 0, "timeout for URL inputs")
}

func addCatalogFlags(fs *pflag.FlagSet) {
	fs.String("catalog-kind", "", "schema catalog backend: sqlite, postgres or mssql")
	fs.String("catalog-dsn", "", "schema catalog connection string")
	fs.String("dataset", "", "catalog name of the dataset (default: input file name)")
}

// inputArg lets the input be given positionally.
func (a *app) inputArg(args []string) {
	if len(args) == 1 {
		a.cfg.Input = args[0]
	}
}

func newGenerateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate [input]",
		Short: "Generate Go types for a CSV file",
		Long: `Profile every column of the input, decide its type and write Go source
(or, with --render json, the intermediate representation) to --output.

Mixed columns are reported as warnings and fall back to a categorical type.
With a catalog configured, the decided schema is compared with the stored one
and replaces it.`,
		Args: usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.inputArg(args)
			ctx := cmd.Context()
			cfg := a.cfg

			ds, err := a.loadDataset(ctx)
			if err != nil {
				return err
			}

			m, closeMetrics := a.metricsBackend(ctx)
			defer closeMetrics()

			policy, err := codegen.ParseFloatLabels(cfg.FloatLabels)
			if err != nil {
				return errors.Mark(err, ErrUsage)
			}
			gen := codegen.NewGenerator(codegen.GeneratorConfig{
				Build:   codegen.Options{FloatLabels: policy},
				Workers: cfg.Workers,
				Logger:  a.log,
				Metrics: m,
			})
			art, err := gen.Run(ctx, ds)
			if err != nil {
				return err
			}

			r, err := codegen.NewRenderer(cfg.Render, cfg.Package)
			if err != nil {
				return errors.Mark(err, ErrUsage)
			}
			var buf bytes.Buffer
			if err := r.Render(&buf, art); err != nil {
				return err
			}

			if cfg.Catalog.Kind != "" {
				if err := a.recordSchema(ctx, art); err != nil {
					return err
				}
			}
			return a.writeOutput(cfg.Output, buf.Bytes())
		},
	}

	fs := cmd.Flags()
	addInputFlags(fs)
	addCatalogFlags(fs)
	fs.StringP("output", "o", "", "output file (default: stdout)")
	fs.String("package", "", "package name of the generated file")
	fs.String("render", "", "output: go or json")
	fs.String("float-labels", "", "floats in categorical columns: decimal or strict")
	fs.IntP("workers", "w", 0, "columns profiled in parallel (0: GOMAXPROCS)")
	fs.Bool("metrics-datadog", false, "submit run metrics to Datadog (DD_API_KEY, DD_SITE)")
	fs.String("metrics-tags", "", "extra Datadog tags, comma separated")
	return cmd
}

func newProfileCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile [input]",
		Short: "Print per-column type counts and unique values",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.inputArg(args)
			ctx := cmd.Context()

			ds, err := a.loadDataset(ctx)
			if err != nil {
				return err
			}
			profiles, err := profile.All(ctx, ds, profile.Options{Workers: a.cfg.Workers})
			if err != nil {
				return err
			}
			return profile.WriteReport(cmd.OutOrStdout(), profiles)
		},
	}
	fs := cmd.Flags()
	addInputFlags(fs)
	fs.IntP("workers", "w", 0, "columns profiled in parallel (0: GOMAXPROCS)")
	return cmd
}

func newSchemaCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema [dataset]",
		Short: "Print the schema stored in the catalog as JSON",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := a.cfg.Dataset()
			if len(args) == 1 {
				name = args[0]
			}
			if name == "" {
				return errors.Mark(errors.New("schema needs a dataset name"), ErrUsage)
			}

			c, err := a.openCatalog(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			s, err := c.LoadSchema(cmd.Context(), name)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(s)
		},
	}
	addCatalogFlags(cmd.Flags())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "csvtypes v%s (commit %s)\n", Version, GitCommit)
		},
	}
}
