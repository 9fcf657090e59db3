package cli

import (
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/AliothCancer/typed-csv/internal/codegen"
	"github.com/AliothCancer/typed-csv/internal/source"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates nesting levels: CSVTYPES_CATALOG__DSN sets catalog.dsn.
const EnvPrefix = "CSVTYPES_"

// DefaultConfigFiles are looked up in the working directory when --config
// is not given.
var DefaultConfigFiles = []string{"csvtypes.yaml", "csvtypes.yml"}

// ErrUsage marks errors caused by invalid flags or configuration.
var ErrUsage = errors.New("usage error")

// CatalogConfig selects the schema catalog. An empty Kind disables it.
type CatalogConfig struct {
	Kind string `koanf:"kind"`
	DSN  string `koanf:"dsn"`
}

// MetricsConfig enables the Datadog backend.
type MetricsConfig struct {
	Datadog    bool          `koanf:"datadog"`
	Tags       string        `koanf:"tags"`
	FlushEvery time.Duration `koanf:"flush_every"`
}

// LogConfig controls the logger encoder.
type LogConfig struct {
	JSON bool `koanf:"json"`
}

// Config is the merged configuration of one invocation.
type Config struct {
	Input        string        `koanf:"input"`
	Format       string        `koanf:"format"`
	Delimiter    string        `koanf:"delimiter"`
	LazyQuotes   bool          `koanf:"lazy_quotes"`
	TrimSpace    bool          `koanf:"trim_space"`
	Encoding     string        `koanf:"encoding"`
	HTMLSelector string        `koanf:"html_selector"`
	HTMLIndex    int           `koanf:"html_index"`
	HTMLMatch    string        `koanf:"html_match"`
	HTTPTimeout  time.Duration `koanf:"http_timeout"`
	NullValues   []string      `koanf:"null_values"`

	Package     string `koanf:"package"`
	Output      string `koanf:"output"`
	Render      string `koanf:"render"`
	FloatLabels string `koanf:"float_labels"`
	Workers     int    `koanf:"workers"`
	DatasetName string `koanf:"dataset_name"`

	Catalog CatalogConfig `koanf:"catalog"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
	Verbose int           `koanf:"verbose"`

	// ConfigFile is the file that was loaded, if any.
	ConfigFile string `koanf:"-"`
}

func defaults() map[string]any {
	return map[string]any{
		"format":              "auto",
		"delimiter":           ",",
		"encoding":            "utf-8",
		"html_selector":       "table",
		"http_timeout":        "30s",
		"package":             codegen.DefaultPackage,
		"render":              "go",
		"float_labels":        string(codegen.FloatLabelsDecimal),
		"workers":             0,
		"metrics.flush_every": "60s",
		"verbose":             0,
	}
}

// flagKeys maps flags whose config key is not the snake_case flag name.
var flagKeys = map[string]string{
	"catalog-kind":    "catalog.kind",
	"catalog-dsn":     "catalog.dsn",
	"metrics-datadog": "metrics.datadog",
	"metrics-tags":    "metrics.tags",
	"log-json":        "log.json",
	"table-selector":  "html_selector",
	"table-index":     "html_index",
	"cell-match":      "html_match",
	"dataset":         "dataset_name",
}

// envKey maps CSVTYPES_CATALOG__DSN to catalog.dsn.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

func flagKey(f *pflag.Flag) string {
	if k, ok := flagKeys[f.Name]; ok {
		return k
	}
	return strings.ReplaceAll(f.Name, "-", "_")
}

func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range DefaultConfigFiles {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// Load merges configuration with precedence flags > env > file > defaults.
// Only flags that were set on the command line take part.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, errors.Wrap(err, "load defaults")
	}

	used := findConfigFile(cfgFile)
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "read config file %s", used), ErrUsage)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, errors.Wrap(err, "load env vars")
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			return flagKey(f), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, errors.Wrap(err, "load flags")
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decode config"), ErrUsage)
	}
	cfg.ConfigFile = used
	cfg.NullValues = trimTokens(cfg.NullValues)
	return &cfg, nil
}

// trimTokens trims every null sentinel. A blank token stays as "", which
// is a valid sentinel.
func trimTokens(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.TrimSpace(s)
	}
	return out
}

// Comma returns the delimiter rune. "tab" and `\t` name a tab.
func (c *Config) Comma() (rune, error) {
	switch c.Delimiter {
	case "tab", `\t`:
		return '\t', nil
	case "":
		return ',', nil
	}
	if utf8.RuneCountInString(c.Delimiter) != 1 {
		return 0, errors.Mark(errors.Newf("delimiter must be one character, got %q", c.Delimiter), ErrUsage)
	}
	r, _ := utf8.DecodeRuneInString(c.Delimiter)
	return r, nil
}

// SourceFormat parses Format.
func (c *Config) SourceFormat() (source.Format, error) {
	f, err := source.ParseFormat(c.Format)
	return f, errors.Mark(err, ErrUsage)
}

// Dataset returns the catalog name: DatasetName, or the input base name
// without extension.
func (c *Config) Dataset() string {
	if strings.TrimSpace(c.DatasetName) != "" {
		return strings.TrimSpace(c.DatasetName)
	}
	if c.Input == "" || c.Input == source.Stdin {
		return ""
	}
	base := filepath.Base(c.Input)
	if source.IsURL(c.Input) {
		base = c.Input[strings.LastIndex(c.Input, "/")+1:]
		if i := strings.IndexAny(base, "?#"); i >= 0 {
			base = base[:i]
		}
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Validate checks option values that do not depend on the input.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Comma(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.SourceFormat(); err != nil {
		errs = append(errs, err)
	}
	if _, err := codegen.ParseFloatLabels(c.FloatLabels); err != nil {
		errs = append(errs, err)
	}
	if _, err := codegen.NewRenderer(c.Render, c.Package); err != nil {
		errs = append(errs, err)
	}
	if !token.IsIdentifier(c.Package) {
		errs = append(errs, errors.Newf("package %q is not a Go identifier", c.Package))
	}
	if c.Workers < 0 {
		errs = append(errs, errors.Newf("workers must be >= 0, got %d", c.Workers))
	}
	if c.HTMLIndex < 0 {
		errs = append(errs, errors.Newf("html_index must be >= 0, got %d", c.HTMLIndex))
	}
	if c.Catalog.Kind != "" && strings.TrimSpace(c.Catalog.DSN) == "" {
		errs = append(errs, errors.WithHint(
			errors.Newf("catalog.kind=%s needs catalog.dsn", c.Catalog.Kind),
			"set --catalog-dsn or CSVTYPES_CATALOG__DSN"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Mark(errors.Join(errs...), ErrUsage)
}
