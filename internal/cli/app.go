package cli

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/AliothCancer/typed-csv/internal/catalog"
	_ "github.com/AliothCancer/typed-csv/internal/catalog/all"
	"github.com/AliothCancer/typed-csv/internal/codegen"
	"github.com/AliothCancer/typed-csv/internal/metrics"
	"github.com/AliothCancer/typed-csv/internal/metrics/datadog"
	"github.com/AliothCancer/typed-csv/internal/source"
	"github.com/AliothCancer/typed-csv/internal/source/csv"
	"github.com/AliothCancer/typed-csv/internal/source/html"
	"github.com/AliothCancer/typed-csv/pkg/cell"
	"github.com/AliothCancer/typed-csv/pkg/dataset"
)

// loadDataset resolves the configured input and classifies it.
func (a *app) loadDataset(ctx context.Context) (*dataset.Dataset, error) {
	cfg := a.cfg
	format, err := cfg.SourceFormat()
	if err != nil {
		return nil, err
	}
	in, err := source.Resolve(source.Input{Name: cfg.Input, Format: format})
	if err != nil {
		return nil, errors.Mark(err, ErrUsage)
	}
	comma, err := cfg.Comma()
	if err != nil {
		return nil, err
	}

	loader := source.NewLoader(nil, cfg.HTTPTimeout, a.streams.In)
	rc, err := loader.Open(ctx, in)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	rr, err := source.Records(rc, in.Format, source.Options{
		CSV: csv.Options{
			Comma:      comma,
			LazyQuotes: cfg.LazyQuotes,
			TrimSpace:  cfg.TrimSpace,
			Encoding:   cfg.Encoding,
		},
		HTML: html.Options{
			Selector: cfg.HTMLSelector,
			Index:    cfg.HTMLIndex,
			Match:    cfg.HTMLMatch,
		},
	})
	if err != nil {
		return nil, err
	}

	ds, err := dataset.New(rr, cell.NewNullSentinels(cfg.NullValues...))
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", in.Name)
	}
	a.log.Info("loaded input",
		zap.String("input", in.Name),
		zap.String("format", string(in.Format)),
		zap.Int("columns", ds.Len()),
		zap.Strings("null_values", cfg.NullValues),
	)
	return ds, nil
}

// metricsBackend returns the configured backend and a func that closes it.
// A backend that fails to start is logged and replaced by metrics.Nop.
func (a *app) metricsBackend(ctx context.Context) (metrics.Backend, func()) {
	if !a.cfg.Metrics.Datadog {
		return metrics.Nop{}, func() {}
	}
	tags := datadog.ParseTagsCSV(a.cfg.Metrics.Tags)
	b, err := datadog.NewBackend(ctx, datadog.Options{
		JobName:    a.cfg.Dataset(),
		Tags:       tags,
		FlushEvery: a.cfg.Metrics.FlushEvery,
	})
	if err != nil {
		a.log.Warn("metrics: datadog backend unavailable, using nop", zap.Error(err))
		return metrics.Nop{}, func() {}
	}
	a.log.Info("metrics: datadog backend enabled", zap.Strings("tags", tags))
	return b, func() {
		if err := b.Close(); err != nil {
			a.log.Warn("metrics: datadog close/flush error", zap.Error(err))
		}
	}
}

// openCatalog opens the configured catalog and ensures its tables.
func (a *app) openCatalog(ctx context.Context) (catalog.Catalog, error) {
	if a.cfg.Catalog.Kind == "" {
		return nil, errors.Mark(errors.WithHint(
			errors.New("no catalog configured"),
			"set --catalog-kind (sqlite, postgres, mssql) and --catalog-dsn"), ErrUsage)
	}
	c, err := catalog.New(ctx, catalog.Config{Kind: a.cfg.Catalog.Kind, DSN: a.cfg.Catalog.DSN})
	if err != nil {
		return nil, err
	}
	if err := c.EnsureSchema(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// recordSchema compares art with the schema stored under the dataset name,
// logs any drift and stores art in its place.
func (a *app) recordSchema(ctx context.Context, art *codegen.Artifact) error {
	name := a.cfg.Dataset()
	if name == "" {
		return errors.Mark(errors.WithHint(
			errors.New("catalog needs a dataset name"),
			"set --dataset when reading from stdin"), ErrUsage)
	}

	c, err := a.openCatalog(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	prev, err := c.LoadSchema(ctx, name)
	switch {
	case errors.Is(err, catalog.ErrSchemaNotFound):
		a.log.Info("catalog: first schema for dataset", zap.String("dataset", name))
	case err != nil:
		return err
	case prev.Fingerprint != art.Fingerprint:
		a.log.Warn("catalog: schema changed since last run",
			zap.String("dataset", name),
			zap.String("previous", prev.Fingerprint),
			zap.String("current", art.Fingerprint),
			zap.Time("previous_saved_at", prev.SavedAt),
		)
	default:
		a.log.Info("catalog: schema unchanged", zap.String("dataset", name))
	}

	s, err := catalog.FromArtifact(name, art)
	if err != nil {
		return err
	}
	return c.SaveSchema(ctx, s)
}

// writeOutput writes data to path, or to stdout when path is blank or "-".
func (a *app) writeOutput(path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := a.streams.Out.Write(data)
		return err
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return errors.Wrap(err, "create output directory")
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "write output")
	}
	a.log.Info("wrote output", zap.String("path", path), zap.Int("bytes", len(data)))
	return nil
}
