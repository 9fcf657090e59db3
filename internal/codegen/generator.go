package codegen

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/AliothCancer/typed-csv/internal/logger"
	"github.com/AliothCancer/typed-csv/internal/metrics"
	"github.com/AliothCancer/typed-csv/internal/profile"
	"github.com/AliothCancer/typed-csv/pkg/dataset"
)

// Stage is the progress of one column through the generator.
// Stages only move forward; a dataset change resets every column.
type Stage uint8

const (
	StageUnprofiled Stage = iota
	StageProfiled
	StageTypeDecided
	StageEmitted
)

func (s Stage) String() string {
	switch s {
	case StageUnprofiled:
		return "unprofiled"
	case StageProfiled:
		return "profiled"
	case StageTypeDecided:
		return "type_decided"
	case StageEmitted:
		return "emitted"
	default:
		return "unknown"
	}
}

// ErrStageOrder is returned when a column would move backwards.
var ErrStageOrder = errors.New("column stage can only move forward")

// GeneratorConfig configures NewGenerator. Zero values are usable.
type GeneratorConfig struct {
	Build   Options
	Workers int
	Logger  *zap.Logger
	Metrics metrics.Backend
}

// Generator runs profile, decide and build over a dataset and keeps the
// stage of every column.
//
// A Generator may be reused for the same dataset; if the dataset's columns
// changed since the last Run, all stages start over.
type Generator struct {
	cfg GeneratorConfig
	log *zap.Logger
	m   metrics.Backend

	mu      sync.Mutex
	version uint64
	stages  []Stage
}

// NewGenerator returns a Generator with nop logging and metrics unless
// configured.
func NewGenerator(cfg GeneratorConfig) *Generator {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Nop{}
	}
	return &Generator{cfg: cfg, log: logger.OrNop(cfg.Logger), m: m}
}

// Stages returns a copy of the per-column stages of the last Run.
func (g *Generator) Stages() []Stage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Stage(nil), g.stages...)
}

// sync resets all stages when the dataset version moved.
func (g *Generator) sync(version uint64, n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stages != nil && g.version == version && len(g.stages) == n {
		return
	}
	g.version = version
	g.stages = make([]Stage, n)
}

func (g *Generator) advance(i int, to Stage) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if i < 0 || i >= len(g.stages) {
		return errors.Newf("column %d outside %d tracked columns", i, len(g.stages))
	}
	if from := g.stages[i]; to != from+1 {
		return errors.Wrapf(ErrStageOrder, "column %d: %s -> %s", i, from, to)
	}
	g.stages[i] = to
	return nil
}

// reset puts every column back to StageUnprofiled so a Run can repeat.
func (g *Generator) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.stages {
		g.stages[i] = StageUnprofiled
	}
}

func (g *Generator) observe(stage string, start time.Time) {
	g.m.ObserveHistogram(metrics.StageDurationSeconds, time.Since(start).Seconds(), metrics.Labels{"stage": stage})
}

// Run profiles every column of ds, decides its shape and builds the
// artifact.
//
// Mixed columns are logged once each at warn level and counted; they do
// not fail the run.
//
// Errors:
//   - dataset.ErrStaleProfile if ds changed during the run.
//   - any error from Build (ErrFloatCategory, ErrNameCollision,
//     ErrInvalidIdentifier).
//   - ctx.Err() when cancelled during profiling.
func (g *Generator) Run(ctx context.Context, ds *dataset.Dataset) (*Artifact, error) {
	start := time.Now()
	profiles, err := profile.All(ctx, ds, profile.Options{Workers: g.cfg.Workers})
	if err != nil {
		return nil, errors.Wrap(err, "profile columns")
	}
	g.observe("profile", start)

	view := ds.View()
	g.sync(view.Version, len(view.Columns))
	g.reset()

	rows := 0
	for i, p := range profiles {
		if p.Version != view.Version {
			return nil, errors.Wrapf(dataset.ErrStaleProfile, "column %q", p.Column.Raw)
		}
		if err := g.advance(i, StageProfiled); err != nil {
			return nil, err
		}
		rows = max(rows, p.Counts.Total())
	}
	g.m.IncCounter(metrics.RowsTotal, float64(rows), nil)
	g.log.Info("profiled dataset", zap.Int("columns", len(profiles)), zap.Int("rows", rows))

	start = time.Now()
	for i, p := range profiles {
		d := Decide(p)
		if err := g.advance(i, StageTypeDecided); err != nil {
			return nil, err
		}
		g.m.IncCounter(metrics.ColumnsTotal, 1, metrics.Labels{"shape": string(d.Shape)})
		if d.Mixed {
			g.m.IncCounter(metrics.MixedColumnsTotal, 1, nil)
			g.log.Warn("column mixes value kinds, falling back to categorical",
				zap.String("column", p.Column.Raw),
				zap.Int("ints", p.Counts.Ints),
				zap.Int("floats", p.Counts.Floats),
				zap.Int("strings", p.Counts.Strings),
			)
			continue
		}
		g.log.Debug("decided column",
			zap.String("column", p.Column.Raw),
			zap.String("shape", string(d.Shape)),
			zap.Int("unique", len(p.UniqueValues)),
		)
	}
	g.observe("decide", start)

	start = time.Now()
	a, err := Build(view, profiles, g.cfg.Build)
	if err != nil {
		return nil, err
	}
	for i := range profiles {
		if err := g.advance(i, StageEmitted); err != nil {
			return nil, err
		}
	}
	g.observe("build", start)
	g.log.Info("built artifact", zap.String("fingerprint", a.Fingerprint), zap.Int("enums", len(a.Enums)))
	return a, nil
}
