// Package catalog persists decided schemas so later runs can compare against
// them.
//
// A schema is stored per dataset name as three tables: one row per dataset
// (fingerprint, time saved), one per column and one per categorical variant.
// Saving replaces everything stored under the name.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/AliothCancer/typed-csv/internal/codegen"
)

// ErrSchemaNotFound is returned by LoadSchema when nothing is stored under
// the dataset name.
var ErrSchemaNotFound = errors.New("schema not found")

// Config is the minimal configuration needed to open a catalog.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is
//     backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Variant is one stored categorical value.
type Variant struct {
	Ordinal int    `json:"ordinal"`
	Ident   string `json:"ident"`
	Const   string `json:"const"`
	Label   string `json:"label"`
	Kind    string `json:"kind"`
}

// Column is one stored column decision.
type Column struct {
	Position  int       `json:"position"`
	RawName   string    `json:"raw_name"`
	Sanitized string    `json:"sanitized"`
	TypeName  string    `json:"type_name"`
	Shape     string    `json:"shape"`
	Mixed     bool      `json:"mixed"`
	Variants  []Variant `json:"variants,omitempty"`
}

// Schema is everything stored for one dataset name.
type Schema struct {
	Dataset     string    `json:"dataset"`
	Fingerprint string    `json:"fingerprint"`
	SavedAt     time.Time `json:"saved_at"`
	Columns     []Column  `json:"columns"`
}

// FromArtifact converts a built artifact into a storable schema. SavedAt is
// left zero; backends stamp it on save.
func FromArtifact(dataset string, a *codegen.Artifact) (Schema, error) {
	s := Schema{Dataset: dataset, Fingerprint: a.Fingerprint}
	for i, f := range a.Container.Fields {
		e, ok := a.Enum(f.Enum)
		if !ok {
			return Schema{}, errors.Newf("field %s refers to unknown enum %s", f.Name, f.Enum)
		}
		c := Column{
			Position:  i,
			RawName:   f.RawName,
			Sanitized: f.Sanitized,
			TypeName:  e.Name,
			Shape:     string(e.Shape),
			Mixed:     e.Mixed,
		}
		for j, v := range e.Variants {
			c.Variants = append(c.Variants, Variant{
				Ordinal: j,
				Ident:   v.Ident,
				Const:   v.Const,
				Label:   v.Label,
				Kind:    v.Kind.String(),
			})
		}
		s.Columns = append(s.Columns, c)
	}
	return s, s.Validate()
}

// Validate checks the fields every backend relies on.
func (s Schema) Validate() error {
	if strings.TrimSpace(s.Dataset) == "" {
		return errors.WithHint(errors.New("catalog: dataset name is empty"), "set dataset_name or --dataset")
	}
	for i, c := range s.Columns {
		if c.Position != i {
			return errors.Newf("catalog: column %q at index %d has position %d", c.RawName, i, c.Position)
		}
	}
	return nil
}

// Catalog stores and loads schemas.
type Catalog interface {
	// EnsureSchema creates the catalog tables if they do not exist. It is
	// idempotent and safe to run on every invocation.
	EnsureSchema(ctx context.Context) error

	// SaveSchema replaces everything stored under s.Dataset in one
	// transaction.
	SaveSchema(ctx context.Context, s Schema) error

	// LoadSchema returns the stored schema or ErrSchemaNotFound.
	LoadSchema(ctx context.Context, dataset string) (Schema, error)

	// Close releases backend resources. Call it once.
	Close()
}

// Factory opens a catalog backend.
type Factory func(ctx context.Context, cfg Config) (Catalog, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend under kind. Backend packages call it from
// init.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("catalog: Register called with empty kind")
	}
	if f == nil {
		panic("catalog: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("catalog: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Kinds lists the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New opens the catalog of the registered backend for cfg.Kind.
//
// Errors:
//   - cfg.Kind empty or not registered.
//   - whatever the backend factory returns.
func New(ctx context.Context, cfg Config) (Catalog, error) {
	if cfg.Kind == "" {
		return nil, errors.New("catalog: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, errors.WithHint(
			errors.Newf("unsupported catalog.kind=%s", cfg.Kind),
			"registered kinds: "+strings.Join(Kinds(), ", "))
	}
	c, err := f(ctx, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s catalog", cfg.Kind)
	}
	return c, nil
}
