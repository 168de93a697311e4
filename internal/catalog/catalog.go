// Package catalog loads the static arc catalog from YAML and seeds it into
// the store. The engines only ever read what this package wrote.
package catalog

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/quantumlife/daybreak/internal/core"
)

//go:embed default.yaml
var defaultCatalog []byte

// Catalog is a parsed, validated set of arcs.
type Catalog struct {
	Arcs []Arc
}

// Arc is a definition together with its ordered steps.
type Arc struct {
	Definition core.ArcDefinition
	Steps      []core.ArcStep
}

type fileDoc struct {
	Arcs []arcDoc `yaml:"arcs"`
}

type arcDoc struct {
	Key         string    `yaml:"key"`
	Title       string    `yaml:"title"`
	Description string    `yaml:"description"`
	Tags        []string  `yaml:"tags"`
	Enabled     *bool     `yaml:"enabled"`
	Steps       []stepDoc `yaml:"steps"`
}

type stepDoc struct {
	Key              string      `yaml:"key"`
	Title            string      `yaml:"title"`
	Body             string      `yaml:"body"`
	DueOffsetDays    int         `yaml:"due_offset_days"`
	ExpiresAfterDays int         `yaml:"expires_after_days"`
	Next             string      `yaml:"next"`
	Options          []optionDoc `yaml:"options"`
}

type optionDoc struct {
	Key    string              `yaml:"key"`
	Label  string              `yaml:"label"`
	Kind   core.OptionKind     `yaml:"kind"`
	Cost   *core.ResourceDelta `yaml:"cost"`
	Reward *core.ResourceDelta `yaml:"reward"`
	Next   string              `yaml:"next"`
}

// Default returns the catalog bundled with the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*Catalog, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("catalog: document is empty")
	}
	var doc fileDoc
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	return build(doc)
}

// LoadReader reads a catalog document from r.
func LoadReader(r io.Reader) (*Catalog, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("catalog: read: %w", err)
	}
	return Parse(content)
}

// LoadFile reads a catalog document from path.
func LoadFile(path string) (*Catalog, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	cat, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", path, err)
	}
	return cat, nil
}

func build(doc fileDoc) (*Catalog, error) {
	if len(doc.Arcs) == 0 {
		return nil, core.InvalidInput("catalog has no arcs")
	}
	cat := &Catalog{}
	seen := make(map[string]bool)
	for _, a := range doc.Arcs {
		if a.Key == "" {
			return nil, core.InvalidInput("arc without a key")
		}
		if seen[a.Key] {
			return nil, core.InvalidInput("arc %q defined twice", a.Key)
		}
		seen[a.Key] = true

		arc, err := buildArc(a)
		if err != nil {
			return nil, err
		}
		cat.Arcs = append(cat.Arcs, arc)
	}
	return cat, nil
}

func buildArc(a arcDoc) (Arc, error) {
	enabled := true
	if a.Enabled != nil {
		enabled = *a.Enabled
	}
	arc := Arc{Definition: core.ArcDefinition{
		Key:         a.Key,
		Title:       a.Title,
		Description: a.Description,
		Tags:        a.Tags,
		Enabled:     enabled,
	}}
	if arc.Definition.Title == "" {
		arc.Definition.Title = a.Key
	}
	if len(a.Steps) == 0 {
		return Arc{}, core.InvalidInput("arc %q has no steps", a.Key)
	}

	steps := make(map[string]bool, len(a.Steps))
	for _, s := range a.Steps {
		if s.Key == "" {
			return Arc{}, core.InvalidInput("arc %q has a step without a key", a.Key)
		}
		if steps[s.Key] {
			return Arc{}, core.InvalidInput("arc %q: step %q defined twice", a.Key, s.Key)
		}
		steps[s.Key] = true
	}

	for i, s := range a.Steps {
		if s.DueOffsetDays < 0 || s.ExpiresAfterDays < 0 {
			return Arc{}, core.InvalidInput("arc %q step %q: day offsets must not be negative", a.Key, s.Key)
		}
		if len(s.Options) == 0 {
			return Arc{}, core.InvalidInput("arc %q step %q has no options", a.Key, s.Key)
		}
		if err := checkTarget(a.Key, s.Key, s.Next, steps); err != nil {
			return Arc{}, err
		}

		step := core.ArcStep{
			ArcKey:             a.Key,
			StepKey:            s.Key,
			OrderIndex:         i,
			Title:              s.Title,
			Body:               s.Body,
			DueOffsetDays:      s.DueOffsetDays,
			ExpiresAfterDays:   s.ExpiresAfterDays,
			DefaultNextStepKey: s.Next,
		}
		keys := make(map[string]bool, len(s.Options))
		for _, o := range s.Options {
			if keys[o.Key] {
				return Arc{}, core.InvalidInput("arc %q step %q: option %q defined twice", a.Key, s.Key, o.Key)
			}
			keys[o.Key] = true

			payload, err := core.NewOptionPayload(o.Kind, o.Cost, o.Reward, o.Next)
			if err != nil {
				return Arc{}, fmt.Errorf("arc %q step %q option %q: %w", a.Key, s.Key, o.Key, err)
			}
			opt := core.ArcOption{Key: o.Key, Label: o.Label, Payload: payload}
			if err := opt.Validate(); err != nil {
				return Arc{}, fmt.Errorf("arc %q step %q: %w", a.Key, s.Key, err)
			}
			if err := checkTarget(a.Key, s.Key, o.Next, steps); err != nil {
				return Arc{}, err
			}
			step.Options = append(step.Options, opt)
		}
		arc.Steps = append(arc.Steps, step)
	}
	return arc, nil
}

func checkTarget(arcKey, stepKey, target string, steps map[string]bool) error {
	if target == "" {
		return nil
	}
	if target == stepKey {
		return core.InvalidInput("arc %q step %q points at itself", arcKey, stepKey)
	}
	if !steps[target] {
		return core.InvalidInput("arc %q step %q points at unknown step %q", arcKey, stepKey, target)
	}
	return nil
}

// Writer is the part of the arc store the seeder needs.
type Writer interface {
	UpsertDefinition(ctx context.Context, def *core.ArcDefinition) error
	UpsertStep(ctx context.Context, step *core.ArcStep) error
}

// Seed writes every arc and step in the catalog. Seeding is idempotent.
func Seed(ctx context.Context, w Writer, cat *Catalog) error {
	for i := range cat.Arcs {
		arc := &cat.Arcs[i]
		if err := w.UpsertDefinition(ctx, &arc.Definition); err != nil {
			return fmt.Errorf("seed arc %s: %w", arc.Definition.Key, err)
		}
		for j := range arc.Steps {
			if err := w.UpsertStep(ctx, &arc.Steps[j]); err != nil {
				return fmt.Errorf("seed arc %s step %s: %w", arc.Definition.Key, arc.Steps[j].StepKey, err)
			}
		}
	}
	return nil
}
