package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/quantumlife/daybreak/internal/core"
)

//go:embed storylets.yaml
var defaultStorylets []byte

// maxChoiceSkillPoints bounds what a single storylet choice may grant.
const maxChoiceSkillPoints = 3

// Storylet is a narrative beat and the choices it offers.
type Storylet struct {
	ID      string
	Title   string
	Choices []Choice
}

// Choice is one answer to a storylet and what it does to the player.
type Choice struct {
	Key   string
	Label string
	Delta core.Delta
}

// Deck is a validated set of storylets.
type Deck struct {
	Storylets []Storylet
}

type deckDoc struct {
	Storylets []storyletDoc `yaml:"storylets"`
}

type storyletDoc struct {
	ID      string      `yaml:"id"`
	Title   string      `yaml:"title"`
	Choices []choiceDoc `yaml:"choices"`
}

type choiceDoc struct {
	Key         string             `yaml:"key"`
	Label       string             `yaml:"label"`
	Effect      core.ResourceDelta `yaml:"effect"`
	SkillPoints int                `yaml:"skill_points"`
	Hesitation  map[string]float64 `yaml:"hesitation"`
}

// DefaultDeck returns the storylets bundled with the binary.
func DefaultDeck() (*Deck, error) {
	return ParseDeck(defaultStorylets)
}

// LoadDeckFile reads a storylet deck from path.
func LoadDeckFile(path string) (*Deck, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	deck, err := ParseDeck(content)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", path, err)
	}
	return deck, nil
}

// ParseDeck decodes and validates a storylet deck.
func ParseDeck(data []byte) (*Deck, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("catalog: storylet deck is empty")
	}
	var doc deckDoc
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("catalog: decode storylets: %w", err)
	}
	if len(doc.Storylets) == 0 {
		return nil, core.InvalidInput("deck has no storylets")
	}

	deck := &Deck{}
	seen := make(map[string]bool, len(doc.Storylets))
	for _, s := range doc.Storylets {
		if s.ID == "" {
			return nil, core.InvalidInput("storylet without an id")
		}
		if seen[s.ID] {
			return nil, core.InvalidInput("storylet %q defined twice", s.ID)
		}
		seen[s.ID] = true
		if len(s.Choices) == 0 {
			return nil, core.InvalidInput("storylet %q has no choices", s.ID)
		}

		st := Storylet{ID: s.ID, Title: s.Title}
		keys := make(map[string]bool, len(s.Choices))
		for _, c := range s.Choices {
			if c.Key == "" {
				return nil, core.InvalidInput("storylet %q has a choice without a key", s.ID)
			}
			if keys[c.Key] {
				return nil, core.InvalidInput("storylet %q: choice %q defined twice", s.ID, c.Key)
			}
			keys[c.Key] = true
			if c.SkillPoints < 0 || c.SkillPoints > maxChoiceSkillPoints {
				return nil, core.InvalidInput("storylet %q choice %q: skill points must be within 0..%d", s.ID, c.Key, maxChoiceSkillPoints)
			}
			st.Choices = append(st.Choices, Choice{
				Key:   c.Key,
				Label: c.Label,
				Delta: core.Delta{Resources: c.Effect, SkillPoints: c.SkillPoints, Dispositions: c.Hesitation},
			})
		}
		deck.Storylets = append(deck.Storylets, st)
	}
	return deck, nil
}

// IDs lists the storylet ids in file order.
func (d *Deck) IDs() []string {
	ids := make([]string, 0, len(d.Storylets))
	for _, s := range d.Storylets {
		ids = append(ids, s.ID)
	}
	return ids
}

// Has reports whether the deck defines id.
func (d *Deck) Has(id string) bool {
	for _, s := range d.Storylets {
		if s.ID == id {
			return true
		}
	}
	return false
}

// Choices indexes every choice's delta by storylet id and choice key.
func (d *Deck) Choices() map[string]map[string]core.Delta {
	out := make(map[string]map[string]core.Delta, len(d.Storylets))
	for _, s := range d.Storylets {
		byKey := make(map[string]core.Delta, len(s.Choices))
		for _, c := range s.Choices {
			byKey[c.Key] = c.Delta
		}
		out[s.ID] = byKey
	}
	return out
}
