package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/quantumlife/daybreak/internal/core"
	"github.com/quantumlife/daybreak/internal/storage"
)

const sample = `
arcs:
  - key: mentor
    title: Mentor
    tags: [career]
    steps:
      - key: intro
        expires_after_days: 2
        next: finale
        options:
          - key: pay
            label: Pay
            kind: cost
            cost: {cashOnHand: -10}
          - key: detour
            kind: branch
            reward: {knowledge: 3}
            next: side
      - key: side
        options:
          - key: ok
            kind: reward
            reward: {energy: 2}
      - key: finale
        due_offset_days: 1
        options:
          - key: done
            kind: reward
            reward: {knowledge: 5}
  - key: hidden
    enabled: false
    steps:
      - key: only
        options:
          - key: x
            kind: cost
            cost: {energy: -1}
`

func TestParse(t *testing.T) {
	cat, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(cat.Arcs) != 2 {
		t.Fatalf("got %d arcs, want 2", len(cat.Arcs))
	}

	mentor := cat.Arcs[0]
	if !mentor.Definition.Enabled {
		t.Error("arcs default to enabled")
	}
	if cat.Arcs[1].Definition.Enabled {
		t.Error("explicit enabled: false should be honoured")
	}
	if cat.Arcs[1].Definition.Title != "hidden" {
		t.Errorf("missing title should fall back to the key, got %q", cat.Arcs[1].Definition.Title)
	}

	if len(mentor.Steps) != 3 {
		t.Fatalf("got %d steps, want 3", len(mentor.Steps))
	}
	for i, s := range mentor.Steps {
		if s.OrderIndex != i {
			t.Errorf("step %s OrderIndex = %d, want %d", s.StepKey, s.OrderIndex, i)
		}
	}

	intro := mentor.Steps[0]
	pay, _ := intro.Option("pay")
	if cost, ok := pay.Payload.(core.CostPayload); !ok || cost.Cost.CashOnHand != -10 {
		t.Errorf("pay payload = %#v", pay.Payload)
	}
	detour, _ := intro.Option("detour")
	if intro.NextStepKey(detour) != "side" {
		t.Errorf("detour should branch to side, got %q", intro.NextStepKey(detour))
	}
	if intro.NextStepKey(pay) != "finale" {
		t.Errorf("pay should follow the step default, got %q", intro.NextStepKey(pay))
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"empty", "   ", "empty"},
		{"no arcs", "arcs: []", "no arcs"},
		{"unknown field", "arcs:\n  - key: a\n    colour: red\n", "colour"},
		{"duplicate arc", "arcs:\n  - key: a\n    steps: [{key: s, options: [{key: o, kind: cost}]}]\n  - key: a\n    steps: [{key: s, options: [{key: o, kind: cost}]}]\n", "defined twice"},
		{"no steps", "arcs:\n  - key: a\n", "no steps"},
		{"no options", "arcs:\n  - key: a\n    steps: [{key: s}]\n", "no options"},
		{"unknown next", "arcs:\n  - key: a\n    steps: [{key: s, next: nowhere, options: [{key: o, kind: cost}]}]\n", "unknown step"},
		{"self loop", "arcs:\n  - key: a\n    steps: [{key: s, next: s, options: [{key: o, kind: cost}]}]\n", "itself"},
		{"branch without next", "arcs:\n  - key: a\n    steps: [{key: s, options: [{key: o, kind: branch}]}]\n", "next step"},
		{"cost with reward", "arcs:\n  - key: a\n    steps: [{key: s, options: [{key: o, kind: cost, reward: {energy: 1}}]}]\n", "may not carry"},
		{"unknown kind", "arcs:\n  - key: a\n    steps: [{key: s, options: [{key: o, kind: gift}]}]\n", "unknown option kind"},
		{"negative offset", "arcs:\n  - key: a\n    steps: [{key: s, due_offset_days: -1, options: [{key: o, kind: cost}]}]\n", "negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestParse_InvalidInputKind(t *testing.T) {
	_, err := Parse([]byte("arcs:\n  - key: a\n"))
	if !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("err = %v, want invalid input", err)
	}
}

func TestDefault(t *testing.T) {
	cat, err := Default()
	if err != nil {
		t.Fatalf("bundled catalog does not parse: %v", err)
	}
	if len(cat.Arcs) < 3 {
		t.Errorf("bundled catalog has %d arcs, want at least 3", len(cat.Arcs))
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arcs.yaml")
	if err := os.WriteFile(path, []byte(sample), 0600); err != nil {
		t.Fatal(err)
	}
	cat, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cat.Arcs[0].Definition.Key != "mentor" {
		t.Errorf("first arc = %s", cat.Arcs[0].Definition.Key)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFile() should fail for a missing file")
	}
}

func TestSeed(t *testing.T) {
	db, err := storage.Open(storage.Config{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	store := storage.NewArcStore(db)

	cat, _ := Parse([]byte(sample))
	if err := Seed(ctx, store, cat); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	// Seeding twice is harmless
	if err := Seed(ctx, store, cat); err != nil {
		t.Fatalf("second Seed() error = %v", err)
	}

	defs, _ := store.ListDefinitions(ctx, true)
	if len(defs) != 1 || defs[0].Key != "mentor" {
		t.Errorf("enabled definitions = %v", defs)
	}
	steps, _ := store.ListSteps(ctx, "mentor")
	if len(steps) != 3 {
		t.Fatalf("got %d steps, want 3", len(steps))
	}
	first, _ := core.FirstStep(steps)
	if first.StepKey != "intro" {
		t.Errorf("first step = %s, want intro", first.StepKey)
	}
}

func TestDefaultDeck(t *testing.T) {
	deck, err := DefaultDeck()
	if err != nil {
		t.Fatalf("DefaultDeck() error = %v", err)
	}
	for _, id := range []string{"rent-is-due", "quiet-morning", "evening-walk"} {
		if !deck.Has(id) {
			t.Errorf("bundled deck is missing %q", id)
		}
	}
	if deck.Has("nope") {
		t.Error("Has() should be false for unknown ids")
	}

	choices := deck.Choices()
	pay, ok := choices["rent-is-due"]["pay"]
	if !ok {
		t.Fatal("rent-is-due should offer pay")
	}
	if pay.Resources.CashOnHand != -20 || pay.Resources.Stress != -5 {
		t.Errorf("pay = %+v", pay)
	}
	if choices["group-project"]["carry"].SkillPoints != 1 {
		t.Error("carry should grant a skill point")
	}
	if choices["gym-invite"]["skip"].Dispositions["health"] != 0.25 {
		t.Error("skip should add health hesitation")
	}
	if ids := deck.IDs(); len(ids) != len(deck.Storylets) || ids[0] != "rent-is-due" {
		t.Errorf("IDs() = %v", ids)
	}
}

func TestParseDeck_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", ""},
		{"no storylets", "storylets: []"},
		{"missing id", "storylets:\n  - choices:\n      - key: a\n"},
		{"duplicate id", "storylets:\n  - id: s\n    choices: [{key: a}]\n  - id: s\n    choices: [{key: a}]\n"},
		{"no choices", "storylets:\n  - id: s\n"},
		{"duplicate choice", "storylets:\n  - id: s\n    choices: [{key: a}, {key: a}]\n"},
		{"too many skill points", "storylets:\n  - id: s\n    choices: [{key: a, skill_points: 50}]\n"},
		{"unknown field", "storylets:\n  - id: s\n    choices: [{key: a, delta: {}}]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseDeck([]byte(tt.doc)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoadDeckFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deck.yaml")
	doc := "storylets:\n  - id: s\n    choices:\n      - key: a\n        effect: {energy: 2}\n"
	if err := os.WriteFile(path, []byte(doc), 0600); err != nil {
		t.Fatal(err)
	}
	deck, err := LoadDeckFile(path)
	if err != nil {
		t.Fatalf("LoadDeckFile() error = %v", err)
	}
	if deck.Choices()["s"]["a"].Resources.Energy != 2 {
		t.Errorf("choices = %+v", deck.Choices())
	}

	if _, err := LoadDeckFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}
}
