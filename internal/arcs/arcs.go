// Package arcs schedules arc offers and drives arc instances through their
// steps. Every numeric effect goes through the economy engine.
package arcs

import (
	"context"
	"time"

	"github.com/quantumlife/daybreak/internal/core"
	"github.com/quantumlife/daybreak/internal/economy"
	"github.com/quantumlife/daybreak/internal/ledger"
	"github.com/quantumlife/daybreak/internal/logging"
)

// Config tunes offers, tone escalation, the slot budget and abandonment.
type Config struct {
	OfferTTLDays  int
	ShortlistSize int
	ToneEvery     int
	MaxToneLevel  int

	SlotsPerDay         int
	ScarcityMode        bool
	ScarcityEarlyDays   int
	ScarcitySlotsPerDay int

	AbandonStressPenalty int
	HesitationPerAbandon float64
	HesitationPerDefer   float64
	HesitationRelief     float64
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		OfferTTLDays:         5,
		ShortlistSize:        3,
		ToneEvery:            2,
		MaxToneLevel:         3,
		SlotsPerDay:          2,
		ScarcityEarlyDays:    7,
		ScarcitySlotsPerDay:  1,
		AbandonStressPenalty: 10,
		HesitationPerAbandon: 1.0,
		HesitationPerDefer:   0.25,
		HesitationRelief:     0.5,
	}
}

// CatalogStore reads arc definitions and steps.
type CatalogStore interface {
	GetDefinition(ctx context.Context, key string) (*core.ArcDefinition, error)
	ListDefinitions(ctx context.Context, enabledOnly bool) ([]*core.ArcDefinition, error)
	ListSteps(ctx context.Context, arcKey string) ([]core.ArcStep, error)
	GetStep(ctx context.Context, arcKey, stepKey string) (*core.ArcStep, error)
}

// OfferStore persists offers.
type OfferStore interface {
	Create(ctx context.Context, o *core.ArcOffer) error
	Get(ctx context.Context, id core.OfferID) (*core.ArcOffer, error)
	GetByArc(ctx context.Context, userID core.UserID, arcKey string) (*core.ArcOffer, error)
	ListForUser(ctx context.Context, userID core.UserID, states ...core.OfferState) ([]*core.ArcOffer, error)
	Transition(ctx context.Context, id core.OfferID, from, to core.OfferState, now time.Time) (bool, error)
	MarkShown(ctx context.Context, o *core.ArcOffer, day, timesShown, tone int, now time.Time) (bool, error)
}

// InstanceStore persists instances and step runs.
type InstanceStore interface {
	Create(ctx context.Context, inst *core.ArcInstance) error
	Get(ctx context.Context, id core.InstanceID) (*core.ArcInstance, error)
	GetActive(ctx context.Context, userID core.UserID, arcKey string) (*core.ArcInstance, error)
	ListForUser(ctx context.Context, userID core.UserID, states ...core.InstanceState) ([]*core.ArcInstance, error)
	UpdateIfCurrent(ctx context.Context, prev, next *core.ArcInstance) (bool, error)
	InsertStepRun(ctx context.Context, run *core.ArcStepRun) error
	DeleteStepRun(ctx context.Context, id string) error
	CountStepRuns(ctx context.Context, userID core.UserID, day int) (int, error)
}

// Economy is the slice of the resource engine arcs need.
type Economy interface {
	Snapshot(ctx context.Context, userID core.UserID, day int) (*core.PlayerDayState, error)
	Apply(ctx context.Context, userID core.UserID, day int, delta core.Delta, source string, metadata map[string]any) (*economy.Result, error)
	Hesitation(ctx context.Context, userID core.UserID) (map[string]float64, error)
	DispositionConfig() economy.DispositionConfig
}

// Engine is the arc offer scheduler and instance state machine.
type Engine struct {
	cfg       Config
	catalog   CatalogStore
	offers    OfferStore
	instances InstanceStore
	economy   Economy
	audit     *ledger.Recorder
	clock     core.Clock
	log       *logging.Logger
}

// New creates an arc engine. audit may be nil.
func New(cfg Config, catalog CatalogStore, offers OfferStore, instances InstanceStore, econ Economy, audit *ledger.Recorder, clock core.Clock, log *logging.Logger) *Engine {
	if clock == nil {
		clock = core.SystemClock{}
	}
	if cfg.ToneEvery <= 0 {
		cfg.ToneEvery = 1
	}
	if cfg.ShortlistSize <= 0 {
		cfg.ShortlistSize = 3
	}
	return &Engine{
		cfg:       cfg,
		catalog:   catalog,
		offers:    offers,
		instances: instances,
		economy:   econ,
		audit:     audit,
		clock:     clock,
		log:       log.WithField("component", "arcs"),
	}
}

// ToneLevel maps how often an offer has been shown to its urgency framing.
// It never decreases as n grows.
func (e *Engine) ToneLevel(timesShown int) int {
	return ToneLevel(timesShown, e.cfg.ToneEvery, e.cfg.MaxToneLevel)
}

// ToneLevel computes min(maxLevel, max(0, (n-1)/every)).
func ToneLevel(n, every, maxLevel int) int {
	if every <= 0 {
		every = 1
	}
	level := (n - 1) / every
	if level < 0 {
		level = 0
	}
	if level > maxLevel {
		level = maxLevel
	}
	return level
}

// SlotBudget returns how many steps may be resolved on day.
func (e *Engine) SlotBudget(day int) int {
	if e.cfg.ScarcityMode && day <= e.cfg.ScarcityEarlyDays {
		return e.cfg.ScarcitySlotsPerDay
	}
	return e.cfg.SlotsPerDay
}

// SlotsUsed returns how many steps the user resolved on day.
func (e *Engine) SlotsUsed(ctx context.Context, userID core.UserID, day int) (int, error) {
	return e.instances.CountStepRuns(ctx, userID, day)
}

func (e *Engine) userLog(userID core.UserID, day int) *logging.Logger {
	return e.log.WithFields(map[string]interface{}{"user_id": userID, "day": day})
}
