package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quantumlife/daybreak/internal/arcs"
	"github.com/quantumlife/daybreak/internal/catalog"
	"github.com/quantumlife/daybreak/internal/config"
	"github.com/quantumlife/daybreak/internal/core"
	"github.com/quantumlife/daybreak/internal/dailyrun"
	"github.com/quantumlife/daybreak/internal/economy"
	"github.com/quantumlife/daybreak/internal/ledger"
	"github.com/quantumlife/daybreak/internal/logging"
	"github.com/quantumlife/daybreak/internal/storage"
)

// app holds the wired engines for one process.
type app struct {
	cfg    *config.Config
	db     *storage.DB
	log    *logging.Logger
	clock  core.Clock
	ledger *ledger.Store
	econ   *economy.Engine
	arcs   *arcs.Engine
	daily  *dailyrun.Orchestrator
	caps   dailyrun.Capabilities
}

// loadApp reads configuration, opens and migrates the database, and wires
// the engines.
func loadApp() (*app, error) {
	path := configPath
	if path == "" && dataDir != "" {
		path = filepath.Join(dataDir, "config.json")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	level := logging.ParseLevel(cfg.Logging.Level)
	if cfg.Features.DebugMode {
		level = logging.DEBUG
	}
	log := logging.NewWithOptions(os.Stderr, logging.Options{
		Level:  level,
		Format: logging.ParseFormat(cfg.Logging.Format),
	})
	logging.SetDefault(log)

	db, err := storage.Open(storage.Config{
		Driver: cfg.Database.Driver,
		Path:   cfg.DatabasePath(),
		DSN:    cfg.Database.DSN,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	a, err := wire(cfg, db, core.SystemClock{}, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

// wire builds the engines over an open database.
func wire(cfg *config.Config, db *storage.DB, clock core.Clock, log *logging.Logger) (*app, error) {
	content, err := contentSelector(cfg.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to load storylets: %w", err)
	}

	ledgerStore := ledger.NewStore(db, clock)
	audit := ledger.NewRecorder(ledgerStore, log)

	econ := economy.New(economyConfig(cfg.Economy), economy.Stores{
		States:       storage.NewDayStateStore(db),
		Skills:       storage.NewSkillStore(db),
		Dispositions: storage.NewDispositionStore(db),
		Traces:       storage.NewTraceStore(db),
	}, audit, clock, log)

	arcEngine := arcs.New(arcsConfig(cfg.Arcs), storage.NewArcStore(db),
		storage.NewOfferStore(db), storage.NewInstanceStore(db), econ, audit, clock, log)

	daily := storage.NewDailyStore(db)
	orch := dailyrun.New(dailyConfig(cfg.Content), daily, econ, arcEngine,
		content, dailyrun.StoreCadence{Runs: daily}, audit, clock, log)

	return &app{
		cfg:    cfg,
		db:     db,
		log:    log,
		clock:  clock,
		ledger: ledgerStore,
		econ:   econ,
		arcs:   arcEngine,
		daily:  orch,
		caps:   capabilities(cfg.Features),
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// seedCatalog loads the catalog at path, or the bundled one when path is
// empty, and writes it to the arc store.
func (a *app) seedCatalog(ctx context.Context, path string) (*catalog.Catalog, error) {
	var cat *catalog.Catalog
	var err error
	if path == "" {
		cat, err = catalog.Default()
	} else {
		cat, err = catalog.LoadFile(path)
	}
	if err != nil {
		return nil, err
	}
	if err := catalog.Seed(ctx, storage.NewArcStore(a.db), cat); err != nil {
		return nil, err
	}
	return cat, nil
}

// contentSelector builds the storylet rotation from the configured pool and
// deck. Every pooled or fallback storylet must exist in the deck; an empty
// pool rotates over the whole deck.
func contentSelector(c config.ContentConfig) (dailyrun.RotatingSelector, error) {
	var deck *catalog.Deck
	var err error
	if c.StoryletFile == "" {
		deck, err = catalog.DefaultDeck()
	} else {
		deck, err = catalog.LoadDeckFile(c.StoryletFile)
	}
	if err != nil {
		return dailyrun.RotatingSelector{}, err
	}

	pool := c.Storylets
	if len(pool) == 0 {
		pool = deck.IDs()
	}
	for _, id := range append(append([]string{}, pool...), c.FallbackPair...) {
		if !deck.Has(id) {
			return dailyrun.RotatingSelector{}, fmt.Errorf("storylet %q is not in the deck", id)
		}
	}
	return dailyrun.RotatingSelector{Pool: pool, Choices: deck.Choices()}, nil
}

func economyConfig(c config.EconomyConfig) economy.Config {
	return economy.Config{
		Defaults:            c.Defaults,
		SkillCap:            c.SkillCap,
		StartingSkillPoints: c.StartingSkillPoints,
		Disposition: economy.DispositionConfig{
			Reward: economy.Curve{PerPoint: c.RewardCurve.PerPoint, Max: c.RewardCurve.Max},
			Cost:   economy.Curve{PerPoint: c.CostCurve.PerPoint, Max: c.CostCurve.Max},
		},
	}
}

func arcsConfig(c config.ArcsConfig) arcs.Config {
	return arcs.Config{
		OfferTTLDays:         c.OfferTTLDays,
		ShortlistSize:        c.ShortlistSize,
		ToneEvery:            c.ToneEvery,
		MaxToneLevel:         c.MaxToneLevel,
		SlotsPerDay:          c.SlotsPerDay,
		ScarcityMode:         c.ScarcityMode,
		ScarcityEarlyDays:    c.ScarcityEarlyDays,
		ScarcitySlotsPerDay:  c.ScarcitySlotsPerDay,
		AbandonStressPenalty: c.AbandonStressPenalty,
		HesitationPerAbandon: c.HesitationPerAbandon,
		HesitationPerDefer:   c.HesitationPerDefer,
		HesitationRelief:     c.HesitationRelief,
	}
}

func dailyConfig(c config.ContentConfig) dailyrun.Config {
	cfg := dailyrun.Config{HistoryWindow: c.HistoryWindow}
	if len(c.FallbackPair) == 2 {
		cfg.FallbackPair = dailyrun.StoryletPair{A: c.FallbackPair[0], B: c.FallbackPair[1]}
	}
	return cfg
}

func capabilities(f config.FeatureConfig) dailyrun.Capabilities {
	return dailyrun.Capabilities{
		PostureSetup:       f.PostureSetup,
		SkillSetup:         f.SkillSetup,
		AutoPosture:        f.AutoPosture,
		DefaultPosture:     f.DefaultPosture,
		Microtask:          f.Microtask,
		MicrotaskVariants:  f.MicrotaskVariants,
		MicrotaskMinDay:    f.MicrotaskMinDay,
		SocialBoost:        f.SocialBoost,
		SocialMinDay:       f.SocialMinDay,
		FunPulse:           f.FunPulse,
		FunPulseEveryNDays: f.FunPulseEveryNDays,
		Arcs:               f.Arcs,
	}
}
