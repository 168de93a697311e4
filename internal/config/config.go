// Package config handles Daybreak configuration.
//
// Values come from three layers, later layers winning: built-in defaults,
// an optional JSON file, and DAYBREAK_* environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"

	"github.com/quantumlife/daybreak/internal/core"
)

// Config holds all configuration
type Config struct {
	// Paths
	DataDir string `json:"data_dir" env:"DAYBREAK_DATA_DIR"`

	Database DatabaseConfig `json:"database"`
	Server   ServerConfig   `json:"server"`
	Logging  LoggingConfig  `json:"logging"`

	// Engines
	Economy EconomyConfig `json:"economy"`
	Arcs    ArcsConfig    `json:"arcs"`
	Content ContentConfig `json:"content"`

	// Features
	Features FeatureConfig `json:"features"`
}

// DatabaseConfig selects the store backend
type DatabaseConfig struct {
	Driver string `json:"driver" env:"DAYBREAK_DB_DRIVER"` // "sqlite" or "pgx"
	Path   string `json:"path" env:"DAYBREAK_DB_PATH"`     // sqlite file; defaults to <data_dir>/daybreak.db
	DSN    string `json:"dsn,omitempty" env:"DAYBREAK_DB_DSN"`
}

// ServerConfig for HTTP server
type ServerConfig struct {
	Port           int      `json:"port" env:"DAYBREAK_PORT"`
	Host           string   `json:"host" env:"DAYBREAK_HOST"`
	AllowedOrigins []string `json:"allowed_origins" env:"DAYBREAK_ALLOWED_ORIGINS" envSeparator:","`
}

// LoggingConfig for the process logger
type LoggingConfig struct {
	Level string `json:"level" env:"DAYBREAK_LOG_LEVEL"`
	// Format is "text" or "json".
	Format string `json:"format" env:"DAYBREAK_LOG_FORMAT"`
}

// CurveConfig shapes how hesitation scales an outcome: factor = min(Max, h*PerPoint).
type CurveConfig struct {
	PerPoint float64 `json:"per_point"`
	Max      float64 `json:"max"`
}

// EconomyConfig for the resource delta engine
type EconomyConfig struct {
	Defaults core.Resources `json:"defaults"`
	SkillCap int            `json:"skill_cap" env:"DAYBREAK_SKILL_CAP"`
	// StartingSkillPoints seeds a new player's skill bank.
	StartingSkillPoints int         `json:"starting_skill_points"`
	RewardCurve         CurveConfig `json:"reward_curve"`
	CostCurve           CurveConfig `json:"cost_curve"`
}

// ArcsConfig for the offer scheduler and instance engine
type ArcsConfig struct {
	OfferTTLDays         int     `json:"offer_ttl_days"`
	ShortlistSize        int     `json:"shortlist_size"`
	ToneEvery            int     `json:"tone_every"`
	MaxToneLevel         int     `json:"max_tone_level"`
	SlotsPerDay          int     `json:"slots_per_day" env:"DAYBREAK_SLOTS_PER_DAY"`
	ScarcityMode         bool    `json:"scarcity_mode" env:"DAYBREAK_SCARCITY_MODE"`
	ScarcityEarlyDays    int     `json:"scarcity_early_days"`
	ScarcitySlotsPerDay  int     `json:"scarcity_slots_per_day"`
	AbandonStressPenalty int     `json:"abandon_stress_penalty"`
	HesitationPerAbandon float64 `json:"hesitation_per_abandon"`
	HesitationPerDefer   float64 `json:"hesitation_per_defer"`
	HesitationRelief     float64 `json:"hesitation_relief"`
}

// ContentConfig for narrative selection
type ContentConfig struct {
	Storylets []string `json:"storylets"`
	// StoryletFile replaces the bundled storylet deck when set.
	StoryletFile  string   `json:"storylet_file" env:"DAYBREAK_STORYLET_FILE"`
	FallbackPair  []string `json:"fallback_pair"`
	HistoryWindow int      `json:"history_window"`
}

// FeatureConfig for feature flags
type FeatureConfig struct {
	PostureSetup       bool     `json:"posture_setup"`
	SkillSetup         bool     `json:"skill_setup"`
	AutoPosture        bool     `json:"auto_posture"`
	DefaultPosture     string   `json:"default_posture"`
	Microtask          bool     `json:"microtask" env:"DAYBREAK_MICROTASK"`
	MicrotaskVariants  []string `json:"microtask_variants"`
	MicrotaskMinDay    int      `json:"microtask_min_day"`
	SocialBoost        bool     `json:"social_boost" env:"DAYBREAK_SOCIAL_BOOST"`
	SocialMinDay       int      `json:"social_min_day"`
	FunPulse           bool     `json:"fun_pulse" env:"DAYBREAK_FUN_PULSE"`
	FunPulseEveryNDays int      `json:"fun_pulse_every_n_days"`
	Arcs               bool     `json:"arcs" env:"DAYBREAK_ARCS"`
	DebugMode          bool     `json:"debug_mode" env:"DAYBREAK_DEBUG"`
}

// Default returns default configuration
func Default() *Config {
	home, _ := os.UserHomeDir()

	return &Config{
		DataDir: filepath.Join(home, ".daybreak"),
		Database: DatabaseConfig{
			Driver: "sqlite",
		},
		Server: ServerConfig{
			Port:           8080,
			Host:           "localhost",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Economy: EconomyConfig{
			Defaults: core.Resources{
				Energy:             70,
				Stress:             20,
				CashOnHand:         50,
				Knowledge:          0,
				SocialLeverage:     0,
				PhysicalResilience: 50,
			},
			SkillCap:            10,
			StartingSkillPoints: 3,
			RewardCurve:         CurveConfig{PerPoint: 0.1, Max: 0.5},
			CostCurve:           CurveConfig{PerPoint: 0.1, Max: 1.0},
		},
		Arcs: ArcsConfig{
			OfferTTLDays:         5,
			ShortlistSize:        3,
			ToneEvery:            2,
			MaxToneLevel:         3,
			SlotsPerDay:          2,
			ScarcityMode:         false,
			ScarcityEarlyDays:    7,
			ScarcitySlotsPerDay:  1,
			AbandonStressPenalty: 10,
			HesitationPerAbandon: 1.0,
			HesitationPerDefer:   0.25,
			HesitationRelief:     0.5,
		},
		Content: ContentConfig{
			Storylets: []string{
				"rent-is-due", "library-shift", "old-friend-calls",
				"gym-invite", "group-project", "late-night-noodles",
			},
			FallbackPair:  []string{"quiet-morning", "evening-walk"},
			HistoryWindow: 4,
		},
		Features: FeatureConfig{
			PostureSetup:       true,
			SkillSetup:         true,
			AutoPosture:        false,
			DefaultPosture:     "steady",
			Microtask:          true,
			MicrotaskVariants:  []string{"B"},
			MicrotaskMinDay:    2,
			SocialBoost:        true,
			SocialMinDay:       3,
			FunPulse:           true,
			FunPulseEveryNDays: 7,
			Arcs:               true,
			DebugMode:          false,
		},
	}
}

// Load loads config from file, falling back to defaults, then applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.json")
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Use defaults
	default:
		return nil, err
	}

	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ParseEnv overlays DAYBREAK_* environment variables onto target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// DatabasePath resolves the sqlite file location.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.DataDir, "daybreak.db")
}

// Save saves config to file
func (c *Config) Save(path string) error {
	if path == "" {
		path = filepath.Join(c.DataDir, "config.json")
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	// Don't save connection secrets to file
	safeCfg := *c
	safeCfg.Database.DSN = ""

	data, err := json.MarshalIndent(safeCfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}
