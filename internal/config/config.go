// Package config implements process configuration: a YAML file loaded
// with gopkg.in/yaml.v3 (the pattern ChoSanghyuk-blackholedex's
// configs.LoadConfig uses for its StrategyYAMLData), overlaid with
// command-line flags and environment variables parsed by
// github.com/jessevdk/go-flags, already a direct teacher dependency.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"

	"github.com/tradingbotd/core/internal/filter"
	"github.com/tradingbotd/core/internal/monitor"
	"github.com/tradingbotd/core/internal/orchestrator"
	"github.com/tradingbotd/core/internal/rotator"
)

// HoneypotYAML is the honeypot section of config.yml.
type HoneypotYAML struct {
	MaxRiskScore            *int     `yaml:"max_risk_score"`
	MinConfidence           *float64 `yaml:"min_confidence"`
	RequireSellSimulation   *bool    `yaml:"require_sell_simulation"`
	WorstCaseHolderFallback bool     `yaml:"worst_case_holder_fallback"`
	RateLimitPerMinute      int      `yaml:"rate_limit_per_minute"`
}

// FilterYAML mirrors filter.Config's fields in YAML form, one-to-one,
// grounded on StrategyYAMLData's flat-field shape.
type FilterYAML struct {
	Preset string `yaml:"preset"`

	RequireMintDisabled   *bool `yaml:"require_mint_disabled"`
	RequireFreezeDisabled *bool `yaml:"require_freeze_disabled"`

	MinLiquiditySOL        *float64 `yaml:"min_liquidity_sol"`
	MaxLiquiditySOL        *float64 `yaml:"max_liquidity_sol"`
	RequireLiquidityLocked *bool    `yaml:"require_liquidity_locked"`
	MinLiquidityLockPct    *float64 `yaml:"min_liquidity_lock_pct"`

	MaxTop10HoldersPct *float64 `yaml:"max_top10_holders_pct"`
	MaxSingleHolderPct *float64 `yaml:"max_single_holder_pct"`
	MinHolders         *int     `yaml:"min_holders"`
	MaxDeveloperPct    *float64 `yaml:"max_developer_pct"`

	MaxBuyTax  *float64 `yaml:"max_buy_tax"`
	MaxSellTax *float64 `yaml:"max_sell_tax"`

	MinPoolSupplyPct *float64 `yaml:"min_pool_supply_pct"`
	MaxPoolSupplyPct *float64 `yaml:"max_pool_supply_pct"`

	RequireTwitter  *bool `yaml:"require_twitter"`
	RequireWebsite  *bool `yaml:"require_website"`
	RequireTelegram *bool `yaml:"require_telegram"`

	Blacklist []string `yaml:"blacklist"`
	Whitelist []string `yaml:"whitelist"`
}

// ToFilterConfig converts the YAML shape into filter.Config.
func (f FilterYAML) ToFilterConfig() filter.Config {
	return filter.Config{
		Preset:                 filter.Preset(f.Preset),
		RequireMintDisabled:    f.RequireMintDisabled,
		RequireFreezeDisabled:  f.RequireFreezeDisabled,
		MinLiquiditySOL:        f.MinLiquiditySOL,
		MaxLiquiditySOL:        f.MaxLiquiditySOL,
		RequireLiquidityLocked: f.RequireLiquidityLocked,
		MinLiquidityLockPct:    f.MinLiquidityLockPct,
		MaxTop10HoldersPct:     f.MaxTop10HoldersPct,
		MaxSingleHolderPct:     f.MaxSingleHolderPct,
		MinHolders:             f.MinHolders,
		MaxDeveloperPct:        f.MaxDeveloperPct,
		MaxBuyTax:              f.MaxBuyTax,
		MaxSellTax:             f.MaxSellTax,
		MinPoolSupplyPct:       f.MinPoolSupplyPct,
		MaxPoolSupplyPct:       f.MaxPoolSupplyPct,
		RequireTwitter:         f.RequireTwitter,
		RequireWebsite:         f.RequireWebsite,
		RequireTelegram:        f.RequireTelegram,
		Blacklist:              f.Blacklist,
		Whitelist:              f.Whitelist,
	}
}

// RugYAML mirrors monitor.RugConfig.
type RugYAML struct {
	LiquidityDropPct float64 `yaml:"liquidity_drop_pct"`
	SupplyChangePct  float64 `yaml:"supply_change_pct"`
	HolderDumpPct    float64 `yaml:"holder_dump_pct"`
	CheckIntervalSec int     `yaml:"check_interval_sec"`
}

func (r RugYAML) ToRugConfig() monitor.RugConfig {
	cfg := monitor.DefaultRugConfig()
	if r.LiquidityDropPct > 0 {
		cfg.LiquidityDropPct = r.LiquidityDropPct
	}
	if r.SupplyChangePct > 0 {
		cfg.SupplyChangePct = r.SupplyChangePct
	}
	if r.HolderDumpPct > 0 {
		cfg.HolderDumpPct = r.HolderDumpPct
	}
	if r.CheckIntervalSec > 0 {
		cfg.CheckInterval = time.Duration(r.CheckIntervalSec) * time.Second
	}
	return cfg
}

// OrchestratorYAML mirrors orchestrator.Config.
type OrchestratorYAML struct {
	UnknownTokenPolicy  string `yaml:"unknown_token_policy"`
	PrivacyDelayMinMs   int    `yaml:"privacy_delay_min_ms"`
	PrivacyDelayMaxMs   int    `yaml:"privacy_delay_max_ms"`
	RotationStrategy    string `yaml:"rotation_strategy"`
}

func (o OrchestratorYAML) ToOrchestratorConfig() orchestrator.Config {
	cfg := orchestrator.DefaultConfig()
	if o.UnknownTokenPolicy != "" {
		cfg.UnknownTokenPolicy = orchestrator.UnknownTokenPolicy(o.UnknownTokenPolicy)
	}
	cfg.PrivacyDelayMin = time.Duration(o.PrivacyDelayMinMs) * time.Millisecond
	cfg.PrivacyDelayMax = time.Duration(o.PrivacyDelayMaxMs) * time.Millisecond
	if o.RotationStrategy != "" {
		cfg.RotationStrategy = rotator.Strategy(o.RotationStrategy)
	}
	return cfg
}

// ExecutorYAML mirrors the Executor's commission tunables (spec §4.9).
type ExecutorYAML struct {
	MinCommissionUSD float64 `yaml:"min_commission_usd"`
	CommissionBps    int     `yaml:"commission_bps"`
}

// DatabaseYAML configures the relational store.
type DatabaseYAML struct {
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
}

// StoreYAML configures the shared key/value store.
type StoreYAML struct {
	BoltPath string `yaml:"bolt_path"`
}

// ServerYAML holds a listen address for a local health/status listener.
// No package in this module starts a listener; the value is parsed only.
type ServerYAML struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Config is the process's full configuration, loaded from config.yml and
// overlaid with CLI flags/environment.
type Config struct {
	LogLevel     string           `yaml:"log_level"`
	Database     DatabaseYAML     `yaml:"database"`
	Store        StoreYAML        `yaml:"store"`
	Server       ServerYAML       `yaml:"server"`
	Filter       FilterYAML       `yaml:"filter"`
	Honeypot     HoneypotYAML     `yaml:"honeypot"`
	Rug          RugYAML          `yaml:"rug"`
	Orchestrator OrchestratorYAML `yaml:"orchestrator"`
	Executor     ExecutorYAML     `yaml:"executor"`
}

// LoadYAML reads and parses path into a Config, matching
// ChoSanghyuk-blackholedex's LoadConfig shape.
func LoadYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Flags are the command-line/environment overlays parsed by go-flags. A
// flag's zero value means "use the YAML value, if any."
type Flags struct {
	ConfigPath string `short:"c" long:"config" env:"TRADINGBOTD_CONFIG" default:"config.yml" description:"path to config.yml"`
	LogLevel   string `long:"log-level" env:"TRADINGBOTD_LOG_LEVEL" description:"override the configured log level"`
	ListenAddr string `long:"listen" env:"TRADINGBOTD_LISTEN_ADDR" description:"override the server's listen address"`
	DryRun     bool   `long:"dry-run" description:"validate configuration and exit without starting"`
}

// Load parses CLI args (and environment) into Flags, loads the
// referenced YAML file, and applies the flag overlay.
func Load(args []string) (*Config, *Flags, error) {
	var f Flags
	parser := flags.NewParser(&f, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, nil, err
	}

	cfg, err := LoadYAML(f.ConfigPath)
	if err != nil {
		return nil, nil, err
	}

	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if f.ListenAddr != "" {
		cfg.Server.ListenAddr = f.ListenAddr
	}
	return cfg, &f, nil
}
