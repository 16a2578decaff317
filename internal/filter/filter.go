// Package filter implements the FilterEngine: a typed filter
// configuration evaluated against extracted token facts. Presets are
// data, not logic, grounded on the teacher's StrategyYAMLData
// config-as-data pattern (ChoSanghyuk-blackholedex/configs/config.go).
package filter

import (
	"time"

	"github.com/tradingbotd/core/internal/chain"
)

// Preset names a canned Config. CUSTOM means the Config was hand-built,
// not looked up from a preset table.
type Preset string

const (
	Conservative Preset = "CONSERVATIVE"
	Balanced     Preset = "BALANCED"
	Aggressive   Preset = "AGGRESSIVE"
	Custom       Preset = "CUSTOM"
)

// Config is the filter configuration. Every field is optional; a zero
// value (nil pointer) means that filter is disabled.
type Config struct {
	Preset Preset

	RequireMintDisabled   *bool
	RequireFreezeDisabled *bool

	MinLiquiditySOL        *float64
	MaxLiquiditySOL        *float64
	RequireLiquidityLocked *bool
	MinLiquidityLockPct    *float64

	MaxTop10HoldersPct *float64
	MaxSingleHolderPct *float64
	MinHolders         *int
	MaxDeveloperPct    *float64

	MaxBuyTax  *float64
	MaxSellTax *float64

	MinPoolSupplyPct *float64
	MaxPoolSupplyPct *float64

	RequireTwitter  *bool
	RequireWebsite  *bool
	RequireTelegram *bool

	MaxRiskScore           *int
	MinConfidence          *float64
	RequireSellSimulation  *bool

	RequireMetadata *bool

	Blacklist []string
	Whitelist []string
}

func boolPtr(b bool) *bool         { return &b }
func floatPtr(f float64) *float64  { return &f }
func intPtr(i int) *int            { return &i }

// Presets maps the three canned names to concrete value sets. CUSTOM has
// no entry: callers supply their own Config directly.
var Presets = map[Preset]Config{
	Conservative: {
		Preset:                 Conservative,
		RequireMintDisabled:    boolPtr(true),
		RequireFreezeDisabled:  boolPtr(true),
		MinLiquiditySOL:        floatPtr(25),
		RequireLiquidityLocked: boolPtr(true),
		MinLiquidityLockPct:    floatPtr(80),
		MaxTop10HoldersPct:     floatPtr(50),
		MaxSingleHolderPct:     floatPtr(15),
		MinHolders:             intPtr(100),
		MaxDeveloperPct:        floatPtr(10),
		MaxBuyTax:              floatPtr(5),
		MaxSellTax:             floatPtr(5),
		MaxRiskScore:           intPtr(20),
		MinConfidence:          floatPtr(0.7),
		RequireSellSimulation:  boolPtr(true),
	},
	Balanced: {
		Preset:                 Balanced,
		RequireMintDisabled:    boolPtr(true),
		RequireFreezeDisabled:  boolPtr(true),
		MinLiquiditySOL:        floatPtr(10),
		MaxTop10HoldersPct:     floatPtr(70),
		MaxSingleHolderPct:     floatPtr(25),
		MinHolders:             intPtr(30),
		MaxDeveloperPct:        floatPtr(20),
		MaxBuyTax:              floatPtr(10),
		MaxSellTax:             floatPtr(10),
		MaxRiskScore:           intPtr(50),
		MinConfidence:          floatPtr(0.4),
	},
	Aggressive: {
		Preset:             Aggressive,
		MinLiquiditySOL:    floatPtr(3),
		MaxTop10HoldersPct: floatPtr(90),
		MaxBuyTax:          floatPtr(25),
		MaxSellTax:         floatPtr(25),
		MaxRiskScore:       intPtr(70),
	},
}

// Severity classifies how serious a single violation is.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Violation describes a single failed check.
type Violation struct {
	Filter   string
	Severity Severity
	Detail   string
}

// Result is the FilterEngine's output.
type Result struct {
	Passed     bool
	Violations []Violation
	Preset     Preset
	TokenFacts chain.TokenFacts
	CheckedAt  time.Time
}

// Engine evaluates a Config against a set of TokenFacts.
type Engine struct{}

// New constructs an Engine. The engine is stateless; it is a type mostly
// so callers have something to hold a reference to and so future
// stateful additions (e.g. a compiled-blacklist cache) have a home.
func New() *Engine { return &Engine{} }

// Evaluate runs every enabled filter in cfg against facts and returns the
// aggregate Result.
func (e *Engine) Evaluate(cfg Config, facts chain.TokenFacts) Result {
	var violations []Violation
	add := func(name string, sev Severity, detail string) {
		violations = append(violations, Violation{Filter: name, Severity: sev, Detail: detail})
	}

	for _, id := range cfg.Blacklist {
		if id == facts.Mint {
			add("blacklist", SeverityHigh, "token is on the blacklist")
		}
	}
	whitelisted := false
	for _, id := range cfg.Whitelist {
		if id == facts.Mint {
			whitelisted = true
		}
	}
	if len(cfg.Whitelist) > 0 && !whitelisted {
		add("whitelist", SeverityHigh, "token is not on the whitelist")
	}

	if cfg.RequireMintDisabled != nil && *cfg.RequireMintDisabled && !facts.MintAuthorityNull {
		add("require_mint_disabled", SeverityHigh, "mint authority is not null")
	}
	if cfg.RequireFreezeDisabled != nil && *cfg.RequireFreezeDisabled && !facts.FreezeAuthorityNull {
		add("require_freeze_disabled", SeverityHigh, "freeze authority is not null")
	}

	if cfg.MinLiquiditySOL != nil && facts.LiquiditySOL < *cfg.MinLiquiditySOL {
		add("min_liquidity_sol", SeverityHigh, "liquidity below minimum")
	}
	if cfg.MaxLiquiditySOL != nil && facts.LiquiditySOL > *cfg.MaxLiquiditySOL {
		add("max_liquidity_sol", SeverityMedium, "liquidity above maximum")
	}
	if cfg.RequireLiquidityLocked != nil && *cfg.RequireLiquidityLocked && !facts.LiquidityLocked {
		add("require_liquidity_locked", SeverityHigh, "liquidity is not locked")
	}
	if cfg.MinLiquidityLockPct != nil && facts.LiquidityLockPct < *cfg.MinLiquidityLockPct {
		add("min_liquidity_lock_pct", SeverityMedium, "liquidity lock percentage below minimum")
	}

	if cfg.MaxTop10HoldersPct != nil && facts.Top10HoldersPct > *cfg.MaxTop10HoldersPct {
		add("max_top10_holders_pct", SeverityHigh, "top-10 holder concentration too high")
	}
	if cfg.MaxSingleHolderPct != nil && facts.SingleHolderPct > *cfg.MaxSingleHolderPct {
		add("max_single_holder_pct", SeverityHigh, "single holder concentration too high")
	}
	if cfg.MinHolders != nil && facts.HolderCount < *cfg.MinHolders {
		add("min_holders", SeverityMedium, "holder count below minimum")
	}
	if cfg.MaxDeveloperPct != nil && facts.DeveloperPct > *cfg.MaxDeveloperPct {
		add("max_developer_pct", SeverityHigh, "developer holding percentage too high")
	}

	if cfg.MaxBuyTax != nil && facts.BuyTaxPct > *cfg.MaxBuyTax {
		add("max_buy_tax", SeverityMedium, "buy tax above maximum")
	}
	if cfg.MaxSellTax != nil && facts.SellTaxPct > *cfg.MaxSellTax {
		add("max_sell_tax", SeverityHigh, "sell tax above maximum")
	}

	if cfg.MinPoolSupplyPct != nil && facts.PoolSupplyPct < *cfg.MinPoolSupplyPct {
		add("min_pool_supply_pct", SeverityMedium, "pool supply percentage below minimum")
	}
	if cfg.MaxPoolSupplyPct != nil && facts.PoolSupplyPct > *cfg.MaxPoolSupplyPct {
		add("max_pool_supply_pct", SeverityMedium, "pool supply percentage above maximum")
	}

	if cfg.RequireTwitter != nil && *cfg.RequireTwitter && !facts.HasTwitter {
		add("require_twitter", SeverityLow, "no twitter presence")
	}
	if cfg.RequireWebsite != nil && *cfg.RequireWebsite && !facts.HasWebsite {
		add("require_website", SeverityLow, "no website")
	}
	if cfg.RequireTelegram != nil && *cfg.RequireTelegram && !facts.HasTelegram {
		add("require_telegram", SeverityLow, "no telegram presence")
	}

	if cfg.MaxRiskScore != nil && facts.RiskScore > *cfg.MaxRiskScore {
		add("max_risk_score", SeverityHigh, "honeypot risk score above maximum")
	}
	if cfg.MinConfidence != nil && facts.RiskConfidence < *cfg.MinConfidence {
		add("min_confidence", SeverityMedium, "honeypot verdict confidence below minimum")
	}
	if cfg.RequireSellSimulation != nil && *cfg.RequireSellSimulation && !facts.SellSimulationOK {
		add("require_sell_simulation", SeverityHigh, "sell simulation did not succeed")
	}

	if cfg.RequireMetadata != nil && *cfg.RequireMetadata && !facts.HasMetadata {
		add("require_metadata", SeverityLow, "on-chain metadata PDA not found")
	}

	return Result{
		Passed:     len(violations) == 0,
		Violations: violations,
		Preset:     cfg.Preset,
		TokenFacts: facts,
		CheckedAt:  time.Now(),
	}
}
