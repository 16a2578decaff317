// Package honeypot implements the HoneypotDetector: a multi-provider risk
// evaluator with per-provider circuit breakers, priority-ordered
// fallback, and a first-class simulation-based provider. The
// per-provider composition of a rate limiter, a circuit breaker, and a
// typed HTTP-shaped client is grounded on the teacher's routeLimiter
// composition (newRouteLimiter/routeLimiter.allow in server/comms),
// generalized from per-route to per-provider, per the spec's "deep
// inheritance replacement" design note: a Provider interface plus the
// shared Guard helper, not a base class.
package honeypot

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/tradingbotd/core/internal/breaker"
	"github.com/tradingbotd/core/internal/core"
)

// Flag is one entry from the closed flag taxonomy (spec §4.5).
type Flag string

const (
	FlagMintAuthority        Flag = "MINT_AUTHORITY"
	FlagFreezeAuthority      Flag = "FREEZE_AUTHORITY"
	FlagLowLiquidity         Flag = "LOW_LIQUIDITY"
	FlagUnlockedLiquidity    Flag = "UNLOCKED_LIQUIDITY"
	FlagCentralized          Flag = "CENTRALIZED"
	FlagSingleHolderMajority Flag = "SINGLE_HOLDER_MAJORITY"
	FlagHighSellTax          Flag = "HIGH_SELL_TAX"
	FlagOwnerChangePossible  Flag = "OWNER_CHANGE_POSSIBLE"
	FlagSellSimulationFailed Flag = "SELL_SIMULATION_FAILED"
	FlagUnknown              Flag = "UNKNOWN"
)

// ProviderResult is one provider's raw verdict, normalized to the 0=safe,
// 100=danger convention.
type ProviderResult struct {
	Score     int
	Flags     []Flag
	Data      map[string]any
	LatencyMs int64
	Rugged    bool // a definitive "rugged"/"honeypot" flag, forces score to 100
}

// Provider is the polymorphic surface every honeypot data source
// implements — a base class replacement per the spec's design notes.
type Provider interface {
	Name() string
	Priority() int // smaller = earlier
	IsAvailable() bool
	Check(ctx context.Context, mint string) (ProviderResult, error)
}

// NormalizeKind selects how a provider's raw score is converted into the
// 0=safe/100=danger convention used everywhere else.
type NormalizeKind int

const (
	// NormalizeDirect: 0=safe, 100=danger, used as-is.
	NormalizeDirect NormalizeKind = iota
	// NormalizeInvert: 0=safe, 100=safe, danger score is 100-raw.
	NormalizeInvert
)

// Normalize converts a raw provider score into the shared 0=safe,
// 100=danger convention.
func Normalize(kind NormalizeKind, raw int) int {
	if kind == NormalizeInvert {
		return 100 - raw
	}
	return raw
}

// guarded composes a rate limiter and a circuit breaker around a
// Provider's Check call — the shared helper the spec's design notes ask
// for in place of inheritance.
type guarded struct {
	Provider
	limiter *rate.Limiter
	cb      *breaker.Breaker
	timeout time.Duration
}

// defaultRate is 60 requests per 60 seconds, per spec §4.5; Guard uses it
// when no limiter is passed.
func defaultRate() *rate.Limiter {
	return rate.NewLimiter(rate.Every(time.Second), 60)
}

// Guard wraps p with a per-provider rate limiter and circuit breaker.
// perProviderTimeout bounds each individual Check call.
func Guard(p Provider, cb *breaker.Breaker, limiter *rate.Limiter, perProviderTimeout time.Duration) Provider {
	if limiter == nil {
		limiter = defaultRate()
	}
	return &guarded{Provider: p, limiter: limiter, cb: cb, timeout: perProviderTimeout}
}

func (g *guarded) IsAvailable() bool {
	return g.Provider.IsAvailable() && g.cb.IsAvailable()
}

func (g *guarded) Check(ctx context.Context, mint string) (ProviderResult, error) {
	if !g.limiter.Allow() {
		return ProviderResult{}, core.NewError(core.CodeUnknown, "provider %s: rate limited", g.Name())
	}
	callCtx := ctx
	var cancel context.CancelFunc
	if g.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	return breaker.Execute(g.cb, func() (ProviderResult, error) {
		return g.Provider.Check(callCtx, mint)
	})
}
