// Package orchestrator implements the Orchestrator component: for one
// incoming request it selects a wallet, optionally applies a privacy
// delay, executes the order, and on confirmation hands the resulting
// position to the monitors. The struct-of-collaborators shape (one
// field per subsystem, a thin constructor, a single top-level entry
// point) is grounded on replay-api's WalletOrchestrator
// (CreateWallet -> DeployWallet -> Transfer sequencing), generalized
// from MPC/HSM custody wiring to this module's
// Discovery -> Honeypot -> Filter -> Rotator -> Vault -> Executor -> Monitor
// pipeline.
package orchestrator

import (
	"context"
	"math/rand"
	"time"

	"github.com/tradingbotd/core/internal/chain"
	"github.com/tradingbotd/core/internal/core"
	"github.com/tradingbotd/core/internal/executor"
	"github.com/tradingbotd/core/internal/filter"
	"github.com/tradingbotd/core/internal/honeypot"
	"github.com/tradingbotd/core/internal/monitor"
	"github.com/tradingbotd/core/internal/orderstate"
	"github.com/tradingbotd/core/internal/rotator"
	"github.com/tradingbotd/core/internal/session"
	"github.com/tradingbotd/core/internal/vault"
)

// UnknownTokenPolicy resolves the spec's Open Question on how to treat a
// token the HoneypotDetector has no cached verdict for and cannot check
// synchronously without blocking.
type UnknownTokenPolicy string

const (
	PauseAndAlert   UnknownTokenPolicy = "PAUSE_AND_ALERT"
	RejectOutright  UnknownTokenPolicy = "REJECT_OUTRIGHT"
	ProceedCautious UnknownTokenPolicy = "PROCEED_WITH_CAUTION"
)

// Config bundles the Orchestrator's tunables.
type Config struct {
	UnknownTokenPolicy UnknownTokenPolicy
	PrivacyDelayMin    time.Duration
	PrivacyDelayMax    time.Duration
	RotationStrategy   rotator.Strategy
}

func DefaultConfig() Config {
	return Config{UnknownTokenPolicy: PauseAndAlert, RotationStrategy: rotator.RoundRobin}
}

// Deps bundles the Orchestrator's collaborators.
type Deps struct {
	Log        core.Logger
	Detector   *honeypot.Detector
	Filters    *filter.Engine
	FactsOf    func(ctx context.Context, mint string) (chain.TokenFacts, error)
	Rotator    *rotator.Rotator
	Sessions   *session.Engine
	States     *orderstate.Machine
	Executor   *executor.Executor
	Positions  monitor.Store
	Rug        *monitor.RugMonitor
	OnAlert    func(event string, detail string)
}

// Orchestrator is the Orchestrator component.
type Orchestrator struct {
	d   Deps
	cfg Config
}

func New(d Deps, cfg Config) *Orchestrator {
	return &Orchestrator{d: d, cfg: cfg}
}

// Request is one incoming trade intent: a token has cleared Discovery
// and the caller wants it filtered, screened, and — if it passes —
// executed.
type Request struct {
	UserRef        string
	SessionToken   string
	FilterConfig   filter.Config
	OrderConfig    orderstate.Config
	RotationOverride rotator.Strategy
	SpecificWallet string

	// Exit conditions for the position opened on confirmation (spec
	// §4.10). All optional; a nil/zero value disables that condition.
	TakeProfitPct   *float64
	StopLossPct     *float64
	TrailingStopPct *float64
	MaxHoldMinutes  int
	PartialSellPct  float64
	PartialSellMult float64
}

// Outcome is returned once the pipeline reaches a terminal decision:
// either the order was submitted (possibly already confirmed/failed) or
// it was rejected before submission.
type Outcome struct {
	Order      *orderstate.Order
	Verdict    honeypot.Verdict
	FilterRes  filter.Result
	Rejected   bool
	Reason     string
}

// alert fires the configured operator-alert callback, if any.
func (o *Orchestrator) alert(event, detail string) {
	if o.d.OnAlert != nil {
		o.d.OnAlert(event, detail)
	}
}

// Run executes one Request through the full pipeline: honeypot
// screening, filter gating, wallet selection, an optional privacy
// delay, execution, and monitor handoff.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Outcome, error) {
	mint := req.OrderConfig.OutputMint

	verdict, known, err := o.screenToken(ctx, mint)
	if err != nil {
		return Outcome{}, err
	}
	if !known {
		switch o.cfg.UnknownTokenPolicy {
		case RejectOutright:
			return Outcome{Rejected: true, Reason: "unknown token rejected by policy"}, nil
		case ProceedCautious:
			o.alert("unknown_token_proceed", mint)
		default: // PauseAndAlert
			o.alert("unknown_token_paused", mint)
			return Outcome{Rejected: true, Reason: "unknown token paused pending manual review"}, nil
		}
	}

	facts, err := o.d.FactsOf(ctx, mint)
	if err != nil {
		return Outcome{}, err
	}
	facts.RiskScore = verdict.Score
	facts.RiskConfidence = verdict.Confidence

	filterRes := o.d.Filters.Evaluate(req.FilterConfig, facts)
	order := o.d.States.Create(req.UserRef, req.OrderConfig)
	order, err = o.d.States.Validate(order.ID, filterRes)
	if err != nil {
		return Outcome{}, err
	}
	if !filterRes.Passed {
		return Outcome{Order: order, Verdict: verdict, FilterRes: filterRes, Rejected: true, Reason: "filter rejected"}, nil
	}

	strategy := req.RotationOverride
	if strategy == "" {
		strategy = o.cfg.RotationStrategy
	}
	wallet, err := o.d.Rotator.Select(req.UserRef, strategy, req.SpecificWallet)
	if err != nil {
		order, _ = o.d.States.Fail(order.ID, core.CodeOf(err), 0)
		return Outcome{Order: order, Verdict: verdict, FilterRes: filterRes}, err
	}

	o.applyPrivacyDelay(ctx)

	secret, err := o.d.Sessions.Sign(req.SessionToken)
	if err != nil {
		order, _ = o.d.States.Fail(order.ID, core.CodeOf(err), 0)
		return Outcome{Order: order, Verdict: verdict, FilterRes: filterRes}, err
	}

	res := o.d.Executor.Run(ctx, order, wallet.Address, secret)
	if res.Err == nil {
		if merr := o.d.Rotator.MarkUsed(req.UserRef, wallet.WalletID); merr != nil {
			o.d.Log.Warnf("orchestrator: failed to mark wallet %s used: %v", wallet.WalletID, merr)
		}
		if res.Order.State == orderstate.Confirmed {
			o.openPosition(req, res.Order, wallet, facts)
		}
	}
	return Outcome{Order: res.Order, Verdict: verdict, FilterRes: filterRes}, res.Err
}

// openPosition hands a confirmed order off to PositionMonitor/RugMonitor:
// it persists the opened Position and seeds the rug baseline from the
// facts already fetched for filtering, per spec §4.10's "on confirmation
// a position is opened and the monitors begin" handoff.
func (o *Orchestrator) openPosition(req Request, order *orderstate.Order, wallet *vault.EncryptedKey, facts chain.TokenFacts) {
	if order.Confirmed == nil {
		return
	}
	pos := &monitor.Position{
		Mint:             order.Config.OutputMint,
		UserRef:          req.UserRef,
		WalletRef:        wallet.WalletID,
		QuoteMint:        order.Config.InputMint,
		OrderRef:         order.ID,
		EntrySignature:   order.Confirmed.Signature,
		EntryInputAmount: order.Confirmed.ActualInput,
		EntryAmount:      order.Confirmed.ActualOutput,
		EntryTime:        time.Now(),
		TakeProfitPct:    req.TakeProfitPct,
		StopLossPct:      req.StopLossPct,
		TrailingStopPct:  req.TrailingStopPct,
		MaxHoldMinutes:   req.MaxHoldMinutes,
		PartialSellPct:   req.PartialSellPct,
		PartialSellMult:  req.PartialSellMult,
	}

	if o.d.Positions != nil {
		if err := o.d.Positions.Open(pos); err != nil {
			o.d.Log.Errorf("orchestrator: failed to open position for order %s: %v", order.ID, err)
		}
	}
	if o.d.Rug != nil {
		o.d.Rug.RecordEntry(pos.Mint, monitor.RugSnapshot{
			LiquiditySOL:        facts.LiquiditySOL,
			PoolSupplyPct:       facts.PoolSupplyPct,
			Top10HoldersPct:     facts.Top10HoldersPct,
			MintAuthorityNull:   facts.MintAuthorityNull,
			FreezeAuthorityNull: facts.FreezeAuthorityNull,
		})
	}
}

// screenToken returns the cached verdict if one exists, kicking off a
// background check on a cache miss per spec §4.5's "caller receives null
// immediately" contract. known is false on a cache miss.
func (o *Orchestrator) screenToken(ctx context.Context, mint string) (honeypot.Verdict, bool, error) {
	if v, ok := o.d.Detector.CachedVerdict(mint); ok {
		return *v, true, nil
	}
	o.d.Detector.CheckAsync(ctx, mint)
	return honeypot.Verdict{Mint: mint, Level: honeypot.RiskUnknown}, false, nil
}

// applyPrivacyDelay sleeps for a uniform random duration in
// [PrivacyDelayMin, PrivacyDelayMax] before signing/broadcasting, to
// decorrelate this bot's transactions from the triggering discovery
// event. A zero-width window is a no-op.
func (o *Orchestrator) applyPrivacyDelay(ctx context.Context) {
	if o.cfg.PrivacyDelayMax <= o.cfg.PrivacyDelayMin {
		return
	}
	span := o.cfg.PrivacyDelayMax - o.cfg.PrivacyDelayMin
	delay := o.cfg.PrivacyDelayMin + time.Duration(rand.Int63n(int64(span)))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
