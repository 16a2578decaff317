// Package monitor implements PositionMonitor, RugMonitor, and
// ExitExecutor. The concurrent-tick shape (a semaphore-bounded
// goroutine per open position, a sync.WaitGroup barrier per tick) is
// grounded directly on Jonaed13-potential-pancake's
// ExecutorFast.monitorPositions. ExitExecutor reuses internal/executor
// with an elevated slippage tolerance and priority fee rather than
// duplicating the execution pipeline.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/tradingbotd/core/internal/chain"
	"github.com/tradingbotd/core/internal/core"
	"github.com/tradingbotd/core/internal/executor"
	"github.com/tradingbotd/core/internal/filter"
	"github.com/tradingbotd/core/internal/orderstate"
	"github.com/tradingbotd/core/internal/vault"
)

// maxConcurrentChecks bounds per-tick position checks, matching the
// teacher lineage's concurrency cap.
const maxConcurrentChecks = 5

// ExitTrigger names why a position was exited.
type ExitTrigger string

const (
	TriggerTakeProfit   ExitTrigger = "TAKE_PROFIT"
	TriggerStopLoss     ExitTrigger = "STOP_LOSS"
	TriggerTrailingStop ExitTrigger = "TRAILING_STOP"
	TriggerMaxHold      ExitTrigger = "MAX_HOLD"
	TriggerRug          ExitTrigger = "RUG_DETECTED"
)

// RugTrigger names a RugMonitor condition.
type RugTrigger string

const (
	RugLiquidityDrop      RugTrigger = "LIQUIDITY_DROP"
	RugSupplyManipulation RugTrigger = "SUPPLY_MANIPULATION"
	RugHolderDump         RugTrigger = "HOLDER_DUMP"
	RugAuthorityReenabled RugTrigger = "AUTHORITY_REENABLED"
)

// Position is one open, monitored holding.
type Position struct {
	Mint             string
	UserRef          string
	WalletRef        string
	QuoteMint        string
	OrderRef         string // the order that opened this position
	EntrySignature   string
	EntryInputAmount uint64 // quote-mint units spent to open
	EntryAmount      uint64 // tokens held
	EntryValueQuote  float64
	EntrySOL         float64
	EntryTime        time.Time
	PeakValueQuote   float64 // high-water mark, for trailing stop
	PartialSold      bool

	LastChecked time.Time

	TakeProfitPct     *float64
	StopLossPct       *float64
	TrailingStopPct   *float64
	MaxHoldMinutes    int
	PartialSellPct    float64
	PartialSellMult   float64

	mtx sync.Mutex
}

func (p *Position) touch() {
	p.mtx.Lock()
	p.LastChecked = time.Now()
	p.mtx.Unlock()
}

// RugConfig bounds the RugMonitor's thresholds.
type RugConfig struct {
	LiquidityDropPct float64 // e.g. 0.5 == 50% drop trips it, spec default
	SupplyChangePct  float64 // e.g. 0.1 == 10% supply change trips it
	HolderDumpPct    float64
	CheckInterval    time.Duration
}

func DefaultRugConfig() RugConfig {
	return RugConfig{LiquidityDropPct: 0.5, SupplyChangePct: 0.1, HolderDumpPct: 0.3, CheckInterval: 5 * time.Second}
}

// Store is the minimal persistence surface PositionMonitor needs.
type Store interface {
	Open(pos *Position) error
	Positions(userRef string) []*Position
	Remove(mint string)
}

// ExitFunc performs a sell for a position and returns the sell's error,
// if any. Wiring to the real Executor/Orderstate/Vault pipeline is the
// caller's responsibility (see NewExitExecutor).
type ExitFunc func(ctx context.Context, pos *Position, trigger ExitTrigger, sellPct float64) error

// PositionMonitor ticks every 5s per spec §4.10, checking each open
// position for TP/SL/trailing-stop/max-hold conditions.
type PositionMonitor struct {
	log       core.Logger
	store     Store
	prices    chain.PriceLookup
	exit      ExitFunc
	rug       *RugMonitor
	tickEvery time.Duration
}

func NewPositionMonitor(log core.Logger, store Store, prices chain.PriceLookup, exit ExitFunc, rug *RugMonitor) *PositionMonitor {
	return &PositionMonitor{log: log, store: store, prices: prices, exit: exit, rug: rug, tickEvery: 5 * time.Second}
}

// Run satisfies core.Runner: it ticks until ctx is cancelled.
func (m *PositionMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.tickEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *PositionMonitor) tick(ctx context.Context) {
	positions := m.store.Positions("")
	if len(positions) == 0 {
		return
	}

	sem := make(chan struct{}, maxConcurrentChecks)
	var wg sync.WaitGroup
	for _, pos := range positions {
		wg.Add(1)
		go func(pos *Position) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			m.checkOne(ctx, pos)
		}(pos)
	}
	wg.Wait()
}

func (m *PositionMonitor) checkOne(ctx context.Context, pos *Position) {
	pos.touch()

	if m.rug != nil {
		if trigger, rugged := m.rug.Check(ctx, pos); rugged {
			m.log.Warnf("monitor: rug condition %s detected for %s, exiting position", trigger, pos.Mint)
			if err := m.exit(ctx, pos, TriggerRug, 1.0); err != nil {
				m.log.Errorf("monitor: rug exit failed for %s: %v", pos.Mint, err)
			}
			return
		}
	}

	price, err := m.prices.USDPrice(ctx, pos.Mint)
	if err != nil {
		m.log.Debugf("monitor: price lookup failed for %s: %v", pos.Mint, err)
		return
	}
	currentValue := price * float64(pos.EntryAmount)

	pos.mtx.Lock()
	if currentValue > pos.PeakValueQuote {
		pos.PeakValueQuote = currentValue
	}
	peak := pos.PeakValueQuote
	partialSold := pos.PartialSold
	pos.mtx.Unlock()

	multiple := 0.0
	if pos.EntryValueQuote > 0 {
		multiple = currentValue / pos.EntryValueQuote
	}

	if pos.TakeProfitPct != nil && multiple-1 >= *pos.TakeProfitPct {
		m.triggerExit(ctx, pos, TriggerTakeProfit, 1.0)
		return
	}
	if pos.StopLossPct != nil && 1-multiple >= *pos.StopLossPct {
		m.triggerExit(ctx, pos, TriggerStopLoss, 1.0)
		return
	}
	if pos.TrailingStopPct != nil && peak > 0 {
		drawdown := (peak - currentValue) / peak
		if drawdown >= *pos.TrailingStopPct {
			m.triggerExit(ctx, pos, TriggerTrailingStop, 1.0)
			return
		}
	}
	if pos.PartialSellPct > 0 && pos.PartialSellMult > 1 && multiple >= pos.PartialSellMult && !partialSold {
		pos.mtx.Lock()
		pos.PartialSold = true
		pos.mtx.Unlock()
		if err := m.exit(ctx, pos, TriggerTakeProfit, pos.PartialSellPct); err != nil {
			m.log.Errorf("monitor: partial sell failed for %s: %v", pos.Mint, err)
		}
		return
	}
	if pos.MaxHoldMinutes > 0 && time.Since(pos.EntryTime) > time.Duration(pos.MaxHoldMinutes)*time.Minute {
		m.triggerExit(ctx, pos, TriggerMaxHold, 1.0)
	}
}

func (m *PositionMonitor) triggerExit(ctx context.Context, pos *Position, trigger ExitTrigger, pct float64) {
	m.log.Infof("monitor: %s triggered for %s, exiting %.0f%%", trigger, pos.Mint, pct*100)
	if err := m.exit(ctx, pos, trigger, pct); err != nil {
		m.log.Errorf("monitor: exit failed for %s: %v", pos.Mint, err)
	}
}

// RugSnapshot is a point-in-time reading of a token's on-chain state,
// used to detect sudden degradation relative to the entry snapshot.
type RugSnapshot struct {
	LiquiditySOL      float64
	PoolSupplyPct     float64
	Top10HoldersPct   float64
	MintAuthorityNull bool
	FreezeAuthorityNull bool
}

// RugMonitor watches an open position's on-chain facts for sudden
// degradation relative to entry.
type RugMonitor struct {
	log    core.Logger
	cfg    RugConfig
	facts  func(ctx context.Context, mint string) (RugSnapshot, error)
	entry  map[string]RugSnapshot
	mtx    sync.Mutex
}

func NewRugMonitor(log core.Logger, cfg RugConfig, facts func(ctx context.Context, mint string) (RugSnapshot, error)) *RugMonitor {
	return &RugMonitor{log: log, cfg: cfg, facts: facts, entry: make(map[string]RugSnapshot)}
}

// RecordEntry snapshots a token's facts at position open, used as the
// baseline for drop/dump comparisons.
func (r *RugMonitor) RecordEntry(mint string, snap RugSnapshot) {
	r.mtx.Lock()
	r.entry[mint] = snap
	r.mtx.Unlock()
}

// Check compares the current snapshot against the recorded entry
// baseline and reports the first tripped condition, if any.
func (r *RugMonitor) Check(ctx context.Context, pos *Position) (RugTrigger, bool) {
	r.mtx.Lock()
	base, ok := r.entry[pos.Mint]
	r.mtx.Unlock()
	if !ok {
		return "", false
	}

	current, err := r.facts(ctx, pos.Mint)
	if err != nil {
		r.log.Debugf("rugmonitor: facts lookup failed for %s: %v", pos.Mint, err)
		return "", false
	}

	if base.LiquiditySOL > 0 && (base.LiquiditySOL-current.LiquiditySOL)/base.LiquiditySOL >= r.cfg.LiquidityDropPct {
		return RugLiquidityDrop, true
	}
	supplyDelta := current.PoolSupplyPct - base.PoolSupplyPct
	if supplyDelta < 0 {
		supplyDelta = -supplyDelta
	}
	if base.PoolSupplyPct > 0 && supplyDelta/base.PoolSupplyPct >= r.cfg.SupplyChangePct {
		return RugSupplyManipulation, true
	}
	if base.Top10HoldersPct-current.Top10HoldersPct >= r.cfg.HolderDumpPct*100 {
		return RugHolderDump, true
	}
	if base.MintAuthorityNull && !current.MintAuthorityNull {
		return RugAuthorityReenabled, true
	}
	if base.FreezeAuthorityNull && !current.FreezeAuthorityNull {
		return RugAuthorityReenabled, true
	}
	return "", false
}

// NewExitExecutor builds an ExitFunc backed by the real Executor, with
// slippage widened and priority fee escalated to ULTRA for exit urgency,
// per spec §4.11.
func NewExitExecutor(x *executor.Executor, states *orderstate.Machine, secretFor func(userRef string) (string, *vault.Secret, error), exitSlippageBps int) ExitFunc {
	return func(ctx context.Context, pos *Position, trigger ExitTrigger, sellPct float64) error {
		amount := uint64(float64(pos.EntryAmount) * sellPct)
		order := states.Create(pos.UserRef, orderstate.Config{
			InputMint:      pos.Mint,
			OutputMint:     pos.QuoteMint,
			InputAmount:    amount,
			SlippageBps:    exitSlippageBps,
			PriorityFee:    orderstate.FeeUltra,
			MaxRetries:     3,
			AttemptTimeout: 15 * time.Second,
		})
		order, err := states.Validate(order.ID, filter.Result{Passed: true})
		if err != nil {
			return err
		}

		userPubkey, secret, err := secretFor(pos.UserRef)
		if err != nil {
			return err
		}
		res := x.Run(ctx, order, userPubkey, secret)
		return res.Err
	}
}
