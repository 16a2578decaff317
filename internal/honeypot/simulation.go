package honeypot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/tradingbotd/core/internal/chain"
	"github.com/tradingbotd/core/internal/core"
)

// ProbeAmountLamports is the fixed buy-probe size: 0.1 SOL equivalent in
// smallest units (spec §4.5 step 1).
const ProbeAmountLamports = 100_000_000

// wrappedSOL is the native wrapped SOL mint used as the simulation
// layer's quote-in leg.
const wrappedSOL = "So11111111111111111111111111111111111111112"

// SimulationTimeout bounds the whole buy+sell+holder-analysis sequence
// (spec §5: "Simulation total timeout (default 3s)").
const SimulationTimeout = 3 * time.Second

// HolderFacts is the result of the parallel holder-analysis sub-step.
type HolderFacts struct {
	Top10Pct        float64
	DeveloperPct    float64
	LiquidityLocked *bool // nil means unknown
}

// SimulationOutcome is the SimulationLayer's full result before it is
// folded into a ProviderResult.
type SimulationOutcome struct {
	CanBuy        bool
	CanSell       bool
	BuyTaxPct     float64
	SellTaxPct    float64
	Holders       HolderFacts
	Reasons       []string
}

// SimulationLayer is the simulation-based Provider. Its
// WorstCaseHolderFallback field controls the open-question-resolved
// behavior (spec §9 open questions): when true and holder-analysis RPCs
// are unavailable, the layer reports 100/100/locked=false (worst case) and
// calls OnOperatorAlert rather than silently degrading.
type SimulationLayer struct {
	log    core.Logger
	quote  chain.QuoteProvider
	rpc    chain.RPC
	userPK string

	WorstCaseHolderFallback bool
	OnOperatorAlert         func(reason string)
}

// NewSimulationLayer constructs a SimulationLayer. userPubkey is the
// custody-side public key used to request quotes (no signing happens
// here — quotes are simulated, never broadcast).
func NewSimulationLayer(log core.Logger, quote chain.QuoteProvider, rpc chain.RPC, userPubkey string) *SimulationLayer {
	return &SimulationLayer{log: log, quote: quote, rpc: rpc, userPK: userPubkey, WorstCaseHolderFallback: true}
}

func (s *SimulationLayer) Name() string   { return "simulation" }
func (s *SimulationLayer) Priority() int  { return 0 } // always first: ground truth
func (s *SimulationLayer) IsAvailable() bool { return s.quote != nil && s.rpc != nil }

// Check runs the full buy->sell->simulate->holder-analysis sequence and
// folds the result into a ProviderResult using the honeypot heuristics
// from spec §4.5 step 6.
func (s *SimulationLayer) Check(ctx context.Context, mint string) (ProviderResult, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, SimulationTimeout)
	defer cancel()

	outcome, err := s.simulate(ctx, mint)
	if err != nil {
		return ProviderResult{}, err
	}
	score, flags, rugged := evaluateHeuristics(outcome)
	return ProviderResult{
		Score:     score,
		Flags:     flags,
		Rugged:    rugged,
		LatencyMs: time.Since(start).Milliseconds(),
		Data: map[string]any{
			"can_buy": outcome.CanBuy, "can_sell": outcome.CanSell,
			"buy_tax_pct": outcome.BuyTaxPct, "sell_tax_pct": outcome.SellTaxPct,
			"top10_pct": outcome.Holders.Top10Pct, "developer_pct": outcome.Holders.DeveloperPct,
			"reasons": outcome.Reasons,
		},
	}, nil
}

func (s *SimulationLayer) simulate(ctx context.Context, mint string) (SimulationOutcome, error) {
	var outcome SimulationOutcome

	buyQuote, err := s.quote.Quote(ctx, wrappedSOL, mint, ProbeAmountLamports, s.userPK, 500)
	if err != nil {
		return outcome, core.NewError(core.CodeNoRoute, "buy quote failed: %v", err)
	}
	outcome.CanBuy = true
	outcome.BuyTaxPct = taxPct(buyQuote)

	sellQuote, sellErr := s.quote.Quote(ctx, mint, wrappedSOL, buyQuote.OutputAmount, s.userPK, 500)

	// Race the two RPC-bound sub-steps (tx simulation + holder analysis)
	// against the ctx deadline, per spec §5's "race(work, timer)" pattern.
	var wg sync.WaitGroup
	var simErr1, simErr2 error
	var sellSimOK bool
	var holders HolderFacts

	if sellErr == nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sellSimOK, simErr1 = s.simulateQuoteTx(ctx, sellQuote.UnsignedTxBase64)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		holders, simErr2 = s.holderAnalysis(ctx, mint)
	}()
	wg.Wait()

	outcome.Holders = holders
	if sellErr != nil {
		outcome.CanSell = false
		outcome.Reasons = append(outcome.Reasons, fmt.Sprintf("sell quote failed: %v", sellErr))
	} else if simErr1 != nil {
		outcome.CanSell = false
		outcome.Reasons = append(outcome.Reasons, fmt.Sprintf("sell simulation errored: %v", simErr1))
	} else {
		outcome.CanSell = sellSimOK
		outcome.SellTaxPct = taxPct(sellQuote)
	}
	if simErr2 != nil {
		s.log.Warnf("simulation: holder analysis failed for %s: %v", mint, simErr2)
	}

	return outcome, nil
}

func taxPct(q *chain.Quote) float64 {
	if q == nil || q.InputAmount == 0 {
		return 0
	}
	var totalFees uint64
	for _, f := range q.RoutePlan {
		totalFees += f.FeeAmount
	}
	bps := (totalFees * 10_000) / q.InputAmount
	return float64(bps) / 100
}

func (s *SimulationLayer) simulateQuoteTx(ctx context.Context, unsignedTxBase64 string) (bool, error) {
	res, err := s.rpc.SimulateTransaction(ctx, unsignedTxBase64, true)
	if err != nil {
		return false, err
	}
	return res.Success, nil
}

func (s *SimulationLayer) holderAnalysis(ctx context.Context, mint string) (HolderFacts, error) {
	accounts, err := s.rpc.GetTokenLargestAccounts(ctx, mint, 20)
	if err != nil {
		return s.worstCaseOrError(mint, err)
	}
	mintInfo, err := s.rpc.GetParsedMintInfo(ctx, mint)
	if err != nil {
		return s.worstCaseOrError(mint, err)
	}
	if mintInfo.Supply == 0 {
		return s.worstCaseOrError(mint, errors.New("zero total supply"))
	}

	var top10 uint64
	var devHolding uint64
	for i, a := range accounts {
		if i >= 10 {
			break
		}
		top10 += a.Amount
		if i == 0 {
			devHolding = a.Amount
		}
	}
	facts := HolderFacts{
		Top10Pct:     100 * float64(top10) / float64(mintInfo.Supply),
		DeveloperPct: 100 * float64(devHolding) / float64(mintInfo.Supply),
	}
	return facts, nil
}

// worstCaseOrError implements the spec's gated open question: when
// WorstCaseHolderFallback is set, RPC failure is treated as the worst
// case (100/100/unlocked) and an operator alert fires; otherwise the
// error propagates to the caller so the orchestrator can fall back to
// another provider.
func (s *SimulationLayer) worstCaseOrError(mint string, cause error) (HolderFacts, error) {
	if !s.WorstCaseHolderFallback {
		return HolderFacts{}, cause
	}
	if s.OnOperatorAlert != nil {
		s.OnOperatorAlert(fmt.Sprintf("holder analysis RPC unavailable for %s, applying worst-case fallback: %v", mint, cause))
	}
	locked := false
	return HolderFacts{Top10Pct: 100, DeveloperPct: 100, LiquidityLocked: &locked}, nil
}

// evaluateHeuristics applies spec §4.5 step 6's ordered rule set.
func evaluateHeuristics(o SimulationOutcome) (score int, flags []Flag, rugged bool) {
	if o.CanBuy && !o.CanSell {
		flags = append(flags, FlagSellSimulationFailed)
		score += 70
		rugged = true
	}
	if o.CanSell && o.BuyTaxPct > 0 && o.SellTaxPct > 3*o.BuyTaxPct {
		rugged = true
	}
	if o.Holders.Top10Pct > 90 {
		rugged = true
	}
	if o.SellTaxPct > 50 {
		flags = append(flags, FlagHighSellTax)
		score += 40
	}
	if o.Holders.Top10Pct > 80 {
		flags = append(flags, FlagCentralized)
		score += 20
	}
	if o.Holders.DeveloperPct > 50 {
		flags = append(flags, FlagSingleHolderMajority)
		score += 30
	}
	if o.Holders.LiquidityLocked != nil && !*o.Holders.LiquidityLocked {
		flags = append(flags, FlagUnlockedLiquidity)
		score += 30
	}
	if rugged {
		score = 100
	}
	score = int(math.Min(100, float64(score)))
	return score, flags, rugged
}
