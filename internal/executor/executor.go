// Package executor implements the Executor component: the
// quote -> sign -> broadcast -> confirm pipeline that takes a
// VALIDATED order to CONFIRMED or FAILED. The retry-with-backoff shape
// around each outbound call is grounded on
// Jonaed13-potential-pancake's ExecutorFast.executeBuyFast/
// executeSellFast ("100ms * (1 << attempt)"), generalized to the spec's
// per-attempt timeout and a circuit breaker wrapping every outbound call
// (grounded on internal/breaker, itself grounded on the teacher's route
// rate limiter composition in server/comms/server.go).
package executor

import (
	"context"
	"math"
	"time"

	"github.com/tradingbotd/core/internal/breaker"
	"github.com/tradingbotd/core/internal/chain"
	"github.com/tradingbotd/core/internal/core"
	"github.com/tradingbotd/core/internal/filter"
	"github.com/tradingbotd/core/internal/orderstate"
	"github.com/tradingbotd/core/internal/vault"
)

// Signer produces a signed transaction from an unsigned one using the
// session's decrypted secret key. A concrete Solana transaction codec is
// out of this module's scope (spec §1); this is the shape a thin wrapper
// over one would take.
type Signer func(unsignedTxBase64 string, secret *vault.Secret) (signedTxBase64 string, err error)

// Deps bundles the Executor's collaborators.
type Deps struct {
	Log       core.Logger
	States    *orderstate.Machine
	Filters   *filter.Engine
	Quotes    chain.QuoteProvider
	RPC       chain.RPC
	Sign      Signer
	QuoteBreaker *breaker.Breaker
	SendBreaker  *breaker.Breaker

	// Decimals and Prices back the commission calculation (spec §4.9).
	// Both are optional: a nil value skips commission computation for
	// the trade rather than failing it.
	Decimals         chain.DecimalsLookup
	Prices           chain.PriceLookup
	MinCommissionUSD float64
	CommissionBps    int
}

// Executor runs the order pipeline for a single order at a time; callers
// fan out across goroutines per order, matching the teacher's
// per-connection goroutine model.
type Executor struct {
	d Deps
}

func New(d Deps) *Executor {
	return &Executor{d: d}
}

// Result is returned by Run once the order has reached a terminal state.
type Result struct {
	Order *orderstate.Order
	Err   error
}

// confirmPollInterval is how often Run polls GetConfirmationStatus while
// an order sits in CONFIRMING.
const confirmPollInterval = 400 * time.Millisecond

// Run drives order through quote -> sign -> broadcast -> confirm.
// userPubkey is the wallet's public key, sent with the quote request, and
// secret is the decrypted signing secret for the session; it is the
// caller's responsibility to have already advanced the order to VALIDATED
// via the FilterEngine.
func (x *Executor) Run(ctx context.Context, order *orderstate.Order, userPubkey string, secret *vault.Secret) Result {
	order, err := x.d.States.BeginSimulating(order.ID)
	if err != nil {
		return Result{Order: order, Err: err}
	}

	quote, err := x.quoteWithRetry(ctx, order, userPubkey)
	if err != nil {
		order, _ = x.d.States.Fail(order.ID, core.CodeOf(err), order.Config.MaxRetries)
		return Result{Order: order, Err: err}
	}

	order, err = x.d.States.BeginSigning(order.ID, orderstate.SigningPayload{
		QuoteID:        quote.RequestID,
		ExpectedOutput: quote.OutputAmount,
		PriceImpactPct: quote.PriceImpactPct,
	})
	if err != nil {
		return Result{Order: order, Err: err}
	}

	signedTx, err := x.d.Sign(quote.UnsignedTxBase64, secret)
	if err != nil {
		order, _ = x.d.States.Fail(order.ID, core.CodeEncryptionFailed, 0)
		return Result{Order: order, Err: err}
	}

	signature, err := x.broadcastWithRetry(ctx, order, signedTx, quote.RequestID)
	if err != nil {
		order, _ = x.d.States.Fail(order.ID, core.CodeOf(err), order.Config.MaxRetries)
		return Result{Order: order, Err: err}
	}

	order, err = x.d.States.BeginBroadcasting(order.ID, signature)
	if err != nil {
		return Result{Order: order, Err: err}
	}
	order, err = x.d.States.BeginConfirming(order.ID)
	if err != nil {
		return Result{Order: order, Err: err}
	}

	order, err = x.confirm(ctx, order, signature, quote)
	return Result{Order: order, Err: err}
}

// quoteWithRetry retries the quote call with exponential backoff
// (1s/2s/4s, capped at MaxRetries) through the quote circuit breaker.
func (x *Executor) quoteWithRetry(ctx context.Context, order *orderstate.Order, userPubkey string) (*chain.Quote, error) {
	var lastErr error
	for attempt := 0; attempt <= order.Config.MaxRetries; attempt++ {
		if attempt > 0 {
			if !sleepCtx(ctx, backoffDelay(attempt)) {
				return nil, ctx.Err()
			}
		}
		attemptCtx, cancel := withAttemptTimeout(ctx, order.Config.AttemptTimeout)
		q, err := breaker.Execute(x.d.QuoteBreaker, func() (*chain.Quote, error) {
			return x.d.Quotes.Quote(attemptCtx, order.Config.InputMint, order.Config.OutputMint, order.Config.InputAmount, userPubkey, order.Config.SlippageBps)
		})
		cancel()
		if err == nil {
			return q, nil
		}
		lastErr = err
		x.d.Log.Warnf("executor: quote attempt %d/%d for order %s failed: %v", attempt+1, order.Config.MaxRetries+1, order.ID, err)
	}
	return nil, core.NewError(core.CodeMaxRetriesExceeded, "quote failed after %d attempts: %v", order.Config.MaxRetries+1, lastErr)
}

func (x *Executor) broadcastWithRetry(ctx context.Context, order *orderstate.Order, signedTx, requestID string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= order.Config.MaxRetries; attempt++ {
		if attempt > 0 {
			if !sleepCtx(ctx, backoffDelay(attempt)) {
				return "", ctx.Err()
			}
		}
		attemptCtx, cancel := withAttemptTimeout(ctx, order.Config.AttemptTimeout)
		sig, err := breaker.Execute(x.d.SendBreaker, func() (string, error) {
			return x.d.Quotes.Execute(attemptCtx, signedTx, requestID)
		})
		cancel()
		if err == nil {
			return sig, nil
		}
		lastErr = err
		x.d.Log.Warnf("executor: broadcast attempt %d/%d for order %s failed: %v", attempt+1, order.Config.MaxRetries+1, order.ID, err)
	}
	return "", core.NewError(core.CodeTransactionFailed, "broadcast failed after %d attempts: %v", order.Config.MaxRetries+1, lastErr)
}

// confirm polls GetConfirmationStatus until confirmed, failed, or the
// per-attempt timeout elapses, advancing the self-loop CONFIRMING state
// with each depth update (spec §4.8).
func (x *Executor) confirm(ctx context.Context, order *orderstate.Order, signature string, quote *chain.Quote) (*orderstate.Order, error) {
	deadline := time.Now().Add(order.Config.AttemptTimeout)
	start := time.Now()
	for {
		if time.Now().After(deadline) {
			o, _ := x.d.States.Fail(order.ID, core.CodeTransactionTimeout, 0)
			return o, core.NewError(core.CodeTransactionTimeout, "confirmation timed out for order %s", order.ID)
		}
		confirmed, depth, chainErr, err := x.d.RPC.GetConfirmationStatus(ctx, signature)
		if err != nil {
			x.d.Log.Warnf("executor: confirmation poll failed for order %s: %v", order.ID, err)
		} else if chainErr != "" {
			o, _ := x.d.States.Fail(order.ID, core.CodeTransactionFailed, 0)
			return o, core.NewError(core.CodeTransactionFailed, "order %s failed on-chain: %s", order.ID, chainErr)
		} else if confirmed {
			o, ferr := x.d.States.Confirm(order.ID, orderstate.ConfirmedPayload{
				Signature:      signature,
				ActualInput:    quote.InputAmount,
				ActualOutput:   quote.OutputAmount,
				PriceImpactPct: quote.PriceImpactPct,
				ExecutionTime:  time.Since(start),
				CommissionUSD:  x.computeCommission(ctx, order.Config.OutputMint, quote.OutputAmount),
			})
			return o, ferr
		} else {
			o, ferr := x.d.States.AdvanceConfirmingDepth(order.ID, depth)
			if ferr != nil {
				return o, ferr
			}
			order = o
		}
		if !sleepCtx(ctx, confirmPollInterval) {
			o, _ := x.d.States.Fail(order.ID, core.CodeTimeout, 0)
			return o, ctx.Err()
		}
	}
}

// computeCommission applies spec §4.9's
// commission_usd = max(min_commission, output_ui_amount * price * bps / 10_000)
// against the trade's actual output. Decimals/Prices are optional
// collaborators: if either is unwired, commission is skipped (0) rather
// than failing an otherwise-confirmed trade.
func (x *Executor) computeCommission(ctx context.Context, outputMint string, outputAmount uint64) float64 {
	if x.d.Decimals == nil || x.d.Prices == nil {
		return 0
	}
	decimals, err := x.d.Decimals.Decimals(ctx, outputMint)
	if err != nil {
		x.d.Log.Warnf("executor: decimals lookup failed for %s, skipping commission: %v", outputMint, err)
		return 0
	}
	price, err := x.d.Prices.USDPrice(ctx, outputMint)
	if err != nil {
		x.d.Log.Warnf("executor: price lookup failed for %s, skipping commission: %v", outputMint, err)
		return 0
	}
	uiAmount := float64(outputAmount) / math.Pow10(int(decimals))
	commission := uiAmount * price * float64(x.d.CommissionBps) / 10_000
	if commission < x.d.MinCommissionUSD {
		commission = x.d.MinCommissionUSD
	}
	return commission
}

func backoffDelay(attempt int) time.Duration {
	d := time.Second << (attempt - 1)
	const maxDelay = 4 * time.Second
	if d > maxDelay {
		d = maxDelay
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func withAttemptTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(ctx, d)
}
