package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradingbotd/core/internal/breaker"
	"github.com/tradingbotd/core/internal/chain"
	"github.com/tradingbotd/core/internal/core"
	"github.com/tradingbotd/core/internal/executor"
	"github.com/tradingbotd/core/internal/filter"
	"github.com/tradingbotd/core/internal/honeypot"
	"github.com/tradingbotd/core/internal/monitor"
	"github.com/tradingbotd/core/internal/orderstate"
	"github.com/tradingbotd/core/internal/rotator"
	"github.com/tradingbotd/core/internal/session"
	"github.com/tradingbotd/core/internal/store"
	"github.com/tradingbotd/core/internal/vault"
)

type fakeQuotes struct{}

func (fakeQuotes) Quote(ctx context.Context, inputMint, outputMint string, amount uint64, userPubkey string, slippageBps int) (*chain.Quote, error) {
	return &chain.Quote{InputMint: inputMint, OutputMint: outputMint, InputAmount: amount, OutputAmount: amount * 2, UnsignedTxBase64: "tx", RequestID: "req1"}, nil
}

func (fakeQuotes) Execute(ctx context.Context, signedTxBase64, requestID string) (string, error) {
	return "sig1", nil
}

type fakeRPC struct {
	chain.RPC
	calls int
}

func (f *fakeRPC) GetConfirmationStatus(ctx context.Context, signature string) (bool, int, string, error) {
	f.calls++
	return f.calls >= 1, 1, "", nil
}

type lowRiskProvider struct{}

func (lowRiskProvider) Name() string      { return "stub" }
func (lowRiskProvider) Priority() int     { return 1 }
func (lowRiskProvider) IsAvailable() bool { return true }
func (lowRiskProvider) Check(ctx context.Context, mint string) (honeypot.ProviderResult, error) {
	return honeypot.ProviderResult{Score: 10}, nil
}

func buildOrchestrator(t *testing.T) (*Orchestrator, string, string) {
	t.Helper()
	log := core.NoopLogger{}
	repo := vault.NewMemRepository()
	v := vault.New(log, repo)
	_, err := v.CreateWallet("user1", "correct-horse-battery-9", "primary")
	require.NoError(t, err)

	st := store.NewMemStore()
	sessEngine := session.New(log, st, v, repo)
	token, err := sessEngine.Unlock("user1", "correct-horse-battery-9", false)
	require.NoError(t, err)

	rot := rotator.New(log, st, repo)
	states := orderstate.New(log, st)
	det := honeypot.New(log, st, []honeypot.Provider{lowRiskProvider{}}, honeypot.FallbackConfig{}, nil)
	_, err = det.Check(context.Background(), "FOO_MINT")
	require.NoError(t, err)

	deps := executor.Deps{
		Log:     log,
		States:  states,
		Filters: filter.New(),
		Quotes:  fakeQuotes{},
		RPC:     &fakeRPC{},
		Sign: func(unsignedTxBase64 string, secret *vault.Secret) (string, error) {
			return "signed:" + unsignedTxBase64, nil
		},
		QuoteBreaker: breaker.New("quote", breaker.DefaultConfig(), log, nil),
		SendBreaker:  breaker.New("send", breaker.DefaultConfig(), log, nil),
	}
	exec := executor.New(deps)

	orch := New(Deps{
		Log:      log,
		Detector: det,
		Filters:  filter.New(),
		FactsOf: func(ctx context.Context, mint string) (chain.TokenFacts, error) {
			return chain.TokenFacts{Mint: mint, MintAuthorityNull: true, FreezeAuthorityNull: true, LiquiditySOL: 50}, nil
		},
		Rotator:  rot,
		Sessions: sessEngine,
		States:   states,
		Executor: exec,
	}, DefaultConfig())

	return orch, "user1", token
}

type fakePositionStore struct{ opened []*monitor.Position }

func (f *fakePositionStore) Open(pos *monitor.Position) error {
	f.opened = append(f.opened, pos)
	return nil
}
func (f *fakePositionStore) Positions(userRef string) []*monitor.Position { return f.opened }
func (f *fakePositionStore) Remove(mint string)                           {}

func TestOrchestratorOpensPositionOnConfirm(t *testing.T) {
	log := core.NoopLogger{}
	repo := vault.NewMemRepository()
	v := vault.New(log, repo)
	_, err := v.CreateWallet("user1", "correct-horse-battery-9", "primary")
	require.NoError(t, err)

	st := store.NewMemStore()
	sessEngine := session.New(log, st, v, repo)
	token, err := sessEngine.Unlock("user1", "correct-horse-battery-9", false)
	require.NoError(t, err)

	rot := rotator.New(log, st, repo)
	states := orderstate.New(log, st)
	det := honeypot.New(log, st, []honeypot.Provider{lowRiskProvider{}}, honeypot.FallbackConfig{}, nil)
	_, err = det.Check(context.Background(), "FOO_MINT")
	require.NoError(t, err)

	deps := executor.Deps{
		Log:     log,
		States:  states,
		Filters: filter.New(),
		Quotes:  fakeQuotes{},
		RPC:     &fakeRPC{},
		Sign: func(unsignedTxBase64 string, secret *vault.Secret) (string, error) {
			return "signed:" + unsignedTxBase64, nil
		},
		QuoteBreaker: breaker.New("quote", breaker.DefaultConfig(), log, nil),
		SendBreaker:  breaker.New("send", breaker.DefaultConfig(), log, nil),
	}
	exec := executor.New(deps)

	positions := &fakePositionStore{}
	rug := monitor.NewRugMonitor(log, monitor.DefaultRugConfig(), func(ctx context.Context, mint string) (monitor.RugSnapshot, error) {
		return monitor.RugSnapshot{}, nil
	})

	orch := New(Deps{
		Log:      log,
		Detector: det,
		Filters:  filter.New(),
		FactsOf: func(ctx context.Context, mint string) (chain.TokenFacts, error) {
			return chain.TokenFacts{Mint: mint, MintAuthorityNull: true, FreezeAuthorityNull: true, LiquiditySOL: 50}, nil
		},
		Rotator:   rot,
		Sessions:  sessEngine,
		States:    states,
		Executor:  exec,
		Positions: positions,
		Rug:       rug,
	}, DefaultConfig())

	takeProfit := 1.0
	outcome, err := orch.Run(context.Background(), Request{
		UserRef:      "user1",
		SessionToken: token,
		OrderConfig: orderstate.Config{
			InputMint: "SOL", OutputMint: "FOO_MINT", InputAmount: 1000,
			SlippageBps: 100, MaxRetries: 1, AttemptTimeout: 2 * time.Second,
		},
		TakeProfitPct: &takeProfit,
	})

	require.NoError(t, err)
	assert.Equal(t, orderstate.Confirmed, outcome.Order.State)
	require.Len(t, positions.opened, 1)
	assert.Equal(t, "FOO_MINT", positions.opened[0].Mint)
	assert.Equal(t, outcome.Order.ID, positions.opened[0].OrderRef)
	assert.Equal(t, &takeProfit, positions.opened[0].TakeProfitPct)

	_, rugged := rug.Check(context.Background(), positions.opened[0])
	assert.False(t, rugged)
}

func TestOrchestratorHappyPath(t *testing.T) {
	orch, userRef, token := buildOrchestrator(t)

	outcome, err := orch.Run(context.Background(), Request{
		UserRef:      userRef,
		SessionToken: token,
		FilterConfig: filter.Config{},
		OrderConfig: orderstate.Config{
			InputMint: "SOL", OutputMint: "FOO_MINT", InputAmount: 1000,
			SlippageBps: 100, MaxRetries: 1, AttemptTimeout: 2 * time.Second,
		},
	})

	require.NoError(t, err)
	require.NotNil(t, outcome.Order)
	assert.Equal(t, orderstate.Confirmed, outcome.Order.State)
	assert.False(t, outcome.Rejected)
}

func TestOrchestratorRejectsUnknownTokenByDefault(t *testing.T) {
	orch, userRef, token := buildOrchestrator(t)

	outcome, err := orch.Run(context.Background(), Request{
		UserRef:      userRef,
		SessionToken: token,
		OrderConfig: orderstate.Config{
			InputMint: "SOL", OutputMint: "NEVER_SEEN_MINT", InputAmount: 1000,
			SlippageBps: 100, MaxRetries: 1, AttemptTimeout: 2 * time.Second,
		},
	})

	require.NoError(t, err)
	assert.True(t, outcome.Rejected)
}

func TestOrchestratorRejectsOnFilterFailure(t *testing.T) {
	orch, userRef, token := buildOrchestrator(t)
	minLiquidity := 1000.0

	outcome, err := orch.Run(context.Background(), Request{
		UserRef:      userRef,
		SessionToken: token,
		FilterConfig: filter.Config{MinLiquiditySOL: &minLiquidity},
		OrderConfig: orderstate.Config{
			InputMint: "SOL", OutputMint: "FOO_MINT", InputAmount: 1000,
			SlippageBps: 100, MaxRetries: 1, AttemptTimeout: 2 * time.Second,
		},
	})

	require.NoError(t, err)
	assert.True(t, outcome.Rejected)
	assert.Equal(t, orderstate.Failed, outcome.Order.State)
}
