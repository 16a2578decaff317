package orderstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradingbotd/core/internal/core"
	"github.com/tradingbotd/core/internal/filter"
	"github.com/tradingbotd/core/internal/store"
)

func newMachine() *Machine {
	return New(core.NoopLogger{}, store.NewMemStore())
}

func TestHappyPathMonotonic(t *testing.T) {
	m := newMachine()
	o := m.Create("user-1", Config{InputMint: "SOL", OutputMint: "TOKEN", InputAmount: 1_000_000})
	require.Equal(t, Pending, o.State)

	_, err := m.Validate(o.ID, filter.Result{Passed: true})
	require.NoError(t, err)
	_, err = m.BeginSimulating(o.ID)
	require.NoError(t, err)
	_, err = m.BeginSigning(o.ID, SigningPayload{QuoteID: "q1", ExpectedOutput: 500})
	require.NoError(t, err)
	_, err = m.BeginBroadcasting(o.ID, "sig1")
	require.NoError(t, err)
	_, err = m.BeginConfirming(o.ID)
	require.NoError(t, err)
	_, err = m.AdvanceConfirmingDepth(o.ID, 1)
	require.NoError(t, err)
	final, err := m.Confirm(o.ID, ConfirmedPayload{Signature: "sig1", ActualOutput: 500})
	require.NoError(t, err)

	assert.Equal(t, Confirmed, final.State)
	assert.True(t, final.State.IsTerminal())
	assert.Equal(t, []State{Pending, Validated, Simulating, Signing, Broadcasting, Confirming, Confirming, Confirmed}, final.History)
}

func TestFilterRejectGoesToFailed(t *testing.T) {
	m := newMachine()
	o := m.Create("user-1", Config{})
	final, err := m.Validate(o.ID, filter.Result{Passed: false, Violations: []filter.Violation{{Filter: "min_liquidity_sol"}}})
	require.NoError(t, err)
	assert.Equal(t, Failed, final.State)
	assert.Equal(t, core.CodeFilterRejected, final.Failed.Code)
}

func TestInvalidTransitionPanics(t *testing.T) {
	m := newMachine()
	o := m.Create("user-1", Config{})
	assert.Panics(t, func() {
		_, _ = m.Confirm(o.ID, ConfirmedPayload{})
	})
}

func TestTerminalStatesHaveNoOutgoing(t *testing.T) {
	assert.True(t, Confirmed.IsTerminal())
	assert.True(t, Failed.IsTerminal())
	assert.False(t, Pending.IsTerminal())
}
