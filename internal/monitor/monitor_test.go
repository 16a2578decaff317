package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradingbotd/core/internal/core"
)

type fakePriceLookup struct{ price float64 }

func (f *fakePriceLookup) USDPrice(ctx context.Context, mint string) (float64, error) {
	return f.price, nil
}

type fakeStore struct{ positions []*Position }

func (f *fakeStore) Open(pos *Position) error {
	f.positions = append(f.positions, pos)
	return nil
}
func (f *fakeStore) Positions(userRef string) []*Position { return f.positions }
func (f *fakeStore) Remove(mint string)                   {}

func pct(f float64) *float64 { return &f }

func TestPositionMonitorTriggersTakeProfit(t *testing.T) {
	pos := &Position{
		Mint: "FOO", EntryAmount: 1000, EntryValueQuote: 100, EntryTime: time.Now(),
		TakeProfitPct: pct(1.0), // 100% gain target
	}
	prices := &fakePriceLookup{price: 0.25} // 1000 * 0.25 = 250 => 2.5x => 150% gain, trips TP

	var exited ExitTrigger
	var calls int
	exit := func(ctx context.Context, p *Position, trigger ExitTrigger, sellPct float64) error {
		exited = trigger
		calls++
		return nil
	}

	m := NewPositionMonitor(core.NoopLogger{}, &fakeStore{positions: []*Position{pos}}, prices, exit, nil)
	m.checkOne(context.Background(), pos)

	assert.Equal(t, 1, calls)
	assert.Equal(t, TriggerTakeProfit, exited)
}

func TestPositionMonitorTriggersStopLoss(t *testing.T) {
	pos := &Position{
		Mint: "FOO", EntryAmount: 1000, EntryValueQuote: 100, EntryTime: time.Now(),
		StopLossPct: pct(0.2),
	}
	prices := &fakePriceLookup{price: 0.00075} // 1000*0.00075=0.75 => drop 99%+

	var exited ExitTrigger
	exit := func(ctx context.Context, p *Position, trigger ExitTrigger, sellPct float64) error {
		exited = trigger
		return nil
	}

	m := NewPositionMonitor(core.NoopLogger{}, &fakeStore{}, prices, exit, nil)
	m.checkOne(context.Background(), pos)

	assert.Equal(t, TriggerStopLoss, exited)
}

func TestPositionMonitorNoTriggerWithinBand(t *testing.T) {
	pos := &Position{
		Mint: "FOO", EntryAmount: 1000, EntryValueQuote: 100, EntryTime: time.Now(),
		TakeProfitPct: pct(1.0), StopLossPct: pct(0.5),
	}
	prices := &fakePriceLookup{price: 0.1} // 1000*0.1=100 => multiple 1.0, flat

	called := false
	exit := func(ctx context.Context, p *Position, trigger ExitTrigger, sellPct float64) error {
		called = true
		return nil
	}

	m := NewPositionMonitor(core.NoopLogger{}, &fakeStore{}, prices, exit, nil)
	m.checkOne(context.Background(), pos)

	assert.False(t, called)
}

func TestRugMonitorDetectsLiquidityDrop(t *testing.T) {
	facts := func(ctx context.Context, mint string) (RugSnapshot, error) {
		return RugSnapshot{LiquiditySOL: 2, MintAuthorityNull: true, FreezeAuthorityNull: true}, nil
	}
	rm := NewRugMonitor(core.NoopLogger{}, DefaultRugConfig(), facts)
	rm.RecordEntry("FOO", RugSnapshot{LiquiditySOL: 10, MintAuthorityNull: true, FreezeAuthorityNull: true})

	trigger, rugged := rm.Check(context.Background(), &Position{Mint: "FOO"})
	require.True(t, rugged)
	assert.Equal(t, RugLiquidityDrop, trigger)
}

func TestRugMonitorDetectsHolderDump(t *testing.T) {
	facts := func(ctx context.Context, mint string) (RugSnapshot, error) {
		return RugSnapshot{Top10HoldersPct: 30, MintAuthorityNull: true, FreezeAuthorityNull: true}, nil
	}
	rm := NewRugMonitor(core.NoopLogger{}, DefaultRugConfig(), facts)
	rm.RecordEntry("FOO", RugSnapshot{Top10HoldersPct: 70, MintAuthorityNull: true, FreezeAuthorityNull: true})

	trigger, rugged := rm.Check(context.Background(), &Position{Mint: "FOO"})
	require.True(t, rugged)
	assert.Equal(t, RugHolderDump, trigger)
}

func TestRugMonitorIgnoresHolderConcentrationIncrease(t *testing.T) {
	// Top-10 share rising is centralization, not a dump; RugHolderDump
	// must only fire when the top-10 balance share falls.
	facts := func(ctx context.Context, mint string) (RugSnapshot, error) {
		return RugSnapshot{Top10HoldersPct: 90, MintAuthorityNull: true, FreezeAuthorityNull: true}, nil
	}
	rm := NewRugMonitor(core.NoopLogger{}, DefaultRugConfig(), facts)
	rm.RecordEntry("FOO", RugSnapshot{Top10HoldersPct: 50, MintAuthorityNull: true, FreezeAuthorityNull: true})

	_, rugged := rm.Check(context.Background(), &Position{Mint: "FOO"})
	assert.False(t, rugged)
}

func TestRugMonitorDetectsAuthorityReenabled(t *testing.T) {
	facts := func(ctx context.Context, mint string) (RugSnapshot, error) {
		return RugSnapshot{MintAuthorityNull: false, FreezeAuthorityNull: true}, nil
	}
	rm := NewRugMonitor(core.NoopLogger{}, DefaultRugConfig(), facts)
	rm.RecordEntry("FOO", RugSnapshot{MintAuthorityNull: true, FreezeAuthorityNull: true})

	trigger, rugged := rm.Check(context.Background(), &Position{Mint: "FOO"})
	require.True(t, rugged)
	assert.Equal(t, RugAuthorityReenabled, trigger)
}

func TestRugMonitorNoBaselineIsNotRugged(t *testing.T) {
	facts := func(ctx context.Context, mint string) (RugSnapshot, error) {
		return RugSnapshot{}, nil
	}
	rm := NewRugMonitor(core.NoopLogger{}, DefaultRugConfig(), facts)
	_, rugged := rm.Check(context.Background(), &Position{Mint: "UNKNOWN"})
	assert.False(t, rugged)
}
