package breaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradingbotd/core/internal/core"
	"github.com/tradingbotd/core/internal/store"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	cfg.SuccessThreshold = 2
	cfg.OpenTimeout = 20 * time.Millisecond
	cfg.MonitoringWindow = time.Second
	return cfg
}

func TestMonotonicityToOpen(t *testing.T) {
	b := New("dep", testConfig(), core.NoopLogger{}, nil)
	failing := func() (int, error) { return 0, errors.New("boom") }

	for i := 0; i < 2; i++ {
		_, err := Execute(b, failing)
		require.Error(t, err)
		assert.Equal(t, Closed, b.Metrics().State, "must not open before failure_threshold is reached")
	}

	_, err := Execute(b, failing)
	require.Error(t, err)
	assert.Equal(t, Open, b.Metrics().State)
}

func TestRecoveryRequiresConsecutiveSuccesses(t *testing.T) {
	cfg := testConfig()
	b := New("dep", cfg, core.NoopLogger{}, nil)
	failing := func() (int, error) { return 0, errors.New("boom") }
	ok := func() (int, error) { return 1, nil }

	for i := 0; i < cfg.FailureThreshold; i++ {
		Execute(b, failing)
	}
	require.Equal(t, Open, b.Metrics().State)

	// Reject while still within the open timeout.
	_, err := Execute(b, ok)
	var rejected *Rejected
	require.ErrorAs(t, err, &rejected)

	time.Sleep(cfg.OpenTimeout + 5*time.Millisecond)

	// First success in HALF_OPEN must not close the breaker.
	_, err = Execute(b, ok)
	require.NoError(t, err)
	assert.Equal(t, HalfOpen, b.Metrics().State)

	_, err = Execute(b, ok)
	require.NoError(t, err)
	assert.Equal(t, Closed, b.Metrics().State)
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cfg := testConfig()
	b := New("dep", cfg, core.NoopLogger{}, nil)
	failing := func() (int, error) { return 0, errors.New("boom") }

	for i := 0; i < cfg.FailureThreshold; i++ {
		Execute(b, failing)
	}
	time.Sleep(cfg.OpenTimeout + 5*time.Millisecond)

	_, err := Execute(b, failing)
	require.Error(t, err)
	assert.Equal(t, Open, b.Metrics().State)
}

func TestPersistenceRoundTrip(t *testing.T) {
	cfg := testConfig()
	cfg.PersistenceEnabled = true
	st := store.NewMemStore()

	b := New("dep", cfg, core.NoopLogger{}, st)
	failing := func() (int, error) { return 0, errors.New("boom") }
	for i := 0; i < cfg.FailureThreshold; i++ {
		Execute(b, failing)
	}
	require.Equal(t, Open, b.Metrics().State)

	// A fresh Breaker instance over the same store recovers OPEN state.
	b2 := New("dep", cfg, core.NoopLogger{}, st)
	assert.Equal(t, Open, b2.Metrics().State)
}

func TestExecutePropagatesCallerError(t *testing.T) {
	b := New("dep", testConfig(), core.NoopLogger{}, nil)
	sentinel := errors.New("upstream says no")
	_, err := Execute(b, func() (int, error) { return 0, sentinel })
	assert.ErrorIs(t, err, sentinel)
}

func TestConcurrentExecuteIsRaceFree(t *testing.T) {
	b := New("dep", testConfig(), core.NoopLogger{}, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Execute(b, func() (int, error) { return 1, nil })
		}()
	}
	wg.Wait()
}
