package rotator

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradingbotd/core/internal/core"
	"github.com/tradingbotd/core/internal/store"
	"github.com/tradingbotd/core/internal/vault"
)

func seedWallets(t *testing.T, repo *vault.MemRepository, userRef string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, repo.Save(&vault.EncryptedKey{
			UserRef:   userRef,
			WalletID:  string(rune('a' + i)),
			IsPrimary: i == 0,
			IsActive:  true,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Millisecond),
		}))
	}
}

func TestRoundRobinFairnessUnderConcurrency(t *testing.T) {
	repo := vault.NewMemRepository()
	const userRef, nWallets, nCallers = "u1", 5, 20
	seedWallets(t, repo, userRef, nWallets)

	r := New(core.NoopLogger{}, store.NewMemStore(), repo)

	counts := make([]int, nWallets)
	var mtx sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < nCallers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ek, err := r.Select(userRef, RoundRobin, "")
			require.NoError(t, err)
			mtx.Lock()
			counts[ek.WalletID[0]-'a']++
			mtx.Unlock()
		}()
	}
	wg.Wait()

	sum, max, min := 0, 0, nCallers
	for _, c := range counts {
		sum += c
		if c > max {
			max = c
		}
		if c < min {
			min = c
		}
	}
	assert.Equal(t, nCallers, sum)
	if min == 0 {
		min = 1
	}
	assert.Less(t, float64(max)/float64(min), 3.0, "max/min selection ratio must stay under 3")
}

func TestPrimaryOnlyFailsWithoutPrimary(t *testing.T) {
	repo := vault.NewMemRepository()
	r := New(core.NoopLogger{}, store.NewMemStore(), repo)
	_, err := r.Select("nobody", PrimaryOnly, "")
	require.Error(t, err)
}

func TestSpecificRejectsUnownedWallet(t *testing.T) {
	repo := vault.NewMemRepository()
	seedWallets(t, repo, "u1", 2)
	r := New(core.NoopLogger{}, store.NewMemStore(), repo)
	_, err := r.Select("u1", Specific, "not-owned")
	require.Error(t, err)

	ek, err := r.Select("u1", Specific, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", ek.WalletID)
}

func TestLeastUsedPicksMinimalUsageThenOldest(t *testing.T) {
	repo := vault.NewMemRepository()
	seedWallets(t, repo, "u1", 3)
	r := New(core.NoopLogger{}, store.NewMemStore(), repo)

	require.NoError(t, r.MarkUsed("u1", "a"))
	require.NoError(t, r.MarkUsed("u1", "a"))
	require.NoError(t, r.MarkUsed("u1", "b"))

	ek, err := r.Select("u1", LeastUsed, "")
	require.NoError(t, err)
	assert.Equal(t, "c", ek.WalletID)

	// b and c are now tied on usage; b's last use is the older one.
	require.NoError(t, r.MarkUsed("u1", "c"))
	ek, err = r.Select("u1", LeastUsed, "")
	require.NoError(t, err)
	assert.Equal(t, "b", ek.WalletID)
}

func TestMarkUsedInvalidatesCache(t *testing.T) {
	repo := vault.NewMemRepository()
	seedWallets(t, repo, "u1", 1)
	r := New(core.NoopLogger{}, store.NewMemStore(), repo)

	_, err := r.Select("u1", LeastUsed, "")
	require.NoError(t, err)
	require.NoError(t, r.MarkUsed("u1", "a"))

	ek, err := r.Select("u1", LeastUsed, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ek.TimesUsed)
}
