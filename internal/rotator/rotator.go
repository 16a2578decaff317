// Package rotator implements WalletRotator: strategy-driven wallet
// selection across a user's active wallets. The round-robin counter is
// an atomic fetch-and-increment against the shared store, grounded on
// the teacher's comms.NextID (atomic.AddUint64) counter idiom generalized
// from a process-wide ID generator to a per-user persisted counter. The
// active-wallet list cache and its TTL-based eviction are grounded on the
// teacher's periodic ipHTTPRateLimiter cleanup ticker in (*Server).Run.
package rotator

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/tradingbotd/core/internal/core"
	"github.com/tradingbotd/core/internal/store"
	"github.com/tradingbotd/core/internal/vault"
)

// Strategy selects a wallet from a user's active set.
type Strategy string

const (
	PrimaryOnly Strategy = "PRIMARY_ONLY"
	Specific    Strategy = "SPECIFIC"
	RoundRobin  Strategy = "ROUND_ROBIN"
	LeastUsed   Strategy = "LEAST_USED"
	Random      Strategy = "RANDOM"
)

const cacheTTL = 30 * time.Second

type cacheEntry struct {
	wallets   []*vault.EncryptedKey
	expiresAt time.Time
}

// Rotator is the WalletRotator component.
type Rotator struct {
	log  core.Logger
	st   store.Store
	repo vault.Repository

	mtx   sync.Mutex
	cache map[string]cacheEntry
}

// New constructs a Rotator.
func New(log core.Logger, st store.Store, repo vault.Repository) *Rotator {
	return &Rotator{log: log, st: st, repo: repo, cache: make(map[string]cacheEntry)}
}

// InvalidateCache drops the cached active-wallet list for a user. Must be
// called on wallet create/delete/activate.
func (r *Rotator) InvalidateCache(userRef string) {
	r.mtx.Lock()
	delete(r.cache, userRef)
	r.mtx.Unlock()
}

func (r *Rotator) activeWallets(userRef string) ([]*vault.EncryptedKey, error) {
	r.mtx.Lock()
	if e, ok := r.cache[userRef]; ok && time.Now().Before(e.expiresAt) {
		r.mtx.Unlock()
		return e.wallets, nil
	}
	r.mtx.Unlock()

	all, err := r.repo.List(userRef)
	if err != nil {
		return nil, err
	}
	active := make([]*vault.EncryptedKey, 0, len(all))
	for _, w := range all {
		if w.IsActive {
			active = append(active, w)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].CreatedAt.Before(active[j].CreatedAt) })

	r.mtx.Lock()
	r.cache[userRef] = cacheEntry{wallets: active, expiresAt: time.Now().Add(cacheTTL)}
	r.mtx.Unlock()
	return active, nil
}

// Select picks a wallet per the given strategy. specificWalletID is only
// consulted when strategy is Specific.
func (r *Rotator) Select(userRef string, strategy Strategy, specificWalletID string) (*vault.EncryptedKey, error) {
	switch strategy {
	case PrimaryOnly:
		ek, err := r.repo.Primary(userRef)
		if err != nil {
			return nil, core.NewError(core.CodeNoActiveWallet, "no primary wallet for user %s", userRef)
		}
		return ek, nil

	case Specific:
		wallets, err := r.activeWallets(userRef)
		if err != nil {
			return nil, err
		}
		for _, w := range wallets {
			if w.WalletID == specificWalletID {
				return w, nil
			}
		}
		return nil, core.NewError(core.CodeWalletNotOwned, "wallet %s not owned by user %s", specificWalletID, userRef)

	case RoundRobin:
		wallets, err := r.activeWallets(userRef)
		if err != nil {
			return nil, err
		}
		if len(wallets) == 0 {
			return nil, core.NewError(core.CodeNoActiveWallet, "no active wallets for user %s", userRef)
		}
		n, err := r.st.Incr("rotation_counter", userRef)
		if err != nil {
			return nil, fmt.Errorf("rotator: counter increment failed: %w", err)
		}
		idx := int((n - 1) % uint64(len(wallets)))
		return wallets[idx], nil

	case LeastUsed:
		wallets, err := r.activeWallets(userRef)
		if err != nil {
			return nil, err
		}
		if len(wallets) == 0 {
			return nil, core.NewError(core.CodeNoActiveWallet, "no active wallets for user %s", userRef)
		}
		best := wallets[0]
		for _, w := range wallets[1:] {
			if w.TimesUsed < best.TimesUsed ||
				(w.TimesUsed == best.TimesUsed && w.LastUsedAt.Before(best.LastUsedAt)) ||
				(w.TimesUsed == best.TimesUsed && w.LastUsedAt.Equal(best.LastUsedAt) && w.CreatedAt.Before(best.CreatedAt)) {
				best = w
			}
		}
		return best, nil

	case Random:
		wallets, err := r.activeWallets(userRef)
		if err != nil {
			return nil, err
		}
		if len(wallets) == 0 {
			return nil, core.NewError(core.CodeNoActiveWallet, "no active wallets for user %s", userRef)
		}
		return wallets[rand.Intn(len(wallets))], nil

	default:
		return nil, core.NewError(core.CodeUnknown, "unknown rotation strategy %q", strategy)
	}
}

// MarkUsed increments times_used and updates last_used_at for the given
// wallet. Callers invoke this after a selection is actually consumed.
func (r *Rotator) MarkUsed(userRef, walletID string) error {
	ek, err := r.repo.Get(userRef, walletID)
	if err != nil {
		return err
	}
	ek.TimesUsed++
	ek.LastUsedAt = time.Now()
	if err := r.repo.Save(ek); err != nil {
		return err
	}
	r.InvalidateCache(userRef)
	return nil
}
