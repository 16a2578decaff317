package honeypot

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tradingbotd/core/internal/core"
	"github.com/tradingbotd/core/internal/store"
)

// RiskLevel classifies a Verdict's score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskUnknown  RiskLevel = "unknown"
)

// Verdict is the HoneypotDetector's merged output.
type Verdict struct {
	Mint        string
	Score       int
	Level       RiskLevel
	Flags       []Flag
	Confidence  float64 // lower when fewer providers responded
	Providers   []string
	CheckedAt   time.Time
}

func classify(score int) RiskLevel {
	switch {
	case score < 30:
		return RiskLow
	case score < 70:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// FallbackConfig controls the priority-ordered fallback chain.
type FallbackConfig struct {
	StopOnFirstSuccess bool
	MaxProviders       int
}

// cacheEntry is the honeypot cache's record, TTL 1 hour per spec §4.5.
type cacheEntry struct {
	Verdict Verdict
}

const cacheBucket = "honeypot_cache"
const cacheTTL = time.Hour

// Detector is the HoneypotDetector component.
type Detector struct {
	log       core.Logger
	st        store.Store
	providers []Provider
	fallback  FallbackConfig
	whitelist map[string]bool

	mtx      sync.Mutex
	inflight map[string]bool // tokens with a background check already running
}

// New constructs a Detector. providers need not be pre-sorted; Check
// sorts them by Priority() ascending.
func New(log core.Logger, st store.Store, providers []Provider, fallback FallbackConfig, whitelist []string) *Detector {
	wl := make(map[string]bool, len(whitelist))
	for _, id := range whitelist {
		wl[id] = true
	}
	sorted := append([]Provider(nil), providers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Priority() < sorted[j].Priority() })
	return &Detector{log: log, st: st, providers: sorted, fallback: fallback, whitelist: wl, inflight: make(map[string]bool)}
}

func cacheKey(mint string) string { return mint }

// CachedVerdict performs the synchronous, sub-10ms cache lookup path. It
// never calls a provider. A cache miss returns (nil, false); the caller
// is expected to invoke CheckAsync to populate the cache in the
// background, per spec §4.5 "on cache miss ... the caller receives null
// immediately and a background check populates the cache."
func (d *Detector) CachedVerdict(mint string) (*Verdict, bool) {
	if d.whitelist[mint] {
		v := Verdict{Mint: mint, Score: 0, Level: RiskLow, Confidence: 1, CheckedAt: time.Now()}
		return &v, true
	}
	raw, err := d.st.Get(cacheBucket, cacheKey(mint))
	if err != nil {
		return nil, false
	}
	var entry cacheEntry
	if err := decodeCacheEntry(raw, &entry); err != nil {
		return nil, false
	}
	return &entry.Verdict, true
}

// CheckAsync triggers a background check for mint if one is not already
// in flight, populating the cache when it completes. It never blocks the
// caller.
func (d *Detector) CheckAsync(ctx context.Context, mint string) {
	d.mtx.Lock()
	if d.inflight[mint] {
		d.mtx.Unlock()
		return
	}
	d.inflight[mint] = true
	d.mtx.Unlock()

	go func() {
		defer func() {
			d.mtx.Lock()
			delete(d.inflight, mint)
			d.mtx.Unlock()
		}()
		v, err := d.Check(ctx, mint)
		if err != nil {
			d.log.Warnf("honeypot: background check failed for %s: %v", mint, err)
			return
		}
		d.store(mint, v)
	}()
}

// Check synchronously runs the priority-ordered fallback chain and
// returns the merged Verdict. A whitelisted mint short-circuits to score
// 0 without touching any provider.
func (d *Detector) Check(ctx context.Context, mint string) (Verdict, error) {
	if d.whitelist[mint] {
		return Verdict{Mint: mint, Score: 0, Level: RiskLow, Confidence: 1, CheckedAt: time.Now()}, nil
	}

	var (
		maxScore   int
		flagSet    = map[Flag]bool{}
		responders []string
		queried    int
	)

	for _, p := range d.providers {
		if d.fallback.MaxProviders > 0 && queried >= d.fallback.MaxProviders {
			break
		}
		if !p.IsAvailable() {
			continue
		}
		queried++
		res, err := p.Check(ctx, mint)
		if err != nil {
			d.log.Warnf("honeypot: provider %s failed for %s: %v", p.Name(), mint, err)
			continue
		}
		responders = append(responders, p.Name())
		score := res.Score
		if res.Rugged {
			score = 100
		}
		if score > maxScore {
			maxScore = score
		}
		for _, f := range res.Flags {
			flagSet[f] = true
		}
		if d.fallback.StopOnFirstSuccess {
			break
		}
	}

	flags := make([]Flag, 0, len(flagSet))
	for f := range flagSet {
		flags = append(flags, f)
	}
	sort.Slice(flags, func(i, j int) bool { return flags[i] < flags[j] })

	if len(responders) == 0 {
		return Verdict{
			Mint: mint, Score: 0, Level: RiskUnknown, Flags: []Flag{FlagUnknown},
			Confidence: 0, Providers: nil, CheckedAt: time.Now(),
		}, nil
	}

	denom := len(d.providers)
	if denom < 1 {
		denom = 1
	}
	confidence := float64(len(responders)) / float64(denom)
	v := Verdict{
		Mint: mint, Score: maxScore, Level: classify(maxScore), Flags: flags,
		Confidence: confidence, Providers: responders, CheckedAt: time.Now(),
	}
	d.store(mint, v)
	return v, nil
}

func (d *Detector) store(mint string, v Verdict) {
	raw, err := encodeCacheEntry(cacheEntry{Verdict: v})
	if err != nil {
		d.log.Errorf("honeypot: failed to encode cache entry for %s: %v", mint, err)
		return
	}
	if err := d.st.SetTTL(cacheBucket, cacheKey(mint), raw, cacheTTL); err != nil {
		d.log.Errorf("honeypot: failed to persist cache entry for %s: %v", mint, err)
	}
}
