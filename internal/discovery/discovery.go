// Package discovery implements the Discovery component: long-lived
// subscribers to pool-creation/new-token streams with heartbeat,
// exponential-backoff reconnect, and rate-limited intake. The
// subscriber's connection lifecycle is grounded on the teacher's
// websocketHandler/ws.Connection heartbeat shape (pongWait/pingPeriod,
// a goroutine per connection, clean shutdown via context cancellation),
// generalized from an inbound server connection to an outbound
// subscriber. Exponential backoff with full jitter is grounded on
// Jonaed13-potential-pancake's "100ms * (1 << attempt)" retry shape in
// ExecutorFast, generalized to the spec's "base * 2^attempt" with jitter
// and a 30s cap.
package discovery

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tradingbotd/core/internal/core"
)

// NewTokenEvent is emitted on each parsed new-token message.
type NewTokenEvent struct {
	Source           string
	Mint             string
	Symbol           string
	Creator          string
	InitialLiquidity float64
	Signature        string
	ObservedAt       time.Time
}

// RawPoolDetection is emitted when a DEX program log is parsed into a
// pool-creation event.
type RawPoolDetection struct {
	Pool      string
	MintA     string
	MintB     string
	BaseMint  string // canonical base, per §4.6's base/quote determination
	QuoteMint string
	Source    string
	Signature string
	Slot      uint64
	BlockTime time.Time
}

// Transport is the minimal subscription surface a Source needs: connect,
// read one frame (blocking), and close. WSTransport is the concrete
// websocket-backed implementation; Source only depends on this interface
// so tests can substitute an in-memory one.
type Transport interface {
	Connect(ctx context.Context) error
	ReadMessage(ctx context.Context) ([]byte, error)
	Close() error
}

// BackoffConfig configures the reconnect backoff.
type BackoffConfig struct {
	Base        time.Duration // default 500ms
	Cap         time.Duration // default 30s
	MaxAttempts int           // default 10
}

func DefaultBackoff() BackoffConfig {
	return BackoffConfig{Base: 500 * time.Millisecond, Cap: 30 * time.Second, MaxAttempts: 10}
}

// nextDelay computes base*2^attempt with full jitter, capped.
func (b BackoffConfig) nextDelay(attempt int) time.Duration {
	d := b.Base << attempt
	if d <= 0 || d > b.Cap {
		d = b.Cap
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}

// ErrExhausted is the terminal error emitted after MaxAttempts reconnects
// have all failed.
type ErrExhausted struct{ Source string }

func (e *ErrExhausted) Error() string { return "discovery: " + e.Source + ": reconnect attempts exhausted" }

// Parser turns one raw frame into zero or more NewTokenEvents. A
// subscription-confirmation frame should return (nil, nil, nil) to be
// dropped silently, per spec §4.6.
type Parser func(raw []byte) (events []NewTokenEvent, pools []RawPoolDetection, err error)

// Source is one long-lived subscriber, one per upstream stream.
type Source struct {
	Name         string
	log          core.Logger
	transport    Transport
	parse        Parser
	backoff      BackoffConfig
	staleTimeout time.Duration // default 90s
	limiter      *rate.Limiter

	onToken func(NewTokenEvent)
	onPool  func(RawPoolDetection)

	// parseErrors/dropped are incremented from the single readLoop
	// goroutine but read from ParseErrors/Dropped by callers on another
	// goroutine (e.g. a metrics poller), so they need atomic access.
	parseErrors uint64
	dropped     uint64
}

// New constructs a Source. rateLimit defaults to 100 messages/60s per
// spec §4.6 when limiter is nil.
func New(name string, log core.Logger, transport Transport, parse Parser, limiter *rate.Limiter) *Source {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Every(600*time.Millisecond), 100)
	}
	return &Source{
		Name:         name,
		log:          log,
		transport:    transport,
		parse:        parse,
		backoff:      DefaultBackoff(),
		staleTimeout: 90 * time.Second,
		limiter:      limiter,
	}
}

// OnNewToken registers the callback invoked for each parsed NewTokenEvent.
func (s *Source) OnNewToken(fn func(NewTokenEvent)) { s.onToken = fn }

// OnPool registers the callback invoked for each parsed RawPoolDetection.
func (s *Source) OnPool(fn func(RawPoolDetection)) { s.onPool = fn }

// ParseErrors returns the running count of parse failures.
func (s *Source) ParseErrors() uint64 { return atomic.LoadUint64(&s.parseErrors) }

// Dropped returns the running count of messages dropped by the rate
// limiter.
func (s *Source) Dropped() uint64 { return atomic.LoadUint64(&s.dropped) }

// Run is the Source's main loop: connect, read until stale or an error,
// reconnect with backoff, repeat — until ctx is cancelled or the
// reconnect budget is exhausted. Satisfies core.Runner.
func (s *Source) Run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.transport.Connect(ctx); err != nil {
			s.log.Warnf("discovery[%s]: connect failed: %v", s.Name, err)
			if !s.wait(ctx, attempt) {
				return
			}
			attempt++
			continue
		}
		attempt = 0

		err := s.readLoop(ctx)
		_ = s.transport.Close()
		if ctx.Err() != nil {
			return
		}
		s.log.Warnf("discovery[%s]: connection closed: %v", s.Name, err)
		if !s.wait(ctx, attempt) {
			return
		}
		attempt++
	}
}

func (s *Source) wait(ctx context.Context, attempt int) bool {
	if attempt >= s.backoff.MaxAttempts {
		s.log.Errorf("%v", &ErrExhausted{Source: s.Name})
		return false
	}
	delay := s.backoff.nextDelay(attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// readLoop reads frames until a heartbeat stale timeout or a transport
// error. It resets the stale deadline on every message, including
// subscription-confirmation frames that are otherwise dropped.
func (s *Source) readLoop(ctx context.Context) error {
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgs := make(chan []byte, 1)
	errs := make(chan error, 1)
	go func() {
		for {
			raw, err := s.transport.ReadMessage(readCtx)
			if err != nil {
				errs <- err
				return
			}
			select {
			case msgs <- raw:
			case <-readCtx.Done():
				return
			}
		}
	}()

	timer := time.NewTimer(s.staleTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return core.NewError(core.CodeTimeout, "no heartbeat within %s", s.staleTimeout)
		case err := <-errs:
			return err
		case raw := <-msgs:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(s.staleTimeout)
			s.handle(raw)
		}
	}
}

func (s *Source) handle(raw []byte) {
	if !s.limiter.Allow() {
		atomic.AddUint64(&s.dropped, 1)
		return
	}
	events, pools, err := s.parse(raw)
	if err != nil {
		atomic.AddUint64(&s.parseErrors, 1)
		s.log.Warnf("discovery[%s]: parse error: %v", s.Name, err)
		return
	}
	now := time.Now()
	for _, e := range events {
		e.Source = s.Name
		if e.ObservedAt.IsZero() {
			e.ObservedAt = now
		}
		if s.onToken != nil {
			s.onToken(e)
		}
	}
	for _, p := range pools {
		p.Source = s.Name
		if p.BaseMint == "" && p.QuoteMint == "" && p.MintA != "" && p.MintB != "" {
			p.BaseMint, p.QuoteMint = CanonicalBaseQuote(p.MintA, p.MintB)
		}
		if s.onPool != nil {
			s.onPool(p)
		}
	}
}

// Manager brings up one Source per upstream stream and tears them all
// down together, using core.ConnectionMaster to own each Source's
// start/stop-once semantics rather than duplicating that bookkeeping
// per source.
type Manager struct {
	masters []*core.ConnectionMaster
}

// NewManager wraps sources, one ConnectionMaster each.
func NewManager(sources ...*Source) *Manager {
	m := &Manager{masters: make([]*core.ConnectionMaster, len(sources))}
	for i, s := range sources {
		m.masters[i] = core.NewConnectionMaster(s)
	}
	return m
}

// Start connects every source, deriving each from ctx.
func (m *Manager) Start(ctx context.Context) error {
	for _, cm := range m.masters {
		if err := cm.ConnectOnce(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Stop disconnects every source and waits for its Run loop to exit.
func (m *Manager) Stop() {
	for _, cm := range m.masters {
		cm.Disconnect()
	}
	for _, cm := range m.masters {
		cm.Wait()
	}
}
