// Package orderstate implements the OrderStateMachine: the authoritative,
// persisted order lifecycle. The transition table and its validation are
// grounded directly on the teacher's order.MatchStatus progression
// enforced through (*Swapper).step in server/swap/swap.go; persistence
// is grounded on that same file's saveState/restoreState gob-snapshot
// pattern, adapted from swap-match state to single-order state.
package orderstate

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tradingbotd/core/internal/core"
	"github.com/tradingbotd/core/internal/filter"
	"github.com/tradingbotd/core/internal/store"
)

// State is one of the order lifecycle's states.
type State string

const (
	Pending      State = "PENDING"
	Validated    State = "VALIDATED"
	Simulating   State = "SIMULATING"
	Signing      State = "SIGNING"
	Broadcasting State = "BROADCASTING"
	Confirming   State = "CONFIRMING"
	Confirmed    State = "CONFIRMED"
	Failed       State = "FAILED"
)

// transitions is the permitted-transition table from spec §4.8. A
// transition not present here is a programmer error (panic), never a
// typed error.
var transitions = map[State]map[State]bool{
	Pending:      {Validated: true, Failed: true},
	Validated:    {Simulating: true, Failed: true},
	Simulating:   {Signing: true, Failed: true},
	Signing:      {Broadcasting: true, Failed: true},
	Broadcasting: {Confirming: true, Failed: true},
	Confirming:   {Confirming: true, Confirmed: true, Failed: true},
	Confirmed:    {},
	Failed:       {},
}

// IsTerminal reports whether a state has no outgoing transitions.
func (s State) IsTerminal() bool { return len(transitions[s]) == 0 }

// PriorityFee is the fixed microlamport tier enum from spec §4.9.
type PriorityFee int

const (
	FeeNone   PriorityFee = 0
	FeeLow    PriorityFee = 10_000
	FeeMedium PriorityFee = 50_000
	FeeHigh   PriorityFee = 200_000
	FeeTurbo  PriorityFee = 500_000
	FeeUltra  PriorityFee = 1_000_000
)

// Config is the Order's input configuration (spec §3 Order.config).
type Config struct {
	InputMint          string
	OutputMint         string
	InputAmount        uint64 // smallest units
	SlippageBps        int
	PriorityFee        PriorityFee
	MEVBundle          bool
	MaxRetries         int
	AttemptTimeout     time.Duration
	TakeProfitPct      *float64
	StopLossPct        *float64
}

// ValidatedPayload carries the VALIDATED state's data.
type ValidatedPayload struct {
	FilterResult filter.Result
}

// SigningPayload carries the SIGNING state's data.
type SigningPayload struct {
	QuoteID           string
	ExpectedOutput    uint64
	PriceImpactPct    float64
}

// BroadcastPayload carries BROADCASTING/CONFIRMING data.
type BroadcastPayload struct {
	Signature         string
	SentAt            time.Time
	ConfirmationDepth int
}

// ConfirmedPayload carries the CONFIRMED state's data.
type ConfirmedPayload struct {
	Signature       string
	Slot            uint64
	ActualInput     uint64
	ActualOutput    uint64
	PriceImpactPct  float64
	ExecutionTime   time.Duration
	CommissionUSD   float64
}

// FailedPayload carries the FAILED state's data.
type FailedPayload struct {
	Code       core.Code
	RetryCount int
}

// Order is the full persisted order record.
type Order struct {
	ID        string
	UserRef   string
	Config    Config
	State     State
	CreatedAt time.Time
	UpdatedAt time.Time

	Validated    *ValidatedPayload
	Signing      *SigningPayload
	Broadcasting *BroadcastPayload
	Confirming   *BroadcastPayload
	Confirmed    *ConfirmedPayload
	Failed       *FailedPayload

	// History is the monotonic sequence of states observed, used by tests
	// to assert order monotonicity (spec §8 invariant 7).
	History []State
}

// snapshot is the gob-serializable persisted form of an Order.
type snapshot struct {
	Order Order
}

const bucket = "order_state"

// Machine is the OrderStateMachine component: it creates orders,
// validates and applies transitions, and persists every transition.
type Machine struct {
	log core.Logger
	st  store.Store

	mtx    sync.Mutex
	orders map[string]*Order
}

// New constructs a Machine backed by st for persistence.
func New(log core.Logger, st store.Store) *Machine {
	return &Machine{log: log, st: st, orders: make(map[string]*Order)}
}

// Create allocates a new order in PENDING state, persists it, and
// returns it.
func (m *Machine) Create(userRef string, cfg Config) *Order {
	now := time.Now()
	o := &Order{
		ID:        uuid.NewString(),
		UserRef:   userRef,
		Config:    cfg,
		State:     Pending,
		CreatedAt: now,
		UpdatedAt: now,
		History:   []State{Pending},
	}
	m.mtx.Lock()
	m.orders[o.ID] = o
	m.mtx.Unlock()
	m.persist(o)
	return o
}

// Get returns the order by id, or nil.
func (m *Machine) Get(id string) *Order {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.orders[id]
}

// transitionLocked validates to is reachable from o.State and panics
// otherwise — invalid transitions are programmer errors per the spec's
// design notes, not typed errors.
func (m *Machine) transitionLocked(o *Order, to State) {
	allowed, ok := transitions[o.State]
	if !ok || !allowed[to] {
		panic(fmt.Sprintf("orderstate: invalid transition %s -> %s for order %s", o.State, to, o.ID))
	}
	o.State = to
	o.UpdatedAt = time.Now()
	o.History = append(o.History, to)
}

func (m *Machine) apply(id string, to State, mutate func(*Order)) (*Order, error) {
	m.mtx.Lock()
	o, ok := m.orders[id]
	if !ok {
		m.mtx.Unlock()
		return nil, core.NewError(core.CodeUnknown, "order %s not found", id)
	}
	m.transitionLocked(o, to)
	if mutate != nil {
		mutate(o)
	}
	cp := *o
	m.mtx.Unlock()
	m.persist(&cp)
	return o, nil
}

// Validate advances PENDING -> VALIDATED (or -> FAILED if passed is false).
func (m *Machine) Validate(id string, res filter.Result) (*Order, error) {
	if !res.Passed {
		return m.Fail(id, core.CodeFilterRejected, 0)
	}
	return m.apply(id, Validated, func(o *Order) {
		o.Validated = &ValidatedPayload{FilterResult: res}
	})
}

// BeginSimulating advances VALIDATED -> SIMULATING.
func (m *Machine) BeginSimulating(id string) (*Order, error) {
	return m.apply(id, Simulating, nil)
}

// BeginSigning advances SIMULATING -> SIGNING with the quote payload.
func (m *Machine) BeginSigning(id string, p SigningPayload) (*Order, error) {
	return m.apply(id, Signing, func(o *Order) { o.Signing = &p })
}

// BeginBroadcasting advances SIGNING -> BROADCASTING.
func (m *Machine) BeginBroadcasting(id string, signature string) (*Order, error) {
	return m.apply(id, Broadcasting, func(o *Order) {
		o.Broadcasting = &BroadcastPayload{Signature: signature, SentAt: time.Now()}
	})
}

// BeginConfirming advances BROADCASTING -> CONFIRMING.
func (m *Machine) BeginConfirming(id string) (*Order, error) {
	return m.apply(id, Confirming, func(o *Order) {
		if o.Broadcasting != nil {
			o.Confirming = &BroadcastPayload{Signature: o.Broadcasting.Signature, SentAt: o.Broadcasting.SentAt}
		}
	})
}

// AdvanceConfirmingDepth records CONFIRMING -> CONFIRMING with an updated
// confirmation depth, per the self-loop in the transition table.
func (m *Machine) AdvanceConfirmingDepth(id string, depth int) (*Order, error) {
	return m.apply(id, Confirming, func(o *Order) {
		if o.Confirming != nil {
			o.Confirming.ConfirmationDepth = depth
		}
	})
}

// Confirm advances CONFIRMING -> CONFIRMED.
func (m *Machine) Confirm(id string, p ConfirmedPayload) (*Order, error) {
	return m.apply(id, Confirmed, func(o *Order) { o.Confirmed = &p })
}

// Fail advances the order's current state -> FAILED with a typed error
// code and retry count.
func (m *Machine) Fail(id string, code core.Code, retryCount int) (*Order, error) {
	return m.apply(id, Failed, func(o *Order) {
		o.Failed = &FailedPayload{Code: code, RetryCount: retryCount}
	})
}

func (m *Machine) persist(o *Order) {
	if m.st == nil {
		return
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snapshot{Order: *o}); err != nil {
		m.log.Errorf("orderstate: failed to encode order %s for persistence: %v", o.ID, err)
		return
	}
	if err := m.st.SetTTL(bucket, o.ID, buf.Bytes(), 0); err != nil {
		m.log.Errorf("orderstate: failed to persist order %s: %v", o.ID, err)
	}
}

// Restore loads a previously-persisted order back into the in-memory
// index, returning it. Used on process restart.
func (m *Machine) Restore(id string) (*Order, error) {
	raw, err := m.st.Get(bucket, id)
	if err != nil {
		return nil, err
	}
	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("orderstate: corrupt snapshot for order %s: %w", id, err)
	}
	o := snap.Order
	m.mtx.Lock()
	m.orders[o.ID] = &o
	m.mtx.Unlock()
	return &o, nil
}
