// Package chain holds the interfaces this module consumes from external
// systems named in the spec's external-interfaces section: the quote/swap
// API and the chain RPC surface. Only the shapes the core needs are
// declared here — thin wrappers over the concrete HTTP/RPC clients are
// out of scope (spec §1).
package chain

import (
	"context"
	"time"
)

// RouteFee is one fee line item inside a quote's route plan.
type RouteFee struct {
	FeeAmount uint64
	FeeMint   string
}

// Quote is the quote/swap API's structured response.
type Quote struct {
	InputMint          string
	OutputMint         string
	InputAmount        uint64
	OutputAmount       uint64
	PriceImpactPct     float64
	RoutePlan          []RouteFee
	UnsignedTxBase64   string
	RequestID          string
	ExpiresAt          time.Time
}

// QuoteProvider is the quote/swap API surface the Executor and the
// SimulationLayer both consume.
type QuoteProvider interface {
	// Quote requests a route for amount of inputMint -> outputMint at the
	// given slippage tolerance.
	Quote(ctx context.Context, inputMint, outputMint string, amount uint64, userPubkey string, slippageBps int) (*Quote, error)
	// Execute submits a previously-signed transaction tied to requestID.
	Execute(ctx context.Context, signedTxBase64, requestID string) (signature string, err error)
}

// SimulationResult is the RPC's simulate_transaction response, trimmed to
// what the SimulationLayer needs.
type SimulationResult struct {
	Success    bool
	Err        string
	UnitsConsumed uint64
	Logs       []string
}

// TokenAccount is one entry from get_token_largest_accounts.
type TokenAccount struct {
	Owner   string
	Address string
	Amount  uint64
}

// MintInfo is the parsed account info for a mint.
type MintInfo struct {
	MintAuthority   string // empty means null/disabled
	FreezeAuthority string // empty means null/disabled
	Supply          uint64
	Decimals        uint8
}

// RPC is the chain RPC surface named in the spec's external interfaces.
type RPC interface {
	SimulateTransaction(ctx context.Context, unsignedTxBase64 string, replaceRecentBlockhash bool) (*SimulationResult, error)
	SendTransaction(ctx context.Context, signedTxBase64 string) (signature string, err error)
	GetTokenLargestAccounts(ctx context.Context, mint string, limit int) ([]TokenAccount, error)
	GetParsedMintInfo(ctx context.Context, mint string) (*MintInfo, error)
	GetTokenSupply(ctx context.Context, mint string) (uint64, error)
	GetTokenAccountBalance(ctx context.Context, tokenAccount string) (uint64, error)
	GetLatestBlockhash(ctx context.Context) (blockhash string, err error)
	GetConfirmationStatus(ctx context.Context, signature string) (confirmed bool, depth int, chainErr string, err error)
}

// PriceFeed returns the current quote-denominated price of a token,
// consumed by PositionMonitor.
type PriceFeed interface {
	Price(ctx context.Context, mint string) (float64, error)
}

// DecimalsLookup resolves a mint's on-chain decimals, consumed by the
// Executor's commission calculation. Implementations are expected to be
// LRU-cached (spec §4.9, §5 "Shared resources").
type DecimalsLookup interface {
	Decimals(ctx context.Context, mint string) (uint8, error)
}

// PriceLookup resolves a token's USD price, consumed by the Executor's
// commission calculation.
type PriceLookup interface {
	USDPrice(ctx context.Context, mint string) (float64, error)
}

// TokenFacts is the set of extracted on-chain facts the FilterEngine
// evaluates against a filter configuration.
type TokenFacts struct {
	Mint               string
	MintAuthorityNull  bool
	FreezeAuthorityNull bool
	LiquiditySOL       float64
	LiquidityLocked    bool
	LiquidityLockPct   float64
	Top10HoldersPct    float64
	SingleHolderPct    float64
	HolderCount        int
	DeveloperPct       float64
	BuyTaxPct          float64
	SellTaxPct         float64
	PoolSupplyPct      float64
	HasTwitter         bool
	HasWebsite         bool
	HasTelegram        bool
	RiskScore          int
	RiskConfidence      float64
	SellSimulationOK   bool
	HasMetadata        bool
}
