package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tradingbotd/core/internal/chain"
)

func TestEvaluatePass(t *testing.T) {
	cfg := Presets[Balanced]
	facts := chain.TokenFacts{
		Mint:                "TokenMintAddr111",
		MintAuthorityNull:   true,
		FreezeAuthorityNull: true,
		LiquiditySOL:        12,
		Top10HoldersPct:     40,
		SingleHolderPct:     10,
		HolderCount:         50,
		DeveloperPct:        5,
		BuyTaxPct:           1,
		SellTaxPct:          1,
		RiskScore:           25,
		RiskConfidence:      0.9,
	}
	res := New().Evaluate(cfg, facts)
	assert.True(t, res.Passed)
	assert.Empty(t, res.Violations)
}

func TestEvaluateRejectsLowLiquidity(t *testing.T) {
	cfg := Presets[Balanced]
	facts := chain.TokenFacts{
		Mint:                "TokenMintAddr222",
		MintAuthorityNull:   true,
		FreezeAuthorityNull: true,
		LiquiditySOL:        2, // below Balanced's min of 10
		RiskScore:           25,
		RiskConfidence:      0.9,
	}
	res := New().Evaluate(cfg, facts)
	assert.False(t, res.Passed)
	var names []string
	for _, v := range res.Violations {
		names = append(names, v.Filter)
	}
	assert.Contains(t, names, "min_liquidity_sol")
}

func TestEvaluateBlacklist(t *testing.T) {
	cfg := Config{Blacklist: []string{"BadMint"}}
	res := New().Evaluate(cfg, chain.TokenFacts{Mint: "BadMint"})
	assert.False(t, res.Passed)
	assert.Equal(t, "blacklist", res.Violations[0].Filter)
}

func TestEvaluateWhitelistRejectsAbsent(t *testing.T) {
	cfg := Config{Whitelist: []string{"GoodMint"}}
	res := New().Evaluate(cfg, chain.TokenFacts{Mint: "OtherMint"})
	assert.False(t, res.Passed)
}
