package discovery

import "strings"

// knownPoolInstructions maps the DEX program-log instruction names this
// bot recognizes as pool-creation events, per spec §4.6. Matching is by
// substring against the log line since different programs emit the
// instruction name at different positions ("Instruction: InitializePool",
// "Program log: initialize2", etc).
var knownPoolInstructions = []string{
	"InitializePool",
	"InitializePoolV2",
	"initialize2",
	"InitializeLbPair",
	"create_v2",
	"create",
}

// IsPoolCreationLog reports whether a single program-log line names one
// of the recognized pool-creation instructions.
func IsPoolCreationLog(line string) bool {
	for _, name := range knownPoolInstructions {
		if strings.Contains(line, name) {
			return true
		}
	}
	return false
}

// wrappedSOLMint and a small set of major stablecoins drive the
// canonical base/quote determination rule from spec §4.6: wrapped SOL
// outranks a stablecoin, which outranks plain alphabetical order.
const wrappedSOLMint = "So11111111111111111111111111111111111111112"

var stableMints = map[string]bool{
	"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v": true, // USDC
	"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB": true, // USDT
}

func quoteRank(mint string) int {
	switch {
	case mint == wrappedSOLMint:
		return 0
	case stableMints[mint]:
		return 1
	default:
		return 2
	}
}

// CanonicalBaseQuote orders two pool mints into (base, quote) per the
// rank: wrapped SOL > stablecoin > alphabetical. The higher-ranked mint
// becomes the quote asset.
func CanonicalBaseQuote(mintA, mintB string) (base, quote string) {
	ra, rb := quoteRank(mintA), quoteRank(mintB)
	switch {
	case ra < rb:
		return mintB, mintA
	case rb < ra:
		return mintA, mintB
	case mintA < mintB:
		return mintA, mintB
	default:
		return mintB, mintA
	}
}
