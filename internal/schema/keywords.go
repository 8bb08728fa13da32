package schema

import (
	"regexp"
	"strings"
)

// keywordGroup maps question phrasing to the terms searched for in the
// registry.
type keywordGroup struct {
	name     string
	triggers *regexp.Regexp
	terms    []string
}

func words(ws ...string) *regexp.Regexp {
	quoted := make([]string, len(ws))
	for i, w := range ws {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

var keywordGroups = []keywordGroup{
	{
		name:     "tvl",
		triggers: words("tvl", "total value locked", "value locked", "locked"),
		terms:    []string{"tvl", "protocol_tvl"},
	},
	{
		name:     "bridge",
		triggers: words("bridge", "bridges", "bridged", "bridging", "cross-chain", "inflow", "inflows", "outflow", "outflows", "netflow", "netflows"),
		terms:    []string{"bridge", "inflow", "outflow", "netflow"},
	},
	{
		name:     "price",
		triggers: words("price", "prices", "priced", "worth", "ath", "all-time high", "ohlc", "market cap", "mcap", "trading at", "return", "returns"),
		terms:    []string{"price", "market_cap", "close_usd", "return"},
	},
	{
		name:     "lending",
		triggers: words("lend", "lending", "lender", "borrow", "borrowing", "borrowed", "loan", "loans", "supply apy", "supply rate", "utilization", "utilisation", "money market"),
		terms:    []string{"lending", "borrow", "supply_apy", "utilization"},
	},
	{
		name:     "etf",
		triggers: words("etf", "etfs", "fund flows", "ibit", "fbtc", "grayscale", "blackrock"),
		terms:    []string{"etf", "aum"},
	},
	{
		name:     "stablecoin",
		triggers: words("stablecoin", "stablecoins", "stable coin", "usdt", "usdc", "dai", "peg", "depeg"),
		terms:    []string{"stablecoin", "peg", "circulating"},
	},
	{
		name:     "pool",
		triggers: words("pool", "pools", "apy", "apr", "yield", "yields", "liquidity", "lp", "farm", "farming"),
		terms:    []string{"pool", "apy", "yield"},
	},
	{
		name:     "holdings",
		triggers: words("holdings", "holding", "holders", "wallet", "wallets", "balance", "balances", "whale", "whales"),
		terms:    []string{"holding", "wallet", "balance"},
	},
	{
		name:     "sector",
		triggers: words("sector", "sectors", "narrative", "narratives", "category", "categories", "rwa", "memecoin", "memecoins", "ai tokens"),
		terms:    []string{"sector", "narrative", "category"},
	},
	{
		name:     "volume",
		triggers: words("volume", "volumes", "dex", "dexes", "traded", "trading volume"),
		terms:    []string{"volume", "dex"},
	},
	{
		name:     "fees",
		triggers: words("fee", "fees", "revenue"),
		terms:    []string{"fee", "revenue"},
	},
}

var (
	// Comparison or correlation language needs both generations.
	bothGenerationsRe = regexp.MustCompile(`\b(?:vs\.?|versus|compare|compared|comparison|comparing|trend|trends|trending|correlation|correlate|correlated|relationship between)\b|historical (?:vs\.?|versus|and|to) current`)

	historicalRe = regexp.MustCompile(`\b(?:historical|historically|history|over time|past|previous|since|ago|daily|weekly|monthly|yearly|year to date|ytd|growth|grew|changed|evolution|(?:last|past) \d+ (?:days?|weeks?|months?|years?)|(?:last|past) (?:day|week|month|quarter|year)|in (?:19|20)\d\d|(?:19|20)\d\d-\d\d)\b`)
)

// defaultTables is the fallback when no registry entry matches a question.
var defaultTables = map[Generation][]string{
	GenerationLive: {
		"update.protocol_tvl_latest",
		"update.token_prices_latest",
		"update.pool_yields_latest",
	},
	GenerationHistorical: {
		"clean.protocol_tvl_daily",
		"clean.token_price_daily_enriched",
		"clean.pool_yields_daily",
	},
}

// searchTerms returns the registry terms for every keyword group the question
// mentions. q must be lowercased.
func searchTerms(q string) (groups []string, terms []string) {
	seen := map[string]struct{}{}
	for _, g := range keywordGroups {
		if !g.triggers.MatchString(q) {
			continue
		}
		groups = append(groups, g.name)
		for _, t := range g.terms {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			terms = append(terms, t)
		}
	}
	return groups, terms
}

// chooseGenerations decides which data generations a question needs. q must
// be lowercased.
func chooseGenerations(q string) []Generation {
	if bothGenerationsRe.MatchString(q) {
		return []Generation{GenerationLive, GenerationHistorical}
	}
	if historicalRe.MatchString(q) {
		return []Generation{GenerationHistorical}
	}
	return []Generation{GenerationLive}
}
