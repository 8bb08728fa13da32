package ai

import (
	"regexp"
	"strings"
)

// Scope says whether a question can be answered from the registered data.
type Scope string

const (
	ScopeInScope          Scope = "in_scope"
	ScopeMeta             Scope = "meta"
	ScopeGeneralKnowledge Scope = "general_knowledge"
)

// Intent is a coarse question category used to route answer strategies.
type Intent string

const (
	IntentLendingOpportunities  Intent = "lending_opportunities"
	IntentPoolAnalysis          Intent = "pool_analysis"
	IntentPriceQuery            Intent = "price_query"
	IntentPortfolioOptimization Intent = "portfolio_optimization"
	IntentGeneralPrediction     Intent = "general_prediction"
	IntentStandardQuery         Intent = "standard_query"
)

// Classification is the outcome of Classify. Intent is empty unless the
// question is in scope.
type Classification struct {
	Scope  Scope  `json:"scope"`
	Intent Intent `json:"intent,omitempty"`
}

// questionText carries a question both as typed and normalized to lower case.
type questionText struct {
	raw   string
	lower string
}

type predicate func(questionText) bool

type scopeRule struct {
	match predicate
	scope Scope
}

type intentRule struct {
	match  predicate
	intent Intent
}

func anyRe(res ...*regexp.Regexp) predicate {
	return func(q questionText) bool {
		for _, re := range res {
			if re.MatchString(q.lower) {
				return true
			}
		}
		return false
	}
}

func anyWord(ws ...string) predicate {
	re := wordsRe(ws...)
	return func(q questionText) bool { return re.MatchString(q.lower) }
}

func either(ps ...predicate) predicate {
	return func(q questionText) bool {
		for _, p := range ps {
			if p(q) {
				return true
			}
		}
		return false
	}
}

// Trading pairs such as WETH-USDC or SOL/USDC, matched on the text as typed so
// that ordinary hyphenated words do not count.
var pairRe = regexp.MustCompile(`\b[A-Z][A-Z0-9]{1,9}[-/][A-Z][A-Z0-9]{1,9}\b`)

func mentionsPair(q questionText) bool { return pairRe.MatchString(q.raw) }

func wordsRe(ws ...string) *regexp.Regexp {
	quoted := make([]string, len(ws))
	for i, w := range ws {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

var metaPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bwhat (?:can|could|should) i ask\b`),
	regexp.MustCompile(`\bwhat (?:can|do) you (?:do|know|answer|help with|cover|support)\b`),
	regexp.MustCompile(`\bwhat (?:data|tables|datasets|information) (?:do you have|is available|are available|can you access)\b`),
	regexp.MustCompile(`\bhow (?:do|can|should) i use (?:you|this)\b`),
	regexp.MustCompile(`\bwhat kind of (?:questions|queries|data)\b`),
	regexp.MustCompile(`\b(?:who|what) are you\b`),
	regexp.MustCompile(`\b(?:list|show) (?:your|the) (?:capabilities|features|tables|datasets)\b`),
	regexp.MustCompile(`^\s*(?:help|hi|hello|hey)\s*[?!.]*\s*$`),
}

var generalKnowledgePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bshould i (?:buy|sell|hold|invest|short|long|ape)\b`),
	regexp.MustCompile(`\b(?:is it|is now) (?:a )?(?:good|bad|right) time to (?:buy|sell|invest)\b`),
	regexp.MustCompile(`\b(?:investment|financial|trading) advice\b`),
	regexp.MustCompile(`\bwhat (?:is|are) (?:a |an |the )?(?:blockchain|blockchains|defi|crypto|cryptocurrency|smart contracts?|bitcoin|ethereum|proof of stake|proof of work|impermanent loss|an? amm|a dex|a stablecoin|an? nft)\??\s*$`),
	regexp.MustCompile(`\bhow does (?:a |an |the )?(?:blockchain|defi|staking|mining|an? amm|lending|bridging|a bridge|a dex) work\b`),
	regexp.MustCompile(`\b(?:optimi[sz]e|rebalance|diversify|allocate) (?:my|a) (?:portfolio|holdings|bag|allocation)\b`),
	regexp.MustCompile(`\bhow (?:should|do) i (?:allocate|diversify|build) (?:my )?(?:portfolio|capital|funds)\b`),
}

// Words that read as conceptual or advisory rather than as a data lookup.
var generalKnowledgeKeywords = anyWord(
	"explain", "definition", "define", "meaning", "concept", "history of",
	"who invented", "who created", "whitepaper", "tutorial", "beginner",
	"advice", "recommend", "opinion", "risks of", "pros and cons", "safe",
	"scam", "regulation", "regulations", "tax", "taxes",
)

// Words that point at something the registered tables can answer.
var dataKeywords = anyWord(
	"tvl", "apy", "apr", "yield", "yields", "price", "prices", "volume", "volumes",
	"lending", "borrow", "borrowing", "supply", "utilization", "pool", "pools",
	"bridge", "bridges", "inflow", "inflows", "outflow", "outflows", "etf", "etfs",
	"stablecoin", "stablecoins", "market cap", "mcap", "holdings", "wallet",
	"sector", "narrative", "fees", "revenue", "top", "highest", "lowest", "largest",
	"current", "today", "latest", "daily", "last", "average", "total", "change",
)

// scopeRules is evaluated in order; the first rule that matches decides.
var scopeRules = []scopeRule{
	{match: anyRe(metaPatterns...), scope: ScopeMeta},
	{match: anyRe(generalKnowledgePatterns...), scope: ScopeGeneralKnowledge},
	{
		match: func(q questionText) bool {
			return generalKnowledgeKeywords(q) && !dataKeywords(q)
		},
		scope: ScopeGeneralKnowledge,
	},
}

// intentRules is evaluated in order; the first rule that matches decides.
var intentRules = []intentRule{
	{
		match: anyRe(
			wordsRe("lend", "lending", "borrow", "borrowing", "loan", "loans", "supply apy", "supply rate", "borrow rate", "utilization", "money market", "collateral"),
			regexp.MustCompile(`\bwhere (?:can|should) i (?:lend|deposit|earn)\b`),
		),
		intent: IntentLendingOpportunities,
	},
	{
		match: either(
			anyWord("pool", "pools", "apy", "apr", "liquidity", "lp", "farm", "farming", "yield", "yields", "tvl"),
			mentionsPair,
		),
		intent: IntentPoolAnalysis,
	},
	{
		match:  anyWord("price", "prices", "priced", "worth", "trading at", "market cap", "mcap", "ath", "all-time high", "cost"),
		intent: IntentPriceQuery,
	},
	{
		match:  anyWord("portfolio", "allocation", "allocate", "rebalance", "rebalancing", "diversify", "diversification", "optimize", "optimise"),
		intent: IntentPortfolioOptimization,
	},
	{
		match:  anyWord("predict", "prediction", "forecast", "will", "going to", "expect", "outlook", "next week", "next month", "next year", "future"),
		intent: IntentGeneralPrediction,
	},
}

// Classify decides scope and, for in-scope questions, intent. It is a pure
// function of the question text.
func Classify(question string) Classification {
	q := newQuestionText(question)

	scope := ScopeInScope
	for _, r := range scopeRules {
		if r.match(q) {
			scope = r.scope
			break
		}
	}

	out := Classification{Scope: scope}
	if scope == ScopeInScope {
		out.Intent = detectIntent(q)
	}
	return out
}

// DetectIntent returns the intent label regardless of scope.
func DetectIntent(question string) Intent {
	return detectIntent(newQuestionText(question))
}

func detectIntent(q questionText) Intent {
	for _, r := range intentRules {
		if r.match(q) {
			return r.intent
		}
	}
	return IntentStandardQuery
}

func newQuestionText(q string) questionText {
	raw := strings.Join(strings.Fields(q), " ")
	lower := strings.NewReplacer("’", "'", "‘", "'").Replace(strings.ToLower(raw))
	return questionText{raw: raw, lower: lower}
}
