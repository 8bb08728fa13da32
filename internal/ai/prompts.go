package ai

import (
	"fmt"
	"strings"
)

// intentHints adds intent-specific guidance to the planning prompt.
var intentHints = map[Intent]string{
	IntentLendingOpportunities: `- Prefer lending rate tables; rank by supply_apy DESC unless asked otherwise.
- Exclude markets with zero or NULL supply.`,
	IntentPoolAnalysis: `- Prefer pool yield tables; match pairs with ILIKE on the symbol column (e.g. '%WETH%USDC%').
- Rank by apy DESC and show tvl_usd next to every yield.`,
	IntentPriceQuery: `- Prefer token price tables; filter on token_symbol with upper-case symbols.`,
	IntentPortfolioOptimization: `- Return the raw yields, prices and risk columns needed to compare assets; do not compute allocations in SQL.`,
	IntentGeneralPrediction: `- Return the recent history the question depends on, ordered by date; never extrapolate in SQL.`,
}

func planPrompt(question, schemaDoc string, intent Intent) string {
	var hints string
	if h, ok := intentHints[intent]; ok {
		hints = "\nIntent-specific guidance (" + string(intent) + "):\n" + h + "\n"
	}

	return fmt.Sprintf(`
You are an expert PostgreSQL query writer for a DeFi analytics database.

Use ONLY the following tables:
%s
Schema conventions:
- Tables in the "update" schema hold the latest snapshot (current values).
- Tables in the "clean" schema hold daily history.
- Never join an "update" table to a "clean" table on anything except a shared key such as a symbol or protocol name.
- Always qualify table names with their schema, e.g. update.pool_yields_latest.

Rules:
- Return exactly one SELECT (or WITH ... SELECT) statement in PostgreSQL dialect.
- Do NOT include comments or explanations in the SQL.
- Never modify data: no INSERT, UPDATE, DELETE, DROP, ALTER, CREATE, TRUNCATE.
- Cast dates explicitly when comparing dates to timestamps.
- If the user asks for "top" or "best" something, use ORDER BY ... DESC and LIMIT.
%s
Respond with a single JSON object and nothing else:
{"sql": "<the query>"}

User question:
%s
`, schemaDoc, hints, question)
}

func retryPrompt(req RetryRequest) string {
	return fmt.Sprintf(`
You are an expert PostgreSQL query writer. A query you wrote failed and must be corrected.

Available tables:
%s
User question:
%s

Intent: %s
Attempt: %d

Previous SQL:
%s

Error:
%s

Rules:
- Fix the cause of the error; do not repeat the same statement.
- Use only columns listed above. If a column does not exist, pick the closest listed one.
- For type mismatches between date and timestamp, cast explicitly (e.g. day::date).
- Return exactly one SELECT (or WITH ... SELECT) statement without comments.

Respond with a single JSON object and nothing else:
{"sql": "<the corrected query>"}
`, req.SchemaDoc, req.Question, req.Intent, req.Retry, req.PreviousSQL, req.ErrorText)
}

// Rows beyond this many are summarized by count only in the answer prompt.
const promptRowLimit = 50

func answerPrompt(question, rowsJSON string, total int, intent Intent, presentation string, retryCount int) string {
	var extra []string
	if total > promptRowLimit {
		extra = append(extra, fmt.Sprintf("- Only the first %d of %d rows are shown; mention the total where relevant.", promptRowLimit, total))
	}
	if presentation != "" {
		extra = append(extra, "- Presentation preference from the user: "+presentation)
	}
	if intent == IntentGeneralPrediction {
		extra = append(extra, "- Describe what the data shows; do not predict prices or give financial advice.")
	}
	if retryCount > 0 {
		extra = append(extra, "- The query needed corrections; if the data only partially answers the question, say so.")
	}

	return fmt.Sprintf(`
You are a DeFi data analyst answering a user's question from query results.

User question:
%s

Query results in JSON (array of objects, %d rows):
%s

Instructions:
- Answer the question directly using bullet points and short sentences.
- Include the key numbers; write dollar amounts with a leading $ and percentages with %%.
- Write dates as YYYY-MM-DD.
- Do not restate the raw JSON or mention SQL.
%s
`, question, total, rowsJSON, strings.Join(extra, "\n"))
}

func generalKnowledgePrompt(question string, intent Intent) string {
	return fmt.Sprintf(`
You are a knowledgeable DeFi assistant. The question below cannot be answered from the
analytics database, so answer from general knowledge.

User question:
%s

Question category: %s

Instructions:
- Answer concisely in plain language.
- Do not give personalised financial advice; explain the trade-offs instead.
- Do not invent current prices, yields or other live figures.
`, question, intent)
}
