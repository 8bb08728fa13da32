package sqlguard

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuard_AppendsLimit(t *testing.T) {
	out, err := Guard("SELECT * FROM clean.token_price_daily_enriched", 500)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM clean.token_price_daily_enriched\nLIMIT 500", out)
}

func TestGuard_MultipleStatements(t *testing.T) {
	_, err := Guard("SELECT 1; DROP TABLE x;", 500)
	assert.ErrorIs(t, err, ErrMultipleStatements)

	for _, sql := range []string{
		"SELECT 1;SELECT 2",
		"SELECT ';' FROM t",
		"WITH a AS (SELECT 1); SELECT * FROM a",
	} {
		_, err := Guard(sql, 100)
		assert.ErrorIs(t, err, ErrMultipleStatements, sql)
	}
}

func TestGuard_StripsTrailingSemicolons(t *testing.T) {
	out, err := Guard("  SELECT chain FROM update.bridge_flows_latest LIMIT 10 ;; ", 500)
	require.NoError(t, err)
	assert.Equal(t, "SELECT chain FROM update.bridge_flows_latest LIMIT 10", out)
}

func TestGuard_Empty(t *testing.T) {
	for _, sql := range []string{"", "   ", ";", " ; ;"} {
		_, err := Guard(sql, 500)
		assert.ErrorIs(t, err, ErrEmpty, "%q", sql)
	}
}

func TestGuard_RequiresSelectOrWith(t *testing.T) {
	for _, sql := range []string{
		"EXPLAIN SELECT 1",
		"SHOW search_path",
		"(SELECT 1)",
		"selectx FROM t",
	} {
		_, err := Guard(sql, 500)
		assert.ErrorIs(t, err, ErrNotSelect, sql)
	}

	out, err := Guard("with t as (select 1 as x) select x from t", 50)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out, "\nLIMIT 50"))
}

func TestGuard_ForbiddenKeywords(t *testing.T) {
	keywords := []string{
		"DROP", "DELETE", "UPDATE", "INSERT", "ALTER", "TRUNCATE",
		"CREATE", "GRANT", "REVOKE", "COPY", "VACUUM", "ANALYZE",
	}
	for _, kw := range keywords {
		for _, variant := range []string{kw, strings.ToLower(kw), strings.ToUpper(kw[:1]) + strings.ToLower(kw[1:])} {
			sql := fmt.Sprintf("SELECT * FROM t WHERE x IN (%s something)", variant)
			_, err := Guard(sql, 500)
			assert.ErrorIs(t, err, ErrForbiddenKeyword, sql)
		}
	}

	_, err := Guard("WITH d AS (DELETE FROM t RETURNING *) SELECT * FROM d", 500)
	assert.ErrorIs(t, err, ErrForbiddenKeyword)
	assert.Contains(t, err.Error(), `"DELETE"`)

	// No whitespace is needed between a keyword and a quoted name.
	for _, sql := range []string{
		`WITH x AS (UPDATE"pools"SET apy=0 RETURNING 1) SELECT * FROM x`,
		`WITH x AS (DELETE FROM"pools" RETURNING 1) SELECT * FROM x`,
		`WITH x AS (INSERT INTO"pools"VALUES (1) RETURNING 1) SELECT * FROM x`,
		`SELECT 1 FROM t WHERE "a"=1 AND x IN (update"t"set a=1)`,
		`SELECT "x"DROP`,
	} {
		_, err := Guard(sql, 500)
		assert.ErrorIs(t, err, ErrForbiddenKeyword, sql)
	}
}

func TestGuard_KeywordsInsideIdentifiersAreAllowed(t *testing.T) {
	cases := []string{
		"SELECT pool_name, apy FROM update.pool_yields_latest",
		"SELECT updated_at, created_by FROM clean.protocol_tvl_daily",
		`SELECT "update".x FROM t`,
		`SELECT x FROM "update"."pool_yields_latest"`,
		"SELECT dropped_count, analyzed FROM t",
	}
	for _, sql := range cases {
		_, err := Guard(sql, 500)
		assert.NoError(t, err, sql)
	}
}

func TestGuard_Comments(t *testing.T) {
	for _, sql := range []string{
		"SELECT 1 -- sneaky",
		"SELECT /* hi */ 1",
		"SELECT 1 */",
	} {
		_, err := Guard(sql, 500)
		assert.ErrorIs(t, err, ErrComment, sql)
	}
}

func TestGuard_ClampsLimits(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"SELECT * FROM t LIMIT 10", "SELECT * FROM t LIMIT 10"},
		{"SELECT * FROM t LIMIT 10000", "SELECT * FROM t LIMIT 500"},
		{"SELECT * FROM t limit 501", "SELECT * FROM t LIMIT 500"},
		{"SELECT * FROM t LIMIT ALL", "SELECT * FROM t LIMIT 500"},
		{
			"SELECT * FROM (SELECT * FROM t LIMIT 9000) s LIMIT 20",
			"SELECT * FROM (SELECT * FROM t LIMIT 500) s LIMIT 20",
		},
	}
	for _, tc := range cases {
		out, err := Guard(tc.in, 500)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, out)
	}
}

func TestGuard_BoundsOuterQuery(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{
			"SELECT * FROM t WHERE id IN (SELECT id FROM u LIMIT 5)",
			"SELECT * FROM t WHERE id IN (SELECT id FROM u LIMIT 5)\nLIMIT 500",
		},
		{
			"WITH x AS (SELECT 1 AS a LIMIT 9999) SELECT a FROM x",
			"WITH x AS (SELECT 1 AS a LIMIT 500) SELECT a FROM x\nLIMIT 500",
		},
		{
			"SELECT '(' AS p FROM t LIMIT 7",
			"SELECT '(' AS p FROM t LIMIT 7",
		},
	}
	for _, tc := range cases {
		out, err := Guard(tc.in, 500)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, out)
	}
}

func TestGuard_Idempotent(t *testing.T) {
	inputs := []string{
		"SELECT * FROM clean.token_price_daily_enriched",
		"select protocol, tvl_usd from update.protocol_tvl_latest order by tvl_usd desc limit 25;",
		"WITH x AS (SELECT 1 AS a LIMIT 9999) SELECT a FROM x",
		"SELECT * FROM t LIMIT all",
		"SELECT * FROM t WHERE id IN (SELECT id FROM u LIMIT 5)",
	}
	for _, in := range inputs {
		once, err := Guard(in, 200)
		require.NoError(t, err, in)
		twice, err := Guard(once, 200)
		require.NoError(t, err, in)
		assert.Equal(t, once, twice, in)
	}
}

func TestGuard_AllowListsAreIgnored(t *testing.T) {
	out, err := Guard("SELECT * FROM clean.etf_flows_daily", 100,
		WithAllowedTables("clean.protocol_tvl_daily"),
		WithAllowedColumns("tvl_usd"),
	)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM clean.etf_flows_daily\nLIMIT 100", out)
}
