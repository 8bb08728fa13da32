// Package sqlguard validates and normalizes model-generated SQL before it is
// allowed anywhere near the database.
package sqlguard

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrEmpty              = errors.New("empty SQL statement")
	ErrMultipleStatements = errors.New("multiple statements are not allowed")
	ErrNotSelect          = errors.New("only SELECT or WITH queries are allowed")
	ErrForbiddenKeyword   = errors.New("forbidden SQL keyword")
	ErrComment            = errors.New("SQL comments are not allowed")
)

// forbiddenKeywords covers mutation, schema definition and maintenance
// statements. Matching is whole-word and case-insensitive.
var forbiddenKeywords = []string{
	"DROP", "DELETE", "UPDATE", "INSERT", "ALTER", "TRUNCATE", "CREATE",
	"GRANT", "REVOKE", "COPY", "VACUUM", "ANALYZE",
	"MERGE", "REINDEX", "REFRESH", "EXECUTE", "CALL",
}

var forbiddenSet = func() map[string]bool {
	m := make(map[string]bool, len(forbiddenKeywords))
	for _, kw := range forbiddenKeywords {
		m[kw] = true
	}
	return m
}()

var (
	wordRe    = regexp.MustCompile(`[A-Za-z0-9_]+`)
	leadingRe = regexp.MustCompile(`(?i)^(SELECT|WITH)\b`)
	limitRe   = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+|ALL)\b`)
)

type options struct {
	allowedTables  []string
	allowedColumns []string
}

// Option configures Guard.
type Option func(*options)

// WithAllowedTables records a table allow-list. It is accepted for
// compatibility and currently not enforced: table selection is narrowed
// upstream by the schema filter.
func WithAllowedTables(tables ...string) Option {
	return func(o *options) { o.allowedTables = append(o.allowedTables, tables...) }
}

// WithAllowedColumns records a column allow-list. Not enforced, see
// WithAllowedTables.
func WithAllowedColumns(columns ...string) Option {
	return func(o *options) { o.allowedColumns = append(o.allowedColumns, columns...) }
}

// Guard checks that sql is a single read-only statement without comments and
// bounds every LIMIT clause by maxLimit, appending one when absent. The
// returned statement is safe to hand to the executor. Guard is pure and
// idempotent.
func Guard(sql string, maxLimit int, opts ...Option) (string, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	s := strings.TrimSpace(sql)
	if s == "" {
		return "", ErrEmpty
	}

	for strings.HasSuffix(s, ";") {
		s = strings.TrimSpace(strings.TrimSuffix(s, ";"))
	}
	if s == "" {
		return "", ErrEmpty
	}
	if strings.Contains(s, ";") {
		return "", ErrMultipleStatements
	}

	if !leadingRe.MatchString(s) {
		return "", fmt.Errorf("%w, got: %s", ErrNotSelect, head(s, 20))
	}

	if kw := forbiddenKeyword(s); kw != "" {
		return "", fmt.Errorf("%w %q", ErrForbiddenKeyword, kw)
	}

	if strings.Contains(s, "--") || strings.Contains(s, "/*") || strings.Contains(s, "*/") {
		return "", ErrComment
	}

	return enforceLimit(s, maxLimit), nil
}

// forbiddenKeyword returns the first forbidden keyword used as a word in s.
// A keyword directly followed by "." is a schema name (update.pool_yields_latest)
// and one wrapped in double quotes on both sides is a quoted identifier.
// Anything else counts, including UPDATE"pools" where the quote opens the
// table name.
func forbiddenKeyword(s string) string {
	for _, loc := range wordRe.FindAllStringIndex(s, -1) {
		word := strings.ToUpper(s[loc[0]:loc[1]])
		if !forbiddenSet[word] {
			continue
		}
		var prev, next byte
		if loc[0] > 0 {
			prev = s[loc[0]-1]
		}
		if loc[1] < len(s) {
			next = s[loc[1]]
		}
		if next == '.' || (prev == '"' && next == '"') {
			continue
		}
		return word
	}
	return ""
}

// enforceLimit clamps every LIMIT to maxLimit and appends one to the outer
// query when no LIMIT sits outside parentheses.
func enforceLimit(s string, maxLimit int) string {
	locs := limitRe.FindAllStringIndex(s, -1)
	outer := false
	for _, loc := range locs {
		if depthAt(s, loc[0]) == 0 {
			outer = true
			break
		}
	}
	if len(locs) > 0 {
		s = clampLimits(s, maxLimit)
	}
	if !outer {
		s += "\nLIMIT " + strconv.Itoa(maxLimit)
	}
	return s
}

// depthAt is the parenthesis nesting depth at byte offset pos. Parentheses
// inside single-quoted literals or double-quoted identifiers are ignored.
func depthAt(s string, pos int) int {
	depth := 0
	var quote byte
	for i := 0; i < pos; i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			if depth > 0 {
				depth--
			}
		}
	}
	return depth
}

func clampLimits(s string, maxLimit int) string {
	return limitRe.ReplaceAllStringFunc(s, func(clause string) string {
		m := limitRe.FindStringSubmatch(clause)
		n, err := strconv.Atoi(m[1])
		if err != nil || n > maxLimit {
			n = maxLimit
		}
		return "LIMIT " + strconv.Itoa(n)
	})
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
