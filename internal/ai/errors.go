package ai

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/aman-zulfiqar/defi-nlq/internal/sqlguard"
)

type hintRule struct {
	re      *regexp.Regexp
	message string
}

const timeoutMessage = "The query took too long to run. Try narrowing the question to fewer assets or a shorter time range."

var missingColumnRe = regexp.MustCompile(`column "?([A-Za-z0-9_.]+)"? does not exist`)

// hintRules map raw failure text to a message a user can act on.
var hintRules = []hintRule{
	{
		re:      regexp.MustCompile(`(?i)operator does not exist: (?:date|timestamp)|invalid input syntax for type (?:date|timestamp)|(?:date|timestamp).*(?:mismatch|cannot be matched)|cannot compare`),
		message: "The data could not be filtered by date because of a date/time type mismatch. Try giving an explicit date range, for example \"since 2024-01-01\".",
	},
	{
		re:      regexp.MustCompile(`(?i)operator does not exist|invalid input syntax for type|cannot be matched|types? .* mismatch`),
		message: "The query compared values of incompatible types. Try rephrasing the question with a more specific metric.",
	},
	{
		re:      regexp.MustCompile(`(?i)relation "?[A-Za-z0-9_.]+"? does not exist`),
		message: "The question refers to data that is not available. Ask what data is available to see the supported topics.",
	},
	{
		re:      regexp.MustCompile(`(?i)statement timeout|canceling statement|deadline exceeded|timed out`),
		message: timeoutMessage,
	},
}

// FriendlyMessage picks a user-facing message for a pipeline failure.
func FriendlyMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrNoSQL) {
		return "I could not turn that question into a database query. Try rephrasing it with a specific asset, protocol or metric."
	}
	if errors.Is(err, ErrPlannerUnavailable) {
		return "The language model is unavailable right now. Please try again shortly."
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return timeoutMessage
	}
	if isGuardError(err) {
		return "The generated query was not safe to run. Try rephrasing the question."
	}

	text := err.Error()
	if m := missingColumnRe.FindStringSubmatch(text); m != nil {
		return "The query referenced a field that does not exist (" + m[1] + "). Try rephrasing the question with a different metric."
	}
	for _, r := range hintRules {
		if r.re.MatchString(text) {
			return r.message
		}
	}
	return "I couldn't answer that question from the data. Try rephrasing it or asking about a specific asset or protocol."
}

func isGuardError(err error) bool {
	for _, target := range []error{
		sqlguard.ErrEmpty,
		sqlguard.ErrMultipleStatements,
		sqlguard.ErrNotSelect,
		sqlguard.ErrForbiddenKeyword,
		sqlguard.ErrComment,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// errorText is err.Error() or "" for nil, trimmed.
func errorText(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}
