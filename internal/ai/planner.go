package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
)

var (
	// ErrNoSQL is returned when the model answer carries no usable statement.
	ErrNoSQL = errors.New("planner did not return SQL")
	// ErrPlannerUnavailable wraps transport failures of the model call.
	ErrPlannerUnavailable = errors.New("planner unavailable")
)

// RetryRequest is the input of the error-aware retry planner.
type RetryRequest struct {
	Question    string
	PreviousSQL string
	ErrorText   string
	SchemaDoc   string
	Intent      Intent
	Retry       int
}

// SQLPlanner produces candidate statements for the execution loop.
type SQLPlanner interface {
	Plan(ctx context.Context, question, schemaDoc string, intent Intent) (string, error)
	Replan(ctx context.Context, req RetryRequest) (string, error)
}

// Planner asks a language model for exactly one SQL statement per call.
type Planner struct {
	llm       llms.Model
	maxTokens int
	logger    *logrus.Logger
}

// NewPlanner wraps llm as a planner.
func NewPlanner(llm llms.Model, logger *logrus.Logger) *Planner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Planner{llm: llm, maxTokens: 800, logger: logger}
}

// Plan produces attempt 0 from the question and filtered schema.
func (p *Planner) Plan(ctx context.Context, question, schemaDoc string, intent Intent) (string, error) {
	return p.generate(ctx, planPrompt(question, schemaDoc, intent))
}

// Replan produces a corrected statement after a failed attempt.
func (p *Planner) Replan(ctx context.Context, req RetryRequest) (string, error) {
	return p.generate(ctx, retryPrompt(req))
}

func (p *Planner) generate(ctx context.Context, prompt string) (string, error) {
	resp, err := llms.GenerateFromSinglePrompt(
		ctx,
		p.llm,
		prompt,
		llms.WithMaxTokens(p.maxTokens),
		llms.WithTemperature(0),
		llms.WithJSONMode(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPlannerUnavailable, err)
	}

	sql, err := parsePlan(resp)
	if err != nil {
		p.logger.WithField("response", truncate(resp, 200)).Debug("unusable planner response")
		return "", err
	}
	p.logger.WithField("sql", sql).Debug("generated SQL from question")
	return sql, nil
}

type planPayload struct {
	SQL string `json:"sql"`
}

// parsePlan extracts the statement from a {"sql": ...} payload, tolerating a
// surrounding code fence.
func parsePlan(resp string) (string, error) {
	s := stripFence(resp)
	if s == "" {
		return "", ErrNoSQL
	}

	// Some models wrap the object in prose; take the outermost braces.
	if i, j := strings.Index(s, "{"), strings.LastIndex(s, "}"); i >= 0 && j > i {
		s = s[i : j+1]
	}

	var payload planPayload
	if err := json.Unmarshal([]byte(s), &payload); err != nil {
		return "", fmt.Errorf("%w: malformed payload: %v", ErrNoSQL, err)
	}
	sql := strings.TrimSpace(payload.SQL)
	if sql == "" {
		return "", ErrNoSQL
	}
	return sql, nil
}

// stripFence removes a ``` or ```json fence around s.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{}") {
		s = s[nl+1:]
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
