package ai

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/aman-zulfiqar/defi-nlq/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// fakeLLM answers prompts through respond and streams replies in small chunks
// when a streaming callback is set.
type fakeLLM struct {
	mu        sync.Mutex
	respond   func(prompt string) (string, error)
	chunkSize int
	prompts   []string
}

func (f *fakeLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, o := range options {
		o(&opts)
	}

	var b strings.Builder
	for _, m := range messages {
		for _, p := range m.Parts {
			if t, ok := p.(llms.TextContent); ok {
				b.WriteString(t.Text)
			}
		}
	}
	prompt := b.String()

	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()

	text, err := f.respond(prompt)
	if err != nil {
		return nil, err
	}

	if opts.StreamingFunc != nil {
		size := f.chunkSize
		if size <= 0 {
			size = 5
		}
		runes := []rune(text)
		for i := 0; i < len(runes); i += size {
			end := min(i+size, len(runes))
			if err := opts.StreamingFunc(ctx, []byte(string(runes[i:end]))); err != nil {
				return nil, err
			}
		}
	}

	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text}}}, nil
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func (f *fakeLLM) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

func isPlanPrompt(p string) bool   { return strings.Contains(p, "query writer for a DeFi analytics database") }
func isRetryPrompt(p string) bool  { return strings.Contains(p, "A query you wrote failed") }
func isAnswerPrompt(p string) bool { return strings.Contains(p, "DeFi data analyst") }

// scriptedLLM routes prompts by kind.
func scriptedLLM(plan, retry, answer string) *fakeLLM {
	return &fakeLLM{respond: func(p string) (string, error) {
		switch {
		case isPlanPrompt(p):
			return plan, nil
		case isRetryPrompt(p):
			return retry, nil
		case isAnswerPrompt(p):
			return answer, nil
		}
		return "general answer", nil
	}}
}

type execResult struct {
	rows []models.Row
	err  error
}

// fakeExec replays results in order; the last result repeats.
type fakeExec struct {
	mu      sync.Mutex
	results []execResult
	queries []string
}

func (f *fakeExec) Query(_ context.Context, sql string) ([]models.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, sql)
	if len(f.results) == 0 {
		return nil, errors.New("no scripted result")
	}
	r := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return r.rows, r.err
}

func (f *fakeExec) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

// fakePlanner returns scripted statements for attempt 0 and each retry.
type fakePlanner struct {
	plan      string
	planErr   error
	replans   []string
	replanErr error
	requests  []RetryRequest
}

func (f *fakePlanner) Plan(context.Context, string, string, Intent) (string, error) {
	return f.plan, f.planErr
}

func (f *fakePlanner) Replan(_ context.Context, req RetryRequest) (string, error) {
	f.requests = append(f.requests, req)
	if f.replanErr != nil {
		return "", f.replanErr
	}
	i := min(len(f.requests)-1, len(f.replans)-1)
	if i < 0 {
		return "", ErrNoSQL
	}
	return f.replans[i], nil
}

func poolRows(n int) []models.Row {
	cols := []string{"pool", "project", "apy", "tvl_usd"}
	vals := make([][]any, n)
	for i := range vals {
		vals[i] = []any{"WETH-USDC", "aerodrome", 12.5 + float64(i), 45_000_000.0}
	}
	return models.RowsFromMaps(cols, vals)
}
