package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aman-zulfiqar/defi-nlq/internal/metrics"
	"github.com/aman-zulfiqar/defi-nlq/internal/models"
	"github.com/aman-zulfiqar/defi-nlq/internal/schema"
	"github.com/aman-zulfiqar/defi-nlq/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Answer sources.
const (
	SourceDatabase         = "database"
	SourceGeneralKnowledge = "general_knowledge"
	SourceMeta             = "meta"
)

const (
	// streamRowSample bounds the rows sent in a stream "rows" event.
	streamRowSample = 10

	defaultModel   = "openai/gpt-4.1-mini"
	defaultBaseURL = "https://openrouter.ai/api/v1"

	generalKnowledgeDisabled = "That question needs general knowledge rather than data, and general-knowledge answers are turned off. Ask about TVL, prices, yields, lending rates, bridge flows, stablecoins or ETF flows instead."
)

// AgentConfig holds configuration for the AI agent.
type AgentConfig struct {
	// OpenRouter / LLM settings. Ignored when LLM is set.
	OpenRouterAPIKey string
	// Model name as understood by OpenRouter, e.g. "openai/gpt-4.1-mini".
	Model   string
	BaseURL string
	LLM     llms.Model

	Executor storage.QueryExecutor
	Filter   *schema.Filter

	MaxRetries int
	MaxLimit   int

	Logger *logrus.Logger
}

// Agent answers natural-language questions over the analytics database.
type Agent struct {
	filter  *schema.Filter
	loop    *Loop
	synth   *Synthesizer
	catalog string
	logger  *logrus.Logger
}

// NewAgent wires planner, execution loop and synthesizer around one model.
func NewAgent(cfg AgentConfig) (*Agent, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("query executor is required")
	}
	if cfg.Filter == nil {
		cfg.Filter = schema.NewFilter(schema.Default(), nil)
	}

	llm := cfg.LLM
	if llm == nil {
		if cfg.OpenRouterAPIKey == "" {
			return nil, fmt.Errorf("OPENROUTER_API_KEY is required")
		}
		if cfg.Model == "" {
			cfg.Model = defaultModel
		}
		if cfg.BaseURL == "" {
			cfg.BaseURL = defaultBaseURL
		}

		// OpenRouter speaks the OpenAI API.
		var err error
		llm, err = openai.New(
			openai.WithToken(cfg.OpenRouterAPIKey),
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenRouter LLM: %w", err)
		}
	}

	planner := NewPlanner(llm, cfg.Logger)
	loop := NewLoop(planner, cfg.Executor, LoopConfig{
		MaxRetries: cfg.MaxRetries,
		MaxLimit:   cfg.MaxLimit,
		Logger:     cfg.Logger,
	})

	cfg.Logger.WithFields(logrus.Fields{
		"model":       cfg.Model,
		"tables":      cfg.Filter.Registry().Len(),
		"max_retries": loop.maxRetries,
		"max_limit":   loop.maxLimit,
	}).Info("initialized AI agent")

	return &Agent{
		filter:  cfg.Filter,
		loop:    loop,
		synth:   NewSynthesizer(llm, cfg.Logger),
		catalog: capabilities(cfg.Filter.Registry()),
		logger:  cfg.Logger,
	}, nil
}

// AskOptions tune a single question.
type AskOptions struct {
	// Minimal returns SQL and rows without prose.
	Minimal      bool
	Presentation string
	// AllowGeneralKnowledge permits model answers for out-of-data questions.
	AllowGeneralKnowledge bool
	Charts                bool
}

// AskResult is the structured result of an Ask call.
type AskResult struct {
	SQL        string
	Rows       []models.Row
	Answer     string
	Source     string
	Scope      Scope
	Intent     Intent
	RetryCount int
	Chart      *ChartSpec
	Tables     []string
}

// Ask classifies the question and answers it from the database, from general
// knowledge or from the capability catalog.
func (a *Agent) Ask(ctx context.Context, question string, opts AskOptions) (*AskResult, error) {
	cls := Classify(question)
	log := a.logger.WithFields(logrus.Fields{"scope": cls.Scope, "intent": cls.Intent})

	switch cls.Scope {
	case ScopeMeta:
		log.Debug("answering capability question")
		a.record(cls, SourceMeta)
		return &AskResult{Answer: a.catalog, Source: SourceMeta, Scope: cls.Scope}, nil

	case ScopeGeneralKnowledge:
		intent := DetectIntent(question)
		res := &AskResult{Source: SourceGeneralKnowledge, Scope: cls.Scope, Intent: intent}
		if !opts.AllowGeneralKnowledge {
			res.Answer = generalKnowledgeDisabled
			return res, nil
		}
		answer, err := a.synth.Synthesize(ctx, SynthesisRequest{
			Question:         question,
			Presentation:     opts.Presentation,
			Intent:           intent,
			GeneralKnowledge: true,
		})
		if err != nil {
			metrics.RecordFailure("synthesis")
			return nil, err
		}
		res.Answer = answer
		a.record(cls, SourceGeneralKnowledge)
		return res, nil
	}

	filtered := a.filter.Filter(question)
	log.WithField("tables", filtered.Tables).Debug("filtered schema")

	run, err := a.loop.Run(ctx, LoopInput{
		Question:  question,
		SchemaDoc: filtered.Doc,
		Intent:    cls.Intent,
		Tables:    filtered.Tables,
	})
	if err != nil {
		metrics.RecordFailure(failureKind(err))
		return nil, err
	}

	res := &AskResult{
		SQL:        run.SQL,
		Rows:       run.Rows,
		Source:     SourceDatabase,
		Scope:      cls.Scope,
		Intent:     cls.Intent,
		RetryCount: run.RetryCount,
		Tables:     filtered.Tables,
	}
	if opts.Charts {
		res.Chart = SelectChart(run.Rows)
	}
	if opts.Minimal {
		a.record(cls, SourceDatabase)
		return res, nil
	}

	answer, err := a.synth.Synthesize(ctx, SynthesisRequest{
		Question:     question,
		Rows:         run.Rows,
		Presentation: opts.Presentation,
		Intent:       cls.Intent,
		RetryCount:   run.RetryCount,
	})
	if err != nil {
		metrics.RecordFailure("synthesis")
		return nil, err
	}
	res.Answer = answer
	a.record(cls, SourceDatabase)
	return res, nil
}

// Stream event types.
const (
	EventSQL         = "sql"
	EventRows        = "rows"
	EventAnswerStart = "answer_start"
	EventAnswerChunk = "answer_chunk"
	EventDone        = "done"
	EventError       = "error"
)

// StreamEvent is one server-pushed event of a streamed answer.
type StreamEvent struct {
	Type       string       `json:"type"`
	SQL        string       `json:"sql,omitempty"`
	Rows       []models.Row `json:"rows,omitempty"`
	Total      int          `json:"total,omitempty"`
	Text       string       `json:"text,omitempty"`
	Source     string       `json:"source,omitempty"`
	Intent     Intent       `json:"intent,omitempty"`
	RetryCount int          `json:"retryCount"`
	Chart      *ChartSpec   `json:"chart,omitempty"`
	Err        error        `json:"-"`
}

// AskStream answers like Ask but reports progress as events. The channel is
// closed after a done or error event, or when ctx is cancelled.
func (a *Agent) AskStream(ctx context.Context, question string, opts AskOptions) <-chan StreamEvent {
	out := make(chan StreamEvent)

	go func() {
		defer close(out)

		send := func(ev StreamEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		cls := Classify(question)
		switch cls.Scope {
		case ScopeMeta:
			a.record(cls, SourceMeta)
			sendAll(send,
				StreamEvent{Type: EventAnswerStart, Source: SourceMeta},
				StreamEvent{Type: EventAnswerChunk, Text: a.catalog},
				StreamEvent{Type: EventDone, Source: SourceMeta},
			)
			return

		case ScopeGeneralKnowledge:
			intent := DetectIntent(question)
			if !opts.AllowGeneralKnowledge {
				sendAll(send,
					StreamEvent{Type: EventAnswerStart, Source: SourceGeneralKnowledge, Intent: intent},
					StreamEvent{Type: EventAnswerChunk, Text: generalKnowledgeDisabled},
					StreamEvent{Type: EventDone, Source: SourceGeneralKnowledge, Intent: intent},
				)
				return
			}
			if !send(StreamEvent{Type: EventAnswerStart, Source: SourceGeneralKnowledge, Intent: intent}) {
				return
			}
			req := SynthesisRequest{Question: question, Presentation: opts.Presentation, Intent: intent, GeneralKnowledge: true}
			if a.relay(ctx, req, send) {
				a.record(cls, SourceGeneralKnowledge)
				send(StreamEvent{Type: EventDone, Source: SourceGeneralKnowledge, Intent: intent})
			}
			return
		}

		filtered := a.filter.Filter(question)
		run, err := a.loop.Run(ctx, LoopInput{
			Question:  question,
			SchemaDoc: filtered.Doc,
			Intent:    cls.Intent,
			Tables:    filtered.Tables,
		})
		if err != nil {
			metrics.RecordFailure(failureKind(err))
			send(StreamEvent{Type: EventError, Err: err, Intent: cls.Intent})
			return
		}

		sample := run.Rows
		if len(sample) > streamRowSample {
			sample = sample[:streamRowSample]
		}
		ev := StreamEvent{Type: EventRows, Rows: sample, Total: len(run.Rows), RetryCount: run.RetryCount}
		if opts.Charts {
			ev.Chart = SelectChart(run.Rows)
		}
		if !send(StreamEvent{Type: EventSQL, SQL: run.SQL, RetryCount: run.RetryCount}) || !send(ev) {
			return
		}

		done := StreamEvent{Type: EventDone, Source: SourceDatabase, Intent: cls.Intent, RetryCount: run.RetryCount}
		if opts.Minimal {
			a.record(cls, SourceDatabase)
			send(done)
			return
		}

		if !send(StreamEvent{Type: EventAnswerStart, Source: SourceDatabase, Intent: cls.Intent}) {
			return
		}
		req := SynthesisRequest{
			Question:     question,
			Rows:         run.Rows,
			Presentation: opts.Presentation,
			Intent:       cls.Intent,
			RetryCount:   run.RetryCount,
		}
		if a.relay(ctx, req, send) {
			a.record(cls, SourceDatabase)
			send(done)
		}
	}()

	return out
}

func sendAll(send func(StreamEvent) bool, events ...StreamEvent) {
	for _, ev := range events {
		if !send(ev) {
			return
		}
	}
}

// relay forwards synthesized fragments as answer_chunk events. It reports
// false when the stream ended with an error or the consumer went away.
func (a *Agent) relay(ctx context.Context, req SynthesisRequest, send func(StreamEvent) bool) bool {
	for frag := range a.synth.Stream(ctx, req) {
		if frag.Err != nil {
			metrics.RecordFailure("synthesis")
			send(StreamEvent{Type: EventError, Err: frag.Err, Intent: req.Intent, RetryCount: req.RetryCount})
			return false
		}
		if !send(StreamEvent{Type: EventAnswerChunk, Text: frag.Text}) {
			return false
		}
	}
	return ctx.Err() == nil
}

func (a *Agent) record(cls Classification, source string) {
	metrics.RecordQuestion(string(cls.Scope), string(cls.Intent), source)
}

func failureKind(err error) string {
	var (
		failure *ExecutionFailure
		connErr *storage.ConnError
	)
	switch {
	case errors.As(err, &failure):
		return "exhausted"
	case errors.As(err, &connErr):
		return "connection"
	case errors.Is(err, ErrPlannerUnavailable):
		return "planner"
	}
	return "other"
}

// capabilities renders the answer to "what can I ask" from the registry.
func capabilities(reg *schema.Registry) string {
	var live, hist []string
	for _, t := range reg.Tables() {
		line := "- " + t.Name
		if t.Description != "" {
			line += ": " + t.Description
		}
		switch t.Generation() {
		case schema.GenerationHistorical:
			hist = append(hist, line)
		default:
			live = append(live, line)
		}
	}

	var b strings.Builder
	b.WriteString("I answer questions about DeFi market data by querying a database of current snapshots and daily history.\n")
	if len(live) > 0 {
		b.WriteString("\nCurrent data:\n")
		b.WriteString(strings.Join(live, "\n"))
		b.WriteString("\n")
	}
	if len(hist) > 0 {
		b.WriteString("\nHistorical data:\n")
		b.WriteString(strings.Join(hist, "\n"))
		b.WriteString("\n")
	}
	b.WriteString("\nExamples:\n")
	b.WriteString("- What's the current APY for WETH-USDC on Aerodrome?\n")
	b.WriteString("- Which lending markets pay the highest USDC supply rate?\n")
	b.WriteString("- How has Aave TVL changed over the last 90 days?\n")
	b.WriteString("- Compare ETH price today vs last month")
	return b.String()
}
