package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aman-zulfiqar/defi-nlq/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
)

const (
	noDataAnswer          = "No data was found for this question. Try a different asset, protocol or time range."
	generalKnowledgeNote  = "_This answer is based on general knowledge, not on live data._"
	generalKnowledgeSplit = "\n\n"
)

// SynthesisRequest is the input of answer synthesis. Rows are ignored for
// general-knowledge answers.
type SynthesisRequest struct {
	Question         string
	Rows             []models.Row
	Presentation     string
	Intent           Intent
	RetryCount       int
	GeneralKnowledge bool
}

// Fragment is one piece of a streamed answer. A fragment with Err set is the
// last one sent.
type Fragment struct {
	Text string
	Err  error
}

// Synthesizer turns result rows into prose.
type Synthesizer struct {
	llm       llms.Model
	maxTokens int
	logger    *logrus.Logger
}

// NewSynthesizer wraps llm as an answer synthesizer.
func NewSynthesizer(llm llms.Model, logger *logrus.Logger) *Synthesizer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Synthesizer{llm: llm, maxTokens: 1024, logger: logger}
}

// Synthesize produces the complete formatted answer.
func (s *Synthesizer) Synthesize(ctx context.Context, req SynthesisRequest) (string, error) {
	prompt, canned, err := s.prompt(req)
	if err != nil {
		return "", err
	}
	if canned != "" {
		return canned, nil
	}

	resp, err := llms.GenerateFromSinglePrompt(ctx, s.llm, prompt, llms.WithMaxTokens(s.maxTokens))
	if err != nil {
		return "", fmt.Errorf("answer synthesis failed: %w", err)
	}

	answer := FormatAnswer(resp)
	if req.GeneralKnowledge {
		answer += generalKnowledgeSplit + generalKnowledgeNote
	}
	return answer, nil
}

// Stream produces the answer as ordered fragments. The channel is unbuffered
// so a slow consumer holds back the model stream; cancelling ctx stops
// production at the next fragment. The channel is closed when done.
func (s *Synthesizer) Stream(ctx context.Context, req SynthesisRequest) <-chan Fragment {
	out := make(chan Fragment)

	go func() {
		defer close(out)

		send := func(f Fragment) error {
			select {
			case out <- f:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		prompt, canned, err := s.prompt(req)
		if err != nil {
			_ = send(Fragment{Err: err})
			return
		}
		if canned != "" {
			_ = send(Fragment{Text: canned})
			return
		}

		var sf streamFormatter
		_, err = llms.GenerateFromSinglePrompt(ctx, s.llm, prompt,
			llms.WithMaxTokens(s.maxTokens),
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				text := sf.Push(string(chunk))
				if text == "" {
					return nil
				}
				return send(Fragment{Text: text})
			}),
		)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.WithError(err).Debug("answer stream cancelled")
				return
			}
			_ = send(Fragment{Err: fmt.Errorf("answer synthesis failed: %w", err)})
			return
		}

		if rest := sf.Flush(); rest != "" {
			if send(Fragment{Text: rest}) != nil {
				return
			}
		}
		if req.GeneralKnowledge {
			_ = send(Fragment{Text: generalKnowledgeSplit + generalKnowledgeNote})
		}
	}()

	return out
}

// prompt builds the model prompt, or returns a canned answer when no model
// call is needed.
func (s *Synthesizer) prompt(req SynthesisRequest) (prompt, canned string, err error) {
	if req.GeneralKnowledge {
		return generalKnowledgePrompt(req.Question, req.Intent), "", nil
	}
	if len(req.Rows) == 0 {
		return "", noDataAnswer, nil
	}

	shown := req.Rows
	if len(shown) > promptRowLimit {
		shown = shown[:promptRowLimit]
	}
	data, err := json.Marshal(shown)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal rows to JSON: %w", err)
	}
	return answerPrompt(req.Question, string(data), len(req.Rows), req.Intent, req.Presentation, req.RetryCount), "", nil
}
