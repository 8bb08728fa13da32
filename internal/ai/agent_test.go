package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aman-zulfiqar/defi-nlq/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	poolQuestion = "What's the current APY for WETH-USDC on Aerodrome?"
	poolPlan     = `{"sql": "SELECT pool, project, apy, tvl_usd FROM update.pool_yields_latest WHERE symbol ILIKE '%WETH%USDC%' AND project = 'aerodrome' ORDER BY apy DESC"}`
	poolAnswer   = "WETH-USDC on Aerodrome yields 12.5 % APY with $45,000,000 in TVL as of 2024-06-01."
)

func newTestAgent(t *testing.T, llm *fakeLLM, exec *fakeExec) *Agent {
	t.Helper()
	a, err := NewAgent(AgentConfig{LLM: llm, Executor: exec, MaxRetries: 3, MaxLimit: 500, Logger: quietLogger()})
	require.NoError(t, err)
	return a
}

func collect(ch <-chan StreamEvent) []StreamEvent {
	var out []StreamEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func eventTypes(evs []StreamEvent) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

func TestNewAgent_RequiresKeyWithoutModel(t *testing.T) {
	_, err := NewAgent(AgentConfig{Executor: &fakeExec{}, Logger: quietLogger()})
	assert.Error(t, err)

	_, err = NewAgent(AgentConfig{LLM: &fakeLLM{}, Logger: quietLogger()})
	assert.Error(t, err)
}

func TestAgent_MetaQuestionSkipsModelAndDatabase(t *testing.T) {
	llm := scriptedLLM("", "", "")
	exec := &fakeExec{}
	a := newTestAgent(t, llm, exec)

	res, err := a.Ask(context.Background(), "What can I ask you?", AskOptions{})
	require.NoError(t, err)

	assert.Equal(t, SourceMeta, res.Source)
	assert.Equal(t, ScopeMeta, res.Scope)
	assert.Contains(t, res.Answer, "update.pool_yields_latest")
	assert.Contains(t, res.Answer, "Historical data:")
	assert.Empty(t, llm.calls())
	assert.Empty(t, exec.calls())
}

func TestAgent_AnswersPoolQuestion(t *testing.T) {
	llm := scriptedLLM(poolPlan, "", poolAnswer)
	exec := &fakeExec{results: []execResult{{rows: poolRows(3)}}}
	a := newTestAgent(t, llm, exec)

	res, err := a.Ask(context.Background(), poolQuestion, AskOptions{Charts: true})
	require.NoError(t, err)

	assert.Equal(t, ScopeInScope, res.Scope)
	assert.Equal(t, IntentPoolAnalysis, res.Intent)
	assert.Equal(t, SourceDatabase, res.Source)
	assert.Equal(t, 0, res.RetryCount)
	assert.True(t, strings.HasSuffix(res.SQL, "\nLIMIT 500"))
	assert.Len(t, res.Rows, 3)
	assert.Contains(t, res.Tables, "update.pool_yields_latest")
	assert.Equal(t, "WETH-USDC on Aerodrome yields 12.5% APY with $45M in TVL as of June 1, 2024.", res.Answer)
	assert.Equal(t, &ChartSpec{Type: ChartBar, X: "pool", Y: "apy"}, res.Chart)

	calls := llm.calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[0], "Table: update.pool_yields_latest")
	assert.NotContains(t, calls[0], "Table: clean.")
}

func TestAgent_CorrectedAttemptRows(t *testing.T) {
	llm := scriptedLLM(
		`{"sql": "SELECT apy_pct FROM update.pool_yields_latest"}`,
		`{"sql": "SELECT pool, project, apy, tvl_usd FROM update.pool_yields_latest"}`,
		"ok",
	)
	exec := &fakeExec{results: []execResult{{err: missingColumn}, {rows: poolRows(4)}}}
	a := newTestAgent(t, llm, exec)

	res, err := a.Ask(context.Background(), poolQuestion, AskOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.RetryCount)
	assert.Equal(t, poolRows(4), res.Rows)
	assert.Equal(t, "SELECT pool, project, apy, tvl_usd FROM update.pool_yields_latest\nLIMIT 500", res.SQL)
}

func TestAgent_EmptyResultSkipsModel(t *testing.T) {
	llm := scriptedLLM(poolPlan, "", poolAnswer)
	a := newTestAgent(t, llm, &fakeExec{results: []execResult{{}}})

	res, err := a.Ask(context.Background(), poolQuestion, AskOptions{})
	require.NoError(t, err)
	assert.Equal(t, noDataAnswer, res.Answer)
	assert.Len(t, llm.calls(), 1)
}

func TestAgent_MinimalSkipsSynthesis(t *testing.T) {
	llm := scriptedLLM(poolPlan, "", poolAnswer)
	a := newTestAgent(t, llm, &fakeExec{results: []execResult{{rows: poolRows(2)}}})

	res, err := a.Ask(context.Background(), poolQuestion, AskOptions{Minimal: true})
	require.NoError(t, err)
	assert.Empty(t, res.Answer)
	assert.Len(t, res.Rows, 2)
	assert.Len(t, llm.calls(), 1)
}

func TestAgent_GeneralKnowledge(t *testing.T) {
	llm := scriptedLLM("", "", "")
	exec := &fakeExec{}
	a := newTestAgent(t, llm, exec)

	res, err := a.Ask(context.Background(), "What is blockchain?", AskOptions{})
	require.NoError(t, err)
	assert.Equal(t, generalKnowledgeDisabled, res.Answer)
	assert.Empty(t, llm.calls())

	res, err = a.Ask(context.Background(), "What is blockchain?", AskOptions{AllowGeneralKnowledge: true})
	require.NoError(t, err)
	assert.Equal(t, SourceGeneralKnowledge, res.Source)
	assert.Equal(t, "general answer\n\n"+generalKnowledgeNote, res.Answer)
	assert.Empty(t, exec.calls())
}

func TestAgent_ExhaustedRetries(t *testing.T) {
	llm := scriptedLLM(`{"sql": "SELECT x FROM t"}`, `{"sql": "SELECT y FROM t"}`, "")
	a := newTestAgent(t, llm, &fakeExec{results: []execResult{{err: missingColumn}}})

	_, err := a.Ask(context.Background(), poolQuestion, AskOptions{})
	var failure *ExecutionFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 3, failure.RetryCount)
}

func TestAgent_StreamMatchesSingleShot(t *testing.T) {
	for _, size := range []int{1, 3, 7, 64} {
		llm := scriptedLLM(poolPlan, "", poolAnswer)
		llm.chunkSize = size
		exec := &fakeExec{results: []execResult{{rows: poolRows(12)}}}
		a := newTestAgent(t, llm, exec)

		evs := collect(a.AskStream(context.Background(), poolQuestion, AskOptions{}))
		require.GreaterOrEqual(t, len(evs), 5)

		types := eventTypes(evs)
		assert.Equal(t, []string{EventSQL, EventRows, EventAnswerStart}, types[:3])
		assert.Equal(t, EventDone, types[len(types)-1])

		rows := evs[1]
		assert.Len(t, rows.Rows, 10)
		assert.Equal(t, 12, rows.Total)

		var text strings.Builder
		for _, ev := range evs[3 : len(evs)-1] {
			assert.Equal(t, EventAnswerChunk, ev.Type)
			text.WriteString(ev.Text)
		}
		assert.Equal(t, FormatAnswer(poolAnswer), text.String(), "chunk size %d", size)

		done := evs[len(evs)-1]
		assert.Equal(t, IntentPoolAnalysis, done.Intent)
		assert.Equal(t, 0, done.RetryCount)
	}
}

func TestAgent_StreamMeta(t *testing.T) {
	a := newTestAgent(t, scriptedLLM("", "", ""), &fakeExec{})
	evs := collect(a.AskStream(context.Background(), "What can I ask you?", AskOptions{}))
	assert.Equal(t, []string{EventAnswerStart, EventAnswerChunk, EventDone}, eventTypes(evs))
	assert.Equal(t, SourceMeta, evs[2].Source)
}

func TestAgent_StreamConnectionError(t *testing.T) {
	llm := scriptedLLM(poolPlan, "", poolAnswer)
	a := newTestAgent(t, llm, &fakeExec{results: []execResult{{err: &storage.ConnError{Err: errors.New("refused")}}}})

	evs := collect(a.AskStream(context.Background(), poolQuestion, AskOptions{}))
	require.Len(t, evs, 1)
	assert.Equal(t, EventError, evs[0].Type)
	var connErr *storage.ConnError
	assert.ErrorAs(t, evs[0].Err, &connErr)
}

func TestAgent_StreamStopsWhenConsumerLeaves(t *testing.T) {
	llm := scriptedLLM(poolPlan, "", strings.Repeat("word ", 200))
	llm.chunkSize = 1
	a := newTestAgent(t, llm, &fakeExec{results: []execResult{{rows: poolRows(1)}}})

	ctx, cancel := context.WithCancel(context.Background())
	ch := a.AskStream(ctx, poolQuestion, AskOptions{})

	var chunks int
	for ev := range ch {
		if ev.Type == EventAnswerChunk {
			chunks++
			if chunks == 3 {
				cancel()
				break
			}
		}
	}
	// The producer must close the channel after cancellation.
	for ev := range ch {
		assert.NotEqual(t, EventDone, ev.Type)
	}
	cancel()
}
