package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/aman-zulfiqar/defi-nlq/internal/sqlguard"
	"github.com/aman-zulfiqar/defi-nlq/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var missingColumn = &storage.QueryError{Message: `column "apy_pct" does not exist`, Code: "42703", Position: 8}

func newTestLoop(p SQLPlanner, e storage.QueryExecutor) *Loop {
	return NewLoop(p, e, LoopConfig{MaxRetries: 3, MaxLimit: 500, Logger: quietLogger()})
}

func TestLoop_RetriesAfterMissingColumn(t *testing.T) {
	planner := &fakePlanner{
		plan:    "SELECT apy_pct FROM update.pool_yields_latest",
		replans: []string{"SELECT apy FROM update.pool_yields_latest"},
	}
	exec := &fakeExec{results: []execResult{
		{err: missingColumn},
		{rows: poolRows(2)},
	}}

	res, err := newTestLoop(planner, exec).Run(context.Background(), LoopInput{Question: "pool apy", Intent: IntentPoolAnalysis})
	require.NoError(t, err)

	assert.Equal(t, 1, res.RetryCount)
	assert.Equal(t, "SELECT apy FROM update.pool_yields_latest\nLIMIT 500", res.SQL)
	assert.Equal(t, poolRows(2), res.Rows)
	assert.Equal(t, []string{
		"SELECT apy_pct FROM update.pool_yields_latest\nLIMIT 500",
		"SELECT apy FROM update.pool_yields_latest\nLIMIT 500",
	}, exec.calls())

	require.Len(t, planner.requests, 1)
	req := planner.requests[0]
	assert.Equal(t, 1, req.Retry)
	assert.Equal(t, IntentPoolAnalysis, req.Intent)
	assert.Equal(t, "SELECT apy_pct FROM update.pool_yields_latest\nLIMIT 500", req.PreviousSQL)
	assert.Contains(t, req.ErrorText, "does not exist")

	require.Len(t, res.Attempts, 2)
	assert.Equal(t, 0, res.Attempts[0].Index)
	assert.ErrorIs(t, res.Attempts[0].Err, missingColumn)
	assert.Equal(t, 1, res.Attempts[1].Index)
	assert.NoError(t, res.Attempts[1].Err)
}

func TestLoop_StopsAfterMaxRetries(t *testing.T) {
	planner := &fakePlanner{plan: "SELECT a FROM t", replans: []string{"SELECT b FROM t", "SELECT c FROM t", "SELECT d FROM t"}}
	timeout := &storage.QueryError{Message: "canceling statement due to statement timeout", Code: "57014"}
	exec := &fakeExec{results: []execResult{{err: missingColumn}, {err: timeout}}}

	_, err := newTestLoop(planner, exec).Run(context.Background(), LoopInput{Question: "q"})

	var failure *ExecutionFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 3, failure.RetryCount)
	assert.Len(t, planner.requests, 3)
	assert.Len(t, exec.calls(), 4)
	assert.Equal(t, "SELECT d FROM t\nLIMIT 500", failure.LastSQL)
	assert.ErrorIs(t, failure.Err, timeout)
	assert.ErrorIs(t, failure.OriginalErr, missingColumn)
	assert.Equal(t, missingColumn.Error(), failure.OriginalError())
	for i, a := range failure.Attempts {
		assert.Equal(t, i, a.Index)
		assert.Error(t, a.Err)
	}
}

func TestLoop_GuardRejectionSkipsDatabase(t *testing.T) {
	planner := &fakePlanner{
		plan:    "DELETE FROM update.pool_yields_latest",
		replans: []string{"SELECT pool FROM update.pool_yields_latest LIMIT 5000"},
	}
	exec := &fakeExec{results: []execResult{{rows: poolRows(1)}}}

	res, err := newTestLoop(planner, exec).Run(context.Background(), LoopInput{Question: "q"})
	require.NoError(t, err)

	assert.Equal(t, 1, res.RetryCount)
	assert.Equal(t, []string{"SELECT pool FROM update.pool_yields_latest LIMIT 500"}, exec.calls())
	assert.ErrorIs(t, res.Attempts[0].Err, sqlguard.ErrNotSelect)
}

func TestLoop_MissingPlanIsRetried(t *testing.T) {
	planner := &fakePlanner{planErr: ErrNoSQL, replans: []string{"SELECT 1"}}
	exec := &fakeExec{results: []execResult{{rows: poolRows(1)}}}

	res, err := newTestLoop(planner, exec).Run(context.Background(), LoopInput{Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.RetryCount)
	assert.Equal(t, "", planner.requests[0].PreviousSQL)
	assert.Contains(t, planner.requests[0].ErrorText, "planner did not return SQL")
}

func TestLoop_RetryPlannerWithoutSQLUsesAnAttempt(t *testing.T) {
	planner := &fakePlanner{plan: "SELECT a FROM t"}
	exec := &fakeExec{results: []execResult{{err: missingColumn}}}

	_, err := newTestLoop(planner, exec).Run(context.Background(), LoopInput{Question: "q"})

	var failure *ExecutionFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 3, failure.RetryCount)
	assert.ErrorIs(t, failure.Err, ErrNoSQL)
	assert.Len(t, exec.calls(), 1)
	for _, req := range planner.requests {
		assert.Equal(t, "SELECT a FROM t\nLIMIT 500", req.PreviousSQL)
	}
}

func TestLoop_ConnectionFailureIsFatal(t *testing.T) {
	planner := &fakePlanner{plan: "SELECT 1", replans: []string{"SELECT 2"}}
	exec := &fakeExec{results: []execResult{{err: &storage.ConnError{Err: errors.New("pool exhausted")}}}}

	_, err := newTestLoop(planner, exec).Run(context.Background(), LoopInput{Question: "q"})

	var connErr *storage.ConnError
	require.ErrorAs(t, err, &connErr)
	assert.Empty(t, planner.requests)
	assert.Len(t, exec.calls(), 1)
}

func TestLoop_PlannerOutageIsFatal(t *testing.T) {
	planner := &fakePlanner{plan: "SELECT 1", replanErr: ErrPlannerUnavailable}
	exec := &fakeExec{results: []execResult{{err: missingColumn}}}

	_, err := newTestLoop(planner, exec).Run(context.Background(), LoopInput{Question: "q"})
	assert.ErrorIs(t, err, ErrPlannerUnavailable)
	assert.Len(t, planner.requests, 1)
}

func TestLoop_CancelledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	planner := &fakePlanner{plan: "SELECT 1", replans: []string{"SELECT 2"}}
	exec := &fakeExec{results: []execResult{{err: missingColumn}}}

	_, err := newTestLoop(planner, exec).Run(ctx, LoopInput{Question: "q"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, planner.requests)
}
