package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aman-zulfiqar/defi-nlq/internal/metrics"
	"github.com/aman-zulfiqar/defi-nlq/internal/models"
	"github.com/aman-zulfiqar/defi-nlq/internal/sqlguard"
	"github.com/aman-zulfiqar/defi-nlq/internal/storage"
	"github.com/sirupsen/logrus"
)

// DefaultMaxRetries bounds retry planner invocations per question.
const DefaultMaxRetries = 3

type loopState int

const (
	statePlanning loopState = iota
	stateGuarding
	stateExecuting
	stateSucceeded
	stateRetryPending
	stateFailed
)

func (s loopState) String() string {
	switch s {
	case statePlanning:
		return "planning"
	case stateGuarding:
		return "guarding"
	case stateExecuting:
		return "executing"
	case stateSucceeded:
		return "succeeded"
	case stateRetryPending:
		return "retry_pending"
	case stateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Attempt is one candidate statement and how it ended. Err is nil only for
// the attempt that succeeded.
type Attempt struct {
	Index int    `json:"index"`
	SQL   string `json:"sql"`
	Err   error  `json:"-"`
}

// LoopInput is everything the loop needs to plan for one question.
type LoopInput struct {
	Question  string
	SchemaDoc string
	Intent    Intent
	Tables    []string
}

// LoopResult carries the rows of the successful attempt.
type LoopResult struct {
	SQL        string
	Rows       []models.Row
	RetryCount int
	Attempts   []Attempt
}

// ExecutionFailure is returned once every retry has been spent.
type ExecutionFailure struct {
	Err         error
	LastSQL     string
	RetryCount  int
	OriginalErr error
	Attempts    []Attempt
}

func (e *ExecutionFailure) Error() string {
	return fmt.Sprintf("query failed after %d retries: %v", e.RetryCount, e.Err)
}

func (e *ExecutionFailure) Unwrap() error { return e.Err }

// OriginalError is the error text of attempt 0.
func (e *ExecutionFailure) OriginalError() string { return errorText(e.OriginalErr) }

// LoopConfig configures a Loop.
type LoopConfig struct {
	MaxRetries int
	MaxLimit   int
	Logger     *logrus.Logger
}

// Loop plans, guards and executes statements for one question at a time,
// feeding every failure back to the retry planner until an attempt succeeds
// or the retry budget is spent.
type Loop struct {
	planner    SQLPlanner
	exec       storage.QueryExecutor
	maxRetries int
	maxLimit   int
	logger     *logrus.Logger
}

// NewLoop creates a Loop.
func NewLoop(planner SQLPlanner, exec storage.QueryExecutor, cfg LoopConfig) *Loop {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 500
	}
	return &Loop{
		planner:    planner,
		exec:       exec,
		maxRetries: cfg.MaxRetries,
		maxLimit:   cfg.MaxLimit,
		logger:     cfg.Logger,
	}
}

// Run drives the attempt state machine to Succeeded or Failed. A planner
// outage or a connection failure ends the run immediately with that error.
func (l *Loop) Run(ctx context.Context, in LoopInput) (*LoopResult, error) {
	var (
		state    = statePlanning
		cur      Attempt
		attempts []Attempt
		retries  int
		lastSQL  string
		rows     []models.Row
	)

	log := l.logger.WithField("intent", in.Intent)

	for {
		switch state {
		case statePlanning:
			sql, err := l.planner.Plan(ctx, in.Question, in.SchemaDoc, in.Intent)
			cur = Attempt{Index: 0, SQL: sql}
			if err != nil {
				if errors.Is(err, ErrPlannerUnavailable) {
					return nil, err
				}
				cur.Err = err
				state = stateRetryPending
				continue
			}
			state = stateGuarding

		case stateGuarding:
			lastSQL = cur.SQL
			safe, err := sqlguard.Guard(cur.SQL, l.maxLimit, sqlguard.WithAllowedTables(in.Tables...))
			if err != nil {
				metrics.RecordGuardRejection(guardReason(err))
				log.WithFields(logrus.Fields{"attempt": cur.Index, "error": err}).Warn("guard rejected statement")
				cur.Err = err
				state = stateRetryPending
				continue
			}
			cur.SQL = safe
			lastSQL = safe
			state = stateExecuting

		case stateExecuting:
			start := time.Now()
			var err error
			rows, err = l.exec.Query(ctx, cur.SQL)
			metrics.ObserveStatement(time.Since(start), err)
			if err != nil {
				var connErr *storage.ConnError
				if errors.As(err, &connErr) {
					return nil, err
				}
				log.WithFields(logrus.Fields{"attempt": cur.Index, "error": err}).Warn("statement failed")
				cur.Err = err
				state = stateRetryPending
				continue
			}
			state = stateSucceeded

		case stateSucceeded:
			attempts = append(attempts, cur)
			log.WithFields(logrus.Fields{"retry": retries, "rows": len(rows)}).Debug("statement succeeded")
			return &LoopResult{
				SQL:        cur.SQL,
				Rows:       rows,
				RetryCount: retries,
				Attempts:   attempts,
			}, nil

		case stateRetryPending:
			attempts = append(attempts, cur)
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if retries >= l.maxRetries {
				state = stateFailed
				continue
			}
			retries++
			metrics.RecordRetry(string(in.Intent))

			sql, err := l.planner.Replan(ctx, RetryRequest{
				Question:    in.Question,
				PreviousSQL: lastSQL,
				ErrorText:   cur.Err.Error(),
				SchemaDoc:   in.SchemaDoc,
				Intent:      in.Intent,
				Retry:       retries,
			})
			cur = Attempt{Index: retries, SQL: sql}
			if err != nil {
				if errors.Is(err, ErrPlannerUnavailable) {
					return nil, err
				}
				cur.Err = err
				continue
			}
			state = stateGuarding

		case stateFailed:
			log.WithFields(logrus.Fields{"retry": retries, "error": cur.Err}).Warn("retries exhausted")
			return nil, &ExecutionFailure{
				Err:         cur.Err,
				LastSQL:     lastSQL,
				RetryCount:  retries,
				OriginalErr: attempts[0].Err,
				Attempts:    attempts,
			}
		}
	}
}

func guardReason(err error) string {
	switch {
	case errors.Is(err, sqlguard.ErrEmpty):
		return "empty"
	case errors.Is(err, sqlguard.ErrMultipleStatements):
		return "multiple_statements"
	case errors.Is(err, sqlguard.ErrNotSelect):
		return "not_select"
	case errors.Is(err, sqlguard.ErrForbiddenKeyword):
		return "forbidden_keyword"
	case errors.Is(err, sqlguard.ErrComment):
		return "comment"
	}
	return "other"
}
