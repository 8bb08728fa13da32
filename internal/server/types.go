package server

import (
	"github.com/aman-zulfiqar/defi-nlq/internal/ai"
	"github.com/aman-zulfiqar/defi-nlq/internal/models"
)

// ErrorResponse represents a standardized error response format
type ErrorResponse struct {
	Error   string `json:"error"`             // Human-readable error message
	Code    int    `json:"code"`              // HTTP status code
	Details any    `json:"details,omitempty"` // Additional error details (dev mode only)
}

// AskErrorResponse is the error body of /v1/ai/ask. Code is the database
// SQLSTATE when one is known; Status carries the HTTP status.
type AskErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Detail        string `json:"detail,omitempty"`
	Code          string `json:"code,omitempty"`
	Hint          string `json:"hint,omitempty"`
	Position      int32  `json:"position,omitempty"`
	SQL           string `json:"sql,omitempty"`
	RetryCount    int    `json:"retryCount"`
	OriginalError string `json:"originalError,omitempty"`
	Status        int    `json:"status"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	OK       bool   `json:"ok"`
	Database string `json:"database"` // up, down or unconfigured
	QueryLog string `json:"queryLog"`
}

// FlagUpsertRequest represents a request to create or update a feature flag
type FlagUpsertRequest struct {
	Key   string `json:"key" validate:"required"`
	Value bool   `json:"value"`
}

// FlagUpdateRequest represents a request to update an existing feature flag
type FlagUpdateRequest struct {
	Value bool `json:"value"`
}

// AIAskRequest is bound from the JSON body on POST and from the query string
// on GET.
type AIAskRequest struct {
	Question     string `json:"question" query:"q" validate:"required,max=2000"`
	Minimal      bool   `json:"minimal" query:"minimal"`
	Stream       bool   `json:"stream" query:"stream"`
	Presentation string `json:"presentation" query:"presentation" validate:"max=200"`
}

// AIAskResponse is the full answer to a question.
type AIAskResponse struct {
	SQL        string        `json:"sql"`
	Rows       []models.Row  `json:"rows"`
	Answer     string        `json:"answer"`
	Source     string        `json:"source"`
	Intent     ai.Intent     `json:"intent,omitempty"`
	RetryCount int           `json:"retryCount"`
	DebugRows  []models.Row  `json:"debugRows"`
	Chart      *ai.ChartSpec `json:"chart,omitempty"`
	TookMs     int64         `json:"tookMs"`
}

// AIMinimalResponse is returned when the caller asks for SQL and rows only.
type AIMinimalResponse struct {
	SQL        string       `json:"sql"`
	Rows       []models.Row `json:"rows"`
	Intent     ai.Intent    `json:"intent,omitempty"`
	RetryCount int          `json:"retryCount"`
}

// TableInfo describes one registry table for the schema endpoint.
type TableInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Columns     []string `json:"columns"`
}

// HistoryResponse lists the caller's latest answered questions.
type HistoryResponse struct {
	Items []models.QueryLog `json:"items"`
}
