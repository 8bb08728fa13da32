package models

import "time"

// QueryLog is the record handed to the query log collaborator once a question
// has been answered.
type QueryLog struct {
	UserID     string    `json:"user_id"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	Intent     string    `json:"intent"`
	Source     string    `json:"source"`
	SQL        string    `json:"sql"` // truncated
	RowCount   int       `json:"row_count"`
	RetryCount int       `json:"retry_count"`
	CreatedAt  time.Time `json:"created_at"`
}
