package storage

import (
	"fmt"
)

// ConnError reports that no database connection could be obtained. It is
// never retried.
type ConnError struct {
	Err error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("database connection failed: %v", e.Err)
}

func (e *ConnError) Unwrap() error { return e.Err }

// QueryError is a database-reported statement failure.
type QueryError struct {
	Message  string `json:"message"`
	Code     string `json:"code,omitempty"`
	Hint     string `json:"hint,omitempty"`
	Position int32  `json:"position,omitempty"`
	Err      error  `json:"-"`
}

func (e *QueryError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (SQLSTATE %s)", e.Message, e.Code)
	}
	return e.Message
}

func (e *QueryError) Unwrap() error { return e.Err }
