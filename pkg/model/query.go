package model

import (
	"time"

	"github.com/google/uuid"
)

type RequestID string

// NewRequestID generates a new unique RequestID
func NewRequestID() RequestID {
	return RequestID(uuid.New().String())
}

// QueryRequest is one incoming natural-language question. Immutable after
// creation; a fresh instance is built per call.
type QueryRequest struct {
	ID        RequestID
	UserID    string
	SessionID string
	Question  string
}

// NewQueryRequest builds a request with a generated ID.
func NewQueryRequest(userID, sessionID, question string) *QueryRequest {
	return &QueryRequest{
		ID:        NewRequestID(),
		UserID:    userID,
		SessionID: sessionID,
		Question:  question,
	}
}

// QueryResult is the outcome of a completed pipeline run. Never mutated
// after creation.
type QueryResult struct {
	ID                  RequestID        `json:"id"`
	SQL                 string           `json:"sql"`
	Rows                []map[string]any `json:"data"`
	Columns             []string         `json:"columns"`
	RowCount            int              `json:"row_count"`
	ExecutionTime       float64          `json:"execution_time"`
	Explanation         string           `json:"explanation"`
	PersonalizationUsed bool             `json:"personalization_used"`
}

// Elapsed converts a measured duration into the seconds value carried by
// ExecutionTime.
func Elapsed(d time.Duration) float64 {
	return d.Seconds()
}
