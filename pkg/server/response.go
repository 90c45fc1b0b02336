package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/stoatlab/stoat/pkg/model"
	"github.com/stoatlab/stoat/pkg/utils/logging"
)

// queryResponse is the wire shape of the query endpoint, for both
// success and failure. Failures carry the full shape zeroed out so the
// frontend can render every response the same way.
type queryResponse struct {
	ID                  string           `json:"id"`
	SQL                 string           `json:"sql"`
	Data                []map[string]any `json:"data"`
	Columns             []string         `json:"columns"`
	RowCount            int              `json:"row_count"`
	ExecutionTime       float64          `json:"execution_time"`
	Explanation         string           `json:"explanation"`
	PersonalizationUsed bool             `json:"personalization_used"`
	Status              string           `json:"status"`
	Error               string           `json:"error,omitempty"`
}

func successResponse(result *model.QueryResult) *queryResponse {
	data := result.Rows
	if data == nil {
		data = []map[string]any{}
	}
	columns := result.Columns
	if columns == nil {
		columns = []string{}
	}

	return &queryResponse{
		ID:                  string(result.ID),
		SQL:                 result.SQL,
		Data:                data,
		Columns:             columns,
		RowCount:            result.RowCount,
		ExecutionTime:       result.ExecutionTime,
		Explanation:         result.Explanation,
		PersonalizationUsed: result.PersonalizationUsed,
		Status:              "success",
	}
}

func errorResponse(id model.RequestID, err error) *queryResponse {
	return &queryResponse{
		ID:          string(id),
		Data:        []map[string]any{},
		Columns:     []string{},
		Status:      "error",
		Error:       model.UserMessage(err),
		Explanation: errorHint(err),
	}
}

// errorHint is the rephrasing suggestion shown next to the error.
func errorHint(err error) string {
	switch {
	case errors.Is(err, model.ErrIntentRejected):
		return "Please rephrase your query to ask about employees, inventory, production, or sales."
	case errors.Is(err, model.ErrSchemaNotFound):
		return "Try asking about specific topics like employees, attendance, inventory, production, or sales."
	case errors.Is(err, model.ErrGenerationFailed):
		return "Try to be more specific about what data you want to see."
	case errors.Is(err, model.ErrExecutionFailed):
		return "There was an error executing your query. Please try rephrasing."
	default:
		return ""
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// The status line is already sent; nothing to do but log.
		logging.Default().Error("failed to encode JSON response", "error", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}
