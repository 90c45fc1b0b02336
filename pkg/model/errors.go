package model

import (
	"errors"

	"github.com/m-mizutani/goerr/v2"
)

// Terminal pipeline failures. Every stage wraps one of these so the
// orchestrator and the HTTP layer can classify with errors.Is.
var (
	// ErrIntentRejected means the question is out of the supported
	// business domains. Not retryable; the user has to rephrase.
	ErrIntentRejected = goerr.New("query is out of the supported domains")

	// ErrSchemaNotFound means retrieval found nothing above the
	// relevance floor.
	ErrSchemaNotFound = goerr.New("no relevant schema found")

	// ErrGenerationFailed covers LLM transport errors (after the single
	// transport retry) and empty completions.
	ErrGenerationFailed = goerr.New("SQL generation failed")

	// ErrUnsafeSQL is the validator rejection. Never retried.
	ErrUnsafeSQL = goerr.New("generated SQL failed safety validation")

	// ErrExecutionFailed means the database rejected the statement.
	ErrExecutionFailed = goerr.New("query execution failed")

	// ErrMemoryUpdateFailed marks post-completion learning failures.
	// Logged only; never surfaced to the caller.
	ErrMemoryUpdateFailed = goerr.New("memory update failed")
)

// RejectionMessage names the allowed topic areas so an out-of-domain user
// knows how to rephrase.
const RejectionMessage = "Please ask about the system's data: employees, " +
	"attendance, leaves, inventory, suppliers, production, or sales."

// UserMessage maps a pipeline failure to the generic message shown to the
// caller. Raw database and LLM error text never crosses this boundary;
// only intent rejections name the allowed topics, to guide rephrasing.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrIntentRejected):
		return RejectionMessage
	case errors.Is(err, ErrSchemaNotFound):
		return "Could not find database tables relevant to your question. Please rephrase."
	case errors.Is(err, ErrGenerationFailed):
		return "Could not generate a query for your question. Try to be more specific about the data you want."
	case errors.Is(err, ErrUnsafeSQL):
		return "The generated query did not pass safety checks and was not executed."
	case errors.Is(err, ErrExecutionFailed):
		return "There was an error executing your query. Please try rephrasing."
	default:
		return "An internal error occurred while processing your question."
	}
}
