package model

// State is a pipeline stage marker. Transitions are strictly forward; no
// state is revisited except the single generation retry after a retryable
// execution failure.
type State string

const (
	StateReceived        State = "received"
	StateIntentChecked   State = "intent_checked"
	StateContextLoaded   State = "context_loaded"
	StateSchemaRetrieved State = "schema_retrieved"
	StatePromptBuilt     State = "prompt_built"
	StateSQLGenerated    State = "sql_generated"
	StateSQLValidated    State = "sql_validated"
	StateExecuted        State = "executed"
	StateExplained       State = "explained"
	StateCompleted       State = "completed"

	StateRejectedIntent   State = "rejected_intent"
	StateUnsafeSQL        State = "unsafe_sql"
	StateGenerationFailed State = "generation_failed"
	StateExecutionFailed  State = "execution_failed"
)
