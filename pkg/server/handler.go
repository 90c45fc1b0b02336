package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/stoatlab/stoat/pkg/adapter"
	"github.com/stoatlab/stoat/pkg/model"
	"github.com/stoatlab/stoat/pkg/schema"
	"github.com/stoatlab/stoat/pkg/usecase/query"
	"github.com/stoatlab/stoat/pkg/utils/logging"
)

// maxQuestionLen caps the accepted question size.
const maxQuestionLen = 2000

type queryHandler struct {
	pipeline *query.UseCase
}

type queryRequestBody struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

// handleQuery runs the pipeline for one question. Domain failures
// (rejected intent, no schema, unsafe SQL, execution errors) return 200
// with status "error" so the frontend renders them inline; only
// malformed requests and unexpected failures map to HTTP error codes.
func (h *queryHandler) handleQuery(w http.ResponseWriter, r *http.Request) {
	var body queryRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	body.Query = strings.TrimSpace(body.Query)
	switch {
	case body.UserID == "":
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	case body.Query == "":
		writeError(w, http.StatusBadRequest, "query is required")
		return
	case len(body.Query) > maxQuestionLen:
		writeError(w, http.StatusBadRequest, "query is too long")
		return
	}
	if body.SessionID == "" {
		body.SessionID = string(model.NewRequestID())
	}

	req := model.NewQueryRequest(body.UserID, body.SessionID, body.Query)
	result, err := h.pipeline.Handle(r.Context(), req)
	if err != nil {
		if pipelineFailure(err) {
			writeJSON(w, http.StatusOK, errorResponse(req.ID, err))
			return
		}
		logging.From(r.Context()).Error("pipeline failed", "request_id", req.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse(req.ID, err))
		return
	}

	writeJSON(w, http.StatusOK, successResponse(result))
}

// pipelineFailure reports whether the error is an expected pipeline
// outcome rather than an infrastructure fault.
func pipelineFailure(err error) bool {
	return errors.Is(err, model.ErrIntentRejected) ||
		errors.Is(err, model.ErrSchemaNotFound) ||
		errors.Is(err, model.ErrGenerationFailed) ||
		errors.Is(err, model.ErrUnsafeSQL) ||
		errors.Is(err, model.ErrExecutionFailed)
}

type resultHandler struct {
	archive adapter.Storage
}

// handleGetResult streams one archived query result. Results are
// written by the background learner after a successful query, so a
// fresh request id may 404 briefly before the archive write lands.
func (h *resultHandler) handleGetResult(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusNotFound, "result archive is not configured")
		return
	}

	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid result id")
		return
	}

	reader, err := h.archive.Get(r.Context(), fmt.Sprintf("results/%s.json", id))
	if err != nil {
		writeError(w, http.StatusNotFound, "result not found")
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/json")
	if _, err := io.Copy(w, reader); err != nil {
		logging.From(r.Context()).Error("failed to stream archived result", "result_id", id, "error", err)
	}
}

type adminHandler struct {
	ingester   *schema.Ingester
	schemaPath string
}

type reingestRequestBody struct {
	Force bool `json:"force"`
}

type reingestResponseBody struct {
	Ingested int    `json:"ingested"`
	Skipped  int    `json:"skipped"`
	Status   string `json:"status"`
}

func (h *adminHandler) handleReingest(w http.ResponseWriter, r *http.Request) {
	var body reingestRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	defs, err := schema.Load(h.schemaPath)
	if err != nil {
		logging.From(r.Context()).Error("failed to load schema definitions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load schema definitions")
		return
	}

	report, err := h.ingester.Ingest(r.Context(), defs, body.Force)
	if err != nil {
		logging.From(r.Context()).Error("schema ingestion failed", "error", err)
		writeError(w, http.StatusInternalServerError, "schema ingestion failed")
		return
	}

	writeJSON(w, http.StatusOK, reingestResponseBody{
		Ingested: report.Ingested,
		Skipped:  report.Skipped,
		Status:   "success",
	})
}
