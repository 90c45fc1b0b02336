package query

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/stoatlab/stoat/pkg/intent"
	"github.com/stoatlab/stoat/pkg/model"
	"github.com/stoatlab/stoat/pkg/prompt"
	"github.com/stoatlab/stoat/pkg/utils/logging"
)

// Handle runs the full pipeline for one request. Stages advance strictly
// forward; the only loop is a single regeneration after a retryable
// execution failure. On any terminal failure nothing is written to the
// session, profile, or memory.
func (uc *UseCase) Handle(ctx context.Context, req *model.QueryRequest) (*model.QueryResult, error) {
	logger := logging.From(ctx).With("request_id", req.ID, "user_id", req.UserID)
	started := time.Now()

	decision, err := uc.classifier.Classify(ctx, req.Question)
	if err != nil {
		return nil, goerr.Wrap(err, "intent classification failed")
	}
	if decision == intent.DecisionReject {
		logger.Info("query rejected", "state", model.StateRejectedIntent, "question", req.Question)
		return nil, goerr.Wrap(model.ErrIntentRejected, "rejected by intent classifier")
	}

	sess, profile, err := uc.loadContext(ctx, req)
	if err != nil {
		return nil, err
	}

	hits, err := uc.retriever.Retrieve(ctx, req.Question)
	if err != nil {
		return nil, err
	}
	logger.Debug("schema retrieved", "tables", len(hits), "top_similarity", hits[0].Similarity)

	hints := profile.Hints()
	built := prompt.Build(prompt.Input{
		Question: req.Question,
		Schema:   hits,
		Turns:    sess.Turns,
		Hints:    hints,
	})

	rawSQL, err := uc.generate(ctx, built)
	if err != nil {
		logger.Warn("generation failed", "state", model.StateGenerationFailed, "error", err)
		return nil, err
	}

	safe, err := uc.validator.Validate(rawSQL)
	if err != nil {
		logger.Warn("unsafe SQL rejected", "state", model.StateUnsafeSQL, "sql", rawSQL, "error", err)
		return nil, err
	}

	var firstFailure string
	out, err := uc.execute(ctx, safe.Statement())
	if err != nil {
		if !retryableExecution(err) {
			logger.Warn("execution failed", "state", model.StateExecutionFailed, "sql", safe.Statement(), "error", err)
			return nil, err
		}

		// A schema mismatch (hallucinated column or table) is worth one
		// regeneration with the database error fed back.
		firstFailure = err.Error()
		logger.Warn("execution failed, regenerating", "sql", safe.Statement(), "error", err)

		rawSQL, err = uc.regenerate(ctx, built, safe.Statement(), firstFailure)
		if err != nil {
			return nil, err
		}
		safe, err = uc.validator.Validate(rawSQL)
		if err != nil {
			logger.Warn("unsafe SQL rejected", "state", model.StateUnsafeSQL, "sql", rawSQL, "error", err)
			return nil, err
		}
		out, err = uc.execute(ctx, safe.Statement())
		if err != nil {
			logger.Warn("execution failed after retry", "state", model.StateExecutionFailed, "error", err)
			return nil, err
		}
	}

	explanation := uc.explain(ctx, req.Question, safe.Statement(), out)

	result := &model.QueryResult{
		ID:                  req.ID,
		SQL:                 safe.Statement(),
		Rows:                out.Rows,
		Columns:             out.Columns,
		RowCount:            len(out.Rows),
		ExecutionTime:       model.Elapsed(out.Elapsed),
		Explanation:         explanation,
		PersonalizationUsed: hints != nil,
	}

	if err := uc.recordTurns(ctx, req, result); err != nil {
		// The result is already computed; losing one session turn is
		// not worth failing the request.
		logger.Warn("failed to record session turns", "error", err)
	}

	if uc.learner != nil {
		uc.learner.Enqueue(&LearnJob{
			Request:      req,
			SQL:          safe.Statement(),
			Result:       result,
			ErrorPattern: firstFailure,
		})
	}

	logger.Info("query completed",
		"state", model.StateCompleted,
		"rows", result.RowCount,
		"elapsed", time.Since(started),
		"limit_injected", safe.LimitInjected(),
	)
	return result, nil
}

// loadContext loads the session and profile concurrently. Both are
// independent reads keyed by different IDs.
func (uc *UseCase) loadContext(ctx context.Context, req *model.QueryRequest) (*model.Session, *model.UserProfile, error) {
	var (
		wg      sync.WaitGroup
		sess    *model.Session
		profile *model.UserProfile
		sessErr error
		profErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		sess, sessErr = uc.sessions.Load(ctx, req.SessionID)
	}()
	go func() {
		defer wg.Done()
		profile, profErr = uc.repo.GetProfile(ctx, req.UserID)
	}()
	wg.Wait()

	if sessErr != nil {
		return nil, nil, goerr.Wrap(sessErr, "failed to load session", goerr.V("session_id", req.SessionID))
	}
	if profErr != nil {
		return nil, nil, goerr.Wrap(profErr, "failed to load profile", goerr.V("user_id", req.UserID))
	}
	return sess, profile, nil
}

func (uc *UseCase) recordTurns(ctx context.Context, req *model.QueryRequest, result *model.QueryResult) error {
	now := time.Now()
	userTurn := &model.Turn{
		Role:      model.RoleUser,
		Text:      req.Question,
		Timestamp: now,
	}
	if err := uc.sessions.Append(ctx, req.SessionID, userTurn); err != nil {
		return err
	}

	assistantTurn := &model.Turn{
		Role:      model.RoleAssistant,
		Text:      result.Explanation,
		SQL:       result.SQL,
		Timestamp: now,
	}
	return uc.sessions.Append(ctx, req.SessionID, assistantTurn)
}
