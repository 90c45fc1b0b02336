// Package query runs the natural-language to SQL pipeline: intent check,
// context load, schema retrieval, generation, safety validation,
// execution, explanation, and post-completion learning.
package query

import (
	"time"

	"github.com/stoatlab/stoat/pkg/adapter"
	"github.com/stoatlab/stoat/pkg/intent"
	"github.com/stoatlab/stoat/pkg/repository"
	"github.com/stoatlab/stoat/pkg/safety"
	"github.com/stoatlab/stoat/pkg/schema"
	"github.com/stoatlab/stoat/pkg/session"
)

const (
	defaultExecTimeout  = 30 * time.Second
	defaultMaxScanBytes = 256 << 20
)

// UseCase orchestrates one pipeline run per Handle call. Safe for
// concurrent use; all per-request state lives on the stack.
type UseCase struct {
	repo       repository.Repository
	gemini     adapter.Gemini
	db         adapter.Database
	sessions   session.Store
	classifier intent.Classifier
	retriever  *schema.Retriever
	validator  *safety.Validator
	learner    *Learner

	execTimeout  time.Duration
	maxScanBytes int64
}

// NewInput contains the collaborators of the pipeline.
type NewInput struct {
	Repo       repository.Repository
	Gemini     adapter.Gemini
	DB         adapter.Database
	Sessions   session.Store
	Classifier intent.Classifier
	Retriever  *schema.Retriever
	Validator  *safety.Validator

	// Learner is optional; without it completed queries are not
	// remembered.
	Learner *Learner
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithExecTimeout bounds the wall-clock time of one execution attempt.
func WithExecTimeout(d time.Duration) Option {
	return func(uc *UseCase) {
		uc.execTimeout = d
	}
}

// WithMaxScanBytes caps the dry-run scan estimate; zero disables the cap.
func WithMaxScanBytes(n int64) Option {
	return func(uc *UseCase) {
		uc.maxScanBytes = n
	}
}

// New creates the pipeline use case.
func New(input NewInput, opts ...Option) *UseCase {
	uc := &UseCase{
		repo:       input.Repo,
		gemini:     input.Gemini,
		db:         input.DB,
		sessions:   input.Sessions,
		classifier: input.Classifier,
		retriever:  input.Retriever,
		validator:  input.Validator,
		learner:    input.Learner,

		execTimeout:  defaultExecTimeout,
		maxScanBytes: defaultMaxScanBytes,
	}

	for _, opt := range opts {
		opt(uc)
	}

	return uc
}
