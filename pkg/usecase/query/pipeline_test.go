package query_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/stoatlab/stoat/pkg/adapter"
	"github.com/stoatlab/stoat/pkg/intent"
	"github.com/stoatlab/stoat/pkg/model"
	"github.com/stoatlab/stoat/pkg/repository"
	"github.com/stoatlab/stoat/pkg/safety"
	"github.com/stoatlab/stoat/pkg/schema"
	"github.com/stoatlab/stoat/pkg/session"
	"github.com/stoatlab/stoat/pkg/usecase/query"
	"google.golang.org/genai"
)

// Mock Gemini
type mockGemini struct {
	generations []string
	genErrs     []error
	genCalls    int

	lightText string
	lightErr  error

	embedding []float32
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []*genai.Part{{Text: text}}}},
		},
	}
}

func (m *mockGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	call := m.genCalls
	m.genCalls++
	if call < len(m.genErrs) && m.genErrs[call] != nil {
		return nil, m.genErrs[call]
	}
	if call >= len(m.generations) {
		return textResponse(m.generations[len(m.generations)-1]), nil
	}
	return textResponse(m.generations[call]), nil
}

func (m *mockGemini) GenerateLight(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if m.lightErr != nil {
		return nil, m.lightErr
	}
	return textResponse(m.lightText), nil
}

func (m *mockGemini) Embedding(ctx context.Context, text string) ([]float32, error) {
	if m.embedding == nil {
		return []float32{1, 0, 0}, nil
	}
	return m.embedding, nil
}

// Mock Database
type mockDatabase struct {
	dryRunErr   error
	scanBytes   int64
	runErrs     []error
	output      *adapter.QueryOutput
	runCalls    int
	lastQueries []string
}

func (m *mockDatabase) DryRun(ctx context.Context, q string) (int64, error) {
	if m.dryRunErr != nil {
		return 0, m.dryRunErr
	}
	return m.scanBytes, nil
}

func (m *mockDatabase) RunQuery(ctx context.Context, q string) (*adapter.QueryOutput, error) {
	call := m.runCalls
	m.runCalls++
	m.lastQueries = append(m.lastQueries, q)
	if call < len(m.runErrs) && m.runErrs[call] != nil {
		return nil, m.runErrs[call]
	}
	if m.output != nil {
		return m.output, nil
	}
	return &adapter.QueryOutput{
		Columns: []string{"emp_id", "emp_name"},
		Rows: []map[string]any{
			{"emp_id": 1, "emp_name": "Ayesha"},
			{"emp_id": 2, "emp_name": "Bilal"},
		},
		Elapsed: 120 * time.Millisecond,
	}, nil
}

// acceptAll stands in for the intent chain in tests focused on later
// stages.
type acceptAll struct{}

func (acceptAll) Classify(ctx context.Context, question string) (intent.Decision, error) {
	return intent.DecisionAccept, nil
}

type rejectAll struct{}

func (rejectAll) Classify(ctx context.Context, question string) (intent.Decision, error) {
	return intent.DecisionReject, nil
}

type testPipeline struct {
	uc       *query.UseCase
	repo     *repository.Memory
	gemini   *mockGemini
	db       *mockDatabase
	sessions *session.MemoryStore
	learner  *query.Learner
}

func newTestPipeline(t *testing.T, gemini *mockGemini, db *mockDatabase, classifier intent.Classifier) *testPipeline {
	t.Helper()
	ctx := context.Background()

	repo := repository.NewMemory()
	gt.NoError(t, repo.PutSchemaDoc(ctx, &model.SchemaDoc{
		Table:     "employees",
		Content:   "TABLE: employees\n  Columns: emp_id, emp_name, salary, status, dept_id",
		Embedding: firestore.Vector32{1, 0, 0},
		CreatedAt: time.Now(),
	}))

	sessions := session.NewMemoryStore()
	learner := query.NewLearner(repo, gemini)
	learner.Start()
	t.Cleanup(learner.Stop)

	uc := query.New(query.NewInput{
		Repo:       repo,
		Gemini:     gemini,
		DB:         db,
		Sessions:   sessions,
		Classifier: classifier,
		Retriever:  schema.NewRetriever(repo, gemini),
		Validator:  safety.New(),
		Learner:    learner,
	})

	return &testPipeline{
		uc:       uc,
		repo:     repo,
		gemini:   gemini,
		db:       db,
		sessions: sessions,
		learner:  learner,
	}
}

func TestHandleSuccess(t *testing.T) {
	ctx := context.Background()
	gemini := &mockGemini{
		generations: []string{"```sql\nSELECT emp_id, emp_name FROM employees\n```"},
		lightText:   "There are 2 employees in total.",
	}
	db := &mockDatabase{}
	tp := newTestPipeline(t, gemini, db, acceptAll{})

	req := model.NewQueryRequest("u1", "s1", "show all employees")
	result, err := tp.uc.Handle(ctx, req)
	gt.NoError(t, err)

	gt.Equal(t, result.ID, req.ID)
	gt.Equal(t, result.SQL, "SELECT emp_id, emp_name FROM employees LIMIT 500")
	gt.Equal(t, result.RowCount, 2)
	gt.Equal(t, result.Columns, []string{"emp_id", "emp_name"})
	gt.Equal(t, result.Explanation, "There are 2 employees in total.")
	gt.False(t, result.PersonalizationUsed)
	gt.Number(t, result.ExecutionTime).Greater(0)

	// Both turns recorded in order.
	sess, err := tp.sessions.Load(ctx, "s1")
	gt.NoError(t, err)
	gt.A(t, sess.Turns).Length(2)
	gt.Equal(t, sess.Turns[0].Role, model.RoleUser)
	gt.Equal(t, sess.Turns[0].Text, "show all employees")
	gt.Equal(t, sess.Turns[1].Role, model.RoleAssistant)
	gt.Equal(t, sess.Turns[1].SQL, result.SQL)
}

func TestHandleLearnsAfterSuccess(t *testing.T) {
	ctx := context.Background()
	gemini := &mockGemini{
		generations: []string{"SELECT emp_id FROM employees WHERE status = 'Active'"},
		lightText:   "Active employees listed.",
	}
	tp := newTestPipeline(t, gemini, &mockDatabase{}, acceptAll{})

	_, err := tp.uc.Handle(ctx, model.NewQueryRequest("u1", "s1", "show active employees"))
	gt.NoError(t, err)

	// Stop drains the queue so the learn job has finished.
	tp.learner.Stop()

	profile, err := tp.repo.GetProfile(ctx, "u1")
	gt.NoError(t, err)
	gt.Equal(t, profile.TotalQueries, 1)
	gt.Equal(t, profile.FrequentFilters["status"], "Active")
	gt.Number(t, profile.DomainFocus[model.DomainHR]).GreaterOrEqual(1)

	memories, err := tp.repo.SearchMemories(ctx, "u1", firestore.Vector32{1, 0, 0}, 5)
	gt.NoError(t, err)
	gt.A(t, memories).Length(1)
	gt.S(t, memories[0].Summary).Contains("show active employees")
}

// flakyRepo fails the first N profile and memory writes while leaving
// the read paths intact.
type flakyRepo struct {
	*repository.Memory
	failures atomic.Int32
}

func (r *flakyRepo) failing() bool {
	return r.failures.Add(-1) >= 0
}

func (r *flakyRepo) MergeProfile(ctx context.Context, userID string, patch *model.ProfilePatch) error {
	if r.failing() {
		return goerr.New("firestore unavailable")
	}
	return r.Memory.MergeProfile(ctx, userID, patch)
}

func (r *flakyRepo) PutMemory(ctx context.Context, memory *model.Memory) error {
	if r.failing() {
		return goerr.New("firestore unavailable")
	}
	return r.Memory.PutMemory(ctx, memory)
}

func TestHandleSucceedsWhenLearningFails(t *testing.T) {
	ctx := context.Background()

	repo := &flakyRepo{Memory: repository.NewMemory()}
	gt.NoError(t, repo.PutSchemaDoc(ctx, &model.SchemaDoc{
		Table:     "employees",
		Content:   "TABLE: employees\n  Columns: emp_id, emp_name, salary, status, dept_id",
		Embedding: firestore.Vector32{1, 0, 0},
		CreatedAt: time.Now(),
	}))

	gemini := &mockGemini{
		generations: []string{"SELECT emp_id FROM employees"},
		lightText:   "Employees listed.",
	}
	learner := query.NewLearner(repo, gemini)
	learner.Start()
	t.Cleanup(learner.Stop)

	uc := query.New(query.NewInput{
		Repo:       repo,
		Gemini:     gemini,
		DB:         &mockDatabase{},
		Sessions:   session.NewMemoryStore(),
		Classifier: acceptAll{},
		Retriever:  schema.NewRetriever(repo, gemini),
		Validator:  safety.New(),
		Learner:    learner,
	})

	// Both writes of the first learn job fail; the caller still gets the
	// full result.
	repo.failures.Store(2)
	result, err := uc.Handle(ctx, model.NewQueryRequest("u1", "s1", "show all employees"))
	gt.NoError(t, err)
	gt.Equal(t, result.RowCount, 2)

	// The worker must survive the failed job and keep consuming.
	_, err = uc.Handle(ctx, model.NewQueryRequest("u1", "s2", "show active employees"))
	gt.NoError(t, err)

	learner.Stop()

	profile, err := repo.GetProfile(ctx, "u1")
	gt.NoError(t, err)
	gt.Equal(t, profile.TotalQueries, 1)

	memories, err := repo.SearchMemories(ctx, "u1", firestore.Vector32{1, 0, 0}, 5)
	gt.NoError(t, err)
	gt.A(t, memories).Length(1)
	gt.S(t, memories[0].Summary).Contains("show active employees")
}

func TestHandleRejectsOutOfDomain(t *testing.T) {
	ctx := context.Background()
	tp := newTestPipeline(t, &mockGemini{generations: []string{"SELECT 1"}}, &mockDatabase{}, rejectAll{})

	_, err := tp.uc.Handle(ctx, model.NewQueryRequest("u1", "s1", "what's the weather today"))
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrIntentRejected))

	// Rejected queries leave no trace.
	sess, err := tp.sessions.Load(ctx, "s1")
	gt.NoError(t, err)
	gt.A(t, sess.Turns).Length(0)
	gt.Equal(t, tp.gemini.genCalls, 0)
}

func TestHandleUnsafeSQL(t *testing.T) {
	ctx := context.Background()
	gemini := &mockGemini{generations: []string{"DROP TABLE employees"}}
	db := &mockDatabase{}
	tp := newTestPipeline(t, gemini, db, acceptAll{})

	_, err := tp.uc.Handle(ctx, model.NewQueryRequest("u1", "s1", "remove employees table"))
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrUnsafeSQL))
	gt.Equal(t, db.runCalls, 0)

	sess, err := tp.sessions.Load(ctx, "s1")
	gt.NoError(t, err)
	gt.A(t, sess.Turns).Length(0)
}

func TestHandleSchemaNotFound(t *testing.T) {
	ctx := context.Background()
	gemini := &mockGemini{
		generations: []string{"SELECT 1"},
		embedding:   []float32{0, 0, 1}, // orthogonal to the stored doc
	}
	tp := newTestPipeline(t, gemini, &mockDatabase{}, acceptAll{})

	_, err := tp.uc.Handle(ctx, model.NewQueryRequest("u1", "s1", "show all employees"))
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrSchemaNotFound))
}

func TestHandleGenerationFailure(t *testing.T) {
	ctx := context.Background()
	transport := goerr.New("connection reset")
	gemini := &mockGemini{
		generations: []string{"SELECT 1"},
		genErrs:     []error{transport, transport},
	}
	tp := newTestPipeline(t, gemini, &mockDatabase{}, acceptAll{})

	_, err := tp.uc.Handle(ctx, model.NewQueryRequest("u1", "s1", "show all employees"))
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrGenerationFailed))

	// One transport retry, then final.
	gt.Equal(t, gemini.genCalls, 2)
}

func TestHandleGenerationTransportRetry(t *testing.T) {
	ctx := context.Background()
	gemini := &mockGemini{
		generations: []string{"SELECT emp_id FROM employees", "SELECT emp_id FROM employees"},
		genErrs:     []error{goerr.New("connection reset"), nil},
		lightText:   "ok",
	}
	tp := newTestPipeline(t, gemini, &mockDatabase{}, acceptAll{})

	result, err := tp.uc.Handle(ctx, model.NewQueryRequest("u1", "s1", "show all employees"))
	gt.NoError(t, err)
	gt.Equal(t, result.SQL, "SELECT emp_id FROM employees LIMIT 500")
	gt.Equal(t, gemini.genCalls, 2)
}

func TestHandleRegeneratesOnSchemaMismatch(t *testing.T) {
	ctx := context.Background()
	gemini := &mockGemini{
		generations: []string{
			"SELECT emp_nam FROM employees",
			"SELECT emp_name FROM employees",
		},
		lightText: "ok",
	}
	db := &mockDatabase{
		runErrs: []error{goerr.New("Unrecognized name: emp_nam at [1:8]")},
	}
	tp := newTestPipeline(t, gemini, db, acceptAll{})

	result, err := tp.uc.Handle(ctx, model.NewQueryRequest("u1", "s1", "show employee names"))
	gt.NoError(t, err)
	gt.Equal(t, result.SQL, "SELECT emp_name FROM employees LIMIT 500")
	gt.Equal(t, gemini.genCalls, 2)
	gt.Equal(t, db.runCalls, 2)
}

func TestHandleRetriesOnlyOnce(t *testing.T) {
	ctx := context.Background()
	gemini := &mockGemini{
		generations: []string{"SELECT emp_nam FROM employees"},
		lightText:   "ok",
	}
	db := &mockDatabase{
		runErrs: []error{
			goerr.New("Unrecognized name: emp_nam"),
			goerr.New("Unrecognized name: emp_nam"),
		},
	}
	tp := newTestPipeline(t, gemini, db, acceptAll{})

	_, err := tp.uc.Handle(ctx, model.NewQueryRequest("u1", "s1", "show employee names"))
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrExecutionFailed))
	gt.Equal(t, db.runCalls, 2)
}

func TestHandleNonRetryableExecution(t *testing.T) {
	ctx := context.Background()
	gemini := &mockGemini{
		generations: []string{"SELECT emp_id FROM employees"},
	}
	db := &mockDatabase{
		runErrs: []error{goerr.New("Syntax error at [1:10]")},
	}
	tp := newTestPipeline(t, gemini, db, acceptAll{})

	_, err := tp.uc.Handle(ctx, model.NewQueryRequest("u1", "s1", "show employees"))
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrExecutionFailed))
	gt.Equal(t, db.runCalls, 1)
	gt.Equal(t, gemini.genCalls, 1)
}

func TestHandleScanCap(t *testing.T) {
	ctx := context.Background()
	gemini := &mockGemini{
		generations: []string{"SELECT emp_id FROM employees"},
	}
	db := &mockDatabase{scanBytes: 1 << 40}
	tp := newTestPipeline(t, gemini, db, acceptAll{})

	_, err := tp.uc.Handle(ctx, model.NewQueryRequest("u1", "s1", "show employees"))
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrExecutionFailed))
	gt.Equal(t, db.runCalls, 0)
}

func TestHandleExplanationFallback(t *testing.T) {
	ctx := context.Background()
	gemini := &mockGemini{
		generations: []string{"SELECT emp_id FROM employees"},
		lightErr:    goerr.New("quota exceeded"),
	}
	tp := newTestPipeline(t, gemini, &mockDatabase{}, acceptAll{})

	result, err := tp.uc.Handle(ctx, model.NewQueryRequest("u1", "s1", "show employees"))
	gt.NoError(t, err)
	gt.Equal(t, result.Explanation, "Found 2 matching results.")
}

func TestHandlePersonalizationUsed(t *testing.T) {
	ctx := context.Background()
	gemini := &mockGemini{
		generations: []string{"SELECT emp_id FROM employees"},
		lightText:   "ok",
	}
	tp := newTestPipeline(t, gemini, &mockDatabase{}, acceptAll{})

	// A profile with history makes hints available.
	gt.NoError(t, tp.repo.MergeProfile(ctx, "u1", &model.ProfilePatch{
		Domains:    []string{model.DomainHR},
		QueryDelta: 3,
	}))

	result, err := tp.uc.Handle(ctx, model.NewQueryRequest("u1", "s1", "show employees"))
	gt.NoError(t, err)
	gt.True(t, result.PersonalizationUsed)
}
