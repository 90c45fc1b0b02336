package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/stoatlab/stoat/pkg/adapter"
	"github.com/stoatlab/stoat/pkg/intent"
	"github.com/stoatlab/stoat/pkg/model"
	"github.com/stoatlab/stoat/pkg/repository"
	"github.com/stoatlab/stoat/pkg/safety"
	"github.com/stoatlab/stoat/pkg/schema"
	"github.com/stoatlab/stoat/pkg/server"
	"github.com/stoatlab/stoat/pkg/session"
	"github.com/stoatlab/stoat/pkg/usecase/query"
	"google.golang.org/genai"
)

type stubGemini struct {
	sql string
}

func (g *stubGemini) response(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []*genai.Part{{Text: text}}}},
		},
	}
}

func (g *stubGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return g.response(g.sql), nil
}

func (g *stubGemini) GenerateLight(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return g.response("Summary of the result."), nil
}

func (g *stubGemini) Embedding(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type stubDB struct{}

func (stubDB) DryRun(ctx context.Context, q string) (int64, error) { return 1024, nil }

func (stubDB) RunQuery(ctx context.Context, q string) (*adapter.QueryOutput, error) {
	return &adapter.QueryOutput{
		Columns: []string{"emp_id"},
		Rows:    []map[string]any{{"emp_id": 1}},
		Elapsed: 10 * time.Millisecond,
	}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *repository.Memory) {
	t.Helper()
	ctx := context.Background()

	repo := repository.NewMemory()
	gemini := &stubGemini{sql: "SELECT emp_id FROM employees"}
	gt.NoError(t, repo.PutSchemaDoc(ctx, &model.SchemaDoc{
		Table:     "employees",
		Content:   "TABLE: employees\n  Columns: emp_id, emp_name",
		Embedding: firestore.Vector32{1, 0, 0},
		CreatedAt: time.Now(),
	}))

	keyword := intent.NewKeyword()
	uc := query.New(query.NewInput{
		Repo:       repo,
		Gemini:     gemini,
		DB:         stubDB{},
		Sessions:   session.NewMemoryStore(),
		Classifier: intent.NewChain([]intent.Classifier{keyword}, intent.WithAmbiguousPolicy(intent.DecisionReject)),
		Retriever:  schema.NewRetriever(repo, gemini),
		Validator:  safety.New(),
	})

	schemaPath := filepath.Join(t.TempDir(), "schema.yml")
	gt.NoError(t, os.WriteFile(schemaPath, []byte(`tables:
  - table: employees
    description: Employee master data.
    columns: [emp_id, emp_name]
`), 0o600))

	srv := server.New(server.NewInput{
		Pipeline:   uc,
		Ingester:   schema.NewIngester(repo, gemini),
		SchemaPath: schemaPath,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, repo
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	gt.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	gt.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	gt.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestQueryEndpointSuccess(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/query", map[string]string{
		"user_id":    "u1",
		"session_id": "s1",
		"query":      "show all employees",
	})
	gt.Equal(t, resp.StatusCode, http.StatusOK)

	body := decodeBody(t, resp)
	gt.Equal(t, body["status"], "success")
	gt.Equal(t, body["sql"], "SELECT emp_id FROM employees LIMIT 500")
	gt.Equal(t, body["row_count"], any(float64(1)))
	gt.Equal(t, body["explanation"], "Summary of the result.")

	id, ok := body["id"].(string)
	gt.True(t, ok)
	gt.True(t, id != "")
}

func TestQueryEndpointRejectsOutOfDomain(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/query", map[string]string{
		"user_id": "u1",
		"query":   "what's the weather in Karachi",
	})

	// Domain rejections are part of the frontend contract, not HTTP
	// failures.
	gt.Equal(t, resp.StatusCode, http.StatusOK)
	body := decodeBody(t, resp)
	gt.Equal(t, body["status"], "error")
	gt.Equal(t, body["error"], model.RejectionMessage)
	gt.Equal(t, body["row_count"], any(float64(0)))
}

func TestQueryEndpointValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/query", map[string]string{"query": "show employees"})
	gt.Equal(t, resp.StatusCode, http.StatusBadRequest)

	resp = postJSON(t, ts.URL+"/api/query", map[string]string{"user_id": "u1", "query": "   "})
	gt.Equal(t, resp.StatusCode, http.StatusBadRequest)

	raw, err := http.Post(ts.URL+"/api/query", "application/json", bytes.NewReader([]byte("{broken")))
	gt.NoError(t, err)
	defer raw.Body.Close()
	gt.Equal(t, raw.StatusCode, http.StatusBadRequest)
}

func TestQueryEndpointMethodNotAllowed(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/query")
	gt.NoError(t, err)
	defer resp.Body.Close()
	gt.Equal(t, resp.StatusCode, http.StatusMethodNotAllowed)
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	gt.NoError(t, err)
	defer resp.Body.Close()
	gt.Equal(t, resp.StatusCode, http.StatusOK)
}

func TestReingestEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	// The employees doc is already present, so a plain reingest skips it.
	resp := postJSON(t, ts.URL+"/api/admin/reingest", map[string]bool{"force": false})
	gt.Equal(t, resp.StatusCode, http.StatusOK)
	body := decodeBody(t, resp)
	gt.Equal(t, body["ingested"], any(float64(0)))
	gt.Equal(t, body["skipped"], any(float64(1)))

	resp = postJSON(t, ts.URL+"/api/admin/reingest", map[string]bool{"force": true})
	gt.Equal(t, resp.StatusCode, http.StatusOK)
	body = decodeBody(t, resp)
	gt.Equal(t, body["ingested"], any(float64(1)))
	gt.Equal(t, body["skipped"], any(float64(0)))
}

type memArchive struct {
	objects map[string][]byte
}

type memArchiveWriter struct {
	bytes.Buffer
	archive *memArchive
	key     string
}

func (w *memArchiveWriter) Close() error {
	w.archive.objects[w.key] = w.Bytes()
	return nil
}

func (a *memArchive) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	return &memArchiveWriter{archive: a, key: key}, nil
}

func (a *memArchive) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := a.objects[key]
	if !ok {
		return nil, goerr.New("object not found", goerr.V("key", key))
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func newArchiveServer(t *testing.T, archive adapter.Storage) *httptest.Server {
	t.Helper()

	srv := server.New(server.NewInput{Archive: archive})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestGetResult(t *testing.T) {
	archive := &memArchive{objects: map[string][]byte{}}
	id := uuid.New().String()
	archive.objects["results/"+id+".json"] = []byte(`{"row_count":2}`)
	ts := newArchiveServer(t, archive)

	resp, err := http.Get(ts.URL + "/api/results/" + id)
	gt.NoError(t, err)
	defer resp.Body.Close()
	gt.Equal(t, resp.StatusCode, http.StatusOK)
	gt.Equal(t, resp.Header.Get("Content-Type"), "application/json")

	body := decodeBody(t, resp)
	gt.Equal(t, body["row_count"], any(float64(2)))
}

func TestGetResultMissing(t *testing.T) {
	ts := newArchiveServer(t, &memArchive{objects: map[string][]byte{}})

	resp, err := http.Get(ts.URL + "/api/results/" + uuid.New().String())
	gt.NoError(t, err)
	defer resp.Body.Close()
	gt.Equal(t, resp.StatusCode, http.StatusNotFound)
}

func TestGetResultInvalidID(t *testing.T) {
	ts := newArchiveServer(t, &memArchive{objects: map[string][]byte{}})

	resp, err := http.Get(ts.URL + "/api/results/not-a-valid-id")
	gt.NoError(t, err)
	defer resp.Body.Close()
	gt.Equal(t, resp.StatusCode, http.StatusBadRequest)
}

func TestGetResultNotConfigured(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/results/" + uuid.New().String())
	gt.NoError(t, err)
	defer resp.Body.Close()
	gt.Equal(t, resp.StatusCode, http.StatusNotFound)
}
