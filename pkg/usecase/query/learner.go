package query

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/stoatlab/stoat/pkg/adapter"
	"github.com/stoatlab/stoat/pkg/model"
	"github.com/stoatlab/stoat/pkg/repository"
	"github.com/stoatlab/stoat/pkg/utils/logging"
)

const (
	defaultLearnQueueSize  = 64
	defaultLearnJobTimeout = 20 * time.Second

	// maxErrorPatternLen truncates database errors before they land on
	// the profile.
	maxErrorPatternLen = 200
)

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embedding(ctx context.Context, text string) ([]float32, error)
}

// LearnJob is one completed query handed to the learner.
type LearnJob struct {
	Request *model.QueryRequest
	SQL     string
	Result  *model.QueryResult

	// ErrorPattern carries the database error of a failed first attempt
	// when the retry succeeded.
	ErrorPattern string
}

// Learner updates the user profile and behavioral memory after completed
// queries. Jobs run on a single worker goroutine detached from the
// request context, so a slow write never delays a response and a failed
// write never fails a query.
type Learner struct {
	repo     repository.Repository
	embedder Embedder
	archive  adapter.Storage

	queue   chan *LearnJob
	done    chan struct{}
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

type LearnerOption func(*Learner)

// WithLearnQueueSize sets the pending job capacity; jobs beyond it are
// dropped with a warning.
func WithLearnQueueSize(n int) LearnerOption {
	return func(l *Learner) {
		l.queue = make(chan *LearnJob, n)
	}
}

// WithLearnJobTimeout bounds one job's writes.
func WithLearnJobTimeout(d time.Duration) LearnerOption {
	return func(l *Learner) {
		l.timeout = d
	}
}

// WithResultArchive also stores each completed result as JSON under
// results/<request-id>.json.
func WithResultArchive(storage adapter.Storage) LearnerOption {
	return func(l *Learner) {
		l.archive = storage
	}
}

func NewLearner(repo repository.Repository, embedder Embedder, opts ...LearnerOption) *Learner {
	l := &Learner{
		repo:     repo,
		embedder: embedder,
		queue:    make(chan *LearnJob, defaultLearnQueueSize),
		done:     make(chan struct{}),
		timeout:  defaultLearnJobTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start launches the worker goroutine.
func (l *Learner) Start() {
	go func() {
		defer close(l.done)
		for job := range l.queue {
			l.process(job)
		}
	}()
}

// Stop drains pending jobs and waits for the worker to exit.
func (l *Learner) Stop() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()
	<-l.done
}

// Enqueue hands a job to the worker without blocking. When the queue is
// full or the learner is stopped the job is dropped; learning is
// strictly best-effort.
func (l *Learner) Enqueue(job *LearnJob) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		logging.Default().Warn("learner stopped, dropping job", "request_id", job.Request.ID)
		return
	}

	select {
	case l.queue <- job:
	default:
		logging.Default().Warn("learner queue full, dropping job", "request_id", job.Request.ID)
	}
}

func (l *Learner) process(job *LearnJob) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	logger := logging.Default().With("request_id", job.Request.ID, "user_id", job.Request.UserID)

	domains := detectDomains(job.Request.Question, job.SQL)

	patch := &model.ProfilePatch{
		QueryStyle:   inferQueryStyle(job.Request.Question),
		Filters:      extractFilters(job.SQL),
		Domains:      domains,
		ErrorPattern: truncate(job.ErrorPattern, maxErrorPatternLen),
		QueryDelta:   1,
	}
	if err := l.repo.MergeProfile(ctx, job.Request.UserID, patch); err != nil {
		logger.Warn("profile update failed",
			"error", goerr.Wrap(model.ErrMemoryUpdateFailed, err.Error()))
	}

	if err := l.storeMemory(ctx, job, domains); err != nil {
		logger.Warn("behavioral memory update failed",
			"error", goerr.Wrap(model.ErrMemoryUpdateFailed, err.Error()))
	}

	if l.archive != nil {
		if err := l.archiveResult(ctx, job); err != nil {
			logger.Warn("result archive failed", "error", err)
		}
	}
}

func (l *Learner) storeMemory(ctx context.Context, job *LearnJob, domains []string) error {
	summary := fmt.Sprintf(
		"User asked: %s\nSQL generated: %s\nRows returned: %d\nDomains: %s",
		job.Request.Question, job.SQL, job.Result.RowCount, strings.Join(domains, ", "),
	)

	vec, err := l.embedder.Embedding(ctx, summary)
	if err != nil {
		return goerr.Wrap(err, "failed to embed memory summary")
	}

	memory := &model.Memory{
		ID:        model.NewMemoryID(),
		UserID:    job.Request.UserID,
		Summary:   summary,
		Embedding: firestore.Vector32(vec),
		Domains:   domains,
		CreatedAt: time.Now(),
	}
	return l.repo.PutMemory(ctx, memory)
}

func (l *Learner) archiveResult(ctx context.Context, job *LearnJob) error {
	key := fmt.Sprintf("results/%s.json", job.Request.ID)
	w, err := l.archive.Put(ctx, key)
	if err != nil {
		return goerr.Wrap(err, "failed to open archive object", goerr.V("key", key))
	}

	if err := json.NewEncoder(w).Encode(job.Result); err != nil {
		_ = w.Close()
		return goerr.Wrap(err, "failed to encode result", goerr.V("key", key))
	}
	return w.Close()
}

// domainKeywords classify a query into the business domains tracked on
// the profile.
var domainKeywords = map[string][]string{
	model.DomainHR: {
		"employee", "staff", "salary", "department", "designation",
		"manager", "hire", "attendance", "leave", "check_in", "check_out",
		"hours_worked", "absent", "present", "late",
	},
	model.DomainInventory: {
		"inventory", "stock", "material", "raw_material", "supplier",
		"reorder", "quantity", "cost_per_unit", "fabric",
	},
	model.DomainProduction: {
		"production", "product", "manufacturing", "order", "target",
		"completed", "stitching", "cutting", "product_code",
	},
	model.DomainSales: {
		"sale", "sales", "revenue", "customer", "total_amount",
		"selling_price",
	},
}

// domainOrder keeps detection output stable for equal inputs.
var domainOrder = []string{
	model.DomainHR, model.DomainInventory, model.DomainProduction, model.DomainSales,
}

func detectDomains(question, sql string) []string {
	combined := strings.ToLower(question + " " + sql)

	var matched []string
	for _, domain := range domainOrder {
		for _, kw := range domainKeywords[domain] {
			if strings.Contains(combined, kw) {
				matched = append(matched, domain)
				break
			}
		}
	}
	if len(matched) == 0 {
		return []string{model.DomainHR}
	}
	return matched
}

var filterPatterns = map[string]*regexp.Regexp{
	"department": regexp.MustCompile(`(?i)dept_name\s*=\s*'([^']+)'`),
	"status":     regexp.MustCompile(`(?i)status\s*=\s*'([^']+)'`),
	"category":   regexp.MustCompile(`(?i)category\s*=\s*'([^']+)'`),
}

// extractFilters pulls recognized WHERE-clause values out of generated
// SQL so they can be fed back as prompt hints on later queries.
func extractFilters(sql string) map[string]string {
	filters := map[string]string{}
	for name, pattern := range filterPatterns {
		if m := pattern.FindStringSubmatch(sql); m != nil {
			filters[name] = m[1]
		}
	}
	return filters
}

func inferQueryStyle(question string) string {
	words := len(strings.Fields(question))
	switch {
	case words <= 5:
		return model.QueryStyleShort
	case words >= 15:
		return model.QueryStyleVerbose
	default:
		return model.QueryStyleBalanced
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
