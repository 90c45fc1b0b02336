package cli

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/stoatlab/stoat/pkg/adapter"
	"github.com/stoatlab/stoat/pkg/model"
	"github.com/stoatlab/stoat/pkg/repository"
	"github.com/stoatlab/stoat/pkg/safety"
	"github.com/stoatlab/stoat/pkg/schema"
	"github.com/stoatlab/stoat/pkg/session"
	"github.com/stoatlab/stoat/pkg/usecase/query"
)

// runtime bundles everything a pipeline-running command needs.
type runtime struct {
	repo     repository.Repository
	gemini   adapter.Gemini
	storage  adapter.Storage
	pipeline *query.UseCase
	ingester *schema.Ingester
	learner  *query.Learner
	defs     []*model.TableDef
}

func (cfg *config) newRuntime(ctx context.Context) (*runtime, error) {
	setupLogger(cfg)

	defs, err := schema.Load(cfg.schemaPath)
	if err != nil {
		return nil, err
	}
	tables := make([]string, 0, len(defs))
	for _, def := range defs {
		tables = append(tables, def.Table)
	}

	repo, err := cfg.newRepository(ctx)
	if err != nil {
		return nil, err
	}
	gemini, err := cfg.newGemini(ctx)
	if err != nil {
		return nil, err
	}
	db, err := cfg.newDatabase(ctx)
	if err != nil {
		return nil, err
	}
	storage, err := cfg.newStorage(ctx)
	if err != nil {
		return nil, err
	}

	var learnerOpts []query.LearnerOption
	if storage != nil {
		learnerOpts = append(learnerOpts, query.WithResultArchive(storage))
	}
	learner := query.NewLearner(repo, gemini, learnerOpts...)
	learner.Start()

	pipeline := query.New(query.NewInput{
		Repo:       repo,
		Gemini:     gemini,
		DB:         db,
		Sessions:   session.NewMemoryStore(),
		Classifier: cfg.newClassifier(gemini, tables),
		Retriever:  schema.NewRetriever(repo, gemini),
		Validator:  safety.New(),
		Learner:    learner,
	})

	return &runtime{
		repo:     repo,
		gemini:   gemini,
		storage:  storage,
		pipeline: pipeline,
		ingester: schema.NewIngester(repo, gemini),
		learner:  learner,
		defs:     defs,
	}, nil
}

// close drains the learner queue before exit.
func (r *runtime) close() {
	r.learner.Stop()
}

// ensureIngested makes sure the schema index exists before serving or
// querying against an empty backend.
func (r *runtime) ensureIngested(ctx context.Context) error {
	if _, err := r.ingester.Ingest(ctx, r.defs, false); err != nil {
		return goerr.Wrap(err, "failed to ensure schema index")
	}
	return nil
}
