package schema

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/stoatlab/stoat/pkg/model"
	"github.com/stoatlab/stoat/pkg/repository"
	"github.com/stoatlab/stoat/pkg/utils/logging"
)

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embedding(ctx context.Context, text string) ([]float32, error)
}

// Report summarizes one ingestion run.
type Report struct {
	Ingested int `json:"ingested"`
	Skipped  int `json:"skipped"`
}

// Ingester writes table definitions into the schema vector collection.
type Ingester struct {
	repo     repository.Repository
	embedder Embedder
}

func NewIngester(repo repository.Repository, embedder Embedder) *Ingester {
	return &Ingester{
		repo:     repo,
		embedder: embedder,
	}
}

// Ingest embeds and stores each table definition. A table that already
// has a vector is skipped unless force is set, so re-running ingestion
// never duplicates documents. On failure the tables processed so far
// remain stored.
func (x *Ingester) Ingest(ctx context.Context, defs []*model.TableDef, force bool) (*Report, error) {
	logger := logging.From(ctx)
	report := &Report{}

	for _, def := range defs {
		if !force {
			exists, err := x.repo.HasSchemaDoc(ctx, def.Table)
			if err != nil {
				return report, goerr.Wrap(err, "failed to check schema doc", goerr.V("table", def.Table))
			}
			if exists {
				logger.Debug("schema doc already ingested", "table", def.Table)
				report.Skipped++
				continue
			}
		}

		content := def.Render()
		vec, err := x.embedder.Embedding(ctx, content)
		if err != nil {
			return report, goerr.Wrap(err, "failed to embed schema doc", goerr.V("table", def.Table))
		}

		doc := &model.SchemaDoc{
			Table:     def.Table,
			Content:   content,
			Embedding: firestore.Vector32(vec),
			CreatedAt: time.Now(),
		}
		if err := x.repo.PutSchemaDoc(ctx, doc); err != nil {
			return report, goerr.Wrap(err, "failed to store schema doc", goerr.V("table", def.Table))
		}

		logger.Info("ingested schema doc", "table", def.Table, "bytes", len(content))
		report.Ingested++
	}

	return report, nil
}
