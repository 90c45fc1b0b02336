package schema

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/stoatlab/stoat/pkg/model"
	"github.com/stoatlab/stoat/pkg/repository"
)

const (
	// DefaultRelevanceFloor drops hits whose cosine similarity to the
	// question is too low to be trusted as schema context.
	DefaultRelevanceFloor = 0.30

	// DefaultTopK bounds how many tables are injected into the prompt.
	DefaultTopK = 5
)

// Retriever finds the schema docs most relevant to a question.
type Retriever struct {
	repo     repository.Repository
	embedder Embedder
	floor    float64
	topK     int
}

type RetrieverOption func(*Retriever)

func WithRelevanceFloor(floor float64) RetrieverOption {
	return func(x *Retriever) {
		x.floor = floor
	}
}

func WithTopK(k int) RetrieverOption {
	return func(x *Retriever) {
		x.topK = k
	}
}

func NewRetriever(repo repository.Repository, embedder Embedder, opts ...RetrieverOption) *Retriever {
	x := &Retriever{
		repo:     repo,
		embedder: embedder,
		floor:    DefaultRelevanceFloor,
		topK:     DefaultTopK,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Retrieve embeds the question and returns up to topK schema hits above
// the relevance floor, ordered by descending similarity. When nothing
// clears the floor it returns ErrSchemaNotFound so the pipeline can stop
// before generation.
func (x *Retriever) Retrieve(ctx context.Context, question string) ([]*model.SchemaHit, error) {
	vec, err := x.embedder.Embedding(ctx, question)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed question")
	}

	hits, err := x.repo.SearchSchemaDocs(ctx, firestore.Vector32(vec), x.topK)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search schema docs")
	}

	relevant := make([]*model.SchemaHit, 0, len(hits))
	for _, hit := range hits {
		if hit.Similarity >= x.floor {
			relevant = append(relevant, hit)
		}
	}
	if len(relevant) == 0 {
		return nil, goerr.Wrap(model.ErrSchemaNotFound, "no schema docs above relevance floor",
			goerr.V("floor", x.floor),
			goerr.V("candidates", len(hits)),
		)
	}

	return relevant, nil
}
