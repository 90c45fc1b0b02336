package repository

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/stoatlab/stoat/pkg/model"
)

// Repository is the durable store behind the pipeline: user profiles plus
// the two vector collections (schema docs and behavioral memory). The
// backing technology is selected by configuration; the pipeline depends
// only on these semantics.
type Repository interface {
	// GetProfile returns the stored profile merged over defaults, or the
	// default profile when the user has no record yet. It never writes.
	GetProfile(ctx context.Context, userID string) (*model.UserProfile, error)

	// MergeProfile applies a partial update with compare-and-merge
	// semantics so concurrent updates for the same user do not lose
	// fields. The record is created on first merge.
	MergeProfile(ctx context.Context, userID string, patch *model.ProfilePatch) error

	// PutSchemaDoc upserts one table description; at most one doc exists
	// per table identifier.
	PutSchemaDoc(ctx context.Context, doc *model.SchemaDoc) error

	// HasSchemaDoc reports whether a vector already exists for the table.
	HasSchemaDoc(ctx context.Context, table string) (bool, error)

	// SearchSchemaDocs performs vector search over the schema collection
	// and returns up to limit hits by descending similarity.
	SearchSchemaDocs(ctx context.Context, embedding firestore.Vector32, limit int) ([]*model.SchemaHit, error)

	// PutMemory appends one behavioral memory record.
	PutMemory(ctx context.Context, memory *model.Memory) error

	// SearchMemories performs vector search over one user's memory
	// records.
	SearchMemories(ctx context.Context, userID string, embedding firestore.Vector32, limit int) ([]*model.Memory, error)
}
