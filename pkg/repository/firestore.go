package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/stoatlab/stoat/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	collectionProfiles = "profiles"
	collectionSchema   = "schema"
	collectionMemory   = "memory"

	// Firestore field that FindNearest fills with the cosine distance.
	distanceField = "vector_distance"
)

// Firestore implements Repository on Cloud Firestore, using its native
// vector search for the schema and memory collections.
type Firestore struct {
	client *firestore.Client
}

// New creates a Firestore-backed repository.
func New(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client")
	}

	return &Firestore{client: client}, nil
}

// Close releases the underlying client.
func (f *Firestore) Close() error {
	return f.client.Close()
}

func (f *Firestore) GetProfile(ctx context.Context, userID string) (*model.UserProfile, error) {
	snap, err := f.client.Collection(collectionProfiles).Doc(userID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return model.DefaultProfile(userID), nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get profile", goerr.V("user_id", userID))
	}

	// Decode over the default skeleton so fields added after the record
	// was written are always present.
	profile := model.DefaultProfile(userID)
	if err := snap.DataTo(profile); err != nil {
		return nil, goerr.Wrap(err, "failed to decode profile", goerr.V("user_id", userID))
	}
	profile.UserID = userID
	return profile, nil
}

func (f *Firestore) MergeProfile(ctx context.Context, userID string, patch *model.ProfilePatch) error {
	ref := f.client.Collection(collectionProfiles).Doc(userID)

	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		profile := model.DefaultProfile(userID)

		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
			// first merge creates the record
		case err != nil:
			return goerr.Wrap(err, "failed to read profile in transaction")
		default:
			if err := snap.DataTo(profile); err != nil {
				return goerr.Wrap(err, "failed to decode profile in transaction")
			}
			profile.UserID = userID
		}

		profile.Apply(patch)
		profile.UpdatedAt = time.Now()
		return tx.Set(ref, profile)
	})
	if err != nil {
		return goerr.Wrap(err, "failed to merge profile", goerr.V("user_id", userID))
	}
	return nil
}

func (f *Firestore) PutSchemaDoc(ctx context.Context, doc *model.SchemaDoc) error {
	// Keyed by table identifier so re-ingestion overwrites in place.
	if _, err := f.client.Collection(collectionSchema).Doc(doc.Table).Set(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to put schema doc", goerr.V("table", doc.Table))
	}
	return nil
}

func (f *Firestore) HasSchemaDoc(ctx context.Context, table string) (bool, error) {
	_, err := f.client.Collection(collectionSchema).Doc(table).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	if err != nil {
		return false, goerr.Wrap(err, "failed to check schema doc", goerr.V("table", table))
	}
	return true, nil
}

func (f *Firestore) SearchSchemaDocs(ctx context.Context, embedding firestore.Vector32, limit int) ([]*model.SchemaHit, error) {
	query := f.client.Collection(collectionSchema).FindNearest(
		"embedding", embedding, limit, firestore.DistanceMeasureCosine,
		&firestore.FindNearestOptions{DistanceResultField: distanceField},
	)

	iter := query.Documents(ctx)
	defer iter.Stop()

	var hits []*model.SchemaHit
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to search schema docs")
		}

		var doc model.SchemaDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode schema doc")
		}

		hits = append(hits, &model.SchemaHit{
			Doc:        &doc,
			Similarity: 1 - distanceOf(snap),
		})
	}

	model.SortSchemaHits(hits)
	return hits, nil
}

func (f *Firestore) PutMemory(ctx context.Context, memory *model.Memory) error {
	if memory.ID == "" {
		memory.ID = model.NewMemoryID()
	}
	if _, err := f.client.Collection(collectionMemory).Doc(string(memory.ID)).Set(ctx, memory); err != nil {
		return goerr.Wrap(err, "failed to put memory", goerr.V("memory_id", memory.ID))
	}
	return nil
}

func (f *Firestore) SearchMemories(ctx context.Context, userID string, embedding firestore.Vector32, limit int) ([]*model.Memory, error) {
	query := f.client.Collection(collectionMemory).
		Where("user_id", "==", userID).
		FindNearest("embedding", embedding, limit, firestore.DistanceMeasureCosine, nil)

	iter := query.Documents(ctx)
	defer iter.Stop()

	var memories []*model.Memory
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to search memories", goerr.V("user_id", userID))
		}

		var memory model.Memory
		if err := snap.DataTo(&memory); err != nil {
			return nil, goerr.Wrap(err, "failed to decode memory")
		}
		memories = append(memories, &memory)
	}

	return memories, nil
}

func distanceOf(snap *firestore.DocumentSnapshot) float64 {
	if v, ok := snap.Data()[distanceField].(float64); ok {
		return v
	}
	return 0
}
