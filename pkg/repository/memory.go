package repository

import (
	"context"
	"math"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/stoatlab/stoat/pkg/model"
)

// Memory is the in-process Repository implementation, used for local
// development and tests. Search is a linear cosine scan, which is fine
// for the tens of table docs a fixed schema produces.
type Memory struct {
	mu       sync.RWMutex
	profiles map[string]*model.UserProfile
	schema   map[string]*model.SchemaDoc
	memories []*model.Memory
}

// NewMemory creates an empty in-process repository.
func NewMemory() *Memory {
	return &Memory{
		profiles: make(map[string]*model.UserProfile),
		schema:   make(map[string]*model.SchemaDoc),
	}
}

func (m *Memory) GetProfile(ctx context.Context, userID string) (*model.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored, ok := m.profiles[userID]
	if !ok {
		return model.DefaultProfile(userID), nil
	}
	clone := *stored
	return &clone, nil
}

func (m *Memory) MergeProfile(ctx context.Context, userID string, patch *model.ProfilePatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	profile, ok := m.profiles[userID]
	if !ok {
		profile = model.DefaultProfile(userID)
		m.profiles[userID] = profile
	}
	profile.Apply(patch)
	profile.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) PutSchemaDoc(ctx context.Context, doc *model.SchemaDoc) error {
	if doc.Table == "" {
		return goerr.New("schema doc has no table identifier")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.schema[doc.Table] = doc
	return nil
}

func (m *Memory) HasSchemaDoc(ctx context.Context, table string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.schema[table]
	return ok, nil
}

func (m *Memory) SearchSchemaDocs(ctx context.Context, embedding firestore.Vector32, limit int) ([]*model.SchemaHit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := make([]*model.SchemaHit, 0, len(m.schema))
	for _, doc := range m.schema {
		hits = append(hits, &model.SchemaHit{
			Doc:        doc,
			Similarity: cosineSimilarity(embedding, doc.Embedding),
		})
	}

	model.SortSchemaHits(hits)
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *Memory) PutMemory(ctx context.Context, memory *model.Memory) error {
	if memory.ID == "" {
		memory.ID = model.NewMemoryID()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.memories = append(m.memories, memory)
	return nil
}

func (m *Memory) SearchMemories(ctx context.Context, userID string, embedding firestore.Vector32, limit int) ([]*model.Memory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type scored struct {
		memory     *model.Memory
		similarity float64
	}

	var candidates []scored
	for _, memory := range m.memories {
		if memory.UserID != userID {
			continue
		}
		candidates = append(candidates, scored{
			memory:     memory,
			similarity: cosineSimilarity(embedding, memory.Embedding),
		})
	}

	// Highest similarity first; insertion order is stable enough for ties.
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].similarity > candidates[i].similarity {
				candidates[i], candidates[j] = candidates[j], candidates[i]
			}
		}
	}

	var memories []*model.Memory
	for _, c := range candidates {
		memories = append(memories, c.memory)
		if limit > 0 && len(memories) >= limit {
			break
		}
	}
	return memories, nil
}

// cosineSimilarity calculates cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
