package model

import (
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
)

type MemoryID string

// NewMemoryID generates a new unique MemoryID
func NewMemoryID() MemoryID {
	return MemoryID(uuid.New().String())
}

// Memory is one behavioral record learned from a completed query.
// The collection is append-only; records are never rewritten.
type Memory struct {
	ID        MemoryID           `firestore:"id"`
	UserID    string             `firestore:"user_id"`
	Summary   string             `firestore:"summary"`
	Embedding firestore.Vector32 `firestore:"embedding"`
	Domains   []string           `firestore:"domains"`
	CreatedAt time.Time          `firestore:"created_at"`
}
