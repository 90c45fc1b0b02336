package model

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
)

// Vector collection names inside the index.
const (
	CollectionSchema = "schema"
	CollectionMemory = "memory"
)

// SchemaDoc is one embedded table description in the schema collection.
// At most one doc exists per table identifier; ingestion is idempotent.
type SchemaDoc struct {
	Table     string             `firestore:"table"`
	Content   string             `firestore:"content"`
	Embedding firestore.Vector32 `firestore:"embedding"`
	CreatedAt time.Time          `firestore:"created_at"`
}

// SchemaHit is a retrieved schema doc with its similarity to the query.
type SchemaHit struct {
	Doc        *SchemaDoc
	Similarity float64
}

// SortSchemaHits orders hits by non-increasing similarity, ties broken by
// table identifier ascending so retrieval output is stable.
func SortSchemaHits(hits []*SchemaHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].Doc.Table < hits[j].Doc.Table
	})
}

// TableDef describes one table of the fixed relational schema, loaded
// from the schema definitions file at ingestion time.
type TableDef struct {
	Table         string            `yaml:"table"`
	Description   string            `yaml:"description"`
	Columns       []string          `yaml:"columns"`
	ColumnDetails map[string]string `yaml:"column_details"`
	Relationships []string          `yaml:"relationships"`
}

// Render flattens the definition into the text that gets embedded and
// later injected into prompts as a schema snippet.
func (d *TableDef) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "TABLE: %s\n  Description: %s\n  Columns: %s",
		d.Table, d.Description, strings.Join(d.Columns, ", "))

	if len(d.ColumnDetails) > 0 {
		cols := make([]string, 0, len(d.ColumnDetails))
		for c := range d.ColumnDetails {
			cols = append(cols, c)
		}
		sort.Strings(cols)
		b.WriteString("\n  Column Details:")
		for _, c := range cols {
			fmt.Fprintf(&b, "\n    - %s: %s", c, d.ColumnDetails[c])
		}
	}
	if len(d.Relationships) > 0 {
		fmt.Fprintf(&b, "\n  Joins: %s", strings.Join(d.Relationships, "; "))
	}
	return b.String()
}
