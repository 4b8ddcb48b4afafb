//go:build integration

package search

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestIndex connects to a local Qdrant and ensures the collection.
// Skips the test if Qdrant is not running.
func setupTestIndex(t *testing.T) *Index {
	idx, err := NewIndex("localhost", 6334)
	if err != nil {
		t.Skipf("Qdrant not available: %v", err)
	}

	err = idx.EnsureCollection(context.Background())
	require.NoError(t, err, "Failed to ensure collection")
	return idx
}

func testSnippet(jobID, docID string) *IndexedSnippet {
	return &IndexedSnippet{
		ID:          uuid.New().String(),
		JobID:       jobID,
		DocumentID:  docID,
		Location:    "https://docs.example.com/guide",
		Code:        "client := New()\nclient.Connect()",
		Language:    "go",
		Title:       "Create and connect a client",
		Description: "Builds a client and opens the connection.",
		Context:     "# Guide > ## Quick Start",
		IndexedAt:   time.Now().UTC(),
	}
}

func TestEnsureCollection_Idempotent(t *testing.T) {
	idx := setupTestIndex(t)
	defer idx.Close()

	// A second call against the existing collection must be a no-op.
	err := idx.EnsureCollection(context.Background())
	assert.NoError(t, err)
}

func TestUpsertAndDeleteByJob(t *testing.T) {
	idx := setupTestIndex(t)
	defer idx.Close()

	ctx := context.Background()
	jobID := uuid.New().String()
	docID := uuid.New().String()

	snippets := []*IndexedSnippet{
		testSnippet(jobID, docID),
		testSnippet(jobID, docID),
	}
	err := idx.UpsertSnippets(ctx, snippets)
	require.NoError(t, err, "Failed to upsert snippets")

	// Re-upserting the same IDs must not error (idempotent by point ID).
	err = idx.UpsertSnippets(ctx, snippets)
	require.NoError(t, err)

	err = idx.DeleteByJob(ctx, jobID)
	assert.NoError(t, err, "Failed to delete job snippets")
}

func TestUpsertSnippets_LargeBatch(t *testing.T) {
	idx := setupTestIndex(t)
	defer idx.Close()

	ctx := context.Background()
	jobID := uuid.New().String()

	// 250 snippets exercises more than one upsert batch of 100.
	snippets := make([]*IndexedSnippet, 250)
	for i := range snippets {
		s := testSnippet(jobID, uuid.New().String())
		s.Location = fmt.Sprintf("https://docs.example.com/page%d", i)
		snippets[i] = s
	}

	err := idx.UpsertSnippets(ctx, snippets)
	require.NoError(t, err, "Failed to upsert large batch")

	err = idx.DeleteByJob(ctx, jobID)
	require.NoError(t, err)
}

func TestUpsertSnippets_Empty(t *testing.T) {
	idx := setupTestIndex(t)
	defer idx.Close()

	err := idx.UpsertSnippets(context.Background(), nil)
	assert.NoError(t, err, "Empty upsert should be a no-op")
}

func TestHealth(t *testing.T) {
	idx := setupTestIndex(t)
	defer idx.Close()

	err := idx.Health(context.Background())
	assert.NoError(t, err)
}
