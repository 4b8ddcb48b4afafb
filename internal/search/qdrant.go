// Package search pushes committed snippets to the external search index.
// The index receives payload-only points keyed by snippet identity; ranking
// and query handling live outside this system.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"
)

// CollectionName is the single collection holding all indexed snippets.
const CollectionName = "snippets"

// ErrIndexUnreachable is returned when the search index cannot be reached
// at startup.
var ErrIndexUnreachable = errors.New("search index unreachable")

// IndexedSnippet is the upsert payload for one committed snippet.
type IndexedSnippet struct {
	ID          string // Snippet UUID, the upsert key
	JobID       string
	DocumentID  string
	Location    string // Source location of the owning document
	Code        string
	Language    string
	Title       string
	Description string
	Context     string
	IndexedAt   time.Time
}

// Index wraps the qdrant client with connection management and batched,
// retried upserts.
type Index struct {
	client *qdrant.Client
}

// NewIndex connects to qdrant and validates health with retry, failing fast
// if the index is unreachable.
func NewIndex(host string, port int) (*Index, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	idx := &Index{client: client}
	if err := idx.healthCheckWithRetry(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrIndexUnreachable, err)
	}
	return idx, nil
}

func (x *Index) healthCheckWithRetry(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		return x.Health(ctx)
	}, backoff.WithContext(b, ctx))
}

// Health performs a single health check.
func (x *Index) Health(ctx context.Context) error {
	result, err := x.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// EnsureCollection creates the snippet collection and its payload indexes if
// missing. Idempotent.
func (x *Index) EnsureCollection(ctx context.Context) error {
	collections, err := x.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	for _, name := range collections {
		if name == CollectionName {
			return nil
		}
	}

	// Points carry payload only; the collection is created with an empty
	// named-vector map.
	err = x.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: CollectionName,
		VectorsConfig:  qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}

	return x.createPayloadIndexes(ctx)
}

// createPayloadIndexes indexes the filterable fields. Without these,
// filtered queries degrade badly at scale.
func (x *Index) createPayloadIndexes(ctx context.Context) error {
	fields := []string{
		"job_id",
		"document_id",
		"location",
		"language",
	}
	for _, field := range fields {
		_, err := x.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: CollectionName,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("create index for field %s: %w", field, err)
		}
	}
	return nil
}

// UpsertSnippets pushes committed snippets to the index in batches of 100,
// retrying each batch with exponential backoff.
func (x *Index) UpsertSnippets(ctx context.Context, snippets []*IndexedSnippet) error {
	if len(snippets) == 0 {
		return nil
	}

	batchSize := 100
	for i := 0; i < len(snippets); i += batchSize {
		end := min(i+batchSize, len(snippets))
		batch := snippets[i:end]

		points := make([]*qdrant.PointStruct, len(batch))
		for j, s := range batch {
			points[j] = &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(s.ID),
				Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{}),
				Payload: qdrant.NewValueMap(map[string]any{
					"job_id":      s.JobID,
					"document_id": s.DocumentID,
					"location":    s.Location,
					"code":        s.Code,
					"language":    s.Language,
					"title":       s.Title,
					"description": s.Description,
					"context":     s.Context,
					"indexed_at":  s.IndexedAt.Format(time.RFC3339),
				}),
			}
		}

		if err := x.upsertWithRetry(ctx, points); err != nil {
			return fmt.Errorf("upsert batch %d-%d: %w", i, end, err)
		}
	}
	return nil
}

func (x *Index) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		_, err := x.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: CollectionName,
			Points:         points,
		})
		return err
	}, backoff.WithContext(b, ctx))
}

// DeleteByJob removes all indexed snippets of a deleted job.
func (x *Index) DeleteByJob(ctx context.Context, jobID string) error {
	_, err := x.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: CollectionName,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("job_id", jobID),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("delete snippets for job %s: %w", jobID, err)
	}
	return nil
}

// Close closes the index connection.
func (x *Index) Close() error {
	if x.client != nil {
		return x.client.Close()
	}
	return nil
}
