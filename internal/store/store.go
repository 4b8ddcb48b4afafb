// Package store persists jobs, documents, snippets, and frontier state in a
// relational database via gorm. Document commits are transactional: a
// document's fingerprint and its snippet set always move together.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bull/docsnip/internal/frontier"
	"github.com/bull/docsnip/internal/job"
)

// Store wraps the gorm database handle.
type Store struct {
	db *gorm.DB
}

// Open connects to the sqlite database at dsn and migrates the schema.
// Use ":memory:" for an ephemeral store in tests.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(&JobRecord{}, &DocumentRecord{}, &SnippetRecord{}, &FrontierRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveJob upserts a job snapshot.
func (s *Store) SaveJob(ctx context.Context, snap job.Snapshot) error {
	cfg, err := json.Marshal(snap.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	rec := JobRecord{
		ID:                snap.ID,
		Name:              snap.Name,
		Kind:              string(snap.Kind),
		Status:            string(snap.Status),
		Config:            string(cfg),
		PagesDiscovered:   snap.Counters.PagesDiscovered,
		PagesProcessed:    snap.Counters.PagesProcessed,
		PagesSkipped:      snap.Counters.PagesSkipped,
		SnippetsExtracted: snap.Counters.SnippetsExtracted,
		ErrorCount:        snap.Counters.Errors,
		CreatedAt:         snap.CreatedAt,
		StartedAt:         snap.StartedAt,
		FinishedAt:        snap.FinishedAt,
	}
	return s.db.WithContext(ctx).Save(&rec).Error
}

// LoadJob reads one job snapshot.
func (s *Store) LoadJob(ctx context.Context, id string) (job.Snapshot, error) {
	var rec JobRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return job.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return job.Snapshot{}, err
	}
	return recordToSnapshot(rec)
}

// ListJobs reads all job snapshots, newest first.
func (s *Store) ListJobs(ctx context.Context) ([]job.Snapshot, error) {
	var recs []JobRecord
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&recs).Error; err != nil {
		return nil, err
	}

	snaps := make([]job.Snapshot, 0, len(recs))
	for _, rec := range recs {
		snap, err := recordToSnapshot(rec)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// DeleteJob removes a job and cascades to its documents, snippets, and
// frontier entries in one transaction.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&SnippetRecord{}, "job_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&DocumentRecord{}, "job_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&FrontierRecord{}, "job_id = ?", id).Error; err != nil {
			return err
		}
		result := tx.Delete(&JobRecord{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func recordToSnapshot(rec JobRecord) (job.Snapshot, error) {
	var cfg job.Config
	if rec.Config != "" {
		if err := json.Unmarshal([]byte(rec.Config), &cfg); err != nil {
			return job.Snapshot{}, fmt.Errorf("unmarshal config for job %s: %w", rec.ID, err)
		}
	}
	return job.Snapshot{
		ID:     rec.ID,
		Name:   rec.Name,
		Kind:   job.Kind(rec.Kind),
		Status: job.Status(rec.Status),
		Config: cfg,
		Counters: job.CounterSnapshot{
			PagesDiscovered:   rec.PagesDiscovered,
			PagesProcessed:    rec.PagesProcessed,
			PagesSkipped:      rec.PagesSkipped,
			SnippetsExtracted: rec.SnippetsExtracted,
			Errors:            rec.ErrorCount,
		},
		CreatedAt:  rec.CreatedAt,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
	}, nil
}

// StoredFingerprint returns the most recently committed fingerprint for a
// normalized location, across runs. ErrNotFound when the location has never
// been committed.
func (s *Store) StoredFingerprint(ctx context.Context, location string) (string, error) {
	var rec DocumentRecord
	err := s.db.WithContext(ctx).
		Where("location = ? AND fingerprint <> ''", location).
		Order("fetched_at DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return rec.Fingerprint, nil
}

// CommitDocument persists a document and its snippets as one logical unit:
// the document row (with its new fingerprint and status) and the full
// replacement of its snippet set commit together or not at all. On failure
// the document keeps its previous fingerprint so the unit is re-attempted on
// the next run instead of being falsely marked processed.
func (s *Store) CommitDocument(ctx context.Context, doc *DocumentRecord, snippets []SnippetRecord) error {
	if doc.FetchedAt.IsZero() {
		doc.FetchedAt = time.Now()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing DocumentRecord
		err := tx.First(&existing, "job_id = ? AND location = ?", doc.JobID, doc.Location).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(doc).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			doc.ID = existing.ID
			if err := tx.Model(&DocumentRecord{}).Where("id = ?", doc.ID).
				Updates(map[string]any{
					"fingerprint": doc.Fingerprint,
					"status":      doc.Status,
					"fetched_at":  doc.FetchedAt,
				}).Error; err != nil {
				return err
			}
			if err := tx.Delete(&SnippetRecord{}, "document_id = ?", doc.ID).Error; err != nil {
				return err
			}
		}

		for i := range snippets {
			snippets[i].DocumentID = doc.ID
			snippets[i].JobID = doc.JobID
			snippets[i].Location = doc.Location
			if snippets[i].CreatedAt.IsZero() {
				snippets[i].CreatedAt = doc.FetchedAt
			}
		}
		if len(snippets) == 0 {
			return nil
		}
		return tx.Create(&snippets).Error
	})
}

// MarkDocumentUnchanged records a dedup skip for this job without touching
// previously committed snippets.
func (s *Store) MarkDocumentUnchanged(ctx context.Context, doc *DocumentRecord) error {
	doc.Status = DocStatusUnchanged
	if doc.FetchedAt.IsZero() {
		doc.FetchedAt = time.Now()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing DocumentRecord
		err := tx.First(&existing, "job_id = ? AND location = ?", doc.JobID, doc.Location).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(doc).Error
		}
		if err != nil {
			return err
		}
		doc.ID = existing.ID
		return tx.Model(&DocumentRecord{}).Where("id = ?", doc.ID).
			Updates(map[string]any{"status": DocStatusUnchanged, "fetched_at": doc.FetchedAt}).Error
	})
}

// DocumentsByJob returns a job's document rows.
func (s *Store) DocumentsByJob(ctx context.Context, jobID string) ([]DocumentRecord, error) {
	var recs []DocumentRecord
	err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Order("fetched_at").Find(&recs).Error
	return recs, err
}

// SnippetsByJob returns a job's committed snippets.
func (s *Store) SnippetsByJob(ctx context.Context, jobID string) ([]SnippetRecord, error) {
	var recs []SnippetRecord
	err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Order("created_at").Find(&recs).Error
	return recs, err
}

// SaveFrontier replaces the persisted frontier snapshot for a job.
func (s *Store) SaveFrontier(ctx context.Context, jobID string, entries []frontier.Entry) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&FrontierRecord{}, "job_id = ?", jobID).Error; err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		recs := make([]FrontierRecord, len(entries))
		for i, e := range entries {
			recs[i] = FrontierRecord{
				JobID:    jobID,
				Location: e.Location,
				Depth:    e.Depth,
				Parent:   e.Parent,
				Outcome:  string(e.Outcome),
				Position: i,
			}
		}
		return tx.Create(&recs).Error
	})
}

// LoadFrontier reads a job's persisted frontier snapshot in discovery order.
func (s *Store) LoadFrontier(ctx context.Context, jobID string) ([]frontier.Entry, error) {
	var recs []FrontierRecord
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Find(&recs).Error; err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Position < recs[j].Position })

	entries := make([]frontier.Entry, len(recs))
	for i, rec := range recs {
		entries[i] = frontier.Entry{
			Location: rec.Location,
			Depth:    rec.Depth,
			Parent:   rec.Parent,
			Outcome:  frontier.Outcome(rec.Outcome),
		}
	}
	return entries, nil
}
