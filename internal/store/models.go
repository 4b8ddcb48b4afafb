package store

import "time"

// Document statuses.
const (
	DocStatusFetched   = "fetched"
	DocStatusUnchanged = "unchanged"
	DocStatusFailed    = "failed"
)

// JobRecord is the persisted form of a job snapshot.
type JobRecord struct {
	ID                string `gorm:"primaryKey;size:36"`
	Name              string
	Kind              string `gorm:"index"`
	Status            string `gorm:"index"`
	Config            string `gorm:"type:text"` // JSON configuration snapshot
	PagesDiscovered   int64
	PagesProcessed    int64
	PagesSkipped      int64
	SnippetsExtracted int64
	ErrorCount        int64
	CreatedAt         time.Time
	StartedAt         *time.Time
	FinishedAt        *time.Time
}

func (JobRecord) TableName() string { return "jobs" }

// DocumentRecord is one fetched or uploaded unit of content. Exactly one row
// exists per (job, location); the stored fingerprint is the dedup source of
// truth for recrawls.
type DocumentRecord struct {
	ID             string `gorm:"primaryKey;size:36"`
	JobID          string `gorm:"size:36;uniqueIndex:idx_documents_job_location"`
	Location       string `gorm:"index:idx_documents_location;uniqueIndex:idx_documents_job_location"`
	Fingerprint    string `gorm:"size:64"`
	Status         string
	ParentLocation string
	FetchedAt      time.Time
}

func (DocumentRecord) TableName() string { return "documents" }

// SnippetRecord is one extracted code block with its derived metadata.
type SnippetRecord struct {
	ID          string `gorm:"primaryKey;size:36"`
	DocumentID  string `gorm:"size:36;index"`
	JobID       string `gorm:"size:36;index"`
	Location    string
	Code        string `gorm:"type:text"`
	Language    string
	Title       string
	Description string
	Context     string `gorm:"type:text"`
	Line        int
	Fingerprint string `gorm:"size:64"`
	CreatedAt   time.Time
}

func (SnippetRecord) TableName() string { return "snippets" }

// FrontierRecord persists a job's frontier entry so failed or cancelled jobs
// can resume without re-fetching settled entries.
type FrontierRecord struct {
	JobID    string `gorm:"primaryKey;size:36"`
	Location string `gorm:"primaryKey"`
	Depth    int
	Parent   string
	Outcome  string
	Position int // discovery order
}

func (FrontierRecord) TableName() string { return "frontier_entries" }
