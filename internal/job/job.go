// Package job defines the crawl/upload job model, its state machine, and the
// manager that supervises running jobs.
package job

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bull/docsnip/internal/frontier"
)

// Kind distinguishes crawl jobs (seeded with URLs) from upload jobs (seeded
// with file paths or repository locations).
type Kind string

const (
	KindCrawl  Kind = "crawl"
	KindUpload Kind = "upload"
)

// Status is the job lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status accepts no further mutation.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether the transition to next is legal. Transitions
// are one-directional except running→running (progress) and the resume
// re-opening of failed or cancelled jobs.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusFailed
	case StatusRunning:
		return next == StatusRunning || next.Terminal()
	case StatusFailed, StatusCancelled:
		return next == StatusRunning
	default:
		return false
	}
}

// Configuration limits.
const (
	MaxDepthLimit      = 3
	MaxConcurrency     = 20
	DefaultConcurrency = 3
)

// Config is the immutable configuration snapshot a job is created with.
type Config struct {
	Name            string   `json:"name"`
	Kind            Kind     `json:"kind"`
	Seeds           []string `json:"seeds"`
	MaxDepth        int      `json:"max_depth"`
	AllowedDomains  []string `json:"allowed_domains,omitempty"`
	IncludePatterns []string `json:"include_patterns,omitempty"`
	ExcludePatterns []string `json:"exclude_patterns,omitempty"`
	Concurrency     int      `json:"concurrency"`
	Enrich          bool     `json:"enrich"`
	IgnoreHash      bool     `json:"ignore_hash"`
}

// ConfigurationError is an invalid submission. It fails the job immediately,
// before any work is dispatched.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid job configuration: %s", e.Reason)
}

// Validate checks the config and applies defaults in place.
func (c *Config) Validate() error {
	if len(c.Seeds) == 0 {
		return &ConfigurationError{Reason: "no seed locations"}
	}
	if c.Kind != KindCrawl && c.Kind != KindUpload {
		return &ConfigurationError{Reason: fmt.Sprintf("unknown kind %q", c.Kind)}
	}
	if c.MaxDepth < 0 || c.MaxDepth > MaxDepthLimit {
		return &ConfigurationError{Reason: fmt.Sprintf("max depth %d outside 0-%d", c.MaxDepth, MaxDepthLimit)}
	}
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Concurrency < 1 || c.Concurrency > MaxConcurrency {
		return &ConfigurationError{Reason: fmt.Sprintf("concurrency %d outside 1-%d", c.Concurrency, MaxConcurrency)}
	}
	if c.Kind == KindCrawl {
		for _, seed := range c.Seeds {
			normalized, err := frontier.Normalize(seed)
			if err != nil {
				return &ConfigurationError{Reason: fmt.Sprintf("seed %q: %v", seed, err)}
			}
			if !strings.HasPrefix(normalized, "http://") && !strings.HasPrefix(normalized, "https://") {
				return &ConfigurationError{Reason: fmt.Sprintf("crawl seed %q is not an http(s) URL", seed)}
			}
		}
	}
	if _, err := frontier.NewFilter(c.MaxDepth, c.AllowedDomains, c.IncludePatterns, c.ExcludePatterns); err != nil {
		return &ConfigurationError{Reason: err.Error()}
	}
	return nil
}

// Counters are a job's progress counters. They only increase; readers never
// observe a decrease.
type Counters struct {
	Discovered atomic.Int64
	Processed  atomic.Int64
	Skipped    atomic.Int64
	Snippets   atomic.Int64
	Errors     atomic.Int64
}

// CounterSnapshot is a point-in-time read of the counters.
type CounterSnapshot struct {
	PagesDiscovered   int64 `json:"pages_discovered"`
	PagesProcessed    int64 `json:"pages_processed"`
	PagesSkipped      int64 `json:"pages_skipped"`
	SnippetsExtracted int64 `json:"snippets_extracted"`
	Errors            int64 `json:"errors"`
}

// Snapshot reads all counters.
func (c *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		PagesDiscovered:   c.Discovered.Load(),
		PagesProcessed:    c.Processed.Load(),
		PagesSkipped:      c.Skipped.Load(),
		SnippetsExtracted: c.Snippets.Load(),
		Errors:            c.Errors.Load(),
	}
}

// Job is one crawl or upload run. Mutated only by the supervising
// orchestrator; external callers read snapshots through the Manager.
type Job struct {
	ID       string
	Config   Config
	Counters Counters

	mu         sync.Mutex
	status     Status
	createdAt  time.Time
	startedAt  *time.Time
	finishedAt *time.Time

	cancelled atomic.Bool
	resumed   bool
}

// New creates a pending job from a validated config.
func New(cfg Config) *Job {
	return &Job{
		ID:        uuid.New().String(),
		Config:    cfg,
		status:    StatusPending,
		createdAt: time.Now(),
	}
}

// Status returns the current lifecycle state.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Transition moves the job to next, enforcing the state machine.
func (j *Job) Transition(next Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.status.CanTransition(next) {
		return fmt.Errorf("illegal transition %s -> %s", j.status, next)
	}
	now := time.Now()
	if next == StatusRunning && j.startedAt == nil {
		j.startedAt = &now
	}
	if next.Terminal() {
		j.finishedAt = &now
	}
	j.status = next
	return nil
}

// Cancel sets the cooperative cancellation flag. In-flight unit work is
// allowed to finish; no new frontier entries are dispatched once observed.
func (j *Job) Cancel() { j.cancelled.Store(true) }

// Cancelled reports whether cancellation was requested.
func (j *Job) Cancelled() bool { return j.cancelled.Load() }

// MarkResumed flags the job as re-opened so the pipeline restores persisted
// frontier state instead of seeding from scratch.
func (j *Job) MarkResumed() { j.resumed = true }

// Resumed reports whether this run is a resume of a prior run.
func (j *Job) Resumed() bool { return j.resumed }

// Snapshot is the externally visible view of a job.
type Snapshot struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Kind       Kind            `json:"kind"`
	Status     Status          `json:"status"`
	Config     Config          `json:"config"`
	Counters   CounterSnapshot `json:"counters"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// Snapshot captures the job's current state.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	return Snapshot{
		ID:         j.ID,
		Name:       j.Config.Name,
		Kind:       j.Config.Kind,
		Status:     j.status,
		Config:     j.Config,
		Counters:   j.Counters.Snapshot(),
		CreatedAt:  j.createdAt,
		StartedAt:  j.startedAt,
		FinishedAt: j.finishedAt,
	}
}

// restore rebuilds a job from a persisted snapshot for resume.
func restore(snap Snapshot) *Job {
	j := &Job{
		ID:        snap.ID,
		Config:    snap.Config,
		status:    snap.Status,
		createdAt: snap.CreatedAt,
		startedAt: snap.StartedAt,
	}
	j.Counters.Discovered.Store(snap.Counters.PagesDiscovered)
	j.Counters.Processed.Store(snap.Counters.PagesProcessed)
	j.Counters.Skipped.Store(snap.Counters.PagesSkipped)
	j.Counters.Snippets.Store(snap.Counters.SnippetsExtracted)
	j.Counters.Errors.Store(snap.Counters.Errors)
	return j
}
