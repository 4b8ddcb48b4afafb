// Package pipeline orchestrates one job's run: frontier-driven fetching with
// a bounded worker pool, inline extraction and dedup, a separately bounded
// enrichment stage, and transactional result persistence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bull/docsnip/internal/enrich"
	"github.com/bull/docsnip/internal/extract"
	"github.com/bull/docsnip/internal/fetch"
	"github.com/bull/docsnip/internal/frontier"
	"github.com/bull/docsnip/internal/job"
	"github.com/bull/docsnip/internal/search"
	"github.com/bull/docsnip/internal/source"
	"github.com/bull/docsnip/internal/store"
)

// consecutivePersistFailures escalates the job to failed once this many
// commits fail in a row. Isolated storage hiccups stay per-unit errors.
const consecutivePersistFailures = 5

// idleWait is how long an idle worker sleeps before re-polling the frontier.
const idleWait = 20 * time.Millisecond

// Store is the persistence surface the pipeline needs. Satisfied by
// *store.Store.
type Store interface {
	StoredFingerprint(ctx context.Context, location string) (string, error)
	CommitDocument(ctx context.Context, doc *store.DocumentRecord, snippets []store.SnippetRecord) error
	MarkDocumentUnchanged(ctx context.Context, doc *store.DocumentRecord) error
	SaveFrontier(ctx context.Context, jobID string, entries []frontier.Entry) error
	LoadFrontier(ctx context.Context, jobID string) ([]frontier.Entry, error)
}

// Indexer receives committed snippets for search indexing. Satisfied by
// *search.Index; nil disables indexing.
type Indexer interface {
	UpsertSnippets(ctx context.Context, snippets []*search.IndexedSnippet) error
}

// Config wires a pipeline's collaborators.
type Config struct {
	Engine      fetch.Engine // crawl fetch engine (HTTP in production)
	MaxAttempts int
	DelayFloor  time.Duration // zero means default, fetch.NoDelayFloor disables
	Files       *source.FileSource
	GitHub      *source.GitHubSource // optional
	Enricher    *enrich.Enricher     // optional
	Store       Store
	Index       Indexer // optional
	Bus         *job.Bus
	Logger      *slog.Logger
}

// Pipeline runs jobs. Safe for concurrent Run calls: all per-job state lives
// in the run.
type Pipeline struct {
	controller *fetch.Controller
	files      *source.FileSource
	github     *source.GitHubSource
	enricher   *enrich.Enricher
	store      Store
	index      Indexer
	bus        *job.Bus
	logger     *slog.Logger
}

// New creates a pipeline.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bus := cfg.Bus
	if bus == nil {
		bus = job.NewBus()
	}
	files := cfg.Files
	if files == nil {
		files = source.NewFileSource()
	}
	return &Pipeline{
		controller: fetch.NewController(cfg.Engine, cfg.MaxAttempts, cfg.DelayFloor, logger),
		files:      files,
		github:     cfg.GitHub,
		enricher:   cfg.Enricher,
		store:      cfg.Store,
		index:      cfg.Index,
		bus:        bus,
		logger:     logger,
	}
}

// run holds the mutable state of one job execution.
type run struct {
	p        *Pipeline
	job      *job.Job
	frontier *frontier.Frontier

	enrichWG        sync.WaitGroup
	persistFailures atomic.Int64

	failMu  sync.Mutex
	failErr error
}

// Run executes the job until the frontier is exhausted, cancellation is
// observed, or an unrecoverable error escalates. Implements job.Runner.
func (p *Pipeline) Run(ctx context.Context, j *job.Job) error {
	filter, err := frontier.NewFilter(
		j.Config.MaxDepth,
		j.Config.AllowedDomains,
		j.Config.IncludePatterns,
		j.Config.ExcludePatterns,
	)
	if err != nil {
		return err
	}

	r := &run{p: p, job: j, frontier: frontier.New(filter)}

	if j.Resumed() {
		entries, err := p.store.LoadFrontier(ctx, j.ID)
		if err != nil {
			return fmt.Errorf("load frontier for resume: %w", err)
		}
		r.frontier.Restore(entries)
		p.logger.Info("resumed frontier", "job", j.ID, "entries", len(entries))
	} else if err := r.seed(ctx); err != nil {
		return err
	}
	r.publishProgress()

	var wg sync.WaitGroup
	for i := 0; i < j.Config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.worker(ctx)
		}()
	}
	wg.Wait()
	r.enrichWG.Wait()

	if err := p.store.SaveFrontier(ctx, j.ID, r.frontier.Snapshot()); err != nil {
		p.logger.Error("persist frontier snapshot", "job", j.ID, "error", err)
	}

	return r.failure()
}

// seed admits the configured seed locations. Upload seeds expand to the
// individual files of a directory or repository.
func (r *run) seed(ctx context.Context) error {
	for _, raw := range r.job.Config.Seeds {
		switch {
		case r.job.Config.Kind == job.KindCrawl:
			r.enqueue(raw, 0, "")
		case source.IsGitHubLocation(raw):
			if r.p.github == nil {
				return fmt.Errorf("github seed %q but no github source configured", raw)
			}
			files, err := r.p.github.List(ctx, raw)
			if err != nil {
				r.p.logger.Warn("expand github seed", "seed", raw, "error", err)
				r.job.Counters.Errors.Add(1)
				continue
			}
			for _, f := range files {
				r.enqueue(f, 0, raw)
			}
		default:
			files, err := r.p.files.List(raw)
			if err != nil {
				r.p.logger.Warn("expand upload seed", "seed", raw, "error", err)
				r.job.Counters.Errors.Add(1)
				continue
			}
			for _, f := range files {
				r.enqueue(f, 0, raw)
			}
		}
	}

	if r.frontier.Discovered() == 0 {
		return errors.New("no seed location produced any admissible entry")
	}
	return nil
}

func (r *run) enqueue(location string, depth int, parent string) {
	if r.frontier.Enqueue(location, depth, parent) {
		r.job.Counters.Discovered.Add(1)
	}
}

// worker is one fetch-pool slot. It polls the frontier until it drains,
// observing cancellation before dispatching each new batch.
func (r *run) worker(ctx context.Context) {
	slot := r.p.controller.Slot()
	for {
		if r.job.Cancelled() || r.failed() || ctx.Err() != nil {
			return
		}
		batch := r.frontier.NextBatch(1)
		if len(batch) == 0 {
			if r.frontier.Done() {
				return
			}
			// Entries may still be in flight on other workers or in the
			// enrichment stage; their commits settle the frontier.
			time.Sleep(idleWait)
			continue
		}
		r.process(ctx, slot, batch[0])
	}
}

// process handles one frontier entry end to end: fetch, link discovery,
// dedup, extraction, and commit (directly or via the enrichment stage).
func (r *run) process(ctx context.Context, slot *fetch.Slot, entry *frontier.Entry) {
	result, err := r.fetchEntry(ctx, slot, entry)
	if err != nil {
		r.recordFailure(entry.Location, "fetch", err)
		return
	}

	for _, link := range result.Links {
		r.enqueue(link, entry.Depth+1, entry.Location)
	}

	fingerprint := extract.Fingerprint(result.Content)
	if r.unchanged(ctx, entry, fingerprint) {
		return
	}

	strategy := extract.ForContent(entry.Location, result.ContentType)
	snippets, err := strategy.Extract(result.Content)
	if err != nil {
		// Malformed content is recorded per document; sibling units proceed.
		r.recordFailure(entry.Location, "extract", err)
		return
	}

	doc := &store.DocumentRecord{
		ID:             uuid.New().String(),
		JobID:          r.job.ID,
		Location:       entry.Location,
		Fingerprint:    fingerprint,
		Status:         store.DocStatusFetched,
		ParentLocation: entry.Parent,
	}
	records := r.toRecords(snippets)

	// Enrichment requires both the job's opt-in flag and the global switch.
	// A job submitted without it never issues enrichment requests, whatever
	// the service configuration says. Skipped, not queued, once cancellation
	// is observed.
	if r.job.Config.Enrich && r.p.enricher != nil && r.p.enricher.Enabled() && len(records) > 0 && !r.job.Cancelled() {
		r.enrichWG.Add(1)
		go func() {
			defer r.enrichWG.Done()
			r.enrichRecords(ctx, snippets, records)
			r.commit(ctx, doc, records)
		}()
		return
	}
	r.commit(ctx, doc, records)
}

func (r *run) fetchEntry(ctx context.Context, slot *fetch.Slot, entry *frontier.Entry) (*fetch.Result, error) {
	switch {
	case source.IsGitHubLocation(entry.Location):
		if r.p.github == nil {
			return nil, &fetch.PermanentError{Location: entry.Location, Err: errors.New("no github source configured")}
		}
		return r.p.github.Fetch(ctx, entry.Location)
	case isLocalLocation(entry.Location):
		return r.p.files.Fetch(ctx, entry.Location)
	default:
		return slot.Fetch(ctx, entry.Location)
	}
}

func isLocalLocation(location string) bool {
	return strings.HasPrefix(location, "file://") || !strings.Contains(location, "://")
}

// unchanged checks the stored fingerprint and, when the content has not
// changed and no force flag is set, records a dedup skip. This runs before
// extraction and enrichment: it is the primary cost control.
func (r *run) unchanged(ctx context.Context, entry *frontier.Entry, fingerprint string) bool {
	if r.job.Config.IgnoreHash {
		return false
	}

	prev, err := r.p.store.StoredFingerprint(ctx, entry.Location)
	if errors.Is(err, store.ErrNotFound) {
		return false
	}
	if err != nil {
		r.p.logger.Warn("fingerprint lookup failed, treating as changed", "location", entry.Location, "error", err)
		return false
	}
	if prev != fingerprint {
		return false
	}

	doc := &store.DocumentRecord{
		ID:             uuid.New().String(),
		JobID:          r.job.ID,
		Location:       entry.Location,
		Fingerprint:    fingerprint,
		ParentLocation: entry.Parent,
	}
	if err := r.p.store.MarkDocumentUnchanged(ctx, doc); err != nil {
		r.persistFailure(entry.Location, err)
		return true
	}

	r.frontier.MarkSkipped(entry.Location)
	r.job.Counters.Skipped.Add(1)
	r.publishProgress()
	r.p.logger.Debug("content unchanged, skipped", "location", entry.Location)
	return true
}

func (r *run) toRecords(snippets []extract.Snippet) []store.SnippetRecord {
	records := make([]store.SnippetRecord, len(snippets))
	for i, s := range snippets {
		records[i] = store.SnippetRecord{
			ID:          uuid.New().String(),
			Code:        s.Code,
			Language:    enrich.DetectLanguage(s.Code, s.Language),
			Title:       s.TitleHint,
			Context:     s.Context,
			Line:        s.Line,
			Fingerprint: s.Fingerprint,
		}
	}
	return records
}

// enrichRecords requests AI metadata in batches, applying results in place.
// Failures degrade to the heuristic metadata already present.
func (r *run) enrichRecords(ctx context.Context, snippets []extract.Snippet, records []store.SnippetRecord) {
	batchSize := r.p.enricher.BatchSize()
	for start := 0; start < len(records); start += batchSize {
		if r.job.Cancelled() {
			return
		}
		end := min(start+batchSize, len(records))

		items := make([]enrich.Item, end-start)
		for i := start; i < end; i++ {
			items[i-start] = enrich.Item{
				Code:         snippets[i].Code,
				Context:      snippets[i].Context,
				LanguageHint: snippets[i].Language,
			}
		}

		metadata, err := r.p.enricher.EnrichBatch(ctx, items)
		if err != nil {
			r.p.logger.Warn("enrichment failed, keeping heuristic metadata", "job", r.job.ID, "error", err)
			continue
		}
		for i, md := range metadata {
			rec := &records[start+i]
			rec.Title = md.Title
			rec.Description = md.Description
			if md.Language != "" {
				rec.Language = md.Language
			}
		}
	}
}

// commit persists the document and its snippets as one unit, then updates
// counters and pushes committed snippets to the search index.
func (r *run) commit(ctx context.Context, doc *store.DocumentRecord, records []store.SnippetRecord) {
	if err := r.p.store.CommitDocument(ctx, doc, records); err != nil {
		r.persistFailure(doc.Location, err)
		return
	}
	r.persistFailures.Store(0)

	r.frontier.MarkFetched(doc.Location)
	r.job.Counters.Processed.Add(1)
	r.job.Counters.Snippets.Add(int64(len(records)))

	if r.p.index != nil && len(records) > 0 {
		indexed := make([]*search.IndexedSnippet, len(records))
		for i, rec := range records {
			indexed[i] = &search.IndexedSnippet{
				ID:          rec.ID,
				JobID:       r.job.ID,
				DocumentID:  doc.ID,
				Location:    doc.Location,
				Code:        rec.Code,
				Language:    rec.Language,
				Title:       rec.Title,
				Description: rec.Description,
				Context:     rec.Context,
				IndexedAt:   time.Now(),
			}
		}
		if err := r.p.index.UpsertSnippets(ctx, indexed); err != nil {
			r.p.logger.Warn("search index upsert failed", "location", doc.Location, "error", err)
		}
	}

	r.publishProgress()
	r.p.logger.Info("document committed", "job", r.job.ID, "location", doc.Location, "snippets", len(records))
}

// recordFailure settles a frontier entry as failed and counts the error.
// A single unit's failure never aborts the job.
func (r *run) recordFailure(location, stage string, err error) {
	r.frontier.MarkFailed(location)
	r.job.Counters.Errors.Add(1)
	r.publishProgress()
	r.p.logger.Warn("unit failed", "job", r.job.ID, "stage", stage, "location", location, "error", err)
}

// persistFailure counts a storage write failure. The unit stays eligible for
// retry on resume; sustained failures escalate the whole job.
func (r *run) persistFailure(location string, err error) {
	r.frontier.MarkFailed(location)
	r.job.Counters.Errors.Add(1)
	n := r.persistFailures.Add(1)
	r.p.logger.Error("persistence failure", "job", r.job.ID, "location", location, "error", err)
	if n >= consecutivePersistFailures {
		r.fail(fmt.Errorf("persistence failing repeatedly (%d consecutive): %w", n, err))
	}
	r.publishProgress()
}

func (r *run) fail(err error) {
	r.failMu.Lock()
	defer r.failMu.Unlock()
	if r.failErr == nil {
		r.failErr = err
	}
}

func (r *run) failed() bool {
	r.failMu.Lock()
	defer r.failMu.Unlock()
	return r.failErr != nil
}

func (r *run) failure() error {
	r.failMu.Lock()
	defer r.failMu.Unlock()
	return r.failErr
}

func (r *run) publishProgress() {
	r.p.bus.Publish(job.Event{
		Type:     job.EventProgress,
		JobID:    r.job.ID,
		Status:   r.job.Status(),
		Counters: r.job.Counters.Snapshot(),
	})
}
