package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docsnip/internal/enrich"
	"github.com/bull/docsnip/internal/fetch"
	"github.com/bull/docsnip/internal/frontier"
	"github.com/bull/docsnip/internal/job"
	"github.com/bull/docsnip/internal/store"
)

// page is one scripted document served by the site fake.
type page struct {
	content string
	links   []string
	err     error
}

// siteEngine serves scripted pages as markdown and records fetch counts.
type siteEngine struct {
	mu     sync.Mutex
	pages  map[string]page
	calls  map[string]int
	onceCh chan string // receives the first fetched location, if set
}

func newSiteEngine(pages map[string]page) *siteEngine {
	return &siteEngine{pages: pages, calls: make(map[string]int)}
}

func (e *siteEngine) Fetch(ctx context.Context, location string) (*fetch.Result, error) {
	e.mu.Lock()
	e.calls[location]++
	p, ok := e.pages[location]
	ch := e.onceCh
	e.onceCh = nil
	e.mu.Unlock()

	if ch != nil {
		ch <- location
	}
	if !ok {
		return nil, &fetch.PermanentError{Location: location, StatusCode: 404}
	}
	if p.err != nil {
		return nil, p.err
	}
	return &fetch.Result{
		FinalLocation: location,
		Content:       []byte(p.content),
		ContentType:   "text/markdown",
		Links:         p.links,
	}, nil
}

func (e *siteEngine) fetchCount(location string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[location]
}

const pageWithSnippet = "# Guide\n\n```go\nx := 1\ny := 2\n```\n"

func newTestPipeline(t *testing.T, engine fetch.Engine) (*Pipeline, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	p := New(Config{
		Engine:     engine,
		DelayFloor: fetch.NoDelayFloor,
		Store:      st,
	})
	return p, st
}

func newCrawlJob(t *testing.T, seeds []string, mutate func(*job.Config)) *job.Job {
	t.Helper()
	cfg := job.Config{
		Kind:        job.KindCrawl,
		Seeds:       seeds,
		MaxDepth:    1,
		Concurrency: 2,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, cfg.Validate())
	return job.New(cfg)
}

func TestRun_CrawlWithLinkDiscovery(t *testing.T) {
	engine := newSiteEngine(map[string]page{
		"https://docs.example.com/start": {
			content: pageWithSnippet,
			links: []string{
				"https://docs.example.com/a",
				"https://docs.example.com/b",
			},
		},
		"https://docs.example.com/a": {content: pageWithSnippet + "\n```py\na = 1\nb = 2\n```\n"},
		"https://docs.example.com/b": {content: "# No code here\n\njust prose\n"},
	})
	p, st := newTestPipeline(t, engine)
	j := newCrawlJob(t, []string{"https://docs.example.com/start"}, nil)

	require.NoError(t, p.Run(context.Background(), j))

	counters := j.Counters.Snapshot()
	assert.Equal(t, int64(3), counters.PagesDiscovered)
	assert.Equal(t, int64(3), counters.PagesProcessed)
	assert.Equal(t, int64(3), counters.SnippetsExtracted)
	assert.Equal(t, int64(0), counters.Errors)

	ctx := context.Background()
	docs, err := st.DocumentsByJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Len(t, docs, 3)

	snippets, err := st.SnippetsByJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Len(t, snippets, 3)
	for _, s := range snippets {
		assert.NotEmpty(t, s.Code)
		assert.NotEmpty(t, s.Fingerprint)
	}

	// Frontier snapshot persists with every entry settled.
	entries, err := st.LoadFrontier(ctx, j.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.Equal(t, frontier.OutcomeFetched, e.Outcome)
	}
}

func TestRun_DepthBound(t *testing.T) {
	engine := newSiteEngine(map[string]page{
		"https://docs.example.com/start": {
			content: pageWithSnippet,
			links:   []string{"https://docs.example.com/level1"},
		},
		"https://docs.example.com/level1": {
			content: pageWithSnippet,
			links:   []string{"https://docs.example.com/level2"},
		},
		"https://docs.example.com/level2": {content: pageWithSnippet},
	})
	p, _ := newTestPipeline(t, engine)
	j := newCrawlJob(t, []string{"https://docs.example.com/start"}, nil)

	require.NoError(t, p.Run(context.Background(), j))

	assert.Equal(t, int64(2), j.Counters.Snapshot().PagesDiscovered)
	assert.Equal(t, 0, engine.fetchCount("https://docs.example.com/level2"),
		"links at depth 2 must not be fetched with MaxDepth 1")
}

func TestRun_PartialFailureIsolation(t *testing.T) {
	pages := map[string]page{}
	var links []string
	for i := 0; i < 9; i++ {
		loc := fmt.Sprintf("https://docs.example.com/page%d", i)
		pages[loc] = page{content: pageWithSnippet}
		links = append(links, loc)
	}
	pages["https://docs.example.com/broken"] = page{
		err: &fetch.PermanentError{Location: "https://docs.example.com/broken", StatusCode: 403},
	}
	links = append(links, "https://docs.example.com/broken")
	pages["https://docs.example.com/start"] = page{content: pageWithSnippet, links: links}

	p, _ := newTestPipeline(t, newSiteEngine(pages))
	j := newCrawlJob(t, []string{"https://docs.example.com/start"}, nil)

	require.NoError(t, p.Run(context.Background(), j), "one failing unit must not fail the job")

	counters := j.Counters.Snapshot()
	assert.Equal(t, int64(11), counters.PagesDiscovered)
	assert.Equal(t, int64(10), counters.PagesProcessed)
	assert.Equal(t, int64(1), counters.Errors)
}

func TestRun_UnchangedContentSkipped(t *testing.T) {
	pages := map[string]page{
		"https://docs.example.com/stable":  {content: pageWithSnippet},
		"https://docs.example.com/churned": {content: "# V1\n\n```go\nold := 1\nstill := 2\n```\n"},
	}
	engine := newSiteEngine(pages)
	p, st := newTestPipeline(t, engine)

	first := newCrawlJob(t, []string{"https://docs.example.com/stable", "https://docs.example.com/churned"}, nil)
	require.NoError(t, p.Run(context.Background(), first))
	assert.Equal(t, int64(2), first.Counters.Snapshot().PagesProcessed)

	// Second run: one page unchanged, one changed.
	engine.mu.Lock()
	engine.pages["https://docs.example.com/churned"] = page{content: "# V2\n\n```go\nnew := 1\nvalue := 2\n```\n"}
	engine.mu.Unlock()

	second := newCrawlJob(t, []string{"https://docs.example.com/stable", "https://docs.example.com/churned"}, nil)
	require.NoError(t, p.Run(context.Background(), second))

	counters := second.Counters.Snapshot()
	assert.Equal(t, int64(1), counters.PagesSkipped, "unchanged page should be deduped")
	assert.Equal(t, int64(1), counters.PagesProcessed, "changed page should be re-extracted")

	ctx := context.Background()
	docs, err := st.DocumentsByJob(ctx, second.ID)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	byLocation := map[string]string{}
	for _, d := range docs {
		byLocation[d.Location] = d.Status
	}
	assert.Equal(t, store.DocStatusUnchanged, byLocation["https://docs.example.com/stable"])
	assert.Equal(t, store.DocStatusFetched, byLocation["https://docs.example.com/churned"])

	snippets, err := st.SnippetsByJob(ctx, second.ID)
	require.NoError(t, err)
	require.Len(t, snippets, 1)
	assert.Contains(t, snippets[0].Code, "new := 1")
}

func TestRun_IgnoreHashForcesReextraction(t *testing.T) {
	engine := newSiteEngine(map[string]page{
		"https://docs.example.com/stable": {content: pageWithSnippet},
	})
	p, _ := newTestPipeline(t, engine)

	first := newCrawlJob(t, []string{"https://docs.example.com/stable"}, nil)
	require.NoError(t, p.Run(context.Background(), first))

	second := newCrawlJob(t, []string{"https://docs.example.com/stable"}, func(c *job.Config) {
		c.IgnoreHash = true
	})
	require.NoError(t, p.Run(context.Background(), second))

	counters := second.Counters.Snapshot()
	assert.Equal(t, int64(0), counters.PagesSkipped)
	assert.Equal(t, int64(1), counters.PagesProcessed)
}

func TestRun_CancellationStopsDispatch(t *testing.T) {
	pages := map[string]page{}
	var seeds []string
	for i := 0; i < 20; i++ {
		loc := fmt.Sprintf("https://docs.example.com/page%d", i)
		pages[loc] = page{content: pageWithSnippet}
		seeds = append(seeds, loc)
	}
	engine := newSiteEngine(pages)
	firstFetch := make(chan string)
	engine.onceCh = firstFetch

	p, st := newTestPipeline(t, engine)
	j := newCrawlJob(t, seeds, func(c *job.Config) { c.Concurrency = 1 })

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background(), j) }()

	<-firstFetch
	j.Cancel()
	require.NoError(t, <-done)

	counters := j.Counters.Snapshot()
	assert.Less(t, counters.PagesProcessed, int64(20), "cancellation should stop before the frontier drains")

	// Undispatched entries persist as pending, ready for resume.
	entries, err := st.LoadFrontier(context.Background(), j.ID)
	require.NoError(t, err)
	pending := 0
	for _, e := range entries {
		if e.Outcome == frontier.OutcomePending {
			pending++
		}
	}
	assert.Greater(t, pending, 0, "unfetched entries should remain pending in the snapshot")
}

func TestRun_ResumeSkipsSettledEntries(t *testing.T) {
	pages := map[string]page{}
	var seeds []string
	for i := 0; i < 5; i++ {
		loc := fmt.Sprintf("https://docs.example.com/page%d", i)
		pages[loc] = page{content: pageWithSnippet}
		seeds = append(seeds, loc)
	}
	engine := newSiteEngine(pages)
	firstFetch := make(chan string)
	engine.onceCh = firstFetch

	p, st := newTestPipeline(t, engine)
	j := newCrawlJob(t, seeds, func(c *job.Config) { c.Concurrency = 1 })

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background(), j) }()
	fetched := <-firstFetch
	j.Cancel()
	require.NoError(t, <-done)

	fetchedBefore := engine.fetchCount(fetched)

	// Resume under the same job identity: settled entries are not re-fetched.
	r2 := job.New(j.Config)
	r2.ID = j.ID
	r2.MarkResumed()
	require.NoError(t, p.Run(context.Background(), r2))

	assert.Equal(t, fetchedBefore, engine.fetchCount(fetched),
		"entries fetched before cancellation must not be re-fetched on resume")

	entries, err := st.LoadFrontier(context.Background(), j.ID)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, frontier.OutcomePending, e.Outcome, "all entries settle after resume")
	}
}

// failingStore fails every commit to exercise escalation.
type failingStore struct{}

func (failingStore) StoredFingerprint(context.Context, string) (string, error) {
	return "", store.ErrNotFound
}
func (failingStore) CommitDocument(context.Context, *store.DocumentRecord, []store.SnippetRecord) error {
	return errors.New("disk full")
}
func (failingStore) MarkDocumentUnchanged(context.Context, *store.DocumentRecord) error {
	return errors.New("disk full")
}
func (failingStore) SaveFrontier(context.Context, string, []frontier.Entry) error { return nil }
func (failingStore) LoadFrontier(context.Context, string) ([]frontier.Entry, error) {
	return nil, nil
}

func TestRun_SustainedPersistenceFailureEscalates(t *testing.T) {
	pages := map[string]page{}
	var seeds []string
	for i := 0; i < 8; i++ {
		loc := fmt.Sprintf("https://docs.example.com/page%d", i)
		pages[loc] = page{content: pageWithSnippet}
		seeds = append(seeds, loc)
	}

	p := New(Config{
		Engine:     newSiteEngine(pages),
		DelayFloor: fetch.NoDelayFloor,
		Store:      failingStore{},
	})
	j := newCrawlJob(t, seeds, func(c *job.Config) { c.Concurrency = 1 })

	err := p.Run(context.Background(), j)
	require.Error(t, err, "sustained persistence failure must fail the job")
	assert.Contains(t, err.Error(), "persistence failing repeatedly")
}

// gaugeEngine serves the same snippet page everywhere and records the peak
// number of simultaneous fetches.
type gaugeEngine struct {
	mu   sync.Mutex
	cur  int
	peak int
}

func (e *gaugeEngine) Fetch(ctx context.Context, location string) (*fetch.Result, error) {
	e.mu.Lock()
	e.cur++
	if e.cur > e.peak {
		e.peak = e.cur
	}
	e.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	e.mu.Lock()
	e.cur--
	e.mu.Unlock()

	return &fetch.Result{
		FinalLocation: location,
		Content:       []byte(pageWithSnippet),
		ContentType:   "text/markdown",
	}, nil
}

func TestRun_FetchConcurrencyBound(t *testing.T) {
	var seeds []string
	for i := 0; i < 12; i++ {
		seeds = append(seeds, fmt.Sprintf("https://docs.example.com/page%d", i))
	}

	engine := &gaugeEngine{}
	p, _ := newTestPipeline(t, engine)
	j := newCrawlJob(t, seeds, func(c *job.Config) { c.Concurrency = 3 })

	require.NoError(t, p.Run(context.Background(), j))
	assert.Equal(t, int64(12), j.Counters.Snapshot().PagesProcessed)

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.LessOrEqual(t, engine.peak, 3, "in-flight fetches must not exceed the configured concurrency")
	assert.Greater(t, engine.peak, 0)
}

// enrichedCompletion is a chat completion annotating exactly one snippet.
const enrichedCompletion = `{"id":"chatcmpl-test","object":"chat.completion","created":0,"model":"gpt-4o-mini",` +
	`"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant",` +
	`"content":"{\"snippets\":[{\"title\":\"Create the client\",\"description\":\"Builds a client.\",\"language\":\"go\"}]}"}}]}`

// TestRun_EnrichmentRequiresJobOptIn verifies the per-job flag gates the
// enrichment stage even when the service is globally enabled.
func TestRun_EnrichmentRequiresJobOptIn(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(enrichedCompletion))
	}))
	defer srv.Close()

	engine := newSiteEngine(map[string]page{
		"https://docs.example.com/guide": {content: pageWithSnippet},
	})
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	p := New(Config{
		Engine:     engine,
		DelayFloor: fetch.NoDelayFloor,
		Enricher: enrich.NewEnricher(enrich.StaticSettings(enrich.Settings{
			Enabled: true,
			APIKey:  "test-key",
			BaseURL: srv.URL,
		}), 1, nil),
		Store: st,
	})

	optOut := newCrawlJob(t, []string{"https://docs.example.com/guide"}, nil)
	require.NoError(t, p.Run(context.Background(), optOut))
	assert.Equal(t, int32(0), requests.Load(), "a job submitted without enrichment must not issue requests")

	ctx := context.Background()
	snippets, err := st.SnippetsByJob(ctx, optOut.ID)
	require.NoError(t, err)
	require.Len(t, snippets, 1)
	assert.Empty(t, snippets[0].Description)

	// The same pipeline enriches a job that opted in.
	optIn := newCrawlJob(t, []string{"https://docs.example.com/guide"}, func(c *job.Config) {
		c.Enrich = true
		c.IgnoreHash = true
	})
	require.NoError(t, p.Run(context.Background(), optIn))
	assert.Greater(t, requests.Load(), int32(0))

	snippets, err = st.SnippetsByJob(ctx, optIn.ID)
	require.NoError(t, err)
	require.Len(t, snippets, 1)
	assert.Equal(t, "Create the client", snippets[0].Title)
	assert.Equal(t, "Builds a client.", snippets[0].Description)
}

func TestRun_NoAdmissibleSeeds(t *testing.T) {
	p, _ := newTestPipeline(t, newSiteEngine(nil))
	j := newCrawlJob(t, []string{"https://docs.example.com/start"}, func(c *job.Config) {
		c.AllowedDomains = []string{"other.example.net"}
	})

	err := p.Run(context.Background(), j)
	require.Error(t, err, "a job whose seeds are all filtered out cannot run")
}
