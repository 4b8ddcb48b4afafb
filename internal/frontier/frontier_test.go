package frontier

import (
	"testing"
)

func mustFilter(t *testing.T, maxDepth int, domains, include, exclude []string) *Filter {
	t.Helper()
	f, err := NewFilter(maxDepth, domains, include, exclude)
	if err != nil {
		t.Fatalf("NewFilter failed: %v", err)
	}
	return f
}

// TestNormalize covers canonicalization rules.
func TestNormalize(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{"HTTPS://Docs.Example.COM/Guide/", "https://docs.example.com/Guide", false},
		{"https://example.com/page#section", "https://example.com/page", false},
		{"https://example.com/a?b=1&c=2", "https://example.com/a?b=1&c=2", false},
		{"  https://example.com/x  ", "https://example.com/x", false},
		{"/var/docs/readme.md", "/var/docs/readme.md", false},
		{"/var/docs/", "/var/docs", false},
		{"github:owner/repo/docs/", "github:owner/repo/docs", false},
		{"ftp://example.com/file", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := Normalize(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Normalize(%q): expected error, got %q", tt.raw, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Normalize(%q) failed: %v", tt.raw, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

// TestEnqueue_DedupAndDepth verifies visited-set dedup and the depth bound.
func TestEnqueue_DedupAndDepth(t *testing.T) {
	f := New(mustFilter(t, 1, nil, nil, nil))

	if !f.Enqueue("https://example.com/a", 0, "") {
		t.Error("First enqueue should be admitted")
	}
	if f.Enqueue("https://example.com/a/", 0, "") {
		t.Error("Normalized duplicate should be rejected")
	}
	if f.Enqueue("https://EXAMPLE.com/a#frag", 0, "") {
		t.Error("Case and fragment variant should be rejected as duplicate")
	}
	if !f.Enqueue("https://example.com/b", 1, "https://example.com/a") {
		t.Error("Depth 1 should be within a maxDepth of 1")
	}
	if f.Enqueue("https://example.com/c", 2, "https://example.com/b") {
		t.Error("Depth 2 should exceed a maxDepth of 1")
	}
	if f.Discovered() != 2 {
		t.Errorf("Expected 2 discovered entries, got %d", f.Discovered())
	}
}

// TestCrawlScenario models three seeds at depth 1 with a domain filter:
// two seeds sharing a page, one off-domain link, one duplicate link.
func TestCrawlScenario(t *testing.T) {
	f := New(mustFilter(t, 1, []string{"docs.example.com"}, nil, nil))

	seeds := []string{
		"https://docs.example.com/a",
		"https://docs.example.com/b",
		"https://docs.example.com/c",
	}
	for _, s := range seeds {
		if !f.Enqueue(s, 0, "") {
			t.Fatalf("Seed %s rejected", s)
		}
	}

	// Page a links to a shared page and an off-domain page.
	f.Enqueue("https://docs.example.com/shared", 1, seeds[0])
	f.Enqueue("https://elsewhere.com/x", 1, seeds[0])
	// Page b links to the same shared page and one new page.
	f.Enqueue("https://docs.example.com/shared", 1, seeds[1])
	f.Enqueue("https://docs.example.com/d", 1, seeds[1])

	if f.Discovered() != 5 {
		t.Errorf("Expected 5 admitted entries, got %d", f.Discovered())
	}
}

// TestNextBatch_FIFO verifies discovery-order dispatch and in-flight
// accounting against Done.
func TestNextBatch_FIFO(t *testing.T) {
	f := New(mustFilter(t, 0, nil, nil, nil))
	f.Enqueue("https://example.com/1", 0, "")
	f.Enqueue("https://example.com/2", 0, "")
	f.Enqueue("https://example.com/3", 0, "")

	batch := f.NextBatch(2)
	if len(batch) != 2 {
		t.Fatalf("Expected batch of 2, got %d", len(batch))
	}
	if batch[0].Location != "https://example.com/1" || batch[1].Location != "https://example.com/2" {
		t.Errorf("Batch out of discovery order: %s, %s", batch[0].Location, batch[1].Location)
	}
	if f.Done() {
		t.Error("Done should be false with entries in flight and one pending")
	}
	if f.InFlight() != 2 {
		t.Errorf("Expected 2 in flight, got %d", f.InFlight())
	}

	f.MarkFetched(batch[0].Location)
	f.MarkFailed(batch[1].Location)

	rest := f.NextBatch(10)
	if len(rest) != 1 {
		t.Fatalf("Expected 1 remaining entry, got %d", len(rest))
	}
	if f.Done() {
		t.Error("Done should be false while the last entry is in flight")
	}
	f.MarkSkipped(rest[0].Location)
	if !f.Done() {
		t.Error("Done should be true once all entries are settled")
	}
}

// TestSettle_Idempotent verifies double settlement does not corrupt the
// in-flight count.
func TestSettle_Idempotent(t *testing.T) {
	f := New(mustFilter(t, 0, nil, nil, nil))
	f.Enqueue("https://example.com/1", 0, "")

	batch := f.NextBatch(1)
	f.MarkFetched(batch[0].Location)
	f.MarkFailed(batch[0].Location) // no-op, already settled

	if !f.Done() {
		t.Error("Done should be true after single settlement")
	}
	if batch[0].Outcome != OutcomeFetched {
		t.Errorf("Outcome overwritten to %s", batch[0].Outcome)
	}
}

// TestSnapshotRestore verifies resume semantics: fetched and skipped stay
// settled, failed and pending are re-queued.
func TestSnapshotRestore(t *testing.T) {
	f := New(mustFilter(t, 1, nil, nil, nil))
	f.Enqueue("https://example.com/done", 0, "")
	f.Enqueue("https://example.com/skip", 0, "")
	f.Enqueue("https://example.com/broken", 0, "")
	f.Enqueue("https://example.com/waiting", 1, "https://example.com/done")

	for _, e := range f.NextBatch(3) {
		switch e.Location {
		case "https://example.com/done":
			f.MarkFetched(e.Location)
		case "https://example.com/skip":
			f.MarkSkipped(e.Location)
		case "https://example.com/broken":
			f.MarkFailed(e.Location)
		}
	}

	snap := f.Snapshot()
	if len(snap) != 4 {
		t.Fatalf("Expected 4 entries in snapshot, got %d", len(snap))
	}

	restored := New(mustFilter(t, 1, nil, nil, nil))
	restored.Restore(snap)

	var pending []string
	for {
		batch := restored.NextBatch(10)
		if len(batch) == 0 {
			break
		}
		for _, e := range batch {
			pending = append(pending, e.Location)
			restored.MarkFetched(e.Location)
		}
	}

	if len(pending) != 2 {
		t.Fatalf("Expected 2 re-queued entries, got %d: %v", len(pending), pending)
	}
	want := map[string]bool{
		"https://example.com/broken":  true,
		"https://example.com/waiting": true,
	}
	for _, loc := range pending {
		if !want[loc] {
			t.Errorf("Unexpected re-queued entry %s", loc)
		}
	}
	if !restored.Done() {
		t.Error("Restored frontier should be done after settling re-queued entries")
	}
}

// TestFilter_DomainsAndPatterns verifies AND semantics between the domain
// allowlist and include patterns, and exclude precedence.
func TestFilter_DomainsAndPatterns(t *testing.T) {
	f := mustFilter(t, 3,
		[]string{"example.com"},
		[]string{"https://*example.com/docs/*"},
		[]string{"*/docs/internal/*"},
	)

	tests := []struct {
		loc  string
		want bool
	}{
		{"https://example.com/docs/guide", true},
		{"https://api.example.com/docs/ref", true},
		{"https://example.com/blog/post", false},         // include patterns miss
		{"https://evil.com/docs/guide", false},           // host not allowed
		{"https://example.com/docs/internal/x", false},   // exclude wins
		{"/uploads/readme.md", true},                     // non-URL bypasses URL filters
	}
	for _, tt := range tests {
		if got := f.Allow(tt.loc, 0); got != tt.want {
			t.Errorf("Allow(%q) = %v, want %v", tt.loc, got, tt.want)
		}
	}
}

// TestFilter_SubdomainSuffix verifies suffix matching does not allow
// lookalike hosts.
func TestFilter_SubdomainSuffix(t *testing.T) {
	f := mustFilter(t, 0, []string{"example.com"}, nil, nil)

	if !f.Allow("https://sub.example.com/x", 0) {
		t.Error("Subdomain should be allowed")
	}
	if f.Allow("https://notexample.com/x", 0) {
		t.Error("Lookalike host must not match the suffix")
	}
}
