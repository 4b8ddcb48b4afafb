// Package frontier maintains the set of pending and visited crawl units for
// one job. It is a visited-set-guarded BFS queue: entries are admitted once
// per normalized location, bounded by depth and the configured filters, and
// handed out in discovery order.
package frontier

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// Outcome records what happened to a frontier entry.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeFetched Outcome = "fetched"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Entry is one pending or visited unit of work.
type Entry struct {
	Location string // Normalized URL or file path
	Depth    int    // Hops from the seed that discovered it
	Parent   string // Location of the entry that discovered this one
	Outcome  Outcome

	dispatched bool
}

// Frontier owns the entries for one job. All methods are safe for concurrent
// use by the worker pool.
type Frontier struct {
	mu       sync.Mutex
	filter   *Filter
	entries  []*Entry
	seen     map[string]*Entry
	next     int
	inFlight int
}

// New creates a frontier guarded by the given filter.
func New(filter *Filter) *Frontier {
	return &Frontier{
		filter: filter,
		seen:   make(map[string]*Entry),
	}
}

// Enqueue admits a candidate location at the given depth. Candidates beyond
// the depth bound, rejected by the filter, or already enqueued are silently
// dropped. Returns true when the entry was admitted.
func (f *Frontier) Enqueue(location string, depth int, parent string) bool {
	normalized, err := Normalize(location)
	if err != nil {
		return false
	}
	if !f.filter.Allow(normalized, depth) {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, dup := f.seen[normalized]; dup {
		return false
	}
	entry := &Entry{
		Location: normalized,
		Depth:    depth,
		Parent:   parent,
		Outcome:  OutcomePending,
	}
	f.seen[normalized] = entry
	f.entries = append(f.entries, entry)
	return true
}

// NextBatch returns up to n not-yet-dispatched entries in discovery order
// and counts them as in flight until their outcome is recorded.
func (f *Frontier) NextBatch(n int) []*Entry {
	f.mu.Lock()
	defer f.mu.Unlock()

	var batch []*Entry
	for f.next < len(f.entries) && len(batch) < n {
		entry := f.entries[f.next]
		f.next++
		if entry.dispatched {
			continue
		}
		entry.dispatched = true
		f.inFlight++
		batch = append(batch, entry)
	}
	return batch
}

// MarkFetched records a successful fetch for the entry at location.
func (f *Frontier) MarkFetched(location string) { f.settle(location, OutcomeFetched) }

// MarkSkipped records a dedup skip for the entry at location.
func (f *Frontier) MarkSkipped(location string) { f.settle(location, OutcomeSkipped) }

// MarkFailed records a fetch or processing failure for the entry at location.
func (f *Frontier) MarkFailed(location string) { f.settle(location, OutcomeFailed) }

func (f *Frontier) settle(location string, outcome Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.seen[location]
	if !ok || !entry.dispatched || entry.Outcome != OutcomePending {
		return
	}
	entry.Outcome = outcome
	f.inFlight--
}

// Done reports whether no entries remain to dispatch and none are in flight.
func (f *Frontier) Done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.undispatchedLocked() == 0 && f.inFlight == 0
}

func (f *Frontier) undispatchedLocked() int {
	n := 0
	for i := f.next; i < len(f.entries); i++ {
		if !f.entries[i].dispatched {
			n++
		}
	}
	return n
}

// InFlight returns the number of dispatched entries awaiting an outcome.
func (f *Frontier) InFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight
}

// Discovered returns the number of entries ever admitted.
func (f *Frontier) Discovered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// Snapshot returns a copy of all entries for persistence.
func (f *Frontier) Snapshot() []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Entry, len(f.entries))
	for i, e := range f.entries {
		out[i] = *e
	}
	return out
}

// Restore re-seeds the frontier from a persisted snapshot. Entries already
// fetched or skipped stay settled so resume does not re-fetch them; failed
// and pending entries are queued again.
func (f *Frontier) Restore(entries []Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range entries {
		e := entries[i]
		if _, dup := f.seen[e.Location]; dup {
			continue
		}
		restored := &Entry{
			Location: e.Location,
			Depth:    e.Depth,
			Parent:   e.Parent,
			Outcome:  e.Outcome,
		}
		if e.Outcome == OutcomeFetched || e.Outcome == OutcomeSkipped {
			restored.dispatched = true
		} else {
			restored.Outcome = OutcomePending
		}
		f.seen[e.Location] = restored
		f.entries = append(f.entries, restored)
	}
}

// Normalize canonicalizes a location for exact-match dedup: scheme and host
// lowercased, fragment and trailing slash stripped, query order preserved.
// Non-URL locations (local file paths) are returned trimmed as-is.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty location")
	}
	if !strings.Contains(raw, "://") && !strings.HasPrefix(raw, "github:") {
		return strings.TrimRight(raw, "/"), nil
	}
	if strings.HasPrefix(raw, "github:") {
		return strings.TrimRight(raw, "/"), nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse location: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "file" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String(), nil
}
