package frontier

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
)

// Filter decides which candidate locations a job's frontier may admit.
//
// A URL candidate passes when its depth is within the bound, its host is in
// the domain allowlist (exact host or suffix match), it matches every include
// pattern when any are configured, and it matches no exclude pattern. Domain
// filter and include patterns are combined with AND semantics: the patterns
// shape paths inside the allowed hosts, they cannot widen the host boundary.
type Filter struct {
	maxDepth int
	domains  []string
	include  []glob.Glob
	exclude  []glob.Glob
}

// NewFilter compiles a filter. Pattern syntax is glob (gobwas/glob), matched
// against the full normalized location.
func NewFilter(maxDepth int, domains, includePatterns, excludePatterns []string) (*Filter, error) {
	f := &Filter{maxDepth: maxDepth}
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			f.domains = append(f.domains, d)
		}
	}
	for _, p := range includePatterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile include pattern %q: %w", p, err)
		}
		f.include = append(f.include, g)
	}
	for _, p := range excludePatterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile exclude pattern %q: %w", p, err)
		}
		f.exclude = append(f.exclude, g)
	}
	return f, nil
}

// Allow reports whether the normalized location may enter the frontier at
// the given depth.
func (f *Filter) Allow(normalized string, depth int) bool {
	if depth > f.maxDepth {
		return false
	}

	// Non-URL locations (upload paths) are not subject to URL filters.
	if !strings.Contains(normalized, "://") {
		return true
	}

	u, err := url.Parse(normalized)
	if err != nil {
		return false
	}
	if !f.hostAllowed(u.Hostname()) {
		return false
	}
	for _, g := range f.include {
		if !g.Match(normalized) {
			return false
		}
	}
	for _, g := range f.exclude {
		if g.Match(normalized) {
			return false
		}
	}
	return true
}

func (f *Filter) hostAllowed(host string) bool {
	if len(f.domains) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, d := range f.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
