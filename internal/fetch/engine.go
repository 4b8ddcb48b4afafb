package fetch

import "context"

// Result is the outcome of fetching one location.
type Result struct {
	FinalLocation string   // Location after redirects
	Content       []byte   // Raw content
	ContentType   string   // Reported media type, may be empty
	Links         []string // Absolute links discovered in the content
}

// Engine retrieves raw content for a location. The orchestrator treats it as
// opaque: implementations cover plain HTTP, local files, and repository
// sources. Failures must be distinguishable as transient or permanent via
// the error types in this package.
type Engine interface {
	Fetch(ctx context.Context, location string) (*Result, error)
}
