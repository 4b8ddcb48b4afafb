package extract

import (
	"path"
	"strings"
)

// Strategy extracts candidate snippets from one kind of source content.
// The set of strategies is closed: structured HTML, markdown, reST, and
// plain indented text all yield the same candidate shape.
type Strategy interface {
	Name() string
	Extract(source []byte) ([]Snippet, error)
}

// ForContent selects the extraction strategy for a fetched or uploaded unit
// based on its location and reported content type.
func ForContent(location, contentType string) Strategy {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "text/html"), strings.Contains(ct, "application/xhtml"):
		return HTML()
	case strings.Contains(ct, "markdown"):
		return Markdown()
	}

	switch strings.ToLower(path.Ext(stripQuery(location))) {
	case ".md", ".markdown", ".mdx":
		return Markdown()
	case ".rst":
		return ReST()
	case ".html", ".htm":
		return HTML()
	case ".txt", ".text", "":
		return PlainText()
	default:
		return PlainText()
	}
}

func stripQuery(location string) string {
	if i := strings.IndexByte(location, '?'); i >= 0 {
		return location[:i]
	}
	return location
}
