package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

// markdownStrategy extracts fenced and indented code blocks from markdown,
// attaching the heading hierarchy above each block as context.
type markdownStrategy struct {
	parser goldmark.Markdown
}

// Markdown returns the extraction strategy for markdown sources.
func Markdown() Strategy {
	md := goldmark.New(
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)
	return &markdownStrategy{parser: md}
}

func (s *markdownStrategy) Name() string { return "markdown" }

func (s *markdownStrategy) Extract(source []byte) ([]Snippet, error) {
	reader := text.NewReader(source)
	doc := s.parser.Parser().Parse(reader)

	paths, titles, err := headingIndex(doc, source)
	if err != nil {
		return nil, fmt.Errorf("inspect headings: %w", err)
	}

	var snippets []Snippet
	curPath, curTitle := "", ""

	walkErr := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			if id, ok := node.AttributeString("id"); ok {
				key := string(id.([]byte))
				if p, found := paths[key]; found {
					curPath = p
					curTitle = titles[key]
				}
			}
		case *ast.FencedCodeBlock:
			snippets = appendBlock(snippets, source, node.Lines(), string(node.Language(source)), curTitle, curPath)
		case *ast.CodeBlock:
			snippets = appendBlock(snippets, source, node.Lines(), "", curTitle, curPath)
		}
		return ast.WalkContinue, nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walk markdown: %w", walkErr)
	}

	return collapseDuplicates(snippets), nil
}

// appendBlock materializes a code block's lines into a snippet candidate,
// dropping it when below the significant-line threshold.
func appendBlock(snippets []Snippet, source []byte, lines *text.Segments, lang, title, headerPath string) []Snippet {
	if lines.Len() == 0 {
		return snippets
	}

	var buf bytes.Buffer
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(source))
	}
	code := strings.TrimRight(buf.String(), "\n")
	if significantLines(code) < MinSignificantLines {
		return snippets
	}

	return append(snippets, Snippet{
		Code:        code,
		Language:    lang,
		TitleHint:   title,
		Context:     truncateContext(headerPath),
		Line:        lineAt(source, lines.At(0).Start),
		Fingerprint: SnippetFingerprint(code),
	})
}

// headingIndex builds heading-ID lookup tables from the document outline:
// ID to full hierarchy path ("# Install > ## Linux") and ID to plain title.
func headingIndex(doc ast.Node, source []byte) (map[string]string, map[string]string, error) {
	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),
		toc.MaxDepth(6),
		toc.Compact(true),
	)
	if err != nil {
		return nil, nil, err
	}

	paths := make(map[string]string)
	titles := make(map[string]string)
	indexItems(tree.Items, nil, paths, titles)
	return paths, titles, nil
}

func indexItems(items toc.Items, ancestors []string, paths, titles map[string]string) {
	for _, item := range items {
		current := append(ancestors, string(item.Title))
		if id := string(item.ID); id != "" {
			paths[id] = formatHeadingPath(current)
			titles[id] = string(item.Title)
		}
		if len(item.Items) > 0 {
			indexItems(item.Items, current, paths, titles)
		}
	}
}

// formatHeadingPath builds a heading hierarchy string.
// Example: ["Installation", "Prerequisites"] -> "# Installation > ## Prerequisites"
func formatHeadingPath(path []string) string {
	if len(path) == 0 {
		return ""
	}
	parts := make([]string, 0, len(path))
	for i, segment := range path {
		prefix := strings.Repeat("#", i+1)
		parts = append(parts, fmt.Sprintf("%s %s", prefix, segment))
	}
	return strings.Join(parts, " > ")
}
