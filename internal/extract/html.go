package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// uiAffordances matches elements injected by documentation sites into code
// blocks: copy buttons, line-number gutters, and similar chrome. They are
// removed before reading the literal text.
const uiAffordances = "button, .copy, .copy-button, .clipboard, .line-number, .line-numbers, .lineno, .linenos, .ln, .gutter"

// headingSelector matches elements usable as a title hint for a code block.
const headingSelector = "h1, h2, h3, h4, h5, h6"

// htmlStrategy extracts code blocks from rendered HTML documentation pages.
type htmlStrategy struct{}

// HTML returns the extraction strategy for structured-markup sources.
func HTML() Strategy { return &htmlStrategy{} }

func (s *htmlStrategy) Name() string { return "html" }

func (s *htmlStrategy) Extract(source []byte) ([]Snippet, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var snippets []Snippet
	doc.Find("pre").Each(func(_ int, pre *goquery.Selection) {
		if isGutterCell(pre) {
			return
		}

		code := literalText(pre)
		if significantLines(code) < MinSignificantLines {
			return
		}

		snippets = append(snippets, Snippet{
			Code:         code,
			Language:     languageOf(pre),
			TitleHint:    titleHint(pre),
			FilenameHint: filenameHint(pre),
			Context:      truncateContext(contextExcerpt(pre)),
			Fingerprint:  SnippetFingerprint(code),
		})
	})

	return collapseDuplicates(snippets), nil
}

// isGutterCell reports whether pre sits in the first cell of a two-column
// syntax-highlighter table, which holds line numbers rather than code.
func isGutterCell(pre *goquery.Selection) bool {
	td := pre.Closest("td")
	return td.Length() > 0 && td.Next().Length() > 0
}

// literalText returns the text content of a pre block with injected UI
// affordances stripped. Entity decoding is handled by the HTML parser;
// whitespace inside the block is preserved as written.
func literalText(pre *goquery.Selection) string {
	clone := pre.Clone()
	clone.Find(uiAffordances).Remove()
	return strings.TrimRight(clone.Text(), "\n")
}

// languageOf resolves the block's language from class conventions used by
// common highlighters (language-*, lang-*, highlight-*) or a data-lang
// attribute, checking the code element, the pre, and its wrapper.
func languageOf(pre *goquery.Selection) string {
	candidates := []*goquery.Selection{
		pre.Find("code").First(),
		pre,
		pre.Parent(),
		pre.Parent().Parent(),
	}
	for _, sel := range candidates {
		if sel.Length() == 0 {
			continue
		}
		if lang, ok := sel.Attr("data-lang"); ok && lang != "" {
			return strings.ToLower(lang)
		}
		if lang := languageFromClass(sel.AttrOr("class", "")); lang != "" {
			return lang
		}
	}
	return ""
}

var classPrefixes = []string{"language-", "lang-", "highlight-source-", "highlight-"}

func languageFromClass(class string) string {
	for _, c := range strings.Fields(class) {
		lc := strings.ToLower(c)
		for _, prefix := range classPrefixes {
			if rest := strings.TrimPrefix(lc, prefix); rest != lc && rest != "" {
				// "highlight" wrappers often carry bare helper classes; skip those
				if rest == "default" || rest == "chroma" {
					continue
				}
				return rest
			}
		}
	}
	return ""
}

// titleHint returns the nearest preceding heading, walking outward from the
// block until one is found among earlier siblings at any ancestor level.
func titleHint(pre *goquery.Selection) string {
	for cur := pre; cur.Length() > 0; cur = cur.Parent() {
		if h := cur.PrevAllFiltered(headingSelector).First(); h.Length() > 0 {
			return strings.TrimSpace(h.Text())
		}
	}
	return ""
}

// filenameHint reads an explicit filename attribute if the markup carries one.
func filenameHint(pre *goquery.Selection) string {
	for _, sel := range []*goquery.Selection{pre, pre.Find("code").First(), pre.Parent()} {
		if sel.Length() == 0 {
			continue
		}
		for _, attr := range []string{"data-filename", "data-title", "title"} {
			if v, ok := sel.Attr(attr); ok && v != "" {
				return v
			}
		}
	}
	return ""
}

// contextExcerpt captures the closest preceding paragraph as surrounding
// context for enrichment prompts.
func contextExcerpt(pre *goquery.Selection) string {
	for cur := pre; cur.Length() > 0; cur = cur.Parent() {
		if p := cur.PrevAllFiltered("p").First(); p.Length() > 0 {
			return strings.TrimSpace(p.Text())
		}
	}
	return ""
}
