package extract

import (
	"regexp"
	"strings"
)

var directiveRe = regexp.MustCompile(`^(\s*)\.\.\s+(?:code-block|code|sourcecode)::\s*(\S*)\s*$`)

// restStrategy extracts code from reStructuredText: explicit code-block
// directives and `::` literal blocks, both yielding the common snippet shape.
type restStrategy struct{}

// ReST returns the extraction strategy for reStructuredText sources.
func ReST() Strategy { return &restStrategy{} }

func (s *restStrategy) Name() string { return "rest" }

func (s *restStrategy) Extract(source []byte) ([]Snippet, error) {
	lines := strings.Split(string(source), "\n")

	var snippets []Snippet
	lastHeading := ""

	i := 0
	for i < len(lines) {
		line := lines[i]

		if i+1 < len(lines) && isSectionUnderline(line, lines[i+1]) {
			lastHeading = strings.TrimSpace(line)
			i += 2
			continue
		}

		if m := directiveRe.FindStringSubmatch(line); m != nil {
			base := len(m[1])
			block, startLine, next := captureIndented(lines, i+1, base, true)
			if code := strings.Join(block, "\n"); significantLines(code) >= MinSignificantLines {
				snippets = append(snippets, Snippet{
					Code:        code,
					Language:    strings.ToLower(m[2]),
					TitleHint:   lastHeading,
					Context:     truncateContext(lastHeading),
					Line:        startLine,
					Fingerprint: SnippetFingerprint(code),
				})
			}
			i = next
			continue
		}

		trimmed := strings.TrimRight(line, " \t")
		if strings.HasSuffix(trimmed, "::") && strings.TrimSpace(trimmed) != "::" && !strings.HasPrefix(strings.TrimSpace(line), "..") {
			base := indentWidth(line)
			block, startLine, next := captureIndented(lines, i+1, base, false)
			if code := strings.Join(block, "\n"); significantLines(code) >= MinSignificantLines {
				snippets = append(snippets, Snippet{
					Code:        code,
					TitleHint:   lastHeading,
					Context:     truncateContext(strings.TrimSuffix(strings.TrimSpace(trimmed), "::")),
					Line:        startLine,
					Fingerprint: SnippetFingerprint(code),
				})
			}
			i = next
			continue
		}

		i++
	}

	return collapseDuplicates(snippets), nil
}

// captureIndented gathers the indented block following position start.
// Lines indented deeper than base belong to the block; a non-blank line at or
// below base indentation ends it. Directive option lines (":linenos:" style)
// are skipped when skipOptions is set. Returns the dedented block, the
// 1-based line number of its first line, and the scan position after it.
func captureIndented(lines []string, start, base int, skipOptions bool) ([]string, int, int) {
	i := start
	for i < len(lines) && isBlankLine(lines[i]) {
		i++
	}
	if skipOptions {
		for i < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[i]), ":") && indentWidth(lines[i]) > base {
			i++
		}
		for i < len(lines) && isBlankLine(lines[i]) {
			i++
		}
	}

	startLine := i + 1
	var block []string
	for i < len(lines) {
		line := lines[i]
		if isBlankLine(line) {
			block = append(block, "")
			i++
			continue
		}
		if indentWidth(line) <= base {
			break
		}
		block = append(block, line)
		i++
	}

	// Drop trailing blanks accumulated past the block end.
	for len(block) > 0 && block[len(block)-1] == "" {
		block = block[:len(block)-1]
	}

	return dedent(block), startLine, i
}

// plainTextStrategy extracts fixed-width indented runs from plain text files.
type plainTextStrategy struct{}

// PlainText returns the extraction strategy for unstructured text sources.
func PlainText() Strategy { return &plainTextStrategy{} }

func (s *plainTextStrategy) Name() string { return "plaintext" }

const plainIndent = 4

func (s *plainTextStrategy) Extract(source []byte) ([]Snippet, error) {
	lines := strings.Split(string(source), "\n")

	var snippets []Snippet
	i := 0
	for i < len(lines) {
		if !isIndentedCode(lines[i]) {
			i++
			continue
		}

		startLine := i + 1
		var block []string
		for i < len(lines) && (isIndentedCode(lines[i]) || isBlankLine(lines[i])) {
			if isBlankLine(lines[i]) {
				block = append(block, "")
			} else {
				block = append(block, lines[i])
			}
			i++
		}
		for len(block) > 0 && block[len(block)-1] == "" {
			block = block[:len(block)-1]
		}

		if code := strings.Join(dedent(block), "\n"); significantLines(code) >= MinSignificantLines {
			snippets = append(snippets, Snippet{
				Code:        code,
				Line:        startLine,
				Fingerprint: SnippetFingerprint(code),
			})
		}
	}

	return collapseDuplicates(snippets), nil
}

func isIndentedCode(line string) bool {
	if strings.HasPrefix(line, "\t") {
		return true
	}
	return indentWidth(line) >= plainIndent && !isBlankLine(line)
}

func isBlankLine(line string) bool { return strings.TrimSpace(line) == "" }

// indentWidth counts leading whitespace, expanding tabs to 4 columns.
func indentWidth(line string) int {
	w := 0
	for _, r := range line {
		switch r {
		case ' ':
			w++
		case '\t':
			w += 4
		default:
			return w
		}
	}
	return w
}

// dedent strips the common leading indentation from a block, preserving the
// relative indentation of its lines.
func dedent(block []string) []string {
	minIndent := -1
	for _, line := range block {
		if line == "" {
			continue
		}
		if w := indentWidth(line); minIndent < 0 || w < minIndent {
			minIndent = w
		}
	}
	if minIndent <= 0 {
		return block
	}

	out := make([]string, len(block))
	for i, line := range block {
		out[i] = stripIndent(line, minIndent)
	}
	return out
}

func stripIndent(line string, width int) string {
	stripped := 0
	for i, r := range line {
		if stripped >= width {
			return line[i:]
		}
		switch r {
		case ' ':
			stripped++
		case '\t':
			stripped += 4
		default:
			return line[i:]
		}
	}
	return ""
}

// isSectionUnderline reports whether next is a reST section underline for
// the title text above it.
func isSectionUnderline(title, next string) bool {
	t := strings.TrimSpace(title)
	u := strings.TrimRight(next, " \t")
	if t == "" || len(u) < 2 || len(u) < len(t) {
		return false
	}
	c := u[0]
	if !strings.ContainsRune(`=-~^"'#*+.`, rune(c)) {
		return false
	}
	for i := 1; i < len(u); i++ {
		if u[i] != c {
			return false
		}
	}
	return true
}
