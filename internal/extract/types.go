package extract

// MinSignificantLines is the minimum number of non-blank lines a code block
// must contain to be kept as a snippet. Filters out inline one-liners like
// `go get ...` fragments embedded in prose.
const MinSignificantLines = 2

// maxContextChars bounds the surrounding-context excerpt captured per snippet.
const maxContextChars = 300

// Snippet is one candidate code block extracted from a document.
type Snippet struct {
	Code         string // Exact code text, internal whitespace preserved
	Language     string // Detected or declared language, may be empty
	TitleHint    string // Nearest preceding heading or explicit caption
	FilenameHint string // Explicit filename attribute if the markup carries one
	Context      string // Surrounding-context excerpt (heading path or nearby prose)
	Line         int    // 1-based line of the block start in the source, 0 if unknown
	Fingerprint  string // Digest of the trimmed code, for within-document collapse
}

// significantLines counts non-blank lines in code.
func significantLines(code string) int {
	n := 0
	start := 0
	for i := 0; i <= len(code); i++ {
		if i == len(code) || code[i] == '\n' {
			if hasNonSpace(code[start:i]) {
				n++
			}
			start = i + 1
		}
	}
	return n
}

func hasNonSpace(line string) bool {
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case ' ', '\t', '\r':
		default:
			return true
		}
	}
	return false
}

// collapseDuplicates drops snippets whose fingerprint already appeared earlier
// in the same document. Identical blocks across documents are legitimate and
// handled elsewhere; repeated extraction within one page is not.
func collapseDuplicates(snippets []Snippet) []Snippet {
	seen := make(map[string]struct{}, len(snippets))
	out := snippets[:0]
	for _, s := range snippets {
		if _, dup := seen[s.Fingerprint]; dup {
			continue
		}
		seen[s.Fingerprint] = struct{}{}
		out = append(out, s)
	}
	return out
}

// lineAt returns the 1-based line number of byte offset in source.
func lineAt(source []byte, offset int) int {
	if offset > len(source) {
		offset = len(source)
	}
	line := 1
	for _, b := range source[:offset] {
		if b == '\n' {
			line++
		}
	}
	return line
}

func truncateContext(s string) string {
	if len(s) <= maxContextChars {
		return s
	}
	return s[:maxContextChars]
}
