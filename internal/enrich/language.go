package enrich

import "strings"

// DetectLanguage guesses a snippet's language when AI enrichment is disabled
// or has failed. A declared hint (fence info string, highlighter class) wins
// outright; otherwise a few high-signal syntax markers are checked.
func DetectLanguage(code, hint string) string {
	if h := normalizeHint(hint); h != "" {
		return h
	}

	trimmed := strings.TrimSpace(code)
	switch {
	case strings.HasPrefix(trimmed, "<?php"):
		return "php"
	case strings.HasPrefix(trimmed, "#!/bin/sh"), strings.HasPrefix(trimmed, "#!/bin/bash"),
		strings.HasPrefix(trimmed, "#!/usr/bin/env bash"), strings.HasPrefix(trimmed, "$ "):
		return "bash"
	case strings.HasPrefix(trimmed, "<"):
		return "html"
	case strings.Contains(code, "package ") && strings.Contains(code, "func "):
		return "go"
	case strings.Contains(code, "#include"):
		return "c"
	case strings.Contains(code, "fn main") || strings.Contains(code, "let mut "):
		return "rust"
	case strings.Contains(code, "public static void") || strings.Contains(code, "public class "):
		return "java"
	case strings.Contains(code, "def ") && strings.Contains(code, ":"):
		return "python"
	case strings.Contains(code, "func ") && strings.Contains(code, "let "):
		return "swift"
	case strings.Contains(code, "=>") || strings.Contains(code, "function ") ||
		strings.Contains(code, "const ") || strings.Contains(code, "console.log"):
		return "javascript"
	case hasSQLKeywords(trimmed):
		return "sql"
	case looksLikeJSON(trimmed):
		return "json"
	case looksLikeYAML(code):
		return "yaml"
	default:
		return ""
	}
}

var hintAliases = map[string]string{
	"golang": "go",
	"py":     "python",
	"js":     "javascript",
	"ts":     "typescript",
	"shell":  "bash",
	"sh":     "bash",
	"yml":    "yaml",
	"c++":    "cpp",
}

func normalizeHint(hint string) string {
	h := strings.ToLower(strings.TrimSpace(hint))
	if alias, ok := hintAliases[h]; ok {
		return alias
	}
	return h
}

func hasSQLKeywords(code string) bool {
	upper := strings.ToUpper(code)
	return strings.HasPrefix(upper, "SELECT ") || strings.HasPrefix(upper, "INSERT ") ||
		strings.HasPrefix(upper, "CREATE TABLE") || strings.HasPrefix(upper, "UPDATE ")
}

func looksLikeJSON(code string) bool {
	return (strings.HasPrefix(code, "{") && strings.HasSuffix(code, "}")) ||
		(strings.HasPrefix(code, "[") && strings.HasSuffix(code, "]"))
}

func looksLikeYAML(code string) bool {
	lines := 0
	keyed := 0
	for _, line := range strings.Split(code, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines++
		if idx := strings.Index(line, ": "); idx > 0 && !strings.ContainsAny(line[:idx], "({[") {
			keyed++
		}
	}
	return lines > 0 && keyed*2 > lines
}
