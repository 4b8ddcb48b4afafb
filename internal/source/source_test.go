package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/bull/docsnip/internal/fetch"
)

// TestSupported covers the documentation extension set.
func TestSupported(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"README.md", true},
		{"guide.MDX", true},
		{"index.rst", true},
		{"notes.txt", true},
		{"page.html", true},
		{"main.go", false},
		{"archive.tar.gz", false},
		{"Makefile", false},
	}
	for _, tt := range tests {
		if got := Supported(tt.path); got != tt.want {
			t.Errorf("Supported(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

// TestFileSource_ListDirectory verifies directory expansion filters
// unsupported files.
func TestFileSource_ListDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "readme.md", "# readme")
	writeFile(t, dir, "main.go", "package main")
	writeFile(t, filepath.Join(dir, "sub"), "guide.rst", "Guide\n=====")

	files, err := NewFileSource().List(dir)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	sort.Strings(files)

	want := []string{
		filepath.Join(dir, "readme.md"),
		filepath.Join(dir, "sub", "guide.rst"),
	}
	if len(files) != len(want) {
		t.Fatalf("Expected %d files, got %d: %v", len(want), len(files), files)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("File %d: expected %s, got %s", i, want[i], files[i])
		}
	}
}

// TestFileSource_ListSingleFile verifies a file seed expands to itself.
func TestFileSource_ListSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "doc.md", "# doc")

	files, err := NewFileSource().List(path)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(files) != 1 || files[0] != path {
		t.Errorf("Expected [%s], got %v", path, files)
	}
}

// TestFileSource_ListMissing verifies a missing path is a permanent failure.
func TestFileSource_ListMissing(t *testing.T) {
	_, err := NewFileSource().List("/does/not/exist")
	if err == nil {
		t.Fatal("Expected error for missing path")
	}
	var pe *fetch.PermanentError
	if !errors.As(err, &pe) {
		t.Errorf("Expected PermanentError, got %T", err)
	}
}

// TestFileSource_Fetch verifies content reads and the file:// prefix.
func TestFileSource_Fetch(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "doc.md", "# Title\n\ncontent here\n")

	result, err := NewFileSource().Fetch(context.Background(), "file://"+path)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(result.Content) != "# Title\n\ncontent here\n" {
		t.Errorf("Unexpected content %q", result.Content)
	}

	_, err = NewFileSource().Fetch(context.Background(), filepath.Join(dir, "missing.md"))
	var pe *fetch.PermanentError
	if !errors.As(err, &pe) {
		t.Errorf("Expected PermanentError for missing file, got %v", err)
	}
}

// TestSplitLocation covers repository location parsing.
func TestSplitLocation(t *testing.T) {
	owner, repo, rest, err := splitLocation("github:acme/widgets")
	if err != nil {
		t.Fatalf("splitLocation failed: %v", err)
	}
	if owner != "acme" || repo != "widgets" || rest != "" {
		t.Errorf("Got %s/%s path %q", owner, repo, rest)
	}

	owner, repo, rest, err = splitLocation("github:acme/widgets/docs/guide.md")
	if err != nil {
		t.Fatalf("splitLocation failed: %v", err)
	}
	if owner != "acme" || repo != "widgets" || rest != "docs/guide.md" {
		t.Errorf("Got %s/%s path %q", owner, repo, rest)
	}

	for _, bad := range []string{"github:", "github:ownerOnly", "github:/repo"} {
		if _, _, _, err := splitLocation(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

// TestJoinLocation verifies round-tripping with splitLocation.
func TestJoinLocation(t *testing.T) {
	loc := joinLocation("owner", "repo", "docs/a.md")
	if loc != "github:owner/repo/docs/a.md" {
		t.Errorf("Unexpected location %s", loc)
	}
	if joinLocation("owner", "repo", "") != "github:owner/repo" {
		t.Errorf("Unexpected bare location %s", joinLocation("owner", "repo", ""))
	}
	if !IsGitHubLocation(loc) {
		t.Error("Joined location should be recognized")
	}
	if IsGitHubLocation("https://github.com/owner/repo") {
		t.Error("Plain URLs are not repository locations")
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
