// Package source provides fetch engines for upload jobs: local files and
// directories, and GitHub repositories.
package source

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bull/docsnip/internal/fetch"
)

// supportedExt lists file extensions considered documentation content.
var supportedExt = map[string]struct{}{
	".md":       {},
	".markdown": {},
	".mdx":      {},
	".rst":      {},
	".txt":      {},
	".text":     {},
	".html":     {},
	".htm":      {},
}

// Supported reports whether path has a documentation file extension.
func Supported(path string) bool {
	_, ok := supportedExt[strings.ToLower(filepath.Ext(path))]
	return ok
}

// FileSource reads uploaded files and directories from the local filesystem.
type FileSource struct{}

// NewFileSource creates a local-file source.
func NewFileSource() *FileSource { return &FileSource{} }

// List expands a seed path into individual file locations. A file expands to
// itself; a directory expands to every supported file under it.
func (s *FileSource) List(location string) ([]string, error) {
	path := strings.TrimPrefix(location, "file://")

	info, err := os.Stat(path)
	if err != nil {
		return nil, &fetch.PermanentError{Location: location, Err: err}
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	walkErr := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && Supported(p) {
			files = append(files, p)
		}
		return nil
	})
	if walkErr != nil {
		return nil, &fetch.PermanentError{Location: location, Err: walkErr}
	}
	return files, nil
}

// Fetch reads one file's content. Read failures are permanent: retrying a
// missing or unreadable upload cannot succeed.
func (s *FileSource) Fetch(ctx context.Context, location string) (*fetch.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := strings.TrimPrefix(location, "file://")
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, &fetch.PermanentError{Location: location, Err: err}
	}
	return &fetch.Result{
		FinalLocation: location,
		Content:       content,
	}, nil
}
