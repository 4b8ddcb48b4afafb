package source

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v81/github"

	"github.com/bull/docsnip/internal/fetch"
)

// locationPrefix marks GitHub repository locations:
// "github:owner/repo" or "github:owner/repo/docs/guide.md".
const locationPrefix = "github:"

// GitHubSource reads documentation files from a GitHub repository for upload
// jobs. Rate limits are handled transparently with automatic waiting.
type GitHubSource struct {
	client *github.Client
}

// NewGitHubSource creates a GitHub source. If GITHUB_TOKEN is set the client
// is authenticated for higher rate limits.
func NewGitHubSource() (*GitHubSource, error) {
	rateLimiter, err := github_ratelimit.NewRateLimitWaiterClient(nil)
	if err != nil {
		return nil, fmt.Errorf("create rate limit client: %w", err)
	}

	client := github.NewClient(rateLimiter)
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		client = client.WithAuthToken(token)
	}
	return &GitHubSource{client: client}, nil
}

// IsGitHubLocation reports whether location addresses a GitHub repository.
func IsGitHubLocation(location string) bool {
	return strings.HasPrefix(location, locationPrefix)
}

// List expands a repository seed into per-file locations by recursively
// traversing the repository tree under the seed's base path.
func (s *GitHubSource) List(ctx context.Context, location string) ([]string, error) {
	owner, repo, base, err := splitLocation(location)
	if err != nil {
		return nil, &fetch.PermanentError{Location: location, Err: err}
	}
	return s.listRecursive(ctx, owner, repo, base)
}

func (s *GitHubSource) listRecursive(ctx context.Context, owner, repo, dir string) ([]string, error) {
	_, dirContents, _, err := s.client.Repositories.GetContents(ctx, owner, repo, dir, nil)
	if err != nil {
		return nil, classifyGitHub(joinLocation(owner, repo, dir), err)
	}

	var files []string
	for _, item := range dirContents {
		if item.Type == nil || item.Path == nil {
			continue
		}
		switch *item.Type {
		case "file":
			if Supported(*item.Path) {
				files = append(files, joinLocation(owner, repo, *item.Path))
			}
		case "dir":
			sub, err := s.listRecursive(ctx, owner, repo, *item.Path)
			if err != nil {
				return nil, err
			}
			files = append(files, sub...)
		}
	}
	return files, nil
}

// Fetch retrieves one file's content from the repository.
func (s *GitHubSource) Fetch(ctx context.Context, location string) (*fetch.Result, error) {
	owner, repo, filePath, err := splitLocation(location)
	if err != nil {
		return nil, &fetch.PermanentError{Location: location, Err: err}
	}

	fileContent, _, _, err := s.client.Repositories.GetContents(ctx, owner, repo, filePath, nil)
	if err != nil {
		return nil, classifyGitHub(location, err)
	}
	if fileContent == nil {
		return nil, &fetch.PermanentError{Location: location, Err: fmt.Errorf("no file content for %s", filePath)}
	}

	content, err := base64.StdEncoding.DecodeString(*fileContent.Content)
	if err != nil {
		return nil, &fetch.PermanentError{Location: location, Err: fmt.Errorf("decode content: %w", err)}
	}

	return &fetch.Result{
		FinalLocation: location,
		Content:       content,
	}, nil
}

// splitLocation parses "github:owner/repo[/path]" into its parts.
func splitLocation(location string) (owner, repo, rest string, err error) {
	trimmed := strings.TrimPrefix(location, locationPrefix)
	parts := strings.SplitN(trimmed, "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", fmt.Errorf("invalid github location %q, want github:owner/repo[/path]", location)
	}
	if len(parts) == 3 {
		rest = parts[2]
	}
	return parts[0], parts[1], rest, nil
}

func joinLocation(owner, repo, p string) string {
	if p == "" {
		return locationPrefix + path.Join(owner, repo)
	}
	return locationPrefix + path.Join(owner, repo, p)
}

// classifyGitHub maps GitHub API errors onto the fetch error taxonomy.
func classifyGitHub(location string, err error) error {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		status := ghErr.Response.StatusCode
		if status >= http.StatusInternalServerError {
			return &fetch.TransientError{Location: location, Err: err}
		}
		return &fetch.PermanentError{Location: location, StatusCode: status, Err: err}
	}
	return &fetch.TransientError{Location: location, Err: err}
}
