// Package enrich generates short titles, descriptions, and language labels
// for extracted snippets using an external AI text service. It is optional:
// enrichment failure degrades to heuristic language detection, never to job
// failure.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	// DefaultConcurrency bounds simultaneous in-flight enrichment requests.
	// Independent of fetch concurrency: the inference endpoint has its own
	// capacity.
	DefaultConcurrency = 2

	// maxDescriptionChars bounds generated descriptions.
	maxDescriptionChars = 400

	// maxPromptChars caps the code+context payload of one request, using the
	// rough 4-characters-per-token estimate.
	maxPromptChars = 16000 * 4

	// requestTimeout bounds a single enrichment request.
	requestTimeout = 60 * time.Second
)

// ErrDisabled is returned when enrichment is dispatched while turned off.
var ErrDisabled = errors.New("enrichment disabled")

// Item is one snippet awaiting enrichment.
type Item struct {
	Code         string
	Context      string
	LanguageHint string
}

// Metadata is the AI-generated augmentation for one snippet. Code text is
// never produced or modified here.
type Metadata struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Language    string `json:"language"`
}

// Enricher issues batched enrichment requests with its own concurrency bound
// and retry policy.
type Enricher struct {
	provider SettingsProvider
	sem      chan struct{}
	logger   *slog.Logger
}

// NewEnricher creates an enricher. Settings are re-read from provider at
// each batch dispatch.
func NewEnricher(provider SettingsProvider, concurrency int, logger *slog.Logger) *Enricher {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{
		provider: provider,
		sem:      make(chan struct{}, concurrency),
		logger:   logger,
	}
}

// BatchSize returns the current batch size from the settings provider.
func (e *Enricher) BatchSize() int {
	return e.provider.EnrichmentSettings().withDefaults().BatchSize
}

// Enabled reports whether enrichment is currently switched on.
func (e *Enricher) Enabled() bool {
	st := e.provider.EnrichmentSettings()
	return st.Enabled && st.APIKey != ""
}

// EnrichBatch requests metadata for the items, retrying transient service
// errors with exponential backoff. The result is index-aligned with items.
// On exhaustion the caller keeps the snippets without AI metadata.
func (e *Enricher) EnrichBatch(ctx context.Context, items []Item) ([]Metadata, error) {
	if len(items) == 0 {
		return nil, nil
	}

	// Settings are read at dispatch time, not cached, so key/model changes
	// apply to this batch onward.
	st := e.provider.EnrichmentSettings().withDefaults()
	if !st.Enabled || st.APIKey == "" {
		return nil, ErrDisabled
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-e.sem }()

	opts := []option.RequestOption{option.WithAPIKey(st.APIKey)}
	if st.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(st.BaseURL))
	}
	client := openai.NewClient(opts...)
	prompt := buildPrompt(items)

	var parsed []Metadata
	operation := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()

		resp, err := client.Chat.Completions.New(reqCtx, openai.ChatCompletionNewParams{
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.UserMessage(prompt),
			},
			Model: openai.ChatModel(st.Model),
			ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &openai.ResponseFormatJSONObjectParam{
					Type: "json_object",
				},
			},
		})
		if err != nil {
			if isRetryable(err) {
				e.logger.Debug("transient enrichment failure, will retry", "error", err)
				return err
			}
			return backoff.Permanent(err)
		}

		if len(resp.Choices) == 0 {
			return backoff.Permanent(errors.New("enrichment response has no choices"))
		}

		metadata, err := parseResponse(resp.Choices[0].Message.Content, len(items))
		if err != nil {
			// A malformed response is not worth a retry loop against the
			// same prompt.
			return backoff.Permanent(err)
		}
		parsed = metadata
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 2 * time.Minute

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("enrich batch of %d: %w", len(items), err)
	}
	return parsed, nil
}

func buildPrompt(items []Item) string {
	var b strings.Builder
	b.WriteString(`You are annotating code examples extracted from technical documentation.
For each snippet below, provide:
1. "title": a short imperative title (max 10 words) describing what the code does
2. "description": 1-2 sentences explaining the snippet, grounded in its context
3. "language": the programming language of the snippet

Respond in JSON format:
{"snippets": [{"title": "...", "description": "...", "language": "..."}]}
The array must have exactly one element per snippet, in order.

`)

	budget := maxPromptChars
	for i, item := range items {
		fmt.Fprintf(&b, "--- Snippet %d ---\n", i+1)
		if item.Context != "" {
			fmt.Fprintf(&b, "Context: %s\n", clip(item.Context, 300))
		}
		if item.LanguageHint != "" {
			fmt.Fprintf(&b, "Declared language: %s\n", item.LanguageHint)
		}
		code := item.Code
		if len(code) > budget/max(1, len(items)-i) {
			code = clip(code, budget/max(1, len(items)-i))
		}
		budget -= len(code)
		fmt.Fprintf(&b, "Code:\n%s\n\n", code)
	}
	return b.String()
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

type batchResponse struct {
	Snippets []Metadata `json:"snippets"`
}

func parseResponse(content string, want int) ([]Metadata, error) {
	var resp batchResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return nil, fmt.Errorf("parse enrichment response: %w", err)
	}
	if len(resp.Snippets) != want {
		return nil, fmt.Errorf("enrichment response has %d entries, want %d", len(resp.Snippets), want)
	}
	for i := range resp.Snippets {
		if len(resp.Snippets[i].Description) > maxDescriptionChars {
			resp.Snippets[i].Description = resp.Snippets[i].Description[:maxDescriptionChars]
		}
		resp.Snippets[i].Language = normalizeHint(resp.Snippets[i].Language)
	}
	return resp.Snippets, nil
}

// isRetryable reports whether the service error is a rate limit, timeout, or
// server-side failure worth retrying.
func isRetryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}
