package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

const (
	// DefaultTimeout bounds a single fetch attempt.
	DefaultTimeout = 30 * time.Second

	// maxBodyBytes caps how much of a response body is read.
	maxBodyBytes = 5 * 1024 * 1024

	userAgent = "docsnip-crawler/1.0"
)

// HTTPEngine fetches pages over plain HTTP and discovers links in HTML
// responses.
type HTTPEngine struct {
	client *resty.Client
}

// NewHTTPEngine creates an HTTP fetch engine with the given per-attempt
// timeout. A zero timeout uses DefaultTimeout.
func NewHTTPEngine(timeout time.Duration) *HTTPEngine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	return &HTTPEngine{client: client}
}

// Fetch retrieves the location and, for HTML responses, collects absolute
// links resolved against the final URL.
func (e *HTTPEngine) Fetch(ctx context.Context, location string) (*Result, error) {
	resp, err := e.client.R().SetContext(ctx).Get(location)
	if err != nil {
		return nil, classifyTransport(location, err)
	}

	status := resp.StatusCode()
	switch {
	case status >= 500 || status == http.StatusTooManyRequests:
		return nil, &TransientError{Location: location, Err: fmt.Errorf("HTTP %d", status)}
	case status >= 400:
		return nil, &PermanentError{Location: location, StatusCode: status}
	}

	body := resp.Body()
	if len(body) > maxBodyBytes {
		body = body[:maxBodyBytes]
	}

	final := location
	if u := resp.RawResponse.Request.URL; u != nil {
		final = u.String()
	}

	result := &Result{
		FinalLocation: final,
		Content:       body,
		ContentType:   resp.Header().Get("Content-Type"),
	}
	if strings.Contains(strings.ToLower(result.ContentType), "text/html") {
		result.Links = discoverLinks(body, final)
	}
	return result, nil
}

// discoverLinks extracts href targets from anchors, resolved to absolute
// http(s) URLs against the page's final location. Fragments and non-web
// schemes are dropped.
func discoverLinks(body []byte, base string) []string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := baseURL.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		abs.Fragment = ""
		link := abs.String()
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links
}
