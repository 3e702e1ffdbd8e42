package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// FetchListingTool pulls the readable text out of a property listing page.
type FetchListingTool struct {
	UserAgent string
	MaxChars  int
	Client    *http.Client
	policy    *bluemonday.Policy
}

func NewFetchListingTool(maxChars int) *FetchListingTool {
	if maxChars <= 0 {
		maxChars = 8000
	}
	return &FetchListingTool{
		UserAgent: defaultUserAgent,
		MaxChars:  maxChars,
		Client:    &http.Client{Timeout: 30 * time.Second},
		policy:    bluemonday.StrictPolicy(),
	}
}

func (s *FetchListingTool) Name() string    { return "fetch_listing" }
func (s *FetchListingTool) ReadOnly() bool  { return true }
func (s *FetchListingTool) Version() string { return "v2" }

func (s *FetchListingTool) Description() string {
	return "Fetch a property listing URL and return its title and main text, so figures like the asking price can be read from it. Nothing is recorded; confirm figures with the operator before submitting them."
}

func (s *FetchListingTool) Parameters() Schema {
	return Schema{Fields: []Field{
		{Name: "url", Type: TypeString, Description: "Full http(s) URL of the listing page.", Required: true},
	}}
}

func (s *FetchListingTool) Execute(ctx context.Context, args Args) (Result, error) {
	raw := args.String("url")
	parsedURL, err := url.Parse(raw)
	if err != nil || (parsedURL.Scheme != "http" && parsedURL.Scheme != "https") || parsedURL.Host == "" {
		return Result{}, &ValidationError{Tool: s.Name(), Field: "url", Message: "must be an absolute http(s) URL"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", s.UserAgent)

	resp, err := s.Client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("failed to fetch listing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("failed to fetch listing: status code %d", resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, parsedURL)
	if err != nil {
		return Result{}, fmt.Errorf("failed to parse listing: %w", err)
	}

	// Strip anything readability left behind.
	content := s.policy.Sanitize(article.TextContent)
	content, truncated := truncateRunes(content, s.MaxChars)

	data := map[string]any{
		"title":     s.policy.Sanitize(article.Title),
		"content":   content,
		"truncated": truncated,
	}
	if article.Excerpt != "" {
		data["excerpt"] = s.policy.Sanitize(article.Excerpt)
	}
	return Result{OK: true, Data: data}, nil
}

// truncateRunes cuts s to at most n characters without splitting one.
func truncateRunes(s string, n int) (string, bool) {
	if utf8.RuneCountInString(s) <= n {
		return s, false
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], true
		}
		i++
	}
	return s, false
}
