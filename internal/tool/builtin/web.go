package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/agentloop/internal/tool"
)

const (
	maxReadURLChars     = 50000
	defaultSearchURL    = "https://api.search.brave.com/res/v1/web/search"
	defaultSearchCount  = 5
	maxSearchCount      = 20
	readURLUserAgent    = "agentloop/1.0"
	readURLTimeout      = 30 * time.Second
	searchClientTimeout = 15 * time.Second
)

type readURLParams struct {
	URL string `json:"url" jsonschema:"description=The URL to fetch"`
}

// ReadURL fetches a page and returns it as markdown. A nil client gets a
// 30 second timeout.
func ReadURL(client *http.Client) tool.Tool {
	if client == nil {
		client = &http.Client{Timeout: readURLTimeout}
	}
	return tool.Func("read_url", "Fetch a URL and return its content as markdown", func(ctx context.Context, p readURLParams) (any, error) {
		if p.URL == "" {
			return nil, fmt.Errorf("url is required")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("User-Agent", readURLUserAgent)

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch URL: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("HTTP error: status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		md, err := htmltomarkdown.ConvertString(string(body))
		if err != nil {
			return nil, fmt.Errorf("convert to markdown: %w", err)
		}
		return truncate(md, maxReadURLChars), nil
	})
}

// Search queries the Brave Search web API.
type Search struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type SearchOption func(*Search)

func WithSearchURL(u string) SearchOption {
	return func(s *Search) { s.baseURL = u }
}

func WithSearchClient(c *http.Client) SearchOption {
	return func(s *Search) { s.client = c }
}

func NewSearch(apiKey string, opts ...SearchOption) *Search {
	s := &Search{
		apiKey:  apiKey,
		baseURL: defaultSearchURL,
		client:  &http.Client{Timeout: searchClientTimeout},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type searchParams struct {
	Query string `json:"query" jsonschema:"description=Search query"`
	Count int    `json:"count,omitempty" jsonschema:"description=Number of results (default 5 and at most 20)"`
}

type braveResponse struct {
	Web struct {
		Results []braveResult `json:"results"`
	} `json:"web"`
}

type braveResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// Tool returns the brave_search tool.
func (s *Search) Tool() tool.Tool {
	return tool.Func("brave_search", "Search the web using Brave Search", s.query)
}

func (s *Search) query(ctx context.Context, p searchParams) (any, error) {
	if p.Query == "" {
		return nil, fmt.Errorf("query is required")
	}
	count := p.Count
	switch {
	case count <= 0:
		count = defaultSearchCount
	case count > maxSearchCount:
		count = maxSearchCount
	}

	u, err := url.Parse(s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse search url: %w", err)
	}
	q := u.Query()
	q.Set("q", p.Query)
	q.Set("count", strconv.Itoa(count))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API error (status %d): %s", resp.StatusCode, body)
	}

	var result braveResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(result.Web.Results) == 0 {
		return "No results found.", nil
	}

	var sb strings.Builder
	for i, r := range result.Web.Results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n   %s\n\n", i+1, r.Title, r.URL, r.Description)
	}
	return sb.String(), nil
}
