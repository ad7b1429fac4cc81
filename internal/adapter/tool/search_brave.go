package tool

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const braveSearchURL = "https://api.search.brave.com/res/v1/web/search"

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// BraveBackend queries the Brave Search API with a subscription token.
type BraveBackend struct {
	client   *http.Client
	endpoint string
	apiKey   string
	logger   *slog.Logger
}

// NewBraveBackend creates a Brave backend. An empty endpoint uses the public API.
func NewBraveBackend(apiKey, endpoint string, timeout time.Duration, logger *slog.Logger) *BraveBackend {
	if endpoint == "" {
		endpoint = braveSearchURL
	}
	return &BraveBackend{
		client:   searchClient(timeout),
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		logger:   logger,
	}
}

func (b *BraveBackend) Name() string { return "brave" }

func (b *BraveBackend) Search(ctx context.Context, query string, count int) ([]SearchResult, error) {
	if b.apiKey == "" {
		return nil, searchError(b.Name(), "api key not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint, nil)
	if err != nil {
		return nil, searchError(b.Name(), err.Error())
	}
	q := req.URL.Query()
	q.Set("q", query)
	q.Set("count", strconv.Itoa(count))
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	body, err := fetchSearch(b.client, b.Name(), req)
	if err != nil {
		return nil, err
	}

	var parsed braveResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, searchError(b.Name(), "parse response: "+err.Error())
	}

	results := make([]SearchResult, 0, count)
	for _, r := range parsed.Web.Results {
		if len(results) >= count {
			break
		}
		results = append(results, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	b.logger.Debug("brave search completed", "results", len(results))
	return results, nil
}
