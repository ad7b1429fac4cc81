package tool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"chasingclaw/internal/domain"
)

const (
	maxSearchBodySize    = 512 * 1024
	defaultSearchTimeout = 15 * time.Second
)

// SearchBackend abstracts a web search engine.
type SearchBackend interface {
	// Search returns up to count ranked results. Transport and HTTP
	// failures wrap domain.ErrProviderError.
	Search(ctx context.Context, query string, count int) ([]SearchResult, error)
	Name() string
}

// SearchResult is one ranked hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

func searchError(backend, detail string) error {
	return domain.NewDomainError(backend+".Search", domain.ErrProviderError, detail)
}

// fetchSearch sends req and returns the size-limited body of a 200 response.
func fetchSearch(client *http.Client, backend string, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, searchError(backend, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSearchBodySize))
	if err != nil {
		return nil, searchError(backend, "read response: "+err.Error())
	}
	if resp.StatusCode != http.StatusOK {
		return nil, searchError(backend, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}
	return body, nil
}

func searchClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultSearchTimeout
	}
	return &http.Client{Timeout: timeout}
}
