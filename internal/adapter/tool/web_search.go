package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"chasingclaw/internal/domain"
	"chasingclaw/internal/infra/tracer"
)

const (
	defaultSearchCount = 5
	maxSearchCount     = 20
	defaultCacheTTL    = 15 * time.Minute
	maxCacheEntries    = 100
)

// WebSearchOptions configures the web search tool.
type WebSearchOptions struct {
	MaxResults    int
	CacheTTL      time.Duration
	RatePerMinute int // 0 disables limiting
}

type cacheEntry struct {
	result    string
	expiresAt time.Time
}

// WebSearchTool searches the web via a SearchBackend, caching answers per
// query and limiting the outbound request rate.
type WebSearchTool struct {
	backend    SearchBackend
	maxResults int
	cacheTTL   time.Duration
	limiter    *rate.Limiter
	logger     *slog.Logger
	now        func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewWebSearchTool creates a web search tool backed by backend.
func NewWebSearchTool(backend SearchBackend, opts WebSearchOptions, logger *slog.Logger) *WebSearchTool {
	if opts.MaxResults <= 0 {
		opts.MaxResults = defaultSearchCount
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	var limiter *rate.Limiter
	if opts.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RatePerMinute)), opts.RatePerMinute)
	}
	return &WebSearchTool{
		backend:    backend,
		maxResults: min(opts.MaxResults, maxSearchCount),
		cacheTTL:   opts.CacheTTL,
		limiter:    limiter,
		logger:     logger,
		now:        time.Now,
		cache:      make(map[string]cacheEntry),
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }
func (t *WebSearchTool) Description() string {
	return "Search the web and return ranked results with titles, URLs and snippets"
}

func (t *WebSearchTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "The search query"},
				"count": {"type": "integer", "minimum": 1, "maximum": 20, "description": "Number of results"}
			},
			"required": ["query"]
		}`),
	}
}

type webSearchParams struct {
	Query string `json:"query"`
	Count int    `json:"count,omitempty"`
}

func (t *WebSearchTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.web_search", t.logger, params,
		func(ctx context.Context, span trace.Span, p webSearchParams) (any, error) {
			query := strings.TrimSpace(p.Query)
			if query == "" {
				return nil, fmt.Errorf("query must not be empty")
			}
			count := p.Count
			if count <= 0 {
				count = t.maxResults
			}
			count = min(count, maxSearchCount)

			span.SetAttributes(
				tracer.StringAttr("search.backend", t.backend.Name()),
				tracer.IntAttr("search.count", count),
			)

			key := fmt.Sprintf("%s|%d", strings.ToLower(query), count)
			if cached, ok := t.getCached(key); ok {
				span.SetAttributes(tracer.BoolAttr("search.cache_hit", true))
				return cached, nil
			}

			if t.limiter != nil && !t.limiter.Allow() {
				return nil, domain.NewDomainError("WebSearchTool.Execute", domain.ErrRateLimit,
					"too many searches, try again shortly")
			}

			results, err := t.backend.Search(ctx, query, count)
			if err != nil {
				return nil, err
			}
			if len(results) > count {
				results = results[:count]
			}

			content := formatSearchResults(query, results)
			t.putCache(key, content)
			t.logger.Debug("web search completed", "backend", t.backend.Name(), "results", len(results))
			return content, nil
		},
	)
}

func formatSearchResults(query string, results []SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results for %q.", query)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Results for %q:\n", query)
	for i, r := range results {
		fmt.Fprintf(&sb, "\n%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&sb, "   %s\n", r.Snippet)
		}
	}
	return sb.String()
}

func (t *WebSearchTool) getCached(key string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.cache[key]
	if !ok {
		return "", false
	}
	if t.now().After(entry.expiresAt) {
		delete(t.cache, key)
		return "", false
	}
	return entry.result, true
}

func (t *WebSearchTool) putCache(key, result string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.cache[key] = cacheEntry{result: result, expiresAt: now.Add(t.cacheTTL)}

	if len(t.cache) > maxCacheEntries {
		for k, v := range t.cache {
			if now.After(v.expiresAt) {
				delete(t.cache, k)
			}
		}
	}
}
