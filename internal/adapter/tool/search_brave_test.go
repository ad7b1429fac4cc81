package tool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chasingclaw/internal/domain"
)

func TestBraveBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret-token", r.Header.Get("X-Subscription-Token"))
		assert.Equal(t, "weather tokyo", r.URL.Query().Get("q"))
		assert.Equal(t, "2", r.URL.Query().Get("count"))
		w.Write([]byte(`{"web":{"results":[
			{"title":"Forecast","url":"https://w.example/tokyo","description":"Sunny"},
			{"title":"Radar","url":"https://w.example/radar","description":"Live radar"},
			{"title":"Extra","url":"https://w.example/x","description":"ignored"}
		]}}`))
	}))
	defer srv.Close()

	b := NewBraveBackend("secret-token", srv.URL, 0, newTestLogger())
	assert.Equal(t, "brave", b.Name())

	results, err := b.Search(context.Background(), "weather tokyo", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, SearchResult{Title: "Forecast", URL: "https://w.example/tokyo", Snippet: "Sunny"}, results[0])
}

func TestBraveBackendUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid token"}`))
	}))
	defer srv.Close()

	_, err := NewBraveBackend("bad", srv.URL, 0, newTestLogger()).Search(context.Background(), "x", 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProviderError)
	assert.Contains(t, err.Error(), "HTTP 401")
}

func TestBraveBackendMissingKey(t *testing.T) {
	_, err := NewBraveBackend("", "", 0, newTestLogger()).Search(context.Background(), "x", 5)
	assert.ErrorIs(t, err, domain.ErrProviderError)
}

func TestWebSearchWithBraveEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"web":{"results":[{"title":"Hit","url":"https://hit","description":"snippet"}]}}`))
	}))
	defer srv.Close()

	tool := NewWebSearchTool(NewBraveBackend("k", srv.URL, 0, newTestLogger()), WebSearchOptions{}, newTestLogger())
	res := search(t, tool, map[string]any{"query": "hit"})
	require.False(t, res.IsError, res.Content)
	assert.Contains(t, res.Content, "1. Hit\n   https://hit\n   snippet")
}
