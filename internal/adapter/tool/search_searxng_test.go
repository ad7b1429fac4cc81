package tool

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chasingclaw/internal/domain"
)

func TestSearXNGBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "golang", r.URL.Query().Get("q"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[
			{"title":"A","url":"https://a","content":"first"},
			{"title":"B","url":"https://b","content":"second"},
			{"title":"C","url":"https://c","content":"third"}
		]}`))
	}))
	defer srv.Close()

	b := NewSearXNGBackend(srv.URL+"/", 0, newTestLogger())
	results, err := b.Search(context.Background(), "golang", 2)
	require.NoError(t, err)
	assert.Equal(t, []SearchResult{
		{Title: "A", URL: "https://a", Snippet: "first"},
		{Title: "B", URL: "https://b", Snippet: "second"},
	}, results)
}

func TestSearXNGBackendHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewSearXNGBackend(srv.URL, 0, newTestLogger()).Search(context.Background(), "x", 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrProviderError))
	assert.Contains(t, err.Error(), "HTTP 503")
}

func TestSearXNGBackendTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewSearXNGBackend(url, 0, newTestLogger()).Search(context.Background(), "x", 5)
	assert.ErrorIs(t, err, domain.ErrProviderError)
}

func TestSearXNGBackendBadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>`))
	}))
	defer srv.Close()

	_, err := NewSearXNGBackend(srv.URL, 0, newTestLogger()).Search(context.Background(), "x", 5)
	assert.ErrorIs(t, err, domain.ErrProviderError)
}
