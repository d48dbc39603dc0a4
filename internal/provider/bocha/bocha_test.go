package bocha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geowatch/internal/provider"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{APIKey: "test-key", BaseURL: srv.URL}, nil)
}

func TestSearchParsesResults(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/web-search", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "best glp-1 options", req["query"])
		assert.Equal(t, true, req["summary"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"summary": "An answer.",
			"queries": ["q1", "q2"],
			"results": [
				{"url": "https://a.com/1", "title": "A", "snippet": "sa", "site_name": "A site", "cite_index": 1},
				{"link": "https://b.com/2", "name": "B", "description": "sb", "source": "B site", "index": 2},
				{"href": "https://c.com/3", "title": "C"}
			]
		}`))
	})

	result, err := p.Search(context.Background(), "glp-1", "best glp-1 options")
	require.NoError(t, err)

	assert.Equal(t, "An answer.", result.AnswerText)
	assert.Equal(t, []string{"q1", "q2"}, result.SubQueries)
	require.Len(t, result.Citations, 3)

	assert.Equal(t, "https://a.com/1", result.Citations[0].URL)
	assert.Equal(t, "B", result.Citations[1].Title)
	assert.Equal(t, "sb", result.Citations[1].Snippet)
	assert.Equal(t, "B site", result.Citations[1].SiteName)
	// no index given: positional, then site_name from the domain
	assert.Equal(t, 3, result.Citations[2].CiteIndex)
	assert.Equal(t, "c.com", result.Citations[2].SiteName)
}

func TestSearchFallsBackToItemsKey(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"items": [{"url": "https://a.com/1", "title": "A"}]}`))
	})

	result, err := p.Search(context.Background(), "kw", "prompt")
	require.NoError(t, err)
	require.Len(t, result.Citations, 1)
}

func TestSearchWithoutQueriesYieldsNoSubQueries(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{
			"summary": "two sources",
			"results": [
				{"url": "https://a.com/1", "title": "A"},
				{"url": "https://b.com/2", "title": "B"}
			]
		}`))
	})

	result, err := p.Search(context.Background(), "brand A", "prompt")
	require.NoError(t, err)
	require.Len(t, result.Citations, 2)
	// the user's keyword is not a sub-query
	require.Empty(t, result.SubQueries)
}

func TestSearchUnauthorized(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := p.Search(context.Background(), "kw", "prompt")
	require.Error(t, err)
	assert.Equal(t, provider.KindAuthRequired, provider.KindOf(err))
}

func TestSearchServerError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream broke"))
	})

	_, err := p.Search(context.Background(), "kw", "prompt")
	require.Error(t, err)
	assert.Equal(t, provider.KindProviderError, provider.KindOf(err))
	assert.Contains(t, err.Error(), "502")
}

func TestSearchMissingAPIKey(t *testing.T) {
	p := New(Config{}, nil)
	_, err := p.Search(context.Background(), "kw", "prompt")
	require.Error(t, err)
	assert.Equal(t, provider.KindAuthRequired, provider.KindOf(err))
}

func TestSearchCancelledContext(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{}`))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Search(ctx, "kw", "prompt")
	require.Error(t, err)
	assert.Equal(t, provider.KindCancelled, provider.KindOf(err))
}

func TestSearchAnswerTextNestedSummary(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"summary": {"text": "nested answer"}}`))
	})

	result, err := p.Search(context.Background(), "kw", "prompt")
	require.NoError(t, err)
	assert.Equal(t, "nested answer", result.AnswerText)
}
