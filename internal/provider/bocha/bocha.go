// Package bocha queries the Bocha AI web-search API directly. Unlike
// the browser-driven platforms it needs no session profile, only an API
// key.
package bocha

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"geowatch/internal/logging"
	"geowatch/internal/normalize"
	"geowatch/internal/provider"
)

const (
	defaultBaseURL = "https://api.bocha.cn"
	searchPath     = "/v1/web-search"
)

type Config struct {
	APIKey  string
	BaseURL string
	Count   int
	Timeout time.Duration
}

type Provider struct {
	cfg    Config
	client *http.Client
	logger *logging.Logger
}

func New(cfg Config, logger *logging.Logger) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Count <= 0 {
		cfg.Count = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.Component("bocha"),
	}
}

func (p *Provider) Name() string { return "bocha" }

type searchRequest struct {
	Query     string `json:"query"`
	Summary   bool   `json:"summary"`
	Freshness string `json:"freshness"`
	Count     int    `json:"count"`
}

func (p *Provider) Search(ctx context.Context, keyword, prompt string) (*provider.Result, error) {
	if p.cfg.APIKey == "" {
		return nil, provider.NewError(provider.KindAuthRequired, "bocha api key is not configured", nil)
	}
	query := prompt
	if query == "" {
		query = keyword
	}

	body, err := json.Marshal(searchRequest{
		Query:     query,
		Summary:   true,
		Freshness: "noLimit",
		Count:     p.cfg.Count,
	})
	if err != nil {
		return nil, provider.NewError(provider.KindProviderError, "encode search request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+searchPath, bytes.NewReader(body))
	if err != nil {
		return nil, provider.NewError(provider.KindProviderError, "build search request", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, provider.NewError(provider.KindOf(err), "bocha request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, provider.NewError(provider.KindProviderError, "read bocha response", err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, provider.Errorf(provider.KindAuthRequired, "bocha rejected api key: status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, provider.Errorf(provider.KindProviderError, "bocha returned status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	result, err := parseResponse(raw)
	if err != nil {
		return nil, err
	}
	p.logger.Info("bocha search complete",
		"keyword", keyword,
		"citations", len(result.Citations),
		"queries", len(result.SubQueries))
	return normalize.Result(result), nil
}

// parseResponse maps the API body onto a provider result. The response
// schema has drifted over time, so every field is read with fallbacks.
func parseResponse(raw []byte) (*provider.Result, error) {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, provider.NewError(provider.KindProviderError, "decode bocha response", err)
	}

	result := &provider.Result{
		AnswerText: extractAnswer(data),
		SubQueries: extractQueries(data),
	}
	for _, key := range []string{"results", "items", "citations", "references"} {
		entries, ok := data[key].([]any)
		if !ok {
			continue
		}
		result.Citations = extractCitations(entries)
		break
	}
	// A response without expansion queries stays without sub-queries;
	// the keyword itself is not one.
	return result, nil
}

func extractAnswer(data map[string]any) string {
	for _, key := range []string{"summary", "answer", "content", "text", "response"} {
		switch v := data[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			for _, inner := range []string{"text", "content", "summary"} {
				if s, ok := v[inner].(string); ok && s != "" {
					return s
				}
			}
		}
	}
	return ""
}

func extractQueries(data map[string]any) []string {
	for _, key := range []string{"queries", "search_queries"} {
		switch v := data[key].(type) {
		case string:
			return []string{v}
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok && s != "" {
					out = append(out, s)
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}
	return nil
}

func extractCitations(entries []any) []provider.Citation {
	out := make([]provider.Citation, 0, len(entries))
	for idx, raw := range entries {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		url := stringOr(entry, "url", "link", "href")
		if url == "" {
			continue
		}
		index := intOr(entry, "cite_index", "index")
		if index == 0 {
			index = idx + 1
		}
		out = append(out, provider.Citation{
			URL:          url,
			Title:        stringOr(entry, "title", "name"),
			Snippet:      stringOr(entry, "snippet", "description", "summary"),
			SiteName:     stringOr(entry, "site_name", "source"),
			CiteIndex:    index,
			QueryIndexes: intSlice(entry, "query_indexes"),
		})
	}
	return out
}

func stringOr(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func intOr(m map[string]any, keys ...string) int {
	for _, key := range keys {
		if f, ok := m[key].(float64); ok && f != 0 {
			return int(f)
		}
	}
	return 0
}

func intSlice(m map[string]any, key string) []int {
	raw, ok := m[key].([]any)
	if !ok || len(raw) == 0 {
		return nil
	}
	out := make([]int, 0, len(raw))
	for _, item := range raw {
		if f, ok := item.(float64); ok {
			out = append(out, int(f))
		}
	}
	return out
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

var _ provider.Provider = (*Provider)(nil)
