package stream

import (
	"strings"

	"geowatch/internal/domains"
	"geowatch/internal/provider"
	"geowatch/internal/textenc"
)

// Accumulator aggregates per-session state as envelopes are decoded.
// It is not safe for concurrent use; the Collector owns one per session
// and feeds it from a single consumer goroutine.
type Accumulator struct {
	answer    strings.Builder
	queries   []string
	seenQuery map[string]struct{}
	citations []provider.Citation
	seenURL   map[string]struct{}
}

// NewAccumulator returns an empty session accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		seenQuery: make(map[string]struct{}),
		seenURL:   make(map[string]struct{}),
	}
}

// AppendAnswer adds an incremental answer fragment after encoding repair.
func (a *Accumulator) AppendAnswer(fragment string) {
	if fragment == "" {
		return
	}
	a.answer.WriteString(textenc.Repair(fragment))
}

// AddQuery records a sub-query, keeping first-seen order and dropping
// duplicates.
func (a *Accumulator) AddQuery(query string) {
	query = textenc.Repair(strings.TrimSpace(query))
	if query == "" {
		return
	}
	if _, dup := a.seenQuery[query]; dup {
		return
	}
	a.seenQuery[query] = struct{}{}
	a.queries = append(a.queries, query)
}

// AddCitation records a citation. A citation is identified by its URL
// within the session; the first-seen fields win. Citations without a
// URL are dropped. site_name falls back to the registrable domain and a
// zero cite_index falls back to the arrival position.
func (a *Accumulator) AddCitation(c provider.Citation) {
	c.URL = textenc.Repair(strings.TrimSpace(c.URL))
	if c.URL == "" {
		return
	}
	if _, dup := a.seenURL[c.URL]; dup {
		return
	}
	a.seenURL[c.URL] = struct{}{}

	c.Title = textenc.Repair(c.Title)
	c.Snippet = textenc.Repair(c.Snippet)
	c.SiteName = textenc.Repair(c.SiteName)
	if c.SiteName == "" {
		c.SiteName = domains.Registrable(c.URL)
	}
	if c.CiteIndex == 0 {
		c.CiteIndex = len(a.citations) + 1
	}
	a.citations = append(a.citations, c)
}

// HasCitations reports whether any citation was captured; the DOM
// fallback extractor only runs when this is false.
func (a *Accumulator) HasCitations() bool {
	return len(a.citations) > 0
}

// SeenURL reports whether the URL was already captured this session.
func (a *Accumulator) SeenURL(url string) bool {
	_, ok := a.seenURL[url]
	return ok
}

// Snapshot returns the accumulated session state as a provider result.
// The answer text is repaired once more as a whole so that fragments
// split mid-rune by the platform still repair cleanly.
func (a *Accumulator) Snapshot() *provider.Result {
	queries := make([]string, len(a.queries))
	copy(queries, a.queries)
	citations := make([]provider.Citation, len(a.citations))
	copy(citations, a.citations)
	return &provider.Result{
		AnswerText: textenc.Repair(a.answer.String()),
		SubQueries: queries,
		Citations:  citations,
	}
}

// SetAnswer replaces the accumulated answer text. Providers use it when
// the rendered DOM carries a more complete answer than the stream.
func (a *Accumulator) SetAnswer(text string) {
	a.answer.Reset()
	a.answer.WriteString(textenc.Repair(text))
}
