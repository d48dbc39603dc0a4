// Package provider defines the uniform contract the task engine uses to
// drive a search-augmented chat platform and the registry of known
// platforms.
package provider

import (
	"context"
	"strings"
)

// Citation is one web source the platform displayed for its answer.
type Citation struct {
	URL          string `json:"url"`
	Title        string `json:"title"`
	Snippet      string `json:"snippet"`
	SiteName     string `json:"site_name"`
	CiteIndex    int    `json:"cite_index"`
	QueryIndexes []int  `json:"query_indexes,omitempty"`
}

// Result is the neutral outcome of one chat session: the answer text,
// the sub-queries the platform issued on its own, and the citations it
// displayed.
type Result struct {
	AnswerText string     `json:"full_text"`
	SubQueries []string   `json:"queries"`
	Citations  []Citation `json:"citations"`
}

// Provider drives one platform end to end for a single unit of work.
type Provider interface {
	// Name returns the canonical lower-case platform name.
	Name() string
	// Search runs one session for the keyword/prompt pair. The context
	// bounds the whole session; cancellation must abandon the session
	// within a bounded time.
	Search(ctx context.Context, keyword, prompt string) (*Result, error)
}

// Registry maps canonical platform names to providers. Lookup is
// case-insensitive.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds a registry from the given providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[strings.ToLower(p.Name())] = p
	}
	return r
}

// Resolve returns the provider for the platform name, matching
// case-insensitively, along with the canonical name.
func (r *Registry) Resolve(platform string) (Provider, string, bool) {
	name := strings.ToLower(strings.TrimSpace(platform))
	p, ok := r.providers[name]
	if !ok {
		return nil, name, false
	}
	return p, name, true
}

// Names returns the canonical names of all registered platforms.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
