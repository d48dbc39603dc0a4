// Package normalize puts provider results into canonical persistence
// order. Providers merge data from several extraction paths (stream
// interception, DOM fallback, direct API), so the rules run once more
// here regardless of what the session accumulator already did.
package normalize

import (
	"sort"
	"strings"

	"geowatch/internal/domains"
	"geowatch/internal/provider"
	"geowatch/internal/textenc"
)

// Result returns a normalized copy of r. The input is not modified.
func Result(r *provider.Result) *provider.Result {
	if r == nil {
		return &provider.Result{}
	}
	return &provider.Result{
		AnswerText: textenc.Repair(r.AnswerText),
		SubQueries: SubQueries(r.SubQueries),
		Citations:  Citations(r.Citations),
	}
}

// Citations deduplicates by URL (first occurrence wins), repairs text
// fields, fills site_name from the registrable domain when missing, and
// orders by cite_index ascending. Citations with cite_index 0 are
// unassigned and sort after all assigned ones; within equal indexes the
// first-seen order is kept.
func Citations(list []provider.Citation) []provider.Citation {
	seen := make(map[string]struct{}, len(list))
	out := make([]provider.Citation, 0, len(list))
	for _, c := range list {
		c.URL = textenc.Repair(strings.TrimSpace(c.URL))
		if c.URL == "" {
			continue
		}
		if _, dup := seen[c.URL]; dup {
			continue
		}
		seen[c.URL] = struct{}{}

		c.Title = textenc.Repair(strings.TrimSpace(c.Title))
		c.Snippet = textenc.Repair(strings.TrimSpace(c.Snippet))
		c.SiteName = textenc.Repair(strings.TrimSpace(c.SiteName))
		if c.SiteName == "" {
			c.SiteName = domains.Registrable(c.URL)
		}
		if c.CiteIndex < 0 {
			c.CiteIndex = 0
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].CiteIndex, out[j].CiteIndex
		if a == 0 || b == 0 {
			return b == 0 && a != 0
		}
		return a < b
	})
	return out
}

// SubQueries trims, repairs, and deduplicates sub-queries keeping
// first-seen order. Empty entries are dropped.
func SubQueries(queries []string) []string {
	seen := make(map[string]struct{}, len(queries))
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		q = textenc.Repair(strings.TrimSpace(q))
		if q == "" {
			continue
		}
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	return out
}
