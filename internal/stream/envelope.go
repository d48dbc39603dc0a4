package stream

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"geowatch/internal/provider"
)

// Decode parses one SSE event payload and folds whatever it carries
// into the accumulator. The envelope shape is picked by a short
// discriminator cascade: patch_op array, whole-fragment object under v,
// incremental path update (p + array v), root-level results/queries,
// and finally content-only fragments. Unknown payloads are ignored.
//
// Payloads that fail strict JSON parsing get one repair attempt; the
// platforms occasionally flush an event mid-write.
func Decode(payload string, acc *Accumulator) {
	payload = strings.TrimSpace(payload)
	if Terminal(payload) {
		return
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		repaired, repErr := jsonrepair.JSONRepair(payload)
		if repErr != nil || json.Unmarshal([]byte(repaired), &data) != nil {
			return
		}
	}

	if ops, ok := data["patch_op"].([]any); ok {
		decodePatchOps(ops, acc)
		return
	}

	if v, ok := data["v"]; ok {
		switch value := v.(type) {
		case map[string]any:
			decodeFragments(value, acc)
		case []any:
			decodeIncremental(stringField(data, "p"), value, acc)
		}
	}

	// Some platforms put results/queries at the payload root alongside
	// or instead of the shapes above.
	if results, ok := data["results"].([]any); ok {
		addCitations(results, acc)
	}
	if queries, ok := data["queries"].([]any); ok {
		addQueries(queries, acc)
	}

	decodeContent(data, acc)
}

// decodeFragments handles the whole-fragment envelope: a v object with
// response.fragments[*]; SEARCH fragments carry queries and results.
func decodeFragments(v map[string]any, acc *Accumulator) {
	response, _ := v["response"].(map[string]any)
	if response == nil {
		return
	}
	fragments, _ := response["fragments"].([]any)
	for _, raw := range fragments {
		frag, ok := raw.(map[string]any)
		if !ok || stringField(frag, "type") != "SEARCH" {
			continue
		}
		if queries, ok := frag["queries"].([]any); ok {
			addQueries(queries, acc)
		}
		if results, ok := frag["results"].([]any); ok {
			addCitations(results, acc)
		}
	}
}

// decodeIncremental handles the path envelope: {"p":"response/fragments/-1/results","v":[...]}.
// When the path is absent the array shape decides: objects with a url
// field are citations, primitives are queries.
func decodeIncremental(path string, v []any, acc *Accumulator) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, "results") || looksLikeCitations(v):
		addCitations(v, acc)
	case strings.HasSuffix(lower, "queries") || looksLikeQueries(v):
		addQueries(v, acc)
	}
}

func looksLikeCitations(v []any) bool {
	if len(v) == 0 {
		return false
	}
	first, ok := v[0].(map[string]any)
	if !ok {
		return false
	}
	_, hasURL := first["url"]
	return hasURL
}

func looksLikeQueries(v []any) bool {
	if len(v) == 0 {
		return false
	}
	_, isObject := v[0].(map[string]any)
	return !isObject
}

// decodePatchOps handles the patch-op envelope. Patches with
// patch_object=1 and patch_type=1 carry content blocks: block_type
// 10000 is an incremental answer fragment, block_type 10025 is a
// search-query-result block whose results are text_card or video_card
// variants.
func decodePatchOps(ops []any, acc *Accumulator) {
	for _, raw := range ops {
		patch, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if intField(patch, "patch_object") != 1 || intField(patch, "patch_type") != 1 {
			continue
		}
		value, _ := patch["patch_value"].(map[string]any)
		if value == nil {
			continue
		}
		blocks, _ := value["content_block"].([]any)
		for _, rawBlock := range blocks {
			block, ok := rawBlock.(map[string]any)
			if !ok {
				continue
			}
			content, _ := block["content"].(map[string]any)
			switch intField(block, "block_type") {
			case 10000:
				if content != nil {
					if textBlock, ok := content["text_block"].(map[string]any); ok {
						acc.AppendAnswer(stringField(textBlock, "text"))
					}
				}
			case 10025:
				if content != nil {
					decodeSearchBlock(content, acc)
				}
			}
		}
	}
}

func decodeSearchBlock(content map[string]any, acc *Accumulator) {
	search, _ := content["search_query_result_block"].(map[string]any)
	if search == nil {
		return
	}
	if queries, ok := search["queries"].([]any); ok {
		addQueries(queries, acc)
	}
	results, _ := search["results"].([]any)
	for _, raw := range results {
		result, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if card, ok := result["text_card"].(map[string]any); ok {
			acc.AddCitation(provider.Citation{
				URL:          stringField(card, "url"),
				Title:        stringField(card, "title"),
				Snippet:      stringField(card, "summary"),
				SiteName:     stringField(card, "sitename"),
				CiteIndex:    firstInt(card, result, "index"),
				QueryIndexes: intSlice(result, card, "query_indexes"),
			})
			continue
		}
		if card, ok := result["video_card"].(map[string]any); ok {
			url := stringField(card, "url")
			if url == "" {
				url = stringField(card, "video_url")
			}
			title := stringField(card, "title")
			if title == "" {
				title = stringField(card, "description")
			}
			snippet := stringField(card, "description")
			if snippet == "" {
				snippet = stringField(card, "summary")
			}
			siteName := stringField(card, "platform")
			if siteName == "" {
				siteName = "video"
			}
			acc.AddCitation(provider.Citation{
				URL:          url,
				Title:        title,
				Snippet:      snippet,
				SiteName:     siteName,
				CiteIndex:    firstInt(card, result, "index"),
				QueryIndexes: intSlice(result, card, "query_indexes"),
			})
		}
	}
}

// decodeContent appends content-only answer fragments. Citation
// extraction is never attempted on these keys.
func decodeContent(data map[string]any, acc *Accumulator) {
	for _, key := range []string{"content", "text", "message", "answer"} {
		if s, ok := data[key].(string); ok && s != "" {
			acc.AppendAnswer(s)
			return
		}
	}
	if delta, ok := data["delta"].(map[string]any); ok {
		if s := stringField(delta, "content"); s != "" {
			acc.AppendAnswer(s)
		}
	}
}

// addQueries folds sub-query entries, accepting both bare strings and
// {query|text: ...} objects.
func addQueries(items []any, acc *Accumulator) {
	for _, raw := range items {
		switch q := raw.(type) {
		case string:
			acc.AddQuery(q)
		case map[string]any:
			text := stringField(q, "query")
			if text == "" {
				text = stringField(q, "text")
			}
			acc.AddQuery(text)
		}
	}
}

// addCitations folds citation entries with the documented field
// fallbacks: title<-name, snippet<-description<-summary,
// site_name<-source, cite_index<-index.
func addCitations(items []any, acc *Accumulator) {
	for _, raw := range items {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		url := stringField(entry, "url")
		if url == "" {
			continue
		}
		title := stringField(entry, "title")
		if title == "" {
			title = stringField(entry, "name")
		}
		snippet := stringField(entry, "snippet")
		if snippet == "" {
			snippet = stringField(entry, "description")
		}
		if snippet == "" {
			snippet = stringField(entry, "summary")
		}
		siteName := stringField(entry, "site_name")
		if siteName == "" {
			siteName = stringField(entry, "source")
		}
		index := intField(entry, "cite_index")
		if index == 0 {
			index = intField(entry, "index")
		}
		acc.AddCitation(provider.Citation{
			URL:          url,
			Title:        title,
			Snippet:      snippet,
			SiteName:     siteName,
			CiteIndex:    index,
			QueryIndexes: intSlice(entry, nil, "query_indexes"),
		})
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

// firstInt reads key from primary, falling back to secondary.
func firstInt(primary, secondary map[string]any, key string) int {
	if n := intField(primary, key); n != 0 {
		return n
	}
	if secondary != nil {
		return intField(secondary, key)
	}
	return 0
}

// intSlice reads an integer array from primary, falling back to secondary.
func intSlice(primary, secondary map[string]any, key string) []int {
	raw, ok := primary[key].([]any)
	if !ok && secondary != nil {
		raw, ok = secondary[key].([]any)
	}
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
