package browser

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"geowatch/internal/domains"
	"geowatch/internal/provider"
)

// ExtractCitations pulls external reference links out of rendered
// answer HTML. It is the fallback when network interception produced no
// citations: the rendered source list is weaker (no snippets, indexes
// only when the platform prints numeric markers) but better than
// nothing.
//
// Links are kept when they are absolute http(s) URLs whose registrable
// domain differs from ownDomain (the platform's own links are
// navigation, not sources). An anchor whose visible text is a small
// integer is treated as a citation marker and supplies cite_index;
// everything else gets index 0 and sorts by discovery order later.
func ExtractCitations(html, ownDomain string) []provider.Citation {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var out []provider.Citation

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
			return
		}
		domain := domains.Registrable(href)
		if domain == domains.Unknown || domain == ownDomain {
			return
		}
		if _, dup := seen[href]; dup {
			return
		}
		seen[href] = struct{}{}

		text := strings.TrimSpace(sel.Text())
		title := text
		if title == "" {
			title, _ = sel.Attr("title")
			title = strings.TrimSpace(title)
		}

		index := 0
		if n, err := strconv.Atoi(text); err == nil && n > 0 && n < 1000 {
			index = n
			title = strings.TrimSpace(sel.AttrOr("title", ""))
		}

		out = append(out, provider.Citation{
			URL:       href,
			Title:     title,
			SiteName:  domain,
			CiteIndex: index,
		})
	})
	return out
}
