// Package domains extracts the registrable domain from citation URLs.
package domains

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Unknown is returned when no registrable domain can be determined.
const Unknown = "unknown"

// Registrable returns the registered-domain form of the URL's host
// (www.example.co.uk -> example.co.uk). Inputs without a scheme are
// retried with https:// prepended. On parse failure it returns Unknown.
func Registrable(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return Unknown
	}

	host := hostOf(rawURL)
	if host == "" && !strings.Contains(rawURL, "://") {
		host = hostOf("https://" + rawURL)
	}
	if host == "" {
		return Unknown
	}

	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		// Hosts without a public suffix (intranet names, IPs) keep the
		// bare host so per-domain stats still aggregate.
		if host != "" && !strings.Contains(host, "/") {
			return strings.ToLower(host)
		}
		return Unknown
	}
	return strings.ToLower(domain)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	return strings.TrimSuffix(strings.ToLower(host), ".")
}
