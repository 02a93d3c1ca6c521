package utils

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// RegisteredDomain returns the eTLD+1 of a URL so subdomains of one
// publisher count as a single source.
func RegisteredDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		// Bare hostnames are accepted too.
		host = strings.ToLower(rawURL)
	}
	if registered, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return registered
	}
	return strings.TrimPrefix(host, "www.")
}
