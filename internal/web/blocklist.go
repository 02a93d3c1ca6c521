package web

import (
	"net/url"
	"strings"

	"github.com/research-agent/backend/pkg/utils"
)

// blockedDomains are never fetched: social media walls, low-quality
// aggregators, and paywalled news fronts.
var blockedDomains = []string{
	"facebook.com",
	"twitter.com",
	"x.com",
	"instagram.com",
	"tiktok.com",
	"pinterest.com",
	"reddit.com",
	"quora.com",
	"linkedin.com",
	"answers.com",
	"ask.com",
	"ehow.com",
	"wsj.com",
	"ft.com",
	"bloomberg.com",
}

func isBlockedDomain(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	host := strings.ToLower(u.Hostname())
	for _, blocked := range blockedDomains {
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return true
		}
	}
	return false
}

func isFetchableScheme(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// Domain returns the registered domain (eTLD+1) of a URL, so
// subdomains of one publisher count as a single source.
func Domain(rawURL string) string {
	return utils.RegisteredDomain(rawURL)
}
