package audit

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// CanonicalURL normalizes a URL so that equivalent spellings dedup to one
// frontier key. It lowercases the scheme and host, strips default ports
// and fragments, sorts query parameters, and fixes an empty path to "/".
func CanonicalURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawQuery = u.Query().Encode() // Encode sorts keys
	if u.Path == "" {
		u.Path = "/"
	}

	return u.String(), nil
}

// SameScope reports whether candidate belongs to the same registrable
// domain as root, so "blog.example.com" stays in scope for a crawl rooted
// at "example.com" while "other.org" does not.
func SameScope(rootURL, candidateURL string) bool {
	rootHost := hostOf(rootURL)
	candHost := hostOf(candidateURL)
	if rootHost == "" || candHost == "" {
		return false
	}
	if rootHost == candHost {
		return true
	}
	rootDomain, err := publicsuffix.EffectiveTLDPlusOne(rootHost)
	if err != nil {
		return false
	}
	candDomain, err := publicsuffix.EffectiveTLDPlusOne(candHost)
	if err != nil {
		return false
	}
	return rootDomain == candDomain
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
