// Package analyze inspects fetched pages and produces structured audit
// results. Analysis is a pure function of its inputs: no I/O, no state.
package analyze

import (
	"bytes"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/project-aether/crawler/internal/audit"
	"github.com/project-aether/crawler/internal/fetch"
)

// Analyzer turns a fetch response into a PageResult plus the outbound
// links found on the page. Scope filtering of links is the frontier's
// concern, not the analyzer's.
type Analyzer struct {
	slowResponse time.Duration
}

// New builds an Analyzer. slowResponse is the latency above which a page
// is flagged with a slow-response issue.
func New(slowResponse time.Duration) *Analyzer {
	if slowResponse <= 0 {
		slowResponse = audit.DefaultSlowResponse
	}
	return &Analyzer{slowResponse: slowResponse}
}

// Analyze extracts page metadata, evaluates the issue rules, and returns
// the result together with the absolute http(s) links discovered on the
// page. requestedURL is the canonical URL that was fetched; the result
// reports the final URL after redirects.
func (a *Analyzer) Analyze(requestedURL string, resp fetch.Response) (audit.PageResult, []string) {
	facts := extractFacts(resp)
	facts.responseTime = resp.Duration
	facts.slowThreshold = a.slowResponse

	result := audit.PageResult{
		URL:             resp.URL,
		StatusCode:      resp.StatusCode,
		ResponseTimeMs:  resp.Duration.Milliseconds(),
		PageTitle:       facts.title,
		MetaDescription: facts.metaDescription,
		H1Tags:          facts.h1Tags,
	}
	if result.URL == "" {
		result.URL = requestedURL
	}
	for _, rule := range rules {
		if issue := rule(facts); issue != nil {
			result.Issues = append(result.Issues, *issue)
		}
	}
	return result, facts.links
}

// pageFacts is everything the issue rules may look at.
type pageFacts struct {
	title           string
	metaDescription string
	h1Tags          []string
	imagesTotal     int
	imagesNoAlt     int
	links           []string
	responseTime    time.Duration
	slowThreshold   time.Duration
}

func extractFacts(resp fetch.Response) pageFacts {
	var facts pageFacts
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return facts
	}

	facts.title = strings.TrimSpace(doc.Find("title").First().Text())
	if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		facts.metaDescription = strings.TrimSpace(desc)
	}
	doc.Find("h1").Each(func(_ int, s *goquery.Selection) {
		facts.h1Tags = append(facts.h1Tags, strings.TrimSpace(s.Text()))
	})
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		facts.imagesTotal++
		if alt, ok := s.Attr("alt"); !ok || strings.TrimSpace(alt) == "" {
			facts.imagesNoAlt++
		}
	})

	base := resp.URL
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if link := resolveLink(base, href); link != "" {
			facts.links = append(facts.links, link)
		}
	})
	return facts
}

// resolveLink turns href into an absolute http(s) URL against base, or
// returns "" for anchors, mailto:, javascript: and malformed values.
func resolveLink(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ""
	}
	abs := baseURL.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	return abs.String()
}
