package analyze

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/project-aether/crawler/internal/audit"
	"github.com/project-aether/crawler/internal/fetch"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
  <title> Product Catalog </title>
  <meta name="description" content="All our products in one place.">
</head>
<body>
  <h1>Catalog</h1>
  <img src="a.png" alt="product a">
  <img src="b.png">
  <a href="/pricing">Pricing</a>
  <a href="https://example.com/about">About</a>
  <a href="#top">Top</a>
  <a href="mailto:sales@example.com">Email</a>
  <a href="javascript:void(0)">Noop</a>
</body>
</html>`

func TestAnalyzeExtractsMetadata(t *testing.T) {
	t.Parallel()

	a := New(3 * time.Second)
	result, links := a.Analyze("https://example.com/", fetch.Response{
		URL:        "https://example.com/",
		StatusCode: 200,
		Body:       []byte(samplePage),
		Duration:   120 * time.Millisecond,
	})

	require.Equal(t, "Product Catalog", result.PageTitle)
	require.Equal(t, "All our products in one place.", result.MetaDescription)
	require.Equal(t, []string{"Catalog"}, result.H1Tags)
	require.Equal(t, 200, result.StatusCode)
	require.EqualValues(t, 120, result.ResponseTimeMs)

	// Anchors, mailto and javascript links are dropped; relative links
	// resolve against the final URL.
	require.Equal(t, []string{
		"https://example.com/pricing",
		"https://example.com/about",
	}, links)
}

func TestAnalyzeFlagsIssues(t *testing.T) {
	t.Parallel()

	a := New(100 * time.Millisecond)
	result, _ := a.Analyze("https://example.com/bare", fetch.Response{
		URL:        "https://example.com/bare",
		StatusCode: 200,
		Body:       []byte("<html><body><p>nothing here</p></body></html>"),
		Duration:   500 * time.Millisecond,
	})

	kinds := issueKinds(result)
	require.Contains(t, kinds, audit.IssueMissingTitle)
	require.Contains(t, kinds, audit.IssueMissingMetaDescription)
	require.Contains(t, kinds, audit.IssueMissingH1)
	require.Contains(t, kinds, audit.IssueSlowResponse)
}

func TestAnalyzeCleanPageHasNoIssues(t *testing.T) {
	t.Parallel()

	a := New(3 * time.Second)
	result, _ := a.Analyze("https://example.com/", fetch.Response{
		URL:        "https://example.com/",
		StatusCode: 200,
		Body:       []byte(samplePageClean),
		Duration:   50 * time.Millisecond,
	})
	require.Empty(t, result.Issues)
}

const samplePageClean = `<html>
<head><title>Fine</title><meta name="description" content="ok"></head>
<body><h1>One heading</h1><img src="x.png" alt="x"></body>
</html>`

func TestAnalyzeFallsBackToRequestedURL(t *testing.T) {
	t.Parallel()

	a := New(0)
	result, _ := a.Analyze("https://example.com/requested", fetch.Response{
		StatusCode: 200,
		Body:       []byte("<html></html>"),
	})
	require.Equal(t, "https://example.com/requested", result.URL)
}

func TestResolveLink(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		base string
		href string
		want string
	}{
		{"relative", "https://example.com/dir/", "page", "https://example.com/dir/page"},
		{"root relative", "https://example.com/dir/", "/top", "https://example.com/top"},
		{"absolute", "https://example.com/", "https://other.org/x", "https://other.org/x"},
		{"anchor dropped", "https://example.com/", "#section", ""},
		{"empty dropped", "https://example.com/", "  ", ""},
		{"mailto dropped", "https://example.com/", "mailto:x@y.z", ""},
		{"scheme relative", "https://example.com/", "//cdn.example.com/lib.js", "https://cdn.example.com/lib.js"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, resolveLink(tt.base, tt.href))
		})
	}
}

func issueKinds(r audit.PageResult) []audit.IssueKind {
	kinds := make([]audit.IssueKind, 0, len(r.Issues))
	for _, issue := range r.Issues {
		kinds = append(kinds, issue.Kind)
	}
	return kinds
}
