package analyze

import (
	"fmt"

	"github.com/project-aether/crawler/internal/audit"
)

// rule inspects the extracted page facts and reports at most one issue.
// Rules are evaluated independently so each can be tested on its own.
type rule func(f pageFacts) *audit.Issue

var rules = []rule{
	ruleMissingTitle,
	ruleMissingMetaDescription,
	ruleH1Count,
	ruleMissingAltText,
	ruleSlowResponse,
}

func ruleMissingTitle(f pageFacts) *audit.Issue {
	if f.title != "" {
		return nil
	}
	return &audit.Issue{
		Kind:     audit.IssueMissingTitle,
		Severity: audit.SeverityMedium,
		Detail:   "page has no <title> element or it is empty",
	}
}

func ruleMissingMetaDescription(f pageFacts) *audit.Issue {
	if f.metaDescription != "" {
		return nil
	}
	return &audit.Issue{
		Kind:     audit.IssueMissingMetaDescription,
		Severity: audit.SeverityMedium,
		Detail:   "page has no meta description or it is empty",
	}
}

func ruleH1Count(f pageFacts) *audit.Issue {
	switch n := len(f.h1Tags); {
	case n == 0:
		return &audit.Issue{
			Kind:     audit.IssueMissingH1,
			Severity: audit.SeverityMedium,
			Detail:   "page has no <h1> heading",
		}
	case n > 1:
		return &audit.Issue{
			Kind:     audit.IssueDuplicateH1,
			Severity: audit.SeverityMedium,
			Detail:   fmt.Sprintf("page has %d <h1> headings, expected exactly one", n),
		}
	default:
		return nil
	}
}

// ruleMissingAltText aggregates all offending images into one issue so a
// gallery page does not flood the report.
func ruleMissingAltText(f pageFacts) *audit.Issue {
	if f.imagesNoAlt == 0 {
		return nil
	}
	return &audit.Issue{
		Kind:     audit.IssueMissingAltText,
		Severity: audit.SeverityMedium,
		Detail:   fmt.Sprintf("%d of %d images lack alt text", f.imagesNoAlt, f.imagesTotal),
	}
}

func ruleSlowResponse(f pageFacts) *audit.Issue {
	if f.responseTime <= f.slowThreshold {
		return nil
	}
	return &audit.Issue{
		Kind:     audit.IssueSlowResponse,
		Severity: audit.SeverityCritical,
		Detail:   fmt.Sprintf("response took %dms, threshold is %dms", f.responseTime.Milliseconds(), f.slowThreshold.Milliseconds()),
	}
}
