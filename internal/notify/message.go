package notify

import (
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/sajjadsiam/kalki-protocol/internal/domain"
)

// maxQuestionLen bounds the question excerpt in an alert.
const maxQuestionLen = 280

var strict = bluemonday.StrictPolicy()

// sanitize strips markup from untrusted on-chain text, collapses
// whitespace and truncates to maxQuestionLen runes.
func sanitize(s string) string {
	s = html.UnescapeString(strict.Sanitize(s))
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > maxQuestionLen {
		s = string(r[:maxQuestionLen-1]) + "…"
	}
	return s
}

// FormatJob renders the alert title and body for a terminal job.
func FormatJob(event string, job domain.ResolutionJob) (title, message string) {
	var b strings.Builder

	switch event {
	case domain.EventResolutionCommitted:
		title = "Resolution committed"
	case domain.EventResolutionFailed:
		title = "Resolution failed"
	default:
		title = event
	}

	fmt.Fprintf(&b, "Request: %s\n", job.RequestID)
	if job.Request != nil {
		fmt.Fprintf(&b, "Question: %s\n", sanitize(job.Request.Question))
		fmt.Fprintf(&b, "Category: %s\n", job.Request.Category)
	}
	if job.Decision != nil {
		outcome := "NO"
		if job.Decision.Outcome {
			outcome = "YES"
		}
		fmt.Fprintf(&b, "Outcome: %s (%d%% confidence)\n", outcome, job.Decision.Confidence)
		fmt.Fprintf(&b, "Reasoning: %s\n", job.Decision.Reasoning)
	}
	if job.TxHash != "" {
		fmt.Fprintf(&b, "Tx: %s\n", job.TxHash)
	}
	if job.LastError != "" {
		fmt.Fprintf(&b, "Error: %s\n", sanitize(job.LastError))
	}
	fmt.Fprintf(&b, "Attempts: %d", job.Attempts)

	return title, b.String()
}
