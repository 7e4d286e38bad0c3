// Package resolver turns an evidence bundle into a binary outcome with a
// confidence score.
package resolver

import (
	"fmt"

	"github.com/sajjadsiam/kalki-protocol/internal/domain"
)

const (
	// baseConfidence is awarded to any strict majority.
	baseConfidence = 60
	// shareWeight scales the winning side's share of sources.
	shareWeight = 40
	// maxConfidence caps the score; the agent never claims certainty.
	maxConfidence = 95
	// tieConfidence accompanies the conservative "false" default.
	tieConfidence = 50
)

// Resolver decides the outcome of a question from gathered evidence.
// Implementations must be deterministic for a given bundle.
type Resolver interface {
	Analyze(question string, bundle domain.EvidenceBundle) domain.ResolutionDecision
}

// Majority resolves by simple vote over the records that carry a definite
// answer. Records with an unknown answer do not vote but still count toward
// the total used for the confidence share.
type Majority struct{}

// NewMajority returns the majority-vote resolver.
func NewMajority() Majority {
	return Majority{}
}

// Analyze implements Resolver.
func (Majority) Analyze(question string, bundle domain.EvidenceBundle) domain.ResolutionDecision {
	yes, no := Tally(bundle.Sources)
	total := len(bundle.Sources)

	decision := domain.ResolutionDecision{
		Reasoning: fmt.Sprintf("Based on %d sources: %d YES, %d NO", total, yes, no),
	}
	if total > 0 {
		decision.KeyEvidence = bundle.Sources[0]
	}

	switch {
	case total > 0 && yes > no:
		decision.Outcome = true
		decision.Confidence = confidence(yes, total)
	case total > 0 && no > yes:
		decision.Outcome = false
		decision.Confidence = confidence(no, total)
	default:
		// Ties, including the empty bundle, never resolve true.
		decision.Outcome = false
		decision.Confidence = tieConfidence
	}
	return decision
}

// Tally counts definite yes and no answers.
func Tally(records []domain.EvidenceRecord) (yes, no int) {
	for _, r := range records {
		switch r.Answer {
		case domain.AnswerYes:
			yes++
		case domain.AnswerNo:
			no++
		}
	}
	return yes, no
}

// confidence computes min(95, 60 + 40*winning/total) truncated to an integer.
// total must be positive.
func confidence(winning, total int) int {
	c := baseConfidence + shareWeight*winning/total
	if c > maxConfidence {
		c = maxConfidence
	}
	if c < 0 {
		c = 0
	}
	return c
}

var _ Resolver = Majority{}
