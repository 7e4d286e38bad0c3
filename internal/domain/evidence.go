package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Answer is a source's tri-state opinion on a question.
type Answer int8

const (
	AnswerUnknown Answer = iota
	AnswerYes
	AnswerNo
)

// AnswerFromBool converts a definite boolean answer.
func AnswerFromBool(b bool) Answer {
	if b {
		return AnswerYes
	}
	return AnswerNo
}

func (a Answer) String() string {
	switch a {
	case AnswerYes:
		return "yes"
	case AnswerNo:
		return "no"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes yes/no/unknown as true/false/null.
func (a Answer) MarshalJSON() ([]byte, error) {
	switch a {
	case AnswerYes:
		return []byte("true"), nil
	case AnswerNo:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts true, false or null.
func (a *Answer) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "true":
		*a = AnswerYes
	case "false":
		*a = AnswerNo
	case "null":
		*a = AnswerUnknown
	default:
		return fmt.Errorf("domain: invalid answer %s", data)
	}
	return nil
}

// EvidenceRecord is the result of a single source query. It is never mutated
// after the source returns it.
type EvidenceRecord struct {
	Source    string         `json:"source"`
	Data      map[string]any `json:"data"`
	Answer    Answer         `json:"answer"`
	Timestamp time.Time      `json:"timestamp"`
}

// IsEmpty reports whether the record carries no source at all.
func (r EvidenceRecord) IsEmpty() bool {
	return r.Source == "" && len(r.Data) == 0 && r.Answer == AnswerUnknown && r.Timestamp.IsZero()
}

// EvidenceBundle holds the successful records gathered for one question, in
// source registration order.
type EvidenceBundle struct {
	Question    string           `json:"question"`
	Category    Category         `json:"category"`
	Sources     []EvidenceRecord `json:"sources"`
	SourceCount int              `json:"source_count"`
	Timestamp   time.Time        `json:"timestamp"`
}

// MarshalIndent is a convenience for archiving bundles in a readable form.
func (b EvidenceBundle) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(b, "", "  ")
}

// ResolutionDecision is the outcome derived from a bundle.
type ResolutionDecision struct {
	Outcome     bool           `json:"outcome"`
	Confidence  int            `json:"confidence"`
	Reasoning   string         `json:"reasoning"`
	KeyEvidence EvidenceRecord `json:"key_evidence"`
}
