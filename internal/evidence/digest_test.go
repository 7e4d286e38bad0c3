package evidence

import (
	"testing"
	"time"

	"github.com/sajjadsiam/kalki-protocol/internal/domain"
)

func TestDigestDeterministic(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bundle := domain.EvidenceBundle{
		Question: "q",
		Category: domain.CategoryCrypto,
		Sources: []domain.EvidenceRecord{
			{Source: "a", Data: map[string]any{"z": 1, "a": 2}, Answer: domain.AnswerYes, Timestamp: ts},
		},
		SourceCount: 1,
		Timestamp:   ts,
	}
	h1, err := Digest(bundle)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	h2, _ := Digest(bundle)
	if h1 != h2 {
		t.Fatalf("digest not stable: %s vs %s", h1.Hex(), h2.Hex())
	}

	bundle.Sources[0].Answer = domain.AnswerNo
	h3, _ := Digest(bundle)
	if h3 == h1 {
		t.Fatal("digest unchanged after answer flip")
	}
}

func TestQuestionKey(t *testing.T) {
	if QuestionKey("a") == QuestionKey("b") {
		t.Fatal("distinct questions share a key")
	}
	if len(QuestionKey("a")) != 66 {
		t.Fatalf("key length = %d, want 0x + 64 hex", len(QuestionKey("a")))
	}
}
