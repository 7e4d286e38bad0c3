package redis

import (
	"strings"
	"testing"
)

func TestKeysAreNamespaced(t *testing.T) {
	keys := []string{
		lockKey("resolve:0x01"),
		rateLimitKey("evidence:CoinGecko"),
		historyKey("ch:resolution"),
		cursorKey("0xAbC"),
		evidenceKey("Binance", "Will BTC close above $60k?"),
	}
	for _, k := range keys {
		if !strings.HasPrefix(k, keyPrefix) {
			t.Errorf("key %q lacks prefix %q", k, keyPrefix)
		}
	}
}

func TestCursorKeyIgnoresAddressCase(t *testing.T) {
	if cursorKey("0xABCDEF") != cursorKey("0xabcdef") {
		t.Fatal("cursor key depends on address case")
	}
}

func TestEvidenceKeyHidesQuestion(t *testing.T) {
	k := evidenceKey("Perplexity AI", "a question with spaces")
	if strings.Contains(k, "question") {
		t.Fatalf("raw question leaked into key %q", k)
	}
	if evidenceKey("s", "q1") == evidenceKey("s", "q2") {
		t.Fatal("distinct questions collide")
	}
}

func TestHasPattern(t *testing.T) {
	if hasPattern("ch:resolution") || !hasPattern("ch:*") {
		t.Fatal("pattern detection wrong")
	}
}
