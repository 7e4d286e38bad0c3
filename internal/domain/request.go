package domain

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// RequestID is the 32-byte identifier of an on-chain resolution request.
type RequestID [32]byte

// ParseRequestID decodes a 0x-prefixed (or bare) 64-character hex string.
func ParseRequestID(s string) (RequestID, error) {
	var id RequestID
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(raw) != 64 {
		return id, fmt.Errorf("domain: request id must be 32 bytes, got %d hex chars", len(raw))
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return id, fmt.Errorf("domain: request id: %w", err)
	}
	copy(id[:], b)
	return id, nil
}

// String returns the 0x-prefixed hex form.
func (id RequestID) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

// Short returns an abbreviated form for log lines.
func (id RequestID) Short() string {
	return "0x" + hex.EncodeToString(id[:8])
}

// IsZero reports whether the id is all zero bytes.
func (id RequestID) IsZero() bool {
	return id == RequestID{}
}

// MarshalText implements encoding.TextMarshaler.
func (id RequestID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *RequestID) UnmarshalText(text []byte) error {
	parsed, err := ParseRequestID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Category tags a request with the kind of evidence needed to resolve it.
type Category string

const (
	CategoryCrypto  Category = "crypto"
	CategorySports  Category = "sports"
	CategoryGeneral Category = "general"
)

// NormalizeCategory lower-cases and trims a category as read from chain.
// Unknown values are returned as-is; routing decides the fallback.
func NormalizeCategory(s string) Category {
	return Category(strings.ToLower(strings.TrimSpace(s)))
}

// ResolutionRequest is the on-chain record describing a market question that
// awaits an agent's answer. It is immutable once fetched.
type ResolutionRequest struct {
	ID          RequestID `json:"request_id"`
	MarketID    string    `json:"market_id"`
	Question    string    `json:"question"`
	Category    Category  `json:"category"`
	RequestTime time.Time `json:"request_time"`
	Deadline    time.Time `json:"deadline"`
	Requester   string    `json:"requester"`
	Fee         *big.Int  `json:"fee"`
	Status      uint8     `json:"status"`
}

// SelectionEvent is one AgentSelected log entry emitted by the contract.
type SelectionEvent struct {
	RequestID       RequestID
	Agent           string
	SelectionWeight *big.Int
	BlockNumber     uint64
	TxHash          string
}

// AgentStats mirrors the contract's getAgentStats view. An unregistered agent
// yields the zero value.
type AgentStats struct {
	Stake            *big.Int `json:"stake"`
	Reputation       uint64   `json:"reputation"`
	TotalResolutions uint64   `json:"total_resolutions"`
	Accuracy         uint64   `json:"accuracy"`
}
