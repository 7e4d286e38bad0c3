package evidence

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/sajjadsiam/kalki-protocol/internal/domain"
)

// Digest returns the keccak256 hash of the bundle's JSON encoding. It is the
// evidence hash anchored on-chain with the commit.
func Digest(bundle domain.EvidenceBundle) (common.Hash, error) {
	data, err := json.Marshal(bundle)
	if err != nil {
		return common.Hash{}, fmt.Errorf("evidence: marshal bundle: %w", err)
	}
	return ethcrypto.Keccak256Hash(data), nil
}

// QuestionKey hashes a question for use in cache keys.
func QuestionKey(question string) string {
	return ethcrypto.Keccak256Hash([]byte(question)).Hex()
}
