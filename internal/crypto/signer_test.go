package crypto

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func TestSignerAddressAndSignTx(t *testing.T) {
	s, err := NewSigner("0x"+testKey, big.NewInt(97))
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	if s.Address() != common.HexToAddress(testAddr) {
		t.Fatalf("Address = %s, want %s", s.Address().Hex(), testAddr)
	}

	to := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    7,
		GasPrice: big.NewInt(1_000_000_000),
		Gas:      300_000,
		To:       &to,
		Value:    big.NewInt(0),
		Data:     []byte{0x01, 0x02},
	})
	signed, err := s.SignTx(tx)
	if err != nil {
		t.Fatalf("SignTx: %v", err)
	}
	from, err := s.Sender(signed)
	if err != nil {
		t.Fatalf("Sender: %v", err)
	}
	if from != s.Address() {
		t.Fatalf("recovered %s, want %s", from.Hex(), s.Address().Hex())
	}
	if signed.ChainId().Cmp(big.NewInt(97)) != 0 {
		t.Fatalf("ChainId = %v", signed.ChainId())
	}
}

func TestNewSignerRejects(t *testing.T) {
	if _, err := NewSigner(testKey, nil); err == nil {
		t.Error("nil chain id accepted")
	}
	if _, err := NewSigner("nothex", big.NewInt(1)); err == nil {
		t.Error("bad key accepted")
	}
}
