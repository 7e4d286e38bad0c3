// Package crypto loads the agent's signing key and signs transactions with it.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfIterations = 480_000
	saltLen       = 16
	aesKeyLen     = 32
	keyFileV1     = 1
)

// keyFile is the on-disk envelope of an encrypted agent key. Address is the
// plaintext account so operators can tell key files apart without the
// password; it is checked after decryption.
type keyFile struct {
	Version    int    `json:"version"`
	Address    string `json:"address"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource says where the agent key comes from. A raw key wins over a key
// file.
type KeySource struct {
	RawKey   string
	KeyPath  string
	Password string
}

// normalizeKey strips an optional 0x prefix and checks for 32 bytes of hex.
func normalizeKey(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: key is not hex: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("crypto: key must be 32 bytes, got %d", len(b))
	}
	return b, nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, kdfIterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: aes: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return gcm, nil
}

// EncryptKey seals a hex private key under password (PBKDF2-SHA256 +
// AES-256-GCM) and returns the JSON key file contents.
func EncryptKey(keyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: empty password")
	}
	raw, err := normalizeKey(keyHex)
	if err != nil {
		return nil, err
	}
	pk, err := ethcrypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid secp256k1 key: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	return json.MarshalIndent(keyFile{
		Version:    keyFileV1,
		Address:    ethcrypto.PubkeyToAddress(pk.PublicKey).Hex(),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, raw, nil)),
	}, "", "  ")
}

// DecryptKey opens a key file produced by EncryptKey and returns the key as
// hex without prefix.
func DecryptKey(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: empty password")
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return "", fmt.Errorf("crypto: parse key file: %w", err)
	}
	if kf.Version != keyFileV1 {
		return "", fmt.Errorf("crypto: unsupported key file version %d", kf.Version)
	}

	fields := make([][]byte, 3)
	for i, s := range []string{kf.Salt, kf.Nonce, kf.Ciphertext} {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return "", fmt.Errorf("crypto: decode key file field %d: %w", i, err)
		}
		fields[i] = b
	}

	gcm, err := newGCM(password, fields[0])
	if err != nil {
		return "", err
	}
	plain, err := gcm.Open(nil, fields[1], fields[2], nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decrypt key file (wrong password?): %w", err)
	}

	if kf.Address != "" {
		pk, err := ethcrypto.ToECDSA(plain)
		if err != nil {
			return "", fmt.Errorf("crypto: decrypted key invalid: %w", err)
		}
		if got := ethcrypto.PubkeyToAddress(pk.PublicKey).Hex(); !strings.EqualFold(got, kf.Address) {
			return "", fmt.Errorf("crypto: key file address %s does not match key %s", kf.Address, got)
		}
	}
	return hex.EncodeToString(plain), nil
}

// LoadKey resolves the agent key from src.
func LoadKey(src KeySource) (string, error) {
	if src.RawKey != "" {
		raw, err := normalizeKey(src.RawKey)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(raw), nil
	}
	if src.KeyPath != "" {
		data, err := os.ReadFile(src.KeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: read key file: %w", err)
		}
		return DecryptKey(data, src.Password)
	}
	return "", errors.New("crypto: no agent key configured")
}
