package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Well-known throwaway key (hardhat account #0).
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
const testAddr = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

func TestEncryptDecryptKey(t *testing.T) {
	blob, err := EncryptKey("0x"+testKey, "hunter2")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}
	if !strings.Contains(string(blob), testAddr) {
		t.Fatalf("key file missing address: %s", blob)
	}
	got, err := DecryptKey(blob, "hunter2")
	if err != nil {
		t.Fatalf("DecryptKey: %v", err)
	}
	if got != testKey {
		t.Fatalf("DecryptKey = %s, want %s", got, testKey)
	}
	if _, err := DecryptKey(blob, "wrong"); err == nil {
		t.Fatal("DecryptKey with wrong password: want error")
	}
}

func TestEncryptKeyRejectsBadInput(t *testing.T) {
	if _, err := EncryptKey(testKey, ""); err == nil {
		t.Error("empty password accepted")
	}
	if _, err := EncryptKey("abcd", "pw"); err == nil {
		t.Error("short key accepted")
	}
	if _, err := EncryptKey("zz", "pw"); err == nil {
		t.Error("non-hex key accepted")
	}
}

func TestLoadKey(t *testing.T) {
	got, err := LoadKey(KeySource{RawKey: "0x" + strings.ToUpper(testKey)})
	if err != nil {
		t.Fatalf("LoadKey raw: %v", err)
	}
	if got != testKey {
		t.Fatalf("LoadKey raw = %s", got)
	}

	blob, err := EncryptKey(testKey, "pw")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "agent.key.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatal(err)
	}
	got, err = LoadKey(KeySource{KeyPath: path, Password: "pw"})
	if err != nil {
		t.Fatalf("LoadKey file: %v", err)
	}
	if got != testKey {
		t.Fatalf("LoadKey file = %s", got)
	}

	if _, err := LoadKey(KeySource{}); err == nil {
		t.Fatal("LoadKey with nothing configured: want error")
	}
}
