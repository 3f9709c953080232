package solana

import (
	"os"
	"testing"

	solana "github.com/gagliardetto/solana-go"
)

func TestLoadPrivateKeyFromEnv(t *testing.T) {
	wallet := solana.NewWallet()
	os.Setenv("SOLANA_PRIVATE_KEY_BASE58", wallet.PrivateKey.String())
	defer os.Unsetenv("SOLANA_PRIVATE_KEY_BASE58")

	key, err := LoadPrivateKeyFromEnv()
	if err != nil {
		t.Fatalf("expected key, got error: %v", err)
	}
	if !key.PublicKey().Equals(wallet.PublicKey()) {
		t.Fatalf("expected public key %s, got %s", wallet.PublicKey(), key.PublicKey())
	}
}

func TestLoadPrivateKeyFromEnvMissing(t *testing.T) {
	os.Unsetenv("SOLANA_PRIVATE_KEY_BASE58")
	if _, err := LoadPrivateKeyFromEnv(); err == nil {
		t.Fatalf("expected error when env missing")
	}
}

func TestLoadPrivateKeyPrefersConfigured(t *testing.T) {
	configured := solana.NewWallet()
	os.Setenv(KeyEnv, solana.NewWallet().PrivateKey.String())
	defer os.Unsetenv(KeyEnv)

	key, err := LoadPrivateKey(configured.PrivateKey.String())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !key.PublicKey().Equals(configured.PublicKey()) {
		t.Fatalf("expected configured key %s, got %s", configured.PublicKey(), key.PublicKey())
	}
	if _, err := LoadPrivateKey("not-base58-!!"); err == nil {
		t.Fatalf("expected error for malformed key")
	}
}
