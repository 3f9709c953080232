package solana

import (
	"errors"
	"os"
	"strings"

	solana "github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
)

// KeyEnv names the environment variable holding the signing key.
const KeyEnv = "SOLANA_PRIVATE_KEY_BASE58"

func LoadPrivateKeyFromEnv() (solana.PrivateKey, error) {
	_ = godotenv.Load() // best-effort
	b58 := os.Getenv(KeyEnv)
	if b58 == "" {
		return nil, errors.New(KeyEnv + " not set")
	}
	return solana.PrivateKeyFromBase58(b58)
}

// LoadPrivateKey prefers an explicitly configured key and falls back to the
// environment.
func LoadPrivateKey(configured string) (solana.PrivateKey, error) {
	if b58 := strings.TrimSpace(configured); b58 != "" {
		return solana.PrivateKeyFromBase58(b58)
	}
	return LoadPrivateKeyFromEnv()
}
