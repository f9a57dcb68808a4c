package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// GenerateSecret returns an opaque bearer secret of the form
// "<prefix>_<random>" with 256 bits of entropy. The plaintext is shown to
// the caller exactly once; only its hash is ever persisted.
func GenerateSecret(prefix string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	secret := base64.RawURLEncoding.EncodeToString(raw)
	if prefix != "" {
		return prefix + "_" + secret, nil
	}
	return secret, nil
}

// HashSecret returns the SHA-256 hex digest of a secret. Opaque credentials
// are always stored and looked up by this hash.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// GenerateID returns a prefixed unique identifier, e.g. "dev_1f9a2b...".
func GenerateID(prefix string) string {
	uid := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	if prefix != "" {
		return prefix + "_" + uid
	}
	return uid
}
