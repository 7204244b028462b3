package crypto

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/treasuretrails/payments-backend/pkg/errs"
)

const devCiphertextPrefix = "dev:v1:"

// DevProvider is a local stand-in for the KMS used in tests and on
// developer machines. It encodes instead of encrypting and is refused
// by config validation outside development.
type DevProvider struct {
	hmacKey []byte
}

// NewDevProvider requires the dev-mode flag so the caller cannot wire it
// up by accident in a production build.
func NewDevProvider(devMode bool, hmacSecret string) (*DevProvider, error) {
	if !devMode {
		return nil, errs.New(errs.KindInternal, "CRYPTO_DEV_DISABLED", "dev crypto provider requires CRYPTO_DEV_MODE=true")
	}
	if hmacSecret == "" {
		hmacSecret = "dev-hmac-secret"
	}
	return &DevProvider{hmacKey: []byte(hmacSecret)}, nil
}

// Encrypt base64-encodes the plaintext behind a recognizable prefix.
// Empty plaintext stays empty.
func (p *DevProvider) Encrypt(_ context.Context, keyName string, plaintext []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", nil
	}
	return devCiphertextPrefix + keyName + ":" + base64.StdEncoding.EncodeToString(plaintext), nil
}

// Decrypt reverses Encrypt and fails on anything it did not produce
func (p *DevProvider) Decrypt(_ context.Context, keyName string, ciphertext string) ([]byte, error) {
	if ciphertext == "" {
		return nil, nil
	}
	expected := devCiphertextPrefix + keyName + ":"
	if !strings.HasPrefix(ciphertext, expected) {
		return nil, errs.New(errs.KindDecryptAuthFail, "KMS_DECRYPT_DENIED",
			fmt.Sprintf("ciphertext was not produced for key %s", keyName))
	}
	plaintext, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, expected))
	if err != nil {
		return nil, errs.Wrap(err, errs.KindDecryptAuthFail, "KMS_DECRYPT_DENIED", "malformed dev ciphertext")
	}
	return plaintext, nil
}

// HMAC computes a local HMAC-SHA256, keyed per logical key name
func (p *DevProvider) HMAC(_ context.Context, keyName string, input []byte) (string, error) {
	mac := hmac.New(sha256.New, append(p.hmacKey, []byte(keyName)...))
	mac.Write(input)
	return "hmac-sha2-256:" + hex.EncodeToString(mac.Sum(nil)), nil
}
