package crypto

import "context"

// Provider performs envelope encryption and keyed hashing against a KMS.
// Plaintext never touches the database; ciphertext and HMAC digests are
// opaque strings safe to persist.
type Provider interface {
	// Encrypt returns a self-describing ciphertext for the named key
	Encrypt(ctx context.Context, keyName string, plaintext []byte) (string, error)
	// Decrypt reverses Encrypt. Tampered or foreign ciphertext must fail.
	Decrypt(ctx context.Context, keyName string, ciphertext string) ([]byte, error)
	// HMAC returns a deterministic keyed digest used for equality lookups
	HMAC(ctx context.Context, keyName string, input []byte) (string, error)
}
