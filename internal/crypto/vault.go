package crypto

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/treasuretrails/payments-backend/pkg/errs"
)

// VaultProvider talks to a Vault transit engine. The service never sees
// key material; encrypt, decrypt and hmac all happen inside the KMS.
type VaultProvider struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *logrus.Logger
}

// NewVaultProvider creates a transit-backed provider
func NewVaultProvider(baseURL, token string, logger *logrus.Logger) *VaultProvider {
	return &VaultProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 5 * time.Second},
		logger:  logger,
	}
}

type vaultRequest struct {
	Plaintext  string `json:"plaintext,omitempty"`
	Ciphertext string `json:"ciphertext,omitempty"`
	Input      string `json:"input,omitempty"`
}

type vaultResponse struct {
	Data struct {
		Plaintext  string `json:"plaintext"`
		Ciphertext string `json:"ciphertext"`
		HMAC       string `json:"hmac"`
	} `json:"data"`
	Errors []string `json:"errors"`
}

// Encrypt wraps plaintext with the named transit key. The returned
// ciphertext is Vault's own versioned format (vault:v1:...).
func (p *VaultProvider) Encrypt(ctx context.Context, keyName string, plaintext []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", nil
	}
	req := vaultRequest{Plaintext: base64.StdEncoding.EncodeToString(plaintext)}
	resp, err := p.post(ctx, fmt.Sprintf("/v1/transit/encrypt/%s", keyName), req)
	if err != nil {
		return "", err
	}
	if resp.Data.Ciphertext == "" {
		return "", errs.New(errs.KindKmsUnavailable, "KMS_EMPTY_RESPONSE", "kms returned no ciphertext")
	}
	return resp.Data.Ciphertext, nil
}

// Decrypt reverses Encrypt. Authentication failures (tampered or foreign
// ciphertext) are distinguished from availability failures so callers can
// decide between alerting and retrying.
func (p *VaultProvider) Decrypt(ctx context.Context, keyName string, ciphertext string) ([]byte, error) {
	if ciphertext == "" {
		return nil, nil
	}
	req := vaultRequest{Ciphertext: ciphertext}
	resp, err := p.post(ctx, fmt.Sprintf("/v1/transit/decrypt/%s", keyName), req)
	if err != nil {
		return nil, err
	}
	plaintext, decErr := base64.StdEncoding.DecodeString(resp.Data.Plaintext)
	if decErr != nil {
		return nil, errs.Wrap(decErr, errs.KindDecryptAuthFail, "KMS_BAD_PLAINTEXT", "kms plaintext is not valid base64")
	}
	return plaintext, nil
}

// HMAC computes a deterministic SHA2-256 digest with the named key
func (p *VaultProvider) HMAC(ctx context.Context, keyName string, input []byte) (string, error) {
	req := vaultRequest{Input: base64.StdEncoding.EncodeToString(input)}
	resp, err := p.post(ctx, fmt.Sprintf("/v1/transit/hmac/%s/sha2-256", keyName), req)
	if err != nil {
		return "", err
	}
	if resp.Data.HMAC == "" {
		return "", errs.New(errs.KindKmsUnavailable, "KMS_EMPTY_RESPONSE", "kms returned no hmac")
	}
	return resp.Data.HMAC, nil
}

func (p *VaultProvider) post(ctx context.Context, path string, body vaultRequest) (*vaultResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindInternal, "KMS_MARSHAL", "failed to marshal kms request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, errs.Wrap(err, errs.KindInternal, "KMS_REQUEST", "failed to build kms request")
	}
	httpReq.Header.Set("X-Vault-Token", p.token)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"path":  path,
			"error": err.Error(),
		}).Error("KMS request failed")
		return nil, errs.Wrap(err, errs.KindKmsUnavailable, "KMS_UNREACHABLE", "kms request failed")
	}
	defer httpResp.Body.Close()

	var parsed vaultResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
		return nil, errs.Wrap(err, errs.KindKmsUnavailable, "KMS_BAD_RESPONSE", "failed to decode kms response")
	}

	switch {
	case httpResp.StatusCode == http.StatusOK:
		return &parsed, nil
	case httpResp.StatusCode == http.StatusBadRequest && strings.Contains(path, "/decrypt/"):
		// transit reports tampered ciphertext as a 400
		return nil, errs.New(errs.KindDecryptAuthFail, "KMS_DECRYPT_DENIED",
			fmt.Sprintf("kms rejected ciphertext: %s", strings.Join(parsed.Errors, "; ")))
	case httpResp.StatusCode == http.StatusForbidden:
		return nil, errs.New(errs.KindKmsUnavailable, "KMS_FORBIDDEN", "kms token rejected")
	default:
		return nil, errs.New(errs.KindKmsUnavailable, "KMS_ERROR",
			fmt.Sprintf("kms returned status %d: %s", httpResp.StatusCode, strings.Join(parsed.Errors, "; ")))
	}
}
