package storage

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// Signer produces the RSA-SHA256 signatures embedded in V4 signed URLs.
type Signer interface {
	// Email is the GoogleAccessID the signature is attributed to.
	Email() string
	SignBytes(ctx context.Context, payload []byte) ([]byte, error)
}

// RSASigner signs with a service account private key held in process.
type RSASigner struct {
	email string
	key   *rsa.PrivateKey
}

// NewSignerFromSecret accepts either a service account JSON key or a bare PEM private key, as
// stored in Secret Manager. A non-empty email overrides the key file's client_email and is
// required for a bare PEM key.
func NewSignerFromSecret(email, secret string) (*RSASigner, error) {
	email, pemKey, err := splitSecret(strings.TrimSpace(email), strings.TrimSpace(secret))
	if err != nil {
		return nil, err
	}
	key, err := parseRSAPrivateKey(pemKey)
	if err != nil {
		return nil, err
	}
	return &RSASigner{email: email, key: key}, nil
}

func splitSecret(email, secret string) (string, string, error) {
	if !strings.HasPrefix(secret, "{") {
		if email == "" {
			return "", "", errors.New("storage: signer email is required with a PEM key")
		}
		return email, secret, nil
	}

	var file struct {
		ClientEmail string `json:"client_email"`
		PrivateKey  string `json:"private_key"`
	}
	if err := json.Unmarshal([]byte(secret), &file); err != nil {
		return "", "", fmt.Errorf("storage: decode service account json: %w", err)
	}
	if email == "" {
		email = strings.TrimSpace(file.ClientEmail)
	}
	switch {
	case strings.TrimSpace(file.PrivateKey) == "":
		return "", "", errors.New("storage: private_key missing in service account JSON")
	case email == "":
		return "", "", errors.New("storage: client_email missing in service account JSON")
	}
	return email, file.PrivateKey, nil
}

func (s *RSASigner) Email() string {
	if s == nil {
		return ""
	}
	return s.email
}

func (s *RSASigner) SignBytes(ctx context.Context, payload []byte) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, errors.New("storage: signer not initialised")
	}
	if len(payload) == 0 {
		return nil, errors.New("storage: payload is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("storage: sign payload: %w", err)
	}
	return sig, nil
}

// parseRSAPrivateKey reads PKCS#8 ("PRIVATE KEY") or PKCS#1 ("RSA PRIVATE KEY") PEM.
func parseRSAPrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(pemData)))
	if block == nil {
		return nil, errors.New("storage: failed to decode PEM private key")
	}
	if block.Type == "RSA PRIVATE KEY" {
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("storage: parse RSA private key: %w", err)
		}
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("storage: parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("storage: private key is not RSA")
	}
	return key, nil
}
