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
	"testing"
)

func testPEM(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return key, string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func TestNewSignerFromSecretPEM(t *testing.T) {
	key, pemKey := testPEM(t)
	signer, err := NewSignerFromSecret("signer@example.iam.gserviceaccount.com", pemKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if signer.Email() != "signer@example.iam.gserviceaccount.com" {
		t.Fatalf("unexpected email %s", signer.Email())
	}
	payload := []byte("GOOG4-RSA-SHA256\npayload")
	sig, err := signer.SignBytes(context.Background(), payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	digest := sha256.Sum256(payload)
	if err := rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest[:], sig); err != nil {
		t.Fatalf("signature does not verify: %v", err)
	}
}

func TestNewSignerFromSecretJSON(t *testing.T) {
	_, pemKey := testPEM(t)
	raw, err := json.Marshal(map[string]string{
		"client_email": "json@example.iam.gserviceaccount.com",
		"private_key":  pemKey,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	signer, err := NewSignerFromSecret("", string(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if signer.Email() != "json@example.iam.gserviceaccount.com" {
		t.Fatalf("unexpected email %s", signer.Email())
	}

	signer, err = NewSignerFromSecret("override@example.iam.gserviceaccount.com", string(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if signer.Email() != "override@example.iam.gserviceaccount.com" {
		t.Fatalf("expected configured email to win, got %s", signer.Email())
	}
}

func TestNewSignerFromSecretRejectsBadInput(t *testing.T) {
	_, pemKey := testPEM(t)
	if _, err := NewSignerFromSecret("", pemKey); err == nil {
		t.Fatalf("expected error when email missing for PEM key")
	}
	if _, err := NewSignerFromSecret("a@b", "not a key"); err == nil {
		t.Fatalf("expected error for garbage key")
	}
	signer := &RSASigner{}
	if _, err := signer.SignBytes(context.Background(), []byte("x")); err == nil {
		t.Fatalf("expected error for uninitialised signer")
	}
}

func TestNewSignerFromSecretPKCS1(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pemKey := string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}))
	signer, err := NewSignerFromSecret("pkcs1@example.iam.gserviceaccount.com", pemKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if signer.key.N.Cmp(key.N) != 0 {
		t.Fatalf("expected parsed key to match")
	}
}
