package auth

import (
	"context"
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}
	return privateKey
}

func TestCredentials_SignRequest(t *testing.T) {
	creds := &Credentials{
		KeyID:      "test-key-id",
		PrivateKey: testKey(t),
	}

	headers, err := creds.SignRequest("GET", "/auth/derive-api-key")
	if err != nil {
		t.Fatalf("SignRequest failed: %v", err)
	}

	if headers["POLY-API-KEY"] != "test-key-id" {
		t.Errorf("POLY-API-KEY = %q, want %q", headers["POLY-API-KEY"], "test-key-id")
	}

	if headers["POLY-TIMESTAMP"] == "" {
		t.Error("POLY-TIMESTAMP is empty")
	}

	if headers["POLY-SIGNATURE"] == "" {
		t.Error("POLY-SIGNATURE is empty")
	}

	// Signature should be base64 encoded
	if !isValidBase64(headers["POLY-SIGNATURE"]) {
		t.Errorf("POLY-SIGNATURE is not valid base64: %q", headers["POLY-SIGNATURE"])
	}
}

func TestCredentials_SignatureVerifies(t *testing.T) {
	key := testKey(t)
	creds := &Credentials{KeyID: "verify-key", PrivateKey: key}

	headers, err := creds.SignRequest("GET", "/auth/derive-api-key")
	if err != nil {
		t.Fatalf("SignRequest failed: %v", err)
	}

	sig, err := base64.StdEncoding.DecodeString(headers["POLY-SIGNATURE"])
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}

	message := headers["POLY-TIMESTAMP"] + "GET" + "/auth/derive-api-key"
	hashed := sha256.Sum256([]byte(message))
	opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash}
	if err := rsa.VerifyPSS(&key.PublicKey, crypto.SHA256, hashed[:], sig, opts); err != nil {
		t.Errorf("signature does not verify: %v", err)
	}
}

func TestLoadPrivateKey_PKCS8(t *testing.T) {
	privateKey := testKey(t)

	// Encode as PKCS#8
	pkcs8Bytes, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		t.Fatalf("failed to marshal PKCS#8: %v", err)
	}

	pemBlock := &pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: pkcs8Bytes,
	}

	tmpFile := filepath.Join(t.TempDir(), "test-key.pem")
	if err := os.WriteFile(tmpFile, pem.EncodeToMemory(pemBlock), 0600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	loadedKey, err := LoadPrivateKey(tmpFile)
	if err != nil {
		t.Fatalf("LoadPrivateKey failed: %v", err)
	}

	if loadedKey.N.Cmp(privateKey.N) != 0 {
		t.Error("loaded key does not match original")
	}
}

func TestLoadPrivateKey_PKCS1(t *testing.T) {
	privateKey := testKey(t)

	// Encode as PKCS#1
	pkcs1Bytes := x509.MarshalPKCS1PrivateKey(privateKey)

	pemBlock := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: pkcs1Bytes,
	}

	tmpFile := filepath.Join(t.TempDir(), "test-key.pem")
	if err := os.WriteFile(tmpFile, pem.EncodeToMemory(pemBlock), 0600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	loadedKey, err := LoadPrivateKey(tmpFile)
	if err != nil {
		t.Fatalf("LoadPrivateKey failed: %v", err)
	}

	if loadedKey.N.Cmp(privateKey.N) != 0 {
		t.Error("loaded key does not match original")
	}
}

func TestLoadPrivateKey_FileNotFound(t *testing.T) {
	_, err := LoadPrivateKey("/nonexistent/path/to/key.pem")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadPrivateKey_InvalidPEM(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "invalid.pem")
	if err := os.WriteFile(tmpFile, []byte("not a pem file"), 0600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	_, err := LoadPrivateKey(tmpFile)
	if err == nil {
		t.Error("expected error for invalid PEM")
	}
}

func TestLoadCredentials(t *testing.T) {
	privateKey := testKey(t)

	pkcs8Bytes, _ := x509.MarshalPKCS8PrivateKey(privateKey)
	pemBlock := &pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8Bytes}
	tmpFile := filepath.Join(t.TempDir(), "test-key.pem")
	if err := os.WriteFile(tmpFile, pem.EncodeToMemory(pemBlock), 0600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	creds, err := LoadCredentials("my-key-id", tmpFile)
	if err != nil {
		t.Fatalf("LoadCredentials failed: %v", err)
	}

	if creds.KeyID != "my-key-id" {
		t.Errorf("KeyID = %q, want %q", creds.KeyID, "my-key-id")
	}

	if creds.PrivateKey == nil {
		t.Error("PrivateKey is nil")
	}
}

func TestLoadCredentials_MissingKeyID(t *testing.T) {
	_, err := LoadCredentials("", "/some/path")
	if err == nil {
		t.Error("expected error for missing key ID")
	}
}

func TestLoadCredentials_MissingPath(t *testing.T) {
	_, err := LoadCredentials("key-id", "")
	if err == nil {
		t.Error("expected error for missing path")
	}
}

func TestDeriveSession(t *testing.T) {
	key := testKey(t)
	creds := &Credentials{KeyID: "derive-key", PrivateKey: key}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("POLY-API-KEY"); got != "derive-key" {
			t.Errorf("POLY-API-KEY = %q, want %q", got, "derive-key")
		}

		// Verify the signature against the signed path
		sig, err := base64.StdEncoding.DecodeString(r.Header.Get("POLY-SIGNATURE"))
		if err != nil {
			t.Errorf("decode signature: %v", err)
		}
		message := r.Header.Get("POLY-TIMESTAMP") + "GET" + r.URL.Path
		hashed := sha256.Sum256([]byte(message))
		opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash}
		if err := rsa.VerifyPSS(&key.PublicKey, crypto.SHA256, hashed[:], sig, opts); err != nil {
			t.Errorf("signature does not verify: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"apiKey":"session-key","secret":"c2VjcmV0","passphrase":"pass-123"}`))
	}))
	defer server.Close()

	session, err := creds.DeriveSession(context.Background(), server.URL+"/auth/derive-api-key")
	if err != nil {
		t.Fatalf("DeriveSession failed: %v", err)
	}

	if session.APIKey != "session-key" {
		t.Errorf("APIKey = %q, want %q", session.APIKey, "session-key")
	}
	if session.Secret != "c2VjcmV0" {
		t.Errorf("Secret = %q, want %q", session.Secret, "c2VjcmV0")
	}
	if session.Passphrase != "pass-123" {
		t.Errorf("Passphrase = %q, want %q", session.Passphrase, "pass-123")
	}
}

func TestDeriveSession_Non200(t *testing.T) {
	creds := &Credentials{KeyID: "derive-key", PrivateKey: testKey(t)}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	_, err := creds.DeriveSession(context.Background(), server.URL+"/auth/derive-api-key")
	if err == nil {
		t.Fatal("expected error for 403 response")
	}
	if !strings.Contains(err.Error(), "403") {
		t.Errorf("error = %v, want status code mentioned", err)
	}
}

func TestDeriveSession_MissingAPIKey(t *testing.T) {
	creds := &Credentials{KeyID: "derive-key", PrivateKey: testKey(t)}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	_, err := creds.DeriveSession(context.Background(), server.URL+"/auth/derive-api-key")
	if err == nil {
		t.Fatal("expected error for empty session response")
	}
}

func TestSessionCredentials_Headers(t *testing.T) {
	session := &SessionCredentials{
		APIKey:     "session-key",
		Secret:     "topsecret",
		Passphrase: "pass-123",
	}

	h := session.Headers()

	if got := h.Get("POLY-API-KEY"); got != "session-key" {
		t.Errorf("POLY-API-KEY = %q, want %q", got, "session-key")
	}
	if got := h.Get("POLY-PASSPHRASE"); got != "pass-123" {
		t.Errorf("POLY-PASSPHRASE = %q, want %q", got, "pass-123")
	}

	ts := h.Get("POLY-TIMESTAMP")
	if _, err := strconv.ParseInt(ts, 10, 64); err != nil {
		t.Errorf("POLY-TIMESTAMP = %q, not a unix timestamp", ts)
	}

	// The signature must be reproducible from timestamp+apiKey and the secret
	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write([]byte(ts + "session-key"))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if got := h.Get("POLY-SIGNATURE"); got != want {
		t.Errorf("POLY-SIGNATURE = %q, want %q", got, want)
	}
}

func isValidBase64(s string) bool {
	// Base64 encoded string should only contain valid characters
	for _, c := range s {
		if !strings.ContainsRune("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/=", c) {
			return false
		}
	}
	return len(s) > 0
}
