package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// SessionCredentials is the derived session returned by the auth endpoint.
type SessionCredentials struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// DeriveSession exchanges a signed request for session credentials. Called
// once at startup; the relay runs unauthenticated if the config disables it.
func (c *Credentials) DeriveSession(ctx context.Context, authURL string) (*SessionCredentials, error) {
	u, err := url.Parse(authURL)
	if err != nil {
		return nil, fmt.Errorf("parse auth url: %w", err)
	}

	headers, err := c.SignRequest(http.MethodGet, u.Path)
	if err != nil {
		return nil, fmt.Errorf("sign derive request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, authURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build derive request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("derive session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("derive session: unexpected status %d", resp.StatusCode)
	}

	var session SessionCredentials
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("decode session response: %w", err)
	}
	if session.APIKey == "" {
		return nil, fmt.Errorf("derive session: response missing api key")
	}

	return &session, nil
}

// Headers returns WebSocket dial headers carrying the derived session.
// The signature is an HMAC-SHA256 over timestamp+apiKey keyed with the
// session secret.
func (s *SessionCredentials) Headers() http.Header {
	ts := fmt.Sprintf("%d", time.Now().Unix())

	mac := hmac.New(sha256.New, []byte(s.Secret))
	mac.Write([]byte(ts + s.APIKey))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	h := http.Header{}
	h.Set("POLY-API-KEY", s.APIKey)
	h.Set("POLY-TIMESTAMP", ts)
	h.Set("POLY-PASSPHRASE", s.Passphrase)
	h.Set("POLY-SIGNATURE", signature)
	return h
}
