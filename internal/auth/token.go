// Package auth obtains and caches the OAuth2 bearer credential for the
// upstream API. The cache file is the sole persisted state; Invalidate
// removes it unconditionally.
package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNoCredentials is returned when no credential source is configured and
// nothing usable is cached. Callers abort the whole invocation on it.
var ErrNoCredentials = errors.New("auth: no client credentials configured")

// DefaultSkew is the safety margin subtracted from a credential's expiry to
// force early refresh.
const DefaultSkew = 300 * time.Second

// Credential is the on-disk shape of the cached token.
type Credential struct {
	AccessToken string  `json:"access_token"`
	ExpiresAt   float64 `json:"expires_at"`
	WrittenAt   float64 `json:"written_at"`
}

// Issuer exchanges client credentials for a fresh bearer token.
type Issuer interface {
	Issue(ctx context.Context) (token string, expiresIn int, err error)
}

// Cache returns valid tokens, reading the cache file when allowed and
// refreshing through the issuer otherwise.
type Cache struct {
	Path   string
	Skew   time.Duration
	Issuer Issuer

	now func() time.Time
}

// NewCache builds a Cache persisting to path with the given skew.
// A skew of zero falls back to DefaultSkew.
func NewCache(path string, skew time.Duration, issuer Issuer) *Cache {
	if skew <= 0 {
		skew = DefaultSkew
	}
	return &Cache{Path: path, Skew: skew, Issuer: issuer, now: time.Now}
}

// Token returns a valid bearer token. With useCache, a cached credential is
// honoured while now < expires_at - skew; otherwise a fresh token is issued
// and persisted.
func (c *Cache) Token(ctx context.Context, useCache bool) (string, error) {
	if useCache {
		if tok := c.readCache(); tok != "" {
			return tok, nil
		}
	}

	if c.Issuer == nil {
		return "", ErrNoCredentials
	}

	token, expiresIn, err := c.Issuer.Issue(ctx)
	if err != nil {
		return "", err
	}
	if err := c.writeCache(token, expiresIn); err != nil {
		return "", fmt.Errorf("auth: persist token cache: %w", err)
	}
	return token, nil
}

// Invalidate deletes the cached credential. Absence is not an error.
func (c *Cache) Invalidate() error {
	err := os.Remove(c.Path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// readCache returns the cached token if it has not expired with skew,
// otherwise the empty string. Unreadable cache files behave like a miss.
func (c *Cache) readCache() string {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return ""
	}
	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return ""
	}
	if float64(c.now().Unix()) < cred.ExpiresAt-c.Skew.Seconds() {
		return cred.AccessToken
	}
	return ""
}

func (c *Cache) writeCache(token string, expiresIn int) error {
	now := float64(c.now().Unix())
	cred := Credential{
		AccessToken: token,
		ExpiresAt:   now + float64(expiresIn),
		WrittenAt:   now,
	}
	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.Path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(c.Path, data, 0o600)
}

// HTTPIssuer performs the OAuth2 client-credentials exchange.
type HTTPIssuer struct {
	TokenURL     string
	BasicAuthB64 string
	Client       *http.Client
}

// Issue posts grant_type=client_credentials and returns the new token.
func (i *HTTPIssuer) Issue(ctx context.Context) (string, int, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Authorization", "Basic "+i.BasicAuthB64)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := i.Client
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, fmt.Errorf("auth: token endpoint returned %d: %s", resp.StatusCode, truncate(string(body), 300))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", 0, fmt.Errorf("auth: decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", 0, errors.New("auth: token response without access_token")
	}
	if payload.ExpiresIn <= 0 {
		payload.ExpiresIn = 3600
	}
	return payload.AccessToken, payload.ExpiresIn, nil
}

// ResolveBasicAuth produces base64(client_id:client_secret) from the
// configured sources: an already-encoded value, an id/secret pair, or a
// secrets file holding either "id:secret" or its base64.
func ResolveBasicAuth(b64, clientID, clientSecret, idFile string) (string, error) {
	if b64 != "" {
		return strings.TrimSpace(b64), nil
	}
	if clientID != "" && clientSecret != "" {
		return base64.StdEncoding.EncodeToString([]byte(clientID + ":" + clientSecret)), nil
	}

	raw, err := os.ReadFile(idFile)
	if err != nil {
		return "", fmt.Errorf("%w: set CLIMSYNC_BASIC_AUTH_B64, CLIMSYNC_CLIENT_ID+CLIMSYNC_CLIENT_SECRET, or provide %s", ErrNoCredentials, idFile)
	}
	content := strings.TrimSpace(string(raw))
	if strings.Contains(content, ":") {
		return base64.StdEncoding.EncodeToString([]byte(content)), nil
	}
	if _, err := base64.StdEncoding.DecodeString(content); err != nil {
		return "", fmt.Errorf("auth: %s is neither id:secret nor base64", idFile)
	}
	return content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
