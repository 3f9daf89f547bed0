// internal/githost/auth.go
package githost

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-github/v58/github"

	"github.com/xkilldash9x/mahoraga/internal/config"
)

// appJWTLifetime is below GitHub's 10 minute maximum for app JWTs.
const appJWTLifetime = 9 * time.Minute

// tokenRenewalSlack renews installation tokens a minute before expiry.
const tokenRenewalSlack = time.Minute

// appTransport injects a GitHub App installation token into every request,
// minting a fresh one when the cached token is close to expiry.
type appTransport struct {
	base           http.RoundTripper
	appID          int64
	installationID int64
	key            *rsa.PrivateKey
	now            func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func newAppTransport(cfg config.GitHubConfig) (*appTransport, error) {
	pem, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read app private key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("failed to parse app private key: %w", err)
	}
	return &appTransport{
		base:           http.DefaultTransport,
		appID:          cfg.AppID,
		installationID: cfg.InstallationID,
		key:            key,
		now:            time.Now,
	}, nil
}

func (t *appTransport) httpClient() *http.Client {
	return &http.Client{Transport: t}
}

// RoundTrip implements http.RoundTripper.
func (t *appTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.installationToken(req.Context())
	if err != nil {
		return nil, err
	}
	cloned := req.Clone(req.Context())
	cloned.Header.Set("Authorization", "Bearer "+token)
	return t.base.RoundTrip(cloned)
}

// installationToken returns the cached installation token, exchanging a fresh
// app JWT for a new one when needed.
func (t *appTransport) installationToken(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.token != "" && t.now().Before(t.expiresAt.Add(-tokenRenewalSlack)) {
		return t.token, nil
	}

	appJWT, err := mintAppJWT(t.key, t.appID, t.now())
	if err != nil {
		return "", fmt.Errorf("failed to sign app jwt: %w", err)
	}
	client := github.NewClient(&http.Client{Transport: &bearerTransport{token: appJWT, base: t.base}})
	installToken, _, err := client.Apps.CreateInstallationToken(ctx, t.installationID, nil)
	if err != nil {
		return "", fmt.Errorf("failed to exchange app jwt for installation token: %w", err)
	}
	t.token = installToken.GetToken()
	t.expiresAt = installToken.GetExpiresAt().Time
	return t.token, nil
}

// mintAppJWT signs the short-lived RS256 app JWT GitHub expects. The issued-at
// claim is backdated a minute to absorb clock drift.
func mintAppJWT(key *rsa.PrivateKey, appID int64, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    strconv.FormatInt(appID, 10),
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(appJWTLifetime)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
}

// bearerTransport sets a static bearer token. Used only for the app JWT
// exchange request.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	cloned.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(cloned)
}
