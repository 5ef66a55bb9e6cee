package github

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gh "github.com/google/go-github/v60/github"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/appforge/internal/errors"
	"github.com/p-blackswan/appforge/pkg/tokenstore"
)

const (
	installationTokenKey = "github_installation_token"
	tokenTTL             = 55 * time.Minute // Tokens last 1 hour, refresh at 55 min
)

// TokenSource yields the bearer credential for one mutator invocation.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a personal access token read from configuration.
type StaticToken string

// Token returns the token, or a ConfigurationError when it is blank.
func (s StaticToken) Token(context.Context) (string, error) {
	tok := strings.TrimSpace(string(s))
	if tok == "" {
		return "", perrors.NewConfigurationError("GITHUB_TOKEN",
			"GitHub token is not configured. Please add GITHUB_TOKEN to your environment variables.")
	}
	return tok, nil
}

// AppTokenSource exchanges a GitHub App JWT for an installation token and
// caches it in a tokenstore.
type AppTokenSource struct {
	appID          int64
	installationID int64
	privateKey     *rsa.PrivateKey
	store          tokenstore.Store
	baseURL        string
	httpClient     *http.Client
	logger         zerolog.Logger
}

// NewAppTokenSource reads the PEM private key at keyPath.
func NewAppTokenSource(appID, installationID int64, keyPath string, store tokenstore.Store, logger zerolog.Logger) (*AppTokenSource, error) {
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	return NewAppTokenSourceFromKeyBytes(appID, installationID, keyData, store, logger)
}

// NewAppTokenSourceFromKeyBytes creates a source from PEM key bytes (useful for testing).
func NewAppTokenSourceFromKeyBytes(appID, installationID int64, keyData []byte, store tokenstore.Store, logger zerolog.Logger) (*AppTokenSource, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(keyData)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return &AppTokenSource{
		appID:          appID,
		installationID: installationID,
		privateKey:     key,
		store:          store,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		logger:         logger.With().Str("component", "github-auth").Logger(),
	}, nil
}

// WithBaseURL points the token exchange at a non-default API root.
func (a *AppTokenSource) WithBaseURL(u string) *AppTokenSource {
	a.baseURL = u
	return a
}

// generateJWT creates a JWT for GitHub App authentication.
func (a *AppTokenSource) generateJWT() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
		Issuer:    fmt.Sprintf("%d", a.appID),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(a.privateKey)
	if err != nil {
		return "", fmt.Errorf("signing JWT: %w", err)
	}
	return signed, nil
}

// Token returns a cached or freshly minted installation token.
func (a *AppTokenSource) Token(ctx context.Context) (string, error) {
	if tok, err := a.store.Get(ctx, installationTokenKey); err == nil {
		return tok.Value, nil
	}

	a.logger.Info().Int64("installation_id", a.installationID).Msg("generating new installation token")
	signed, err := a.generateJWT()
	if err != nil {
		return "", fmt.Errorf("generating JWT: %w", err)
	}

	client, err := newRESTClient(a.httpClient, &tokenTransport{scheme: "Bearer", token: signed, base: http.DefaultTransport}, a.baseURL)
	if err != nil {
		return "", err
	}
	it, _, err := client.Apps.CreateInstallationToken(ctx, a.installationID, nil)
	if err != nil {
		return "", fmt.Errorf("requesting installation token: %w", err)
	}

	ttl := tokenTTL
	if exp := it.GetExpiresAt(); !exp.IsZero() {
		if until := time.Until(exp.Time) - 5*time.Minute; until > 0 && until < ttl {
			ttl = until
		}
	}
	if err := a.store.Set(ctx, installationTokenKey, it.GetToken(), ttl); err != nil {
		a.logger.Warn().Err(err).Msg("failed to cache installation token")
	}
	return it.GetToken(), nil
}

type tokenTransport struct {
	scheme string
	token  string
	base   http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req2 := req.Clone(req.Context())
	req2.Header.Set("Authorization", t.scheme+" "+t.token)
	return t.base.RoundTrip(req2)
}

// newRESTClient builds a go-github client over rt. An empty baseURL keeps
// the public API root.
func newRESTClient(proto *http.Client, rt http.RoundTripper, baseURL string) (*gh.Client, error) {
	hc := &http.Client{Transport: rt, Timeout: 30 * time.Second}
	if proto != nil && proto.Timeout > 0 {
		hc.Timeout = proto.Timeout
	}
	client := gh.NewClient(hc)
	if baseURL == "" {
		return client, nil
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := client.BaseURL.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid GitHub API URL %q: %w", baseURL, err)
	}
	client.BaseURL = u
	return client, nil
}
