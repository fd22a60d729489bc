// Package auth authenticates as a GitHub App and hands out API clients
// scoped to a single installation.
package auth

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"blockci-gh/internal/handler"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-github/v68/github"
	"golang.org/x/sync/singleflight"
)

const DefaultAPIURL = "https://api.github.com/"

const (
	jwtBackdate = 60 * time.Second
	jwtLifetime = 9 * time.Minute
	tokenLeeway = time.Minute
)

// AppConfig identifies the App.
type AppConfig struct {
	AppID      int64
	PrivateKey *rsa.PrivateKey
	APIURL     string
}

// AppAuthenticator authenticates as the App itself.
type AppAuthenticator interface {
	AuthenticateApp(ctx context.Context, cfg AppConfig) (InstallationAuthenticator, error)
}

// InstallationAuthenticator hands out API clients for one installation.
type InstallationAuthenticator interface {
	ForInstallation(ctx context.Context, installationID int64) (handler.GitHubAPI, error)
}

// GitHubApp authenticates against the GitHub REST API.
type GitHubApp struct {
	HTTPClient *http.Client
	Now        func() time.Time
}

func NewGitHubApp() *GitHubApp {
	return &GitHubApp{HTTPClient: &http.Client{Timeout: 30 * time.Second}, Now: time.Now}
}

// AuthenticateApp signs an App JWT and calls GET /app to prove the
// credentials work.
func (a *GitHubApp) AuthenticateApp(ctx context.Context, cfg AppConfig) (InstallationAuthenticator, error) {
	if cfg.PrivateKey == nil {
		return nil, fmt.Errorf("app %d: private key is required", cfg.AppID)
	}
	c := &AppClient{
		cfg:    cfg,
		http:   a.HTTPClient,
		now:    a.Now,
		tokens: make(map[int64]*github.InstallationToken),
	}
	if c.now == nil {
		c.now = time.Now
	}

	client, err := c.appClient()
	if err != nil {
		return nil, err
	}
	app, _, err := client.Apps.Get(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("authenticate app %d: %w", cfg.AppID, err)
	}
	c.slug = app.GetSlug()
	return c, nil
}

// AppClient is an authenticated App. Installation tokens are cached until
// shortly before they expire.
type AppClient struct {
	cfg  AppConfig
	http *http.Client
	now  func() time.Time
	slug string

	flight singleflight.Group
	mu     sync.Mutex
	tokens map[int64]*github.InstallationToken
}

// Slug is the App's URL name as reported by GitHub.
func (c *AppClient) Slug() string {
	return c.slug
}

// JWT returns a freshly signed App token.
func (c *AppClient) JWT() (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-jwtBackdate)),
		ExpiresAt: jwt.NewNumericDate(now.Add(jwtLifetime)),
		Issuer:    strconv.FormatInt(c.cfg.AppID, 10),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.cfg.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("sign app jwt: %w", err)
	}
	return signed, nil
}

func (c *AppClient) appClient() (*github.Client, error) {
	token, err := c.JWT()
	if err != nil {
		return nil, err
	}
	return newClient(c.http, c.cfg.APIURL, token)
}

// ForInstallation returns an API client authenticated as installationID.
func (c *AppClient) ForInstallation(ctx context.Context, installationID int64) (handler.GitHubAPI, error) {
	token, err := c.installationToken(ctx, installationID)
	if err != nil {
		return nil, err
	}
	client, err := newClient(c.http, c.cfg.APIURL, token)
	if err != nil {
		return nil, err
	}
	return &InstallationClient{client: client}, nil
}

func (c *AppClient) installationToken(ctx context.Context, id int64) (string, error) {
	if tok, ok := c.cachedToken(id); ok {
		return tok, nil
	}

	// One exchange per installation at a time; other installations proceed.
	v, err, _ := c.flight.Do(strconv.FormatInt(id, 10), func() (any, error) {
		if tok, ok := c.cachedToken(id); ok {
			return tok, nil
		}
		client, err := c.appClient()
		if err != nil {
			return "", err
		}
		tok, _, err := client.Apps.CreateInstallationToken(ctx, id, nil)
		if err != nil {
			return "", fmt.Errorf("create token for installation %d: %w", id, err)
		}
		if tok.GetToken() == "" {
			return "", fmt.Errorf("create token for installation %d: empty token", id)
		}
		c.mu.Lock()
		c.tokens[id] = tok
		c.mu.Unlock()
		return tok.GetToken(), nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *AppClient) cachedToken(id int64) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok, ok := c.tokens[id]
	if !ok || !c.now().Add(tokenLeeway).Before(tok.GetExpiresAt().Time) {
		return "", false
	}
	return tok.GetToken(), true
}

// InstallationClient implements handler.GitHubAPI with go-github.
type InstallationClient struct {
	client *github.Client
}

func (i *InstallationClient) CreateCommitStatus(ctx context.Context, repo handler.Repository, sha string, status handler.Status) error {
	rs := &github.RepoStatus{
		State:   github.Ptr(status.State),
		Context: github.Ptr(status.Context),
	}
	if status.Description != "" {
		rs.Description = github.Ptr(status.Description)
	}
	if status.TargetURL != "" {
		rs.TargetURL = github.Ptr(status.TargetURL)
	}
	_, _, err := i.client.Repositories.CreateStatus(ctx, repo.Owner, repo.Name, sha, rs)
	return err
}

func newClient(httpClient *http.Client, apiURL, token string) (*github.Client, error) {
	client := github.NewClient(httpClient).WithAuthToken(token)
	if apiURL == "" || apiURL == DefaultAPIURL {
		return client, nil
	}
	if !strings.HasSuffix(apiURL, "/") {
		apiURL += "/"
	}
	u, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("parse api url %q: %w", apiURL, err)
	}
	client.BaseURL = u
	return client, nil
}
