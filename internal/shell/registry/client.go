// Package registry talks to the container registry over HTTP: session
// establishment from an access token, tag listings, and manifest existence
// probes. Tag selection rules live in internal/core/registry.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/artpar/preflight/internal/core/domain"
	coreregistry "github.com/artpar/preflight/internal/core/registry"
)

// =============================================================================
// Client
// =============================================================================

// Config configures the registry client. Retry counts and intervals are
// injectable so tests run without real delays.
type Config struct {
	// BaseURL is the registry API root, e.g. "https://registry.example.com".
	BaseURL string

	// KnownImage is the repository used to verify a fresh session actually
	// works. Existence is not required; only 401/403 fail the probe.
	KnownImage string

	// LoginAttempts bounds session establishment tries. Default 3: transient
	// session-establishment failures are expected.
	LoginAttempts int

	// RetryWait is the base wait between login attempts.
	RetryWait time.Duration

	// RequestTimeout bounds each individual HTTP call.
	RequestTimeout time.Duration
}

// Client is an HTTP registry client carrying one process-lifetime session.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger

	// session token, set by Authenticate, never persisted
	token string
}

// NewClient creates a registry client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.LoginAttempts == 0 {
		cfg.LoginAttempts = 3
	}
	if cfg.RetryWait == 0 {
		cfg.RetryWait = time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.KnownImage == "" {
		cfg.KnownImage = "library/alpine"
	}
	if logger == nil {
		logger = slog.Default()
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.LoginAttempts - 1
	rc.RetryWaitMin = cfg.RetryWait
	rc.RetryWaitMax = 4 * cfg.RetryWait
	rc.HTTPClient.Timeout = cfg.RequestTimeout
	rc.Logger = nil

	return &Client{
		cfg:    cfg,
		http:   rc.StandardClient(),
		logger: logger.With("component", "registry"),
	}
}

// =============================================================================
// Authentication
// =============================================================================

type loginRequest struct {
	AccessToken string `json:"access_token"`
}

type loginResponse struct {
	Principal string `json:"principal"`
	Scope     string `json:"scope"`
	Session   string `json:"session"`
}

// Authenticate exchanges a credential for a working registry session.
// Credential shape is validated before any network call; a shape failure
// costs nothing. The fresh session is then verified by probing one known
// image so a token the registry accepted but did not activate is caught
// here, not halfway through a pull run.
func (c *Client) Authenticate(ctx context.Context, credential string) (*domain.RegistrySession, error) {
	if err := coreregistry.ValidateCredential(credential); err != nil {
		return nil, err
	}

	body, _ := json.Marshal(loginRequest{AccessToken: credential})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v2/auth/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	// The retrying transport covers transient 5xx/network failures up to
	// the configured attempt bound.
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAuthenticationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: login returned %d", domain.ErrAuthenticationFailed, resp.StatusCode)
	}

	var login loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		return nil, fmt.Errorf("%w: malformed login response: %v", domain.ErrAuthenticationFailed, err)
	}

	c.token = login.Session
	if err := c.verifySession(ctx); err != nil {
		c.token = ""
		return nil, err
	}

	c.logger.Info("registry session established", "principal", login.Principal, "scope", login.Scope)
	return &domain.RegistrySession{
		Principal: login.Principal,
		Scope:     login.Scope,
		Token:     login.Session,
	}, nil
}

// verifySession probes one known image manifest. 200 and 404 both prove the
// session is live; only an auth rejection fails verification.
func (c *Client) verifySession(ctx context.Context) error {
	status, err := c.head(ctx, fmt.Sprintf("/v2/%s/manifests/latest", c.cfg.KnownImage))
	if err != nil {
		return fmt.Errorf("%w: session probe: %v", domain.ErrAuthenticationFailed, err)
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return fmt.Errorf("%w: session probe rejected with %d", domain.ErrAuthenticationFailed, status)
	}
	return nil
}

// =============================================================================
// Tags
// =============================================================================

type tagListResponse struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// ListTags fetches the full tag listing for a repository.
func (c *Client) ListTags(ctx context.Context, repo string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+fmt.Sprintf("/v2/%s/tags/list", repo), nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: repository %s", domain.ErrTagNotFound, repo)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list tags for %s: status %d", repo, resp.StatusCode)
	}

	var list tagListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("list tags for %s: %w", repo, err)
	}
	return list.Tags, nil
}

// TagExists probes the remote manifest for a tag without downloading it.
func (c *Client) TagExists(ctx context.Context, repo, tag string) (bool, error) {
	status, err := c.head(ctx, fmt.Sprintf("/v2/%s/manifests/%s", repo, tag))
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("manifest probe for %s:%s: status %d", repo, tag, status)
	}
}

// =============================================================================
// Helpers
// =============================================================================

func (c *Client) head(ctx context.Context, path string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.cfg.BaseURL+path, nil)
	if err != nil {
		return 0, err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
