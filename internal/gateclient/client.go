// Package gateclient implements spec.md §4.11: the metadata proxy's
// HTTP-over-Unix-socket client to the gate daemon, with per-field caching
// and a pre-connect health check.
package gateclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"si/tools/authcalator/internal/clock"
	"si/tools/authcalator/internal/token"
)

// WrappedCommandHeader is the header the elevation wrapper sets to let the
// gate's confirmation dialog display the command being escalated.
const WrappedCommandHeader = "X-Wrapped-Command"

// HealthCheckTimeout bounds CheckGateSocket's probe and every dial to the
// socket.
const HealthCheckTimeout = 3 * time.Second

// defaultTokenLifetime is used when the gate's response omits expires_in.
const defaultTokenLifetime = time.Hour

// Client talks to the gate daemon over a Unix socket.
type Client struct {
	socketPath string
	httpClient *http.Client
	clock      clock.Clock

	mu              sync.Mutex
	devCache        *token.Cache
	projectNumber   string
	projectResolved bool
	universeDomain  string
	universeResolved bool
}

// New returns a Client bound to socketPath.
func New(socketPath string) *Client {
	return NewWithClock(socketPath, clock.Real())
}

// NewWithClock is New with an injectable clock, for tests.
func NewWithClock(socketPath string, clk clock.Clock) *Client {
	dialer := net.Dialer{Timeout: HealthCheckTimeout}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, "unix", socketPath)
		},
	}
	return &Client{
		socketPath: socketPath,
		httpClient: &http.Client{Transport: transport, Timeout: 10 * time.Second},
		clock:      clk,
		devCache:   token.New(),
	}
}

// CheckGateSocket verifies the socket path exists, is a socket (not a
// symlink), and that GET /health over it returns 2xx within
// HealthCheckTimeout. Each failure mode surfaces a distinct message.
func (c *Client) CheckGateSocket(ctx context.Context) error {
	info, err := os.Lstat(c.socketPath)
	if err != nil {
		return fmt.Errorf("gate socket %s not found: %w (is the gate daemon running?)", c.socketPath, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("gate socket %s is a symlink, refusing to use it", c.socketPath)
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("gate socket path %s is not a socket", c.socketPath)
	}

	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()
	resp, err := c.get(ctx, "/health", nil)
	if err != nil {
		return fmt.Errorf("health check against gate socket %s failed: %w", c.socketPath, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gate daemon health check returned status %d", resp.StatusCode)
	}
	return nil
}

// tokenResponse mirrors the gate router's /token JSON body.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   *int64 `json:"expires_in"`
}

// GetToken returns a cached token for scopes if fresh, otherwise fetches a
// fresh one from GET /token (optionally with a comma-joined scopes query
// parameter) and caches it.
func (c *Client) GetToken(ctx context.Context, scopes []string) (token.Cached, error) {
	key := token.ScopeKey(scopes)
	now := c.clock.Now()

	c.mu.Lock()
	if cached, ok := c.devCache.Get(key, now); ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	query := url.Values{}
	if key != "" {
		query.Set("scopes", key)
	}
	resp, err := c.get(ctx, "/token", query)
	if err != nil {
		return token.Cached{}, fmt.Errorf("fetch token from gate: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return token.Cached{}, fmt.Errorf("gate returned status %d for /token", resp.StatusCode)
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return token.Cached{}, fmt.Errorf("decode gate token response: %w", err)
	}
	if strings.TrimSpace(body.AccessToken) == "" {
		return token.Cached{}, fmt.Errorf("gate token response missing access_token")
	}

	lifetime := defaultTokenLifetime
	if body.ExpiresIn != nil {
		lifetime = time.Duration(*body.ExpiresIn) * time.Second
	}
	entry := token.Cached{AccessToken: body.AccessToken, ExpiresAt: now.Add(lifetime)}

	c.mu.Lock()
	c.devCache.Put(key, entry)
	c.mu.Unlock()
	return entry, nil
}

// GetIdentityEmail fetches the caller's email from GET /identity. Never
// cached: it's a single cheap call used once per elevation.
func (c *Client) GetIdentityEmail(ctx context.Context) (string, error) {
	var body struct {
		Email string `json:"email"`
	}
	if err := c.getJSON(ctx, "/identity", &body); err != nil {
		return "", err
	}
	if strings.TrimSpace(body.Email) == "" {
		return "", fmt.Errorf("gate identity response missing email")
	}
	return body.Email, nil
}

// MintProdToken requests a fresh production token via GET
// /token?level=prod, setting WrappedCommandHeader to the JSON-encoded argv
// so the gate's confirmation dialog can display the command being
// escalated. Per spec.md §4.1, prod tokens are never cached.
func (c *Client) MintProdToken(ctx context.Context, argv []string) (token.Cached, error) {
	header := http.Header{}
	if len(argv) > 0 {
		encoded, err := json.Marshal(argv)
		if err != nil {
			return token.Cached{}, fmt.Errorf("encode wrapped command: %w", err)
		}
		header.Set(WrappedCommandHeader, string(encoded))
	}

	query := url.Values{}
	query.Set("level", "prod")
	resp, err := c.getWithHeader(ctx, "/token", query, header)
	if err != nil {
		return token.Cached{}, fmt.Errorf("fetch prod token from gate: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return token.Cached{}, fmt.Errorf("gate denied prod token request: status %d", resp.StatusCode)
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return token.Cached{}, fmt.Errorf("decode gate prod token response: %w", err)
	}
	if strings.TrimSpace(body.AccessToken) == "" {
		return token.Cached{}, fmt.Errorf("gate prod token response missing access_token")
	}

	now := c.clock.Now()
	lifetime := defaultTokenLifetime
	if body.ExpiresIn != nil {
		lifetime = time.Duration(*body.ExpiresIn) * time.Second
	}
	return token.Cached{AccessToken: body.AccessToken, ExpiresAt: now.Add(lifetime)}, nil
}

// GetNumericProjectId returns the permanently-cached numeric project id,
// fetching it from GET /project-number on first use.
func (c *Client) GetNumericProjectId(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.projectResolved {
		v := c.projectNumber
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	var body struct {
		ProjectNumber string `json:"project_number"`
	}
	if err := c.getJSON(ctx, "/project-number", &body); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.projectNumber = body.ProjectNumber
	c.projectResolved = true
	c.mu.Unlock()
	return body.ProjectNumber, nil
}

// GetUniverseDomain returns the permanently-cached universe domain,
// fetching it from GET /universe-domain on first use.
func (c *Client) GetUniverseDomain(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.universeResolved {
		v := c.universeDomain
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	var body struct {
		UniverseDomain string `json:"universe_domain"`
	}
	if err := c.getJSON(ctx, "/universe-domain", &body); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.universeDomain = body.UniverseDomain
	c.universeResolved = true
	c.mu.Unlock()
	return body.UniverseDomain, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.get(ctx, path, nil)
	if err != nil {
		return fmt.Errorf("fetch %s from gate: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gate returned status %d for %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gate response for %s: %w", path, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	return c.getWithHeader(ctx, path, query, nil)
}

// MetarouterAdapter satisfies metarouter.TokenProvider,
// metarouter.ProjectNumberProvider, and metarouter.UniverseDomainProvider
// by forwarding to a Client's differently-named methods. The metadata
// router's interfaces are named from its own vantage point (Token,
// ProjectNumber, UniverseDomainValue), not the gate client's.
type MetarouterAdapter struct {
	*Client
}

// Token implements metarouter.TokenProvider.
func (a MetarouterAdapter) Token(ctx context.Context, scopes []string) (token.Cached, error) {
	return a.Client.GetToken(ctx, scopes)
}

// ProjectNumber implements metarouter.ProjectNumberProvider.
func (a MetarouterAdapter) ProjectNumber(ctx context.Context) (string, error) {
	return a.Client.GetNumericProjectId(ctx)
}

// UniverseDomainValue implements metarouter.UniverseDomainProvider.
func (a MetarouterAdapter) UniverseDomainValue(ctx context.Context) (string, error) {
	return a.Client.GetUniverseDomain(ctx)
}

func (c *Client) getWithHeader(ctx context.Context, path string, query url.Values, header http.Header) (*http.Response, error) {
	u := "http://gate.sock" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	for k, vv := range header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	return c.httpClient.Do(req)
}
