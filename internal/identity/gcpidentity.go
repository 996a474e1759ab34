package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/impersonate"
)

// GCP is the real identity.DevTokenSource / identity.ProdTokenSource /
// identity.Introspector / identity.UniverseDomainSource implementation,
// backed by the cloud-SDK identity library (golang.org/x/oauth2/google and
// google.golang.org/api/impersonate). It is the only package in this repo
// that imports those libraries directly, per spec.md §1's external
// collaborator boundary.
type GCP struct {
	// TargetPrincipal is the service-account email dev tokens impersonate.
	TargetPrincipal string
	// TokenLifetime bounds how long an impersonated token is asked to live.
	TokenLifetime time.Duration

	httpClient *http.Client

	newImpersonatedSource func(ctx context.Context, scopes []string) (oauth2.TokenSource, error)
	findDefaultCreds      func(ctx context.Context, scopes []string) (*google.Credentials, error)
}

// NewGCP constructs a GCP identity adapter. targetPrincipal is the
// impersonated service account email used for dev-token minting.
func NewGCP(targetPrincipal string) *GCP {
	g := &GCP{
		TargetPrincipal: targetPrincipal,
		TokenLifetime:   time.Hour,
		httpClient:      &http.Client{Timeout: 10 * time.Second},
	}
	g.newImpersonatedSource = g.defaultImpersonatedSource
	g.findDefaultCreds = google.FindDefaultCredentials
	return g
}

func (g *GCP) defaultImpersonatedSource(ctx context.Context, scopes []string) (oauth2.TokenSource, error) {
	return impersonate.CredentialsTokenSource(ctx, impersonate.CredentialsConfig{
		TargetPrincipal: g.TargetPrincipal,
		Scopes:          scopes,
		Lifetime:        g.TokenLifetime,
	})
}

// Token mints an impersonated dev token. Implements identity.DevTokenSource.
func (g *GCP) Token(ctx context.Context, scopes []string) (Token, error) {
	if strings.TrimSpace(g.TargetPrincipal) == "" {
		return Token{}, fmt.Errorf("mint dev token: no target principal configured")
	}
	src, err := g.newImpersonatedSource(ctx, scopes)
	if err != nil {
		return Token{}, fmt.Errorf("build impersonated token source: %w", err)
	}
	tok, err := src.Token()
	if err != nil {
		return Token{}, fmt.Errorf("mint impersonated token: %w", err)
	}
	if tok == nil || tok.AccessToken == "" {
		return Token{}, fmt.Errorf("mint dev token: identity library returned no token")
	}
	return Token{AccessToken: tok.AccessToken, Expiry: tok.Expiry}, nil
}

// ProdToken mints the caller's own ambient credential. It is a distinct
// method (not the same Token method as the dev source) because a single
// *GCP value backs both identity.DevTokenSource and identity.ProdTokenSource
// via the two thin wrapper types below: Go interfaces are satisfied by
// method sets, and dev/prod minting must never share a method name on the
// same receiver or callers could wire the wrong one in by accident.
func (g *GCP) ProdToken(ctx context.Context, scopes []string) (Token, error) {
	creds, err := g.findDefaultCreds(ctx, scopes)
	if err != nil {
		return Token{}, fmt.Errorf("find ambient credentials: %w", err)
	}
	tok, err := creds.TokenSource.Token()
	if err != nil {
		return Token{}, fmt.Errorf("mint ambient token: %w", err)
	}
	if tok == nil || tok.AccessToken == "" {
		return Token{}, fmt.Errorf("mint prod token: identity library returned no token")
	}
	return Token{AccessToken: tok.AccessToken, Expiry: tok.Expiry}, nil
}

// DevSource adapts ProdToken-less dev minting to identity.DevTokenSource.
func (g *GCP) DevSource() DevTokenSource { return devSource{g} }

// ProdSource adapts ambient-credential minting to identity.ProdTokenSource.
func (g *GCP) ProdSource() ProdTokenSource { return prodSource{g} }

type devSource struct{ g *GCP }

func (d devSource) Token(ctx context.Context, scopes []string) (Token, error) {
	return d.g.Token(ctx, scopes)
}

type prodSource struct{ g *GCP }

func (p prodSource) Token(ctx context.Context, scopes []string) (Token, error) {
	return p.g.ProdToken(ctx, scopes)
}

const (
	tokenInfoURL   = "https://oauth2.googleapis.com/tokeninfo"
	projectLookupURLFmt = "https://cloudresourcemanager.googleapis.com/v3/projects/%s"
)

// Email implements identity.Introspector by calling the provider's
// token-introspection endpoint with the caller's own token.
func (g *GCP) Email(ctx context.Context, prodToken string) (string, error) {
	if strings.TrimSpace(prodToken) == "" {
		return "", fmt.Errorf("resolve identity email: no prod token available")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenInfoURL+"?access_token="+prodToken, nil)
	if err != nil {
		return "", fmt.Errorf("build tokeninfo request: %w", err)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call tokeninfo endpoint: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("tokeninfo endpoint returned %s", resp.Status)
	}
	var payload struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode tokeninfo response: %w", err)
	}
	if strings.TrimSpace(payload.Email) == "" {
		return "", fmt.Errorf("tokeninfo response missing email field")
	}
	return payload.Email, nil
}

// ProjectNumber implements identity.Introspector by calling the provider's
// project-lookup endpoint and parsing the "projects/<number>" resource name.
func (g *GCP) ProjectNumber(ctx context.Context, prodToken string) (string, error) {
	projectID, err := g.ambientProjectID(ctx)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(projectLookupURLFmt, projectID), nil)
	if err != nil {
		return "", fmt.Errorf("build project lookup request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+prodToken)
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call project lookup endpoint: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("project lookup endpoint returned %s", resp.Status)
	}
	var payload struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode project lookup response: %w", err)
	}
	number, ok := strings.CutPrefix(payload.Name, "projects/")
	if !ok || strings.TrimSpace(number) == "" {
		return "", fmt.Errorf("project lookup response malformed: %q", payload.Name)
	}
	return number, nil
}

func (g *GCP) ambientProjectID(ctx context.Context) (string, error) {
	creds, err := g.findDefaultCreds(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("find ambient credentials: %w", err)
	}
	if strings.TrimSpace(creds.ProjectID) == "" {
		return "", fmt.Errorf("ambient credentials have no project id")
	}
	return creds.ProjectID, nil
}

// UniverseDomain implements identity.UniverseDomainSource by reading it off
// the underlying client's ambient credentials.
func (g *GCP) UniverseDomain(ctx context.Context) (string, error) {
	creds, err := g.findDefaultCreds(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("find ambient credentials: %w", err)
	}
	domain, err := creds.UniverseDomain(ctx)
	if err != nil {
		return "", fmt.Errorf("read universe domain: %w", err)
	}
	if strings.TrimSpace(domain) == "" {
		return "googleapis.com", nil
	}
	return domain, nil
}
