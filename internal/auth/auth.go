// Package auth implements spec.md §4.2: it produces dev and prod tokens and
// caches identity metadata, delegating the actual minting and introspection
// calls to the identity package's narrow interfaces.
package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"si/tools/authcalator/internal/clock"
	"si/tools/authcalator/internal/identity"
	"si/tools/authcalator/internal/token"
)

// fallbackLifetime is used when the identity library reports no expiry.
const fallbackLifetime = time.Hour

// UpstreamError wraps a failure from the identity library itself (no token
// returned, or a secondary endpoint returning non-2xx).
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string { return fmt.Sprintf("upstream error (%s): %v", e.Op, e.Err) }
func (e *UpstreamError) Unwrap() error { return e.Err }

// IdentityError wraps a failure resolving the caller's own identity.
type IdentityError struct {
	Op  string
	Err error
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("identity error (%s): %v", e.Op, e.Err)
}
func (e *IdentityError) Unwrap() error { return e.Err }

// Auth is the auth module. All its public methods are safe for concurrent
// use.
type Auth struct {
	dev        identity.DevTokenSource
	prod       identity.ProdTokenSource
	introspect identity.Introspector
	universe   identity.UniverseDomainSource
	clock      clock.Clock

	devCache *token.Cache

	mu             sync.Mutex
	email          string
	emailResolved  bool
	project        string
	projectResolved bool
	universeDomain string
	universeResolved bool
}

// New constructs an Auth module from its four collaborators.
func New(dev identity.DevTokenSource, prod identity.ProdTokenSource, introspect identity.Introspector, universe identity.UniverseDomainSource, clk clock.Clock) *Auth {
	if clk == nil {
		clk = clock.Real()
	}
	return &Auth{
		dev:        dev,
		prod:       prod,
		introspect: introspect,
		universe:   universe,
		clock:      clk,
		devCache:   token.New(),
	}
}

// MintDevToken returns a cached impersonated token for scopes if fresh,
// otherwise mints and caches a new one under the canonical scope key.
func (a *Auth) MintDevToken(ctx context.Context, scopes []string) (token.Cached, error) {
	key := token.ScopeKey(scopes)
	now := a.clock.Now()
	if cached, ok := a.devCache.Get(key, now); ok {
		return cached, nil
	}
	tok, err := a.dev.Token(ctx, scopes)
	if err != nil {
		return token.Cached{}, &UpstreamError{Op: "mint dev token", Err: err}
	}
	if tok.AccessToken == "" {
		return token.Cached{}, &UpstreamError{Op: "mint dev token", Err: fmt.Errorf("identity library returned no token")}
	}
	entry := token.Cached{AccessToken: tok.AccessToken, ExpiresAt: resolveExpiry(tok.Expiry, now)}
	a.devCache.Put(key, entry)
	return entry, nil
}

// MintProdToken always mints fresh using the caller's own ambient
// credentials; it is never cached.
func (a *Auth) MintProdToken(ctx context.Context, scopes []string) (token.Cached, error) {
	now := a.clock.Now()
	tok, err := a.prod.Token(ctx, scopes)
	if err != nil {
		return token.Cached{}, &UpstreamError{Op: "mint prod token", Err: err}
	}
	if tok.AccessToken == "" {
		return token.Cached{}, &UpstreamError{Op: "mint prod token", Err: fmt.Errorf("identity library returned no token")}
	}
	return token.Cached{AccessToken: tok.AccessToken, ExpiresAt: resolveExpiry(tok.Expiry, now)}, nil
}

func resolveExpiry(reported time.Time, now time.Time) time.Time {
	if reported.IsZero() {
		return now.Add(fallbackLifetime)
	}
	return reported
}

// GetIdentityEmail resolves the caller's account email via token
// introspection, cached for the daemon's lifetime once it succeeds.
func (a *Auth) GetIdentityEmail(ctx context.Context) (string, error) {
	a.mu.Lock()
	if a.emailResolved {
		email := a.email
		a.mu.Unlock()
		return email, nil
	}
	a.mu.Unlock()

	prodTok, err := a.MintProdToken(ctx, nil)
	if err != nil {
		return "", &IdentityError{Op: "resolve identity email", Err: err}
	}
	email, err := a.introspect.Email(ctx, prodTok.AccessToken)
	if err != nil {
		return "", &IdentityError{Op: "resolve identity email", Err: err}
	}

	a.mu.Lock()
	a.email = email
	a.emailResolved = true
	a.mu.Unlock()
	return email, nil
}

// GetProjectNumber resolves the numeric project id backing the caller's
// ambient project, cached permanently once it succeeds.
func (a *Auth) GetProjectNumber(ctx context.Context) (string, error) {
	a.mu.Lock()
	if a.projectResolved {
		project := a.project
		a.mu.Unlock()
		return project, nil
	}
	a.mu.Unlock()

	prodTok, err := a.MintProdToken(ctx, nil)
	if err != nil {
		return "", &UpstreamError{Op: "resolve project number", Err: err}
	}
	number, err := a.introspect.ProjectNumber(ctx, prodTok.AccessToken)
	if err != nil {
		return "", &UpstreamError{Op: "resolve project number", Err: err}
	}

	a.mu.Lock()
	a.project = number
	a.projectResolved = true
	a.mu.Unlock()
	return number, nil
}

// GetUniverseDomain reads the universe domain off the underlying client,
// cached permanently once it succeeds.
func (a *Auth) GetUniverseDomain(ctx context.Context) (string, error) {
	a.mu.Lock()
	if a.universeResolved {
		domain := a.universeDomain
		a.mu.Unlock()
		return domain, nil
	}
	a.mu.Unlock()

	domain, err := a.universe.UniverseDomain(ctx)
	if err != nil {
		return "", &UpstreamError{Op: "resolve universe domain", Err: err}
	}

	a.mu.Lock()
	a.universeDomain = domain
	a.universeResolved = true
	a.mu.Unlock()
	return domain, nil
}
