// Package gaterouter implements spec.md §4.3: the gate daemon's pure
// request/response logic, independent of transport. It composes the auth,
// confirm, audit, rate-limit and summarize packages behind a single Route
// call that the Unix-socket listener (internal/gatelisten) drives.
package gaterouter

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"si/tools/authcalator/internal/audit"
	"si/tools/authcalator/internal/auth"
	"si/tools/authcalator/internal/clock"
	"si/tools/authcalator/internal/confirm"
	"si/tools/authcalator/internal/metrics"
	"si/tools/authcalator/internal/ratelimit"
	"si/tools/authcalator/internal/summarize"
	"si/tools/authcalator/internal/token"
)

// Request is the transport-independent request the router operates on.
type Request struct {
	Method            string
	Path              string
	Level             string // query parameter "level"; "prod" selects the prod pipeline
	WrappedCommandHdr string // raw X-Wrapped-Command header value, if any
}

// Response is what Route returns; the listener is responsible for writing
// it out over whatever transport it owns.
type Response struct {
	Status      int
	JSON        any    // mutually exclusive with Text
	Text        string
	ContentType string
}

func jsonResponse(status int, body any) Response {
	return Response{Status: status, JSON: body}
}

func errorResponse(status int, msg string) Response {
	return Response{Status: status, JSON: map[string]string{"error": msg}}
}

// Deps bundles the router's collaborators. Auth, Confirm and Limiter are
// required; Clock defaults to the real clock, StartedAt to construction
// time, and a nil Audit or Metrics silently drops records.
type Deps struct {
	Auth      *auth.Auth
	Confirm   confirm.Confirmer
	Audit     *audit.Sink
	Limiter   *ratelimit.Limiter
	Clock     clock.Clock
	StartedAt time.Time
	// Metrics is optional; a nil Metrics silently drops observations.
	Metrics *metrics.Metrics
}

// Router dispatches Requests against a fixed Deps set.
type Router struct {
	deps Deps
}

// New returns a Router. If deps.Clock is nil, the real clock is used; if
// deps.StartedAt is zero, it is set to clock.Now() at construction so
// /health reports a monotonically increasing uptime from router
// construction.
func New(deps Deps) *Router {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.StartedAt.IsZero() {
		deps.StartedAt = deps.Clock.Now()
	}
	return &Router{deps: deps}
}

// Route dispatches one request to the appropriate handler.
func (r *Router) Route(ctx context.Context, req Request) Response {
	if req.Method != http.MethodGet {
		return errorResponse(http.StatusMethodNotAllowed, "method not allowed")
	}

	switch req.Path {
	case "/health":
		return r.health()
	case "/identity":
		return r.identity(ctx)
	case "/project-number":
		return r.projectNumber(ctx)
	case "/universe-domain":
		return r.universeDomain(ctx)
	case "/token":
		if req.Level == "prod" {
			return r.prodToken(ctx, req)
		}
		return r.devToken(ctx)
	default:
		return Response{Status: http.StatusNotFound, Text: "not found"}
	}
}

func (r *Router) health() Response {
	uptime := r.deps.Clock.Now().Sub(r.deps.StartedAt)
	seconds := uptime.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	return jsonResponse(http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": seconds,
	})
}

func (r *Router) identity(ctx context.Context) Response {
	email, err := r.deps.Auth.GetIdentityEmail(ctx)
	if err != nil {
		return errorResponse(http.StatusInternalServerError, err.Error())
	}
	return jsonResponse(http.StatusOK, map[string]string{"email": email})
}

func (r *Router) projectNumber(ctx context.Context) Response {
	number, err := r.deps.Auth.GetProjectNumber(ctx)
	if err != nil {
		return errorResponse(http.StatusInternalServerError, err.Error())
	}
	return jsonResponse(http.StatusOK, map[string]string{"project_number": number})
}

func (r *Router) universeDomain(ctx context.Context) Response {
	domain, err := r.deps.Auth.GetUniverseDomain(ctx)
	if err != nil {
		return errorResponse(http.StatusInternalServerError, err.Error())
	}
	return jsonResponse(http.StatusOK, map[string]string{"universe_domain": domain})
}

func (r *Router) devToken(ctx context.Context) Response {
	tok, err := r.deps.Auth.MintDevToken(ctx, nil)
	if err != nil {
		r.auditBestEffort(audit.Record{Endpoint: "/token", Level: audit.LevelDev, Result: audit.ResultError, Error: err.Error()})
		r.deps.Metrics.ObserveMint("dev", "error")
		return errorResponse(http.StatusInternalServerError, err.Error())
	}
	r.auditBestEffort(audit.Record{Endpoint: "/token", Level: audit.LevelDev, Result: audit.ResultGranted})
	r.deps.Metrics.ObserveMint("dev", "granted")
	return jsonResponse(http.StatusOK, tokenBody(tok, r.deps.Clock.Now()))
}

// prodToken implements the ordered, short-circuiting pipeline from
// spec.md §4.3: acquire -> identity -> header parse -> confirm -> mint.
// Every path that calls Acquire releases exactly once.
func (r *Router) prodToken(ctx context.Context, req Request) Response {
	decision := r.deps.Limiter.Acquire()
	if !decision.Allowed {
		r.auditBestEffort(audit.Record{Endpoint: "/token", Level: audit.LevelProd, Result: audit.ResultRateLimited, Error: decision.Reason})
		r.deps.Metrics.ObserveRateLimited()
		return errorResponse(http.StatusTooManyRequests, decision.Reason)
	}

	email, err := r.deps.Auth.GetIdentityEmail(ctx)
	if err != nil {
		r.deps.Limiter.Release(ratelimit.ResultError)
		r.auditBestEffort(audit.Record{Endpoint: "/token", Level: audit.LevelProd, Result: audit.ResultError, Error: err.Error()})
		r.deps.Metrics.ObserveMint("prod", "error")
		return errorResponse(http.StatusInternalServerError, err.Error())
	}

	summary, hasSummary := summarize.ParseHeaderOptional(req.WrappedCommandHdr)

	confirmStart := r.deps.Clock.Now()
	approved, err := r.deps.Confirm.Confirm(ctx, email, summary, hasSummary)
	r.deps.Metrics.ObserveConfirmDuration(r.deps.Clock.Now().Sub(confirmStart))
	if err != nil {
		r.deps.Limiter.Release(ratelimit.ResultError)
		r.auditBestEffort(audit.Record{Endpoint: "/token", Level: audit.LevelProd, Result: audit.ResultError, Email: email, Error: err.Error()})
		r.deps.Metrics.ObserveMint("prod", "error")
		return errorResponse(http.StatusInternalServerError, err.Error())
	}
	if !approved {
		r.deps.Limiter.Release(ratelimit.ResultDenied)
		r.auditBestEffort(audit.Record{Endpoint: "/token", Level: audit.LevelProd, Result: audit.ResultDenied, Email: email})
		r.deps.Metrics.ObserveMint("prod", "denied")
		return errorResponse(http.StatusForbidden, "production access denied")
	}

	tok, err := r.deps.Auth.MintProdToken(ctx, nil)
	if err != nil {
		r.deps.Limiter.Release(ratelimit.ResultError)
		r.auditBestEffort(audit.Record{Endpoint: "/token", Level: audit.LevelProd, Result: audit.ResultError, Email: email, Error: err.Error()})
		r.deps.Metrics.ObserveMint("prod", "error")
		return errorResponse(http.StatusInternalServerError, err.Error())
	}
	r.deps.Limiter.Release(ratelimit.ResultGranted)
	r.auditBestEffort(audit.Record{Endpoint: "/token", Level: audit.LevelProd, Result: audit.ResultGranted, Email: email})
	r.deps.Metrics.ObserveMint("prod", "granted")
	return jsonResponse(http.StatusOK, tokenBody(tok, r.deps.Clock.Now()))
}

func tokenBody(tok token.Cached, now time.Time) map[string]any {
	expiresIn := int64(tok.ExpiresAt.Sub(now).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	return map[string]any{
		"access_token": tok.AccessToken,
		"expires_in":   expiresIn,
		"token_type":   "Bearer",
	}
}

func (r *Router) auditBestEffort(rec audit.Record) {
	if r.deps.Audit == nil {
		return
	}
	if err := r.deps.Audit.Append(rec); err != nil {
		fmt.Fprintf(os.Stderr, "audit write failed: %v\n", err)
	}
}
