// Package metarouter emulates the cloud provider's instance-metadata HTTP
// API (spec.md §4.8), wired with chi.Router the way agents/dashboard does
// for its own HTTP surface.
package metarouter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"si/tools/authcalator/internal/token"
)

// MetadataFlavor is the header clients must send (on /computeMetadata/...)
// and that every non-ping response carries back.
const MetadataFlavor = "Metadata-Flavor"

// TokenProvider mints the access token served at
// .../service-accounts/default/token. Both the dynamic gate-backed
// provider (internal/gateclient) and the static provider
// (internal/staticprovider) implement this.
type TokenProvider interface {
	Token(ctx context.Context, scopes []string) (token.Cached, error)
}

// ProjectNumberProvider resolves the numeric project id; absent entirely
// when the proxy has no way to look one up.
type ProjectNumberProvider interface {
	ProjectNumber(ctx context.Context) (string, error)
}

// UniverseDomainProvider resolves the universe domain; likewise optional.
type UniverseDomainProvider interface {
	UniverseDomainValue(ctx context.Context) (string, error)
}

// Config is the immutable, per-proxy configuration from spec.md §3's
// "metadata proxy deps" record.
type Config struct {
	Token          TokenProvider
	ProjectNumber  ProjectNumberProvider // nil if unavailable
	UniverseDomain UniverseDomainProvider // nil if unavailable
	ProjectID      string
	Email          string // "" if not configured
	Scopes         []string
	StartedAt      time.Time
}

// New builds a chi.Router implementing the metadata HTTP surface.
func New(cfg Config) chi.Router {
	r := chi.NewRouter()
	r.Use(normalizeTrailingSlash)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set(MetadataFlavor, "Google")
			next.ServeHTTP(w, req)
		})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(MetadataFlavor, "Google")
		w.Write([]byte("ok"))
	})

	r.Route("/computeMetadata/v1", func(cr chi.Router) {
		cr.Use(requireFlavorHeader)
		cr.Use(aliasServiceAccountEmail)

		cr.Get("/project/project-id", func(w http.ResponseWriter, r *http.Request) {
			writeMetaText(w, cfg.ProjectID)
		})
		cr.Get("/project/numeric-project-id", func(w http.ResponseWriter, r *http.Request) {
			if cfg.ProjectNumber == nil {
				http.NotFound(w, r)
				return
			}
			number, err := cfg.ProjectNumber.ProjectNumber(r.Context())
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeMetaText(w, number)
		})
		cr.Get("/universe/universe-domain", universeDomainHandler(cfg))
		cr.Get("/universe/universe_domain", universeDomainHandler(cfg))

		cr.Get("/instance/service-accounts", func(w http.ResponseWriter, r *http.Request) {
			if recursive(r) {
				body := map[string]any{"default": saInfo(cfg)}
				if cfg.Email != "" {
					body[cfg.Email] = saInfo(cfg)
				}
				writeMetaJSON(w, body)
				return
			}
			text := "default/\n"
			if cfg.Email != "" {
				text += cfg.Email + "/\n"
			}
			writeMetaText(w, text)
		})
		cr.Get("/instance/service-accounts/default", func(w http.ResponseWriter, r *http.Request) {
			if recursive(r) {
				writeMetaJSON(w, saInfo(cfg))
				return
			}
			writeMetaText(w, "aliases\nemail\nidentity\nscopes\ntoken\n")
		})
		cr.Get("/instance/service-accounts/default/token", func(w http.ResponseWriter, r *http.Request) {
			tok, err := cfg.Token.Token(r.Context(), cfg.Scopes)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			now := time.Now()
			expiresIn := int64(tok.ExpiresAt.Sub(now).Seconds())
			if expiresIn < 0 {
				expiresIn = 0
			}
			writeMetaJSON(w, map[string]any{
				"access_token": tok.AccessToken,
				"expires_in":   expiresIn,
				"token_type":   "Bearer",
			})
		})
		cr.Get("/instance/service-accounts/default/email", func(w http.ResponseWriter, r *http.Request) {
			if cfg.Email == "" {
				http.NotFound(w, r)
				return
			}
			writeMetaText(w, cfg.Email)
		})
		cr.Get("/instance/service-accounts/default/scopes", func(w http.ResponseWriter, r *http.Request) {
			writeMetaText(w, strings.Join(cfg.Scopes, "\n")+"\n")
		})
		cr.Get("/instance/service-accounts/default/identity", func(w http.ResponseWriter, r *http.Request) {
			audience := strings.TrimSpace(r.URL.Query().Get("audience"))
			if audience == "" {
				http.Error(w, "audience is required", http.StatusBadRequest)
				return
			}
			http.Error(w, "identity tokens are not supported", http.StatusNotFound)
		})

		cr.NotFound(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(MetadataFlavor, "Google")
			http.Error(w, "not found", http.StatusNotFound)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})

	return r
}

func universeDomainHandler(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.UniverseDomain == nil {
			http.NotFound(w, r)
			return
		}
		domain, err := cfg.UniverseDomain.UniverseDomainValue(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeMetaText(w, domain)
	}
}

func saInfo(cfg Config) map[string]any {
	return map[string]any{
		"aliases": []string{"default"},
		"email":   cfg.Email,
		"scopes":  cfg.Scopes,
	}
}

func recursive(r *http.Request) bool {
	return strings.EqualFold(r.URL.Query().Get("recursive"), "true")
}

func writeMetaText(w http.ResponseWriter, body string) {
	w.Header().Set(MetadataFlavor, "Google")
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(body))
}

func writeMetaJSON(w http.ResponseWriter, body any) {
	w.Header().Set(MetadataFlavor, "Google")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// requireFlavorHeader enforces spec.md §4.8's header check for every path
// under /computeMetadata/.
func requireFlavorHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.EqualFold(r.Header.Get(MetadataFlavor), "Google") {
			http.Error(w, fmt.Sprintf("missing or invalid %s header", MetadataFlavor), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// aliasServiceAccountEmail rewrites
// .../service-accounts/<id>/... to .../service-accounts/default/... when
// <id> is neither empty nor "default" (spec.md §4.8 path aliasing: this
// proxy serves exactly one identity).
func aliasServiceAccountEmail(next http.Handler) http.Handler {
	const marker = "/instance/service-accounts/"
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if idx := strings.Index(r.URL.Path, marker); idx >= 0 {
			rest := r.URL.Path[idx+len(marker):]
			if rest != "" && rest != "default" && !strings.HasPrefix(rest, "default/") {
				parts := strings.SplitN(rest, "/", 2)
				id := parts[0]
				if id != "" && id != "default" {
					suffix := ""
					if len(parts) == 2 {
						suffix = "/" + parts[1]
					}
					r.URL.Path = r.URL.Path[:idx] + marker + "default" + suffix
					// A mounted chi subrouter matches on RoutePath, not URL.Path.
					if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePath != "" {
						if i := strings.Index(rctx.RoutePath, marker); i >= 0 {
							rctx.RoutePath = rctx.RoutePath[:i] + r.URL.Path[idx:]
						}
					}
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// normalizeTrailingSlash strips a trailing slash (other than the bare
// root) before routing, per spec.md §4.8.
func normalizeTrailingSlash(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(r.URL.Path) > 1 && strings.HasSuffix(r.URL.Path, "/") {
			r.URL.Path = strings.TrimRight(r.URL.Path, "/")
		}
		next.ServeHTTP(w, r)
	})
}
