// Package staticprovider implements spec.md §4.12: a metadata-proxy token
// provider that always returns the same pre-computed token, used by the
// elevation wrapper's ephemeral proxy.
package staticprovider

import (
	"context"

	"si/tools/authcalator/internal/token"
)

// Static always returns the same Cached token, regardless of scopes.
type Static struct {
	tok token.Cached
}

// New returns a Static provider wrapping tok.
func New(tok token.Cached) *Static {
	return &Static{tok: tok}
}

// Token implements metarouter.TokenProvider.
func (s *Static) Token(ctx context.Context, scopes []string) (token.Cached, error) {
	return s.tok, nil
}
