package gateway

import (
	"context"
	"io"
	"strings"
)

// RequireToken wraps s so that writes and proposals fail with
// ErrUnauthenticated while tokens yields no token. Reads pass through.
func RequireToken(s Store, tokens TokenSource) Store {
	return &tokenGuard{Store: s, tokens: tokens}
}

type tokenGuard struct {
	Store
	tokens TokenSource
}

func (g *tokenGuard) authorized() error {
	if g.tokens == nil || strings.TrimSpace(g.tokens.CurrentToken()) == "" {
		return ErrUnauthenticated
	}
	return nil
}

func (g *tokenGuard) WriteFile(ctx context.Context, req WriteRequest) (WriteResult, error) {
	if err := g.authorized(); err != nil {
		return WriteResult{}, err
	}
	return g.Store.WriteFile(ctx, req)
}

func (g *tokenGuard) ProposeChange(ctx context.Context, p Proposal) (PullRequest, error) {
	if err := g.authorized(); err != nil {
		return PullRequest{}, err
	}
	return g.Store.ProposeChange(ctx, p)
}

// Unwrap returns the guarded store.
func (g *tokenGuard) Unwrap() Store { return g.Store }

// Close releases resources held by s, such as a database handle. Stores
// without resources are a no-op.
func Close(s Store) error {
	for s != nil {
		if c, ok := s.(io.Closer); ok {
			return c.Close()
		}
		u, ok := s.(interface{ Unwrap() Store })
		if !ok {
			return nil
		}
		s = u.Unwrap()
	}
	return nil
}
