// Package auth provides request authorizers: sources of authorization
// headers that know how to refresh or re-issue their credentials.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
)

// Authorizer supplies authorization headers on demand. The request
// handler calls it before sending and again with force flags after
// 401-class failures.
type Authorizer interface {
	// Authorize returns the headers to attach to outbound requests.
	// forceLoad refreshes the credential even if one is already held;
	// forceNew discards the held credential and issues a new one.
	Authorize(ctx context.Context, forceLoad, forceNew bool) (http.Header, error)
}

// StaticToken authorizes requests with a fixed bearer token.
type StaticToken struct {
	// Token is the credential placed in the Authorization header.
	Token string

	// Scheme defaults to "Bearer".
	Scheme string
}

func (a StaticToken) Authorize(ctx context.Context, forceLoad, forceNew bool) (http.Header, error) {
	if a.Token == "" {
		return nil, fmt.Errorf("no token configured")
	}

	scheme := a.Scheme
	if scheme == "" {
		scheme = "Bearer"
	}

	header := make(http.Header)
	header.Set("Authorization", scheme+" "+a.Token)
	return header, nil
}

// OAuth authorizes requests with tokens from an oauth2.TokenSource,
// holding the current token and re-fetching it when forced or expired.
type OAuth struct {
	source oauth2.TokenSource

	mu    sync.Mutex
	token *oauth2.Token
}

// NewOAuth wraps a token source, e.g. one built from an oauth2.Config.
func NewOAuth(source oauth2.TokenSource) *OAuth {
	return &OAuth{source: source}
}

func (a *OAuth) Authorize(ctx context.Context, forceLoad, forceNew bool) (http.Header, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if forceNew {
		a.token = nil
	}

	if a.token == nil || forceLoad || !a.token.Valid() {
		token, err := a.source.Token()
		if err != nil {
			return nil, fmt.Errorf("fetch token: %w", err)
		}
		a.token = token
	}

	header := make(http.Header)
	header.Set("Authorization", a.token.Type()+" "+a.token.AccessToken)
	return header, nil
}
