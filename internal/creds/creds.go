// Package creds is the boundary to the delegated-authorization
// provider. The core only needs a token source on demand, with a
// distinguishable error when no grant has ever been stored. Refreshing
// an expired grant is the provider's concern, not ours.
package creds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"castline/internal/store"
)

// ErrNoCredentials reports that no usable credential is available.
var ErrNoCredentials = errors.New("credentials not available")

// Provider yields an oauth2 token source for Google API clients.
type Provider interface {
	TokenSource(ctx context.Context) (oauth2.TokenSource, error)
}

// StoreProvider serves the token persisted in the schedule store's
// tokens table (written there by the external authorization flow).
type StoreProvider struct {
	Store *store.Store
}

func (p *StoreProvider) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	raw, err := p.Store.GetCredentials(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoCredentials
	}
	if err != nil {
		return nil, err
	}

	var tok oauth2.Token
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return nil, fmt.Errorf("stored credentials unreadable: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, ErrNoCredentials
	}
	return oauth2.StaticTokenSource(&tok), nil
}

// Static wraps a fixed bearer token, mainly for tests and one-off
// command-line runs.
type Static string

func (s Static) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	if s == "" {
		return nil, ErrNoCredentials
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: string(s)}), nil
}
