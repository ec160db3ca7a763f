// Package status derives the authentication state the rest of the agent gates on.
// Nothing here is stored; every call reads the token store afresh.
package status

import (
	"context"
	"time"

	"github.com/growgrammers/authflow/internal/auth/token"
	"github.com/growgrammers/authflow/internal/provider"
	"github.com/growgrammers/authflow/internal/storage"
)

// Status is the derived authentication state.
type Status struct {
	IsAuthenticated bool `json:"isAuthenticated"`
	HasToken        bool `json:"hasToken"`
	IsTokenExpired  bool `json:"isTokenExpired"`
	// MinutesUntilExpiry is nil when no expiry is known.
	MinutesUntilExpiry *int          `json:"minutesUntilExpiry,omitempty"`
	ExpiresAt          *time.Time    `json:"expiresAt,omitempty"`
	Provider           provider.Name `json:"provider,omitempty"`
}

// ProviderSource reports the provider of the current session.
type ProviderSource interface {
	CurrentProvider(ctx context.Context) (provider.Name, bool)
}

// Aggregator computes Status from the token store.
type Aggregator struct {
	tokens    *token.Store
	providers ProviderSource
}

// New returns an Aggregator. providers may be nil.
func New(tokens *token.Store, providers ProviderSource) *Aggregator {
	return &Aggregator{tokens: tokens, providers: providers}
}

// Compute returns the current status. A token without any known expiry counts as valid.
func (a *Aggregator) Compute(ctx context.Context) Status {
	var st Status
	tok, ok := a.tokens.Get(ctx)
	if !ok {
		return st
	}
	st.HasToken = true
	st.IsTokenExpired = a.tokens.IsExpired(ctx)
	st.IsAuthenticated = st.HasToken && !st.IsTokenExpired

	if exp, known := a.tokens.Expiry(tok); known {
		st.ExpiresAt = &exp
		if minutes, okMinutes := a.tokens.MinutesUntilExpiry(ctx); okMinutes {
			st.MinutesUntilExpiry = &minutes
		}
	}
	if a.providers != nil {
		if p, okProvider := a.providers.CurrentProvider(ctx); okProvider {
			st.Provider = p
		}
	}
	return st
}

// IsAuthenticated is shorthand for Compute(ctx).IsAuthenticated.
func (a *Aggregator) IsAuthenticated(ctx context.Context) bool {
	return a.Compute(ctx).IsAuthenticated
}

// StoredProvider reads the current provider from storage under the given key.
type StoredProvider struct {
	Store storage.Storage
	Key   string
}

func (s StoredProvider) CurrentProvider(ctx context.Context) (provider.Name, bool) {
	p, err := provider.ParseMethod(storage.GetOr(ctx, s.Store, s.Key, ""))
	if err != nil {
		return "", false
	}
	return p, true
}
