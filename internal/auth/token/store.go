// Package token owns the current access token. It stores the token next to the rest of the
// agent state and answers expiry questions, preferring the JWT exp claim over the expiredAt
// value the backend returned. Unreadable stored data is treated as "no token".
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/growgrammers/authflow/internal/auth/oauthstate"
	"github.com/growgrammers/authflow/internal/storage"
	log "github.com/sirupsen/logrus"
)

// Token is the persisted access token. The refresh token never appears here; it lives in
// the HttpOnly cookie held by the HTTP client.
type Token struct {
	AccessToken string `json:"accessToken"`
	// ExpiredAt is the backend supplied expiry in epoch milliseconds, 0 when unknown.
	ExpiredAt int64 `json:"expiredAt,omitempty"`
}

// ExpiredAtTime converts ExpiredAt to a time, reporting false when it is unset.
func (t Token) ExpiredAtTime() (time.Time, bool) {
	if t.ExpiredAt <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(t.ExpiredAt), true
}

// Store persists the token in a storage.Storage.
type Store struct {
	store     storage.Storage
	extractor ExpiryExtractor
	now       func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithExtractor replaces the JWT based expiry extractor.
func WithExtractor(e ExpiryExtractor) Option { return func(s *Store) { s.extractor = e } }

// WithClock sets the time source.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// NewStore returns a token store over store.
func NewStore(store storage.Storage, opts ...Option) *Store {
	s := &Store{store: store, extractor: JWTExpiry, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the store's current time.
func (s *Store) Now() time.Time { return s.now() }

// Save replaces the stored token.
func (s *Store) Save(ctx context.Context, t Token) error {
	if strings.TrimSpace(t.AccessToken) == "" {
		return fmt.Errorf("token: access token is empty")
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("token: encode: %w", err)
	}
	if err = s.store.Set(ctx, oauthstate.KeyAuthToken, string(raw)); err != nil {
		return fmt.Errorf("token: save: %w", err)
	}
	return nil
}

// Get returns the stored token, or false when none is stored or it cannot be read.
func (s *Store) Get(ctx context.Context) (Token, bool) {
	raw, ok, err := s.store.Get(ctx, oauthstate.KeyAuthToken)
	if err != nil {
		log.WithError(err).Debug("token: storage read failed")
		return Token{}, false
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return Token{}, false
	}
	var t Token
	if err = json.Unmarshal([]byte(raw), &t); err != nil || strings.TrimSpace(t.AccessToken) == "" {
		log.Debug("token: stored token is malformed, treating as absent")
		return Token{}, false
	}
	return t, true
}

// Has reports whether a readable token is stored.
func (s *Store) Has(ctx context.Context) bool {
	_, ok := s.Get(ctx)
	return ok
}

// Remove deletes the token only.
func (s *Store) Remove(ctx context.Context) error {
	return s.store.Delete(ctx, oauthstate.KeyAuthToken)
}

// Clear deletes the token and the cached user info.
func (s *Store) Clear(ctx context.Context) error {
	return s.store.Delete(ctx, oauthstate.KeyAuthToken, oauthstate.KeyUserInfo)
}

// Expiry resolves the expiry of t: the JWT exp claim first, expiredAt second.
func (s *Store) Expiry(t Token) (time.Time, bool) {
	if s.extractor != nil {
		if exp, err := s.extractor.Expiry(t.AccessToken); err == nil {
			return exp, true
		}
	}
	return t.ExpiredAtTime()
}

// IsExpired reports whether the stored token is expired. Without a token it is false, and
// a token whose expiry cannot be determined is treated as valid until the backend says 401.
func (s *Store) IsExpired(ctx context.Context) bool {
	t, ok := s.Get(ctx)
	if !ok {
		return false
	}
	exp, ok := s.Expiry(t)
	if !ok {
		return false
	}
	return !s.now().Before(exp)
}

// TimeUntilExpiry returns the time left on the stored token.
func (s *Store) TimeUntilExpiry(ctx context.Context) (time.Duration, bool) {
	t, ok := s.Get(ctx)
	if !ok {
		return 0, false
	}
	exp, ok := s.Expiry(t)
	if !ok {
		return 0, false
	}
	return exp.Sub(s.now()), true
}

// MinutesUntilExpiry returns TimeUntilExpiry in whole minutes, rounded down.
func (s *Store) MinutesUntilExpiry(ctx context.Context) (int, bool) {
	d, ok := s.TimeUntilExpiry(ctx)
	if !ok {
		return 0, false
	}
	return wholeMinutes(d), true
}
