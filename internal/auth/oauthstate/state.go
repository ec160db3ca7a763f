// Package oauthstate keeps the transient bookkeeping of OAuth attempts in storage: the
// PKCE verifier and CSRF state of each provider, the in-progress and linking markers, the
// authorization code awaiting exchange and the flag that records it was used.
//
// Callers must run Cleanup on every terminal path so stale markers never leak into the
// next attempt.
package oauthstate

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/growgrammers/authflow/internal/auth/pkce"
	"github.com/growgrammers/authflow/internal/provider"
	"github.com/growgrammers/authflow/internal/storage"
	log "github.com/sirupsen/logrus"
)

// Mode distinguishes a plain login from attaching a provider to the signed-in account.
type Mode string

const (
	ModeLogin Mode = "login"
	ModeLink  Mode = "link"
)

// ParseMode maps "" and "login" to ModeLogin and "link" to ModeLink.
func ParseMode(raw string) (Mode, error) {
	switch raw {
	case "", string(ModeLogin):
		return ModeLogin, nil
	case string(ModeLink):
		return ModeLink, nil
	}
	return "", fmt.Errorf("oauthstate: unknown mode %q", raw)
}

// Marker is the flow marker of one provider.
type Marker struct {
	Provider   provider.Name
	Mode       Mode
	InProgress bool
	CodeUsed   bool
}

const flagTrue = "true"

// State reads and writes flow bookkeeping in a Storage.
type State struct {
	store storage.Storage
	gen   pkce.Generator
	now   func() time.Time
}

// Option customizes a State.
type Option func(*State)

// WithGenerator sets the PKCE generator.
func WithGenerator(g pkce.Generator) Option { return func(s *State) { s.gen = g } }

// WithClock sets the time source used by the processing guard.
func WithClock(now func() time.Time) Option { return func(s *State) { s.now = now } }

// New returns a State over store.
func New(store storage.Storage, opts ...Option) *State {
	s := &State{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Storage exposes the underlying storage.
func (s *State) Storage() storage.Storage { return s.store }

// BeginFlow generates fresh PKCE material for provider p and records it together with the
// in-progress and linking markers. Anything left from an earlier attempt of p is replaced.
func (s *State) BeginFlow(ctx context.Context, p provider.Name, mode Mode) (*pkce.Params, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %q", provider.ErrUnknownProvider, p)
	}
	params, err := s.gen.Generate()
	if err != nil {
		return nil, err
	}
	if err = s.store.Delete(ctx, codeKey(p), codeUsedKey(p)); err != nil {
		return nil, fmt.Errorf("oauthstate: reset %s markers: %w", p, err)
	}

	writes := [][2]string{
		{verifierKey(p), params.CodeVerifier},
		{stateKey(p), params.State},
		{KeyInProgress, flagTrue},
		{KeyProvider, string(p)},
	}
	if mode == ModeLink {
		writes = append(writes, [2]string{KeyLinkingMode, flagTrue}, [2]string{KeyLinkingProvider, string(p)})
	} else if err = s.store.Delete(ctx, KeyLinkingMode, KeyLinkingProvider); err != nil {
		return nil, fmt.Errorf("oauthstate: clear linking markers: %w", err)
	}
	for _, w := range writes {
		if err = s.store.Set(ctx, w[0], w[1]); err != nil {
			return nil, fmt.Errorf("oauthstate: store %s: %w", w[0], err)
		}
	}
	log.WithFields(log.Fields{"provider": p, "mode": mode}).Debug("oauth flow started")
	return params, nil
}

// ValidateReturn compares the state returned by the provider against the stored one, first
// exactly and then after URL-decoding, since providers encode it differently. A missing
// stored state never matches.
func (s *State) ValidateReturn(ctx context.Context, p provider.Name, returned string) (bool, error) {
	stored, ok, err := s.store.Get(ctx, stateKey(p))
	if err != nil {
		return false, fmt.Errorf("oauthstate: read state: %w", err)
	}
	if !ok || stored == "" || returned == "" {
		return false, nil
	}
	if returned == stored {
		return true, nil
	}
	decodedReturned := unescape(returned)
	decodedStored := unescape(stored)
	return decodedReturned == stored || returned == decodedStored || decodedReturned == decodedStored, nil
}

func unescape(v string) string {
	if d, err := url.QueryUnescape(v); err == nil {
		return d
	}
	return v
}

// ConsumeCode records code as the current authorization code of p. It returns false when
// the same code was recorded before, which marks the delivery as a duplicate.
func (s *State) ConsumeCode(ctx context.Context, p provider.Name, code string) (bool, error) {
	current, ok, err := s.store.Get(ctx, codeKey(p))
	if err != nil {
		return false, fmt.Errorf("oauthstate: read code: %w", err)
	}
	if ok && current == code {
		return false, nil
	}
	if err = s.store.Delete(ctx, codeUsedKey(p)); err != nil {
		return false, fmt.Errorf("oauthstate: reset used flag: %w", err)
	}
	if err = s.store.Set(ctx, codeKey(p), code); err != nil {
		return false, fmt.Errorf("oauthstate: store code: %w", err)
	}
	return true, nil
}

// MarkCodeUsed records that the current code of p has been exchanged.
func (s *State) MarkCodeUsed(ctx context.Context, p provider.Name) error {
	if err := s.store.Set(ctx, codeUsedKey(p), flagTrue); err != nil {
		return fmt.Errorf("oauthstate: mark code used: %w", err)
	}
	return nil
}

// IsCodeUsed reports whether code is the recorded code of p and was already exchanged.
func (s *State) IsCodeUsed(ctx context.Context, p provider.Name, code string) bool {
	current, ok, _ := s.store.Get(ctx, codeKey(p))
	if !ok || current != code {
		return false
	}
	return storage.GetOr(ctx, s.store, codeUsedKey(p), "") == flagTrue
}

// PendingCode returns a recorded code of p that has not been exchanged yet.
func (s *State) PendingCode(ctx context.Context, p provider.Name) (string, bool) {
	code, ok, err := s.store.Get(ctx, codeKey(p))
	if err != nil || !ok || code == "" {
		return "", false
	}
	if storage.GetOr(ctx, s.store, codeUsedKey(p), "") == flagTrue {
		return "", false
	}
	return code, true
}

// Verifier returns the stored PKCE code verifier of p.
func (s *State) Verifier(ctx context.Context, p provider.Name) (string, bool) {
	v, ok, err := s.store.Get(ctx, verifierKey(p))
	if err != nil || v == "" {
		return "", false
	}
	return v, ok
}

// Marker returns the flow marker of p. Link mode requires both linking keys to name p.
func (s *State) Marker(ctx context.Context, p provider.Name) Marker {
	get := func(key string) string { return storage.GetOr(ctx, s.store, key, "") }
	m := Marker{
		Provider:   p,
		Mode:       ModeLogin,
		InProgress: get(KeyInProgress) == flagTrue && get(KeyProvider) == string(p),
		CodeUsed:   get(codeUsedKey(p)) == flagTrue,
	}
	if get(KeyLinkingMode) == flagTrue && get(KeyLinkingProvider) == string(p) {
		m.Mode = ModeLink
	}
	return m
}

// InProgress returns the provider whose flow is currently marked in progress.
func (s *State) InProgress(ctx context.Context) (provider.Name, bool) {
	if storage.GetOr(ctx, s.store, KeyInProgress, "") != flagTrue {
		return "", false
	}
	p, err := provider.Parse(storage.GetOr(ctx, s.store, KeyProvider, ""))
	if err != nil {
		return "", false
	}
	return p, true
}

// Cleanup removes the verifier, state, code and used flag of p, and the global in-progress
// and linking markers when they point at p.
func (s *State) Cleanup(ctx context.Context, p provider.Name) error {
	keys := []string{verifierKey(p), stateKey(p), codeKey(p), codeUsedKey(p)}
	if storage.GetOr(ctx, s.store, KeyProvider, "") == string(p) {
		keys = append(keys, KeyInProgress, KeyProvider)
	}
	if storage.GetOr(ctx, s.store, KeyLinkingProvider, "") == string(p) {
		keys = append(keys, KeyLinkingMode, KeyLinkingProvider)
	}
	if err := s.store.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("oauthstate: cleanup %s: %w", p, err)
	}
	return nil
}

// TryAcquireProcessing sets the "currently processing this provider's callback" guard.
// It returns false while another holder's guard is younger than staleAfter; an older guard
// is taken over, since its holder most likely died before releasing it.
func (s *State) TryAcquireProcessing(ctx context.Context, p provider.Name, staleAfter time.Duration) (bool, error) {
	now := s.now()
	stamp := now.UTC().Format(time.RFC3339Nano)
	acquired, err := s.store.SetIfAbsent(ctx, processingKey(p), stamp)
	if err != nil {
		return false, fmt.Errorf("oauthstate: acquire processing guard: %w", err)
	}
	if acquired {
		return true, nil
	}
	if staleAfter <= 0 {
		return false, nil
	}
	held, ok, err := s.store.Get(ctx, processingKey(p))
	if err != nil || !ok {
		return false, err
	}
	since, errParse := time.Parse(time.RFC3339Nano, held)
	if errParse == nil && now.Sub(since) < staleAfter {
		return false, nil
	}
	log.WithField("provider", p).Warn("taking over stale callback processing guard")
	if err = s.store.Set(ctx, processingKey(p), stamp); err != nil {
		return false, fmt.Errorf("oauthstate: take over processing guard: %w", err)
	}
	return true, nil
}

// ReleaseProcessing clears the processing guard of p.
func (s *State) ReleaseProcessing(ctx context.Context, p provider.Name) error {
	return s.store.Delete(ctx, processingKey(p))
}

// ClearAll removes every marker of every provider, used when the local session is dropped.
func (s *State) ClearAll(ctx context.Context) error {
	keys := []string{KeyInProgress, KeyProvider, KeyLinkingMode, KeyLinkingProvider}
	for _, p := range provider.Priority {
		keys = append(keys, verifierKey(p), stateKey(p), codeKey(p), codeUsedKey(p))
	}
	return s.store.Delete(ctx, keys...)
}
