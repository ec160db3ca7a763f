package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/growgrammers/authflow/internal/auth/oauthstate"
	"github.com/growgrammers/authflow/internal/storage"
)

var fixedNow = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func signedJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func newStore(opts ...Option) (*Store, *storage.MemoryStorage) {
	mem := storage.NewMemoryStorage()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewStore(mem, opts...), mem
}

func TestSaveThenIsExpired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name string
		exp  time.Time
		want bool
	}{
		{"future", fixedNow.Add(30 * time.Minute), false},
		{"past", fixedNow.Add(-time.Second), true},
	}
	for _, tt := range tests {
		s, _ := newStore()
		if err := s.Save(ctx, Token{AccessToken: signedJWT(t, tt.exp)}); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if got := s.IsExpired(ctx); got != tt.want {
			t.Errorf("%s: IsExpired = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestExpiredAtFallback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newStore()

	// Opaque tokens fall back to expiredAt.
	_ = s.Save(ctx, Token{AccessToken: "opaque", ExpiredAt: fixedNow.Add(-time.Minute).UnixMilli()})
	if !s.IsExpired(ctx) {
		t.Fatal("expected expiredAt in the past to expire the token")
	}
	_ = s.Save(ctx, Token{AccessToken: "opaque", ExpiredAt: fixedNow.Add(10 * time.Minute).UnixMilli()})
	if m, ok := s.MinutesUntilExpiry(ctx); !ok || m != 10 {
		t.Fatalf("MinutesUntilExpiry = %d, %v", m, ok)
	}

	// Neither claim nor expiredAt: conservatively valid.
	_ = s.Save(ctx, Token{AccessToken: "opaque"})
	if s.IsExpired(ctx) {
		t.Fatal("token without expiry must not be expired")
	}
	if _, ok := s.MinutesUntilExpiry(ctx); ok {
		t.Fatal("minutes must be unknown without expiry")
	}
}

func TestJWTClaimWinsOverExpiredAt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newStore()

	_ = s.Save(ctx, Token{
		AccessToken: signedJWT(t, fixedNow.Add(time.Hour)),
		ExpiredAt:   fixedNow.Add(-time.Hour).UnixMilli(),
	})
	if s.IsExpired(ctx) {
		t.Fatal("exp claim is authoritative")
	}
}

func TestMalformedDataIsNoToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for _, raw := range []string{"{broken", `{"accessToken":""}`, `"just a string"`, ""} {
		s, mem := newStore()
		_ = mem.Set(ctx, oauthstate.KeyAuthToken, raw)
		if s.Has(ctx) {
			t.Errorf("Has() = true for %q", raw)
		}
		if s.IsExpired(ctx) {
			t.Errorf("IsExpired() = true for %q", raw)
		}
	}
}

func TestClearRemovesUserInfo(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, mem := newStore()

	_ = s.Save(ctx, Token{AccessToken: "a"})
	_ = mem.Set(ctx, oauthstate.KeyUserInfo, `{"email":"a@b.co"}`)
	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if s.Has(ctx) || mem.Len() != 0 {
		t.Fatalf("Clear left data behind: %d keys", mem.Len())
	}
	if err := s.Save(ctx, Token{}); err == nil {
		t.Fatal("empty token must be rejected")
	}
}

func TestTimeUntilExpiryFromJWT(t *testing.T) {
	t.Parallel()

	tok := signedJWT(t, fixedNow.Add(1800*time.Second))
	if m, ok := TimeUntilExpiryFromJWT(tok, fixedNow); !ok || m != 30 {
		t.Fatalf("TimeUntilExpiryFromJWT = %d, %v, want 30", m, ok)
	}
	if m, _ := TimeUntilExpiryFromJWT(tok, fixedNow.Add(30*time.Second)); m != 29 {
		t.Fatalf("partial minute must round down, got %d", m)
	}
	if _, ok := TimeUntilExpiryFromJWT("not-a-jwt", fixedNow); ok {
		t.Fatal("garbage must not decode")
	}
}

func TestInjectedExtractor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	calls := 0
	s, _ := newStore(WithExtractor(ExpiryFunc(func(string) (time.Time, error) {
		calls++
		return time.Time{}, errors.New("unsupported")
	})))
	_ = s.Save(ctx, Token{AccessToken: "x", ExpiredAt: fixedNow.Add(2 * time.Minute).UnixMilli()})
	if m, ok := s.MinutesUntilExpiry(ctx); !ok || m != 2 || calls == 0 {
		t.Fatalf("minutes = %d, ok %v, calls %d", m, ok, calls)
	}
}
