package status

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/growgrammers/authflow/internal/auth/oauthstate"
	"github.com/growgrammers/authflow/internal/auth/token"
	"github.com/growgrammers/authflow/internal/provider"
	"github.com/growgrammers/authflow/internal/storage"
)

func TestCompute(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	noClaim := token.ExpiryFunc(func(string) (time.Time, error) { return time.Time{}, errors.New("opaque") })

	tests := []struct {
		name      string
		tok       *token.Token
		wantAuth  bool
		wantHas   bool
		wantExp   bool
		wantMins  *int
	}{
		{name: "no token"},
		{
			name:     "valid",
			tok:      &token.Token{AccessToken: "a", ExpiredAt: now.Add(45*time.Minute + 30*time.Second).UnixMilli()},
			wantAuth: true, wantHas: true, wantMins: intPtr(45),
		},
		{
			name:    "expired",
			tok:     &token.Token{AccessToken: "a", ExpiredAt: now.Add(-time.Minute).UnixMilli()},
			wantHas: true, wantExp: true, wantMins: intPtr(-1),
		},
		{
			name:     "unknown expiry",
			tok:      &token.Token{AccessToken: "a"},
			wantAuth: true, wantHas: true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			store := storage.NewMemoryStorage()
			tokens := token.NewStore(store, token.WithExtractor(noClaim), token.WithClock(func() time.Time { return now }))
			if tt.tok != nil {
				if err := tokens.Save(ctx, *tt.tok); err != nil {
					t.Fatalf("Save: %v", err)
				}
			}
			st := New(tokens, nil).Compute(ctx)
			if st.IsAuthenticated != tt.wantAuth || st.HasToken != tt.wantHas || st.IsTokenExpired != tt.wantExp {
				t.Fatalf("status = %+v", st)
			}
			switch {
			case tt.wantMins == nil && st.MinutesUntilExpiry != nil:
				t.Fatalf("minutes = %d, want none", *st.MinutesUntilExpiry)
			case tt.wantMins != nil && (st.MinutesUntilExpiry == nil || *st.MinutesUntilExpiry != *tt.wantMins):
				t.Fatalf("minutes = %v, want %d", st.MinutesUntilExpiry, *tt.wantMins)
			}
		})
	}
}

func TestComputeRecomputesAfterLogout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	tokens := token.NewStore(store)
	agg := New(tokens, StoredProvider{Store: store, Key: oauthstate.KeyCurrentProviderType})

	if err := tokens.Save(ctx, token.Token{AccessToken: "opaque", ExpiredAt: time.Now().Add(time.Hour).UnixMilli()}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_ = store.Set(ctx, oauthstate.KeyCurrentProviderType, "naver")
	if st := agg.Compute(ctx); !st.IsAuthenticated || st.Provider != provider.Naver {
		t.Fatalf("status after login = %+v", st)
	}

	if err := tokens.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if agg.IsAuthenticated(ctx) {
		t.Fatal("status must be recomputed after the token is cleared")
	}
}

func intPtr(v int) *int { return &v }
