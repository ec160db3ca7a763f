package oauthstate

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/growgrammers/authflow/internal/provider"
	"github.com/growgrammers/authflow/internal/storage"
)

func TestBeginFlowRecordsMarkers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	s := New(store)

	params, err := s.BeginFlow(ctx, provider.Kakao, ModeLink)
	if err != nil {
		t.Fatalf("BeginFlow: %v", err)
	}
	if v, ok := s.Verifier(ctx, provider.Kakao); !ok || v != params.CodeVerifier {
		t.Fatalf("verifier = %q, %v", v, ok)
	}
	m := s.Marker(ctx, provider.Kakao)
	if !m.InProgress || m.Mode != ModeLink || m.CodeUsed {
		t.Fatalf("marker = %+v", m)
	}
	if p, ok := s.InProgress(ctx); !ok || p != provider.Kakao {
		t.Fatalf("InProgress = %v, %v", p, ok)
	}

	// A later login flow replaces the linking markers.
	if _, err = s.BeginFlow(ctx, provider.Kakao, ModeLogin); err != nil {
		t.Fatalf("BeginFlow: %v", err)
	}
	if m = s.Marker(ctx, provider.Kakao); m.Mode != ModeLogin {
		t.Fatalf("mode after login flow = %s", m.Mode)
	}
	if _, err = s.BeginFlow(ctx, provider.Name("github"), ModeLogin); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestValidateReturn(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	s := New(store)

	if ok, _ := s.ValidateReturn(ctx, provider.Google, "anything"); ok {
		t.Fatal("missing stored state must not validate")
	}
	_ = store.Set(ctx, stateKey(provider.Google), "ab~c.d-e_f")
	tests := []struct {
		returned string
		want     bool
	}{
		{"ab~c.d-e_f", true},
		{url.QueryEscape("ab~c.d-e_f"), true},
		{"ab%7Ec.d-e_f", true},
		{"different", false},
		{"", false},
	}
	for _, tt := range tests {
		if got, _ := s.ValidateReturn(ctx, provider.Google, tt.returned); got != tt.want {
			t.Errorf("ValidateReturn(%q) = %v, want %v", tt.returned, got, tt.want)
		}
	}
}

func TestConsumeCodeDeduplicates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(storage.NewMemoryStorage())

	fresh, err := s.ConsumeCode(ctx, provider.Naver, "code-1")
	if err != nil || !fresh {
		t.Fatalf("first ConsumeCode = %v, %v", fresh, err)
	}
	if code, ok := s.PendingCode(ctx, provider.Naver); !ok || code != "code-1" {
		t.Fatalf("PendingCode = %q, %v", code, ok)
	}
	if fresh, _ = s.ConsumeCode(ctx, provider.Naver, "code-1"); fresh {
		t.Fatal("second delivery of the same code must be a duplicate")
	}
	if s.IsCodeUsed(ctx, provider.Naver, "code-1") {
		t.Fatal("code must not be used before MarkCodeUsed")
	}
	if err = s.MarkCodeUsed(ctx, provider.Naver); err != nil {
		t.Fatal(err)
	}
	if !s.IsCodeUsed(ctx, provider.Naver, "code-1") {
		t.Fatal("expected code to be used")
	}
	if _, ok := s.PendingCode(ctx, provider.Naver); ok {
		t.Fatal("used code must not be pending")
	}

	if fresh, _ = s.ConsumeCode(ctx, provider.Naver, "code-2"); !fresh {
		t.Fatal("a new code must be fresh")
	}
	if s.IsCodeUsed(ctx, provider.Naver, "code-2") {
		t.Fatal("used flag must reset for a new code")
	}
}

func TestCleanupOnlyTouchesOwnProvider(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	s := New(store)

	_, _ = s.BeginFlow(ctx, provider.Google, ModeLogin)
	_, _ = s.ConsumeCode(ctx, provider.Google, "g")
	_ = store.Set(ctx, verifierKey(provider.Kakao), "kakao-verifier")

	if err := s.Cleanup(ctx, provider.Kakao); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.InProgress(ctx); !ok {
		t.Fatal("cleaning kakao must keep google's in-progress marker")
	}
	if err := s.Cleanup(ctx, provider.Google); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.InProgress(ctx); ok {
		t.Fatal("in-progress marker survived cleanup")
	}
	if _, ok := s.Verifier(ctx, provider.Google); ok {
		t.Fatal("verifier survived cleanup")
	}
	if _, ok := s.PendingCode(ctx, provider.Google); ok {
		t.Fatal("code survived cleanup")
	}
}

func TestProcessingGuard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	s := New(storage.NewMemoryStorage(), WithClock(func() time.Time { return now }))

	if ok, _ := s.TryAcquireProcessing(ctx, provider.Google, time.Minute); !ok {
		t.Fatal("first acquire must succeed")
	}
	if ok, _ := s.TryAcquireProcessing(ctx, provider.Google, time.Minute); ok {
		t.Fatal("second acquire must fail while the guard is fresh")
	}
	now = now.Add(2 * time.Minute)
	if ok, _ := s.TryAcquireProcessing(ctx, provider.Google, time.Minute); !ok {
		t.Fatal("stale guard must be taken over")
	}
	_ = s.ReleaseProcessing(ctx, provider.Google)
	if ok, _ := s.TryAcquireProcessing(ctx, provider.Google, 0); !ok {
		t.Fatal("acquire after release must succeed")
	}
}
