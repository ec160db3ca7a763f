package cache

import (
	"testing"
	"time"
)

func TestTTLCache(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	c := NewTTLCache[string](time.Minute)
	defer c.Close()
	c.now = func() time.Time { return now }

	c.Put("google", "code-1", "/auth/complete")
	if v, ok := c.Get("google", "code-1"); !ok || v != "/auth/complete" {
		t.Fatalf("Get = %q, %v", v, ok)
	}
	if _, ok := c.Get("kakao", "code-1"); ok {
		t.Fatal("groups must be isolated")
	}
	if _, ok := c.Get("google", "code-2"); ok {
		t.Fatal("unexpected hit for another secret")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("google", "code-1"); ok {
		t.Fatal("entry should have expired")
	}

	c.Put("naver", "x", "v")
	now = now.Add(2 * time.Minute)
	c.purgeExpired()
	if _, ok := c.groups.Load("naver"); ok {
		t.Fatal("empty group should be purged")
	}
}

func TestHashSecretDoesNotLeakInput(t *testing.T) {
	t.Parallel()

	h := HashSecret("4/0AfJohXn-secret-code")
	if len(h) != SecretHashLen || h == "4/0AfJohXn-secret-code" {
		t.Fatalf("hash = %q", h)
	}
	if HashSecret("a") != HashSecret("a") {
		t.Fatal("hash must be stable")
	}
}

func TestClear(t *testing.T) {
	t.Parallel()

	c := NewTTLCache[int](time.Hour)
	defer c.Close()
	c.Put("google", "a", 1)
	c.Put("kakao", "b", 2)
	c.Clear("google")
	if _, ok := c.Get("google", "a"); ok {
		t.Fatal("google group should be cleared")
	}
	c.Clear("")
	if _, ok := c.Get("kakao", "b"); ok {
		t.Fatal("all groups should be cleared")
	}
}
