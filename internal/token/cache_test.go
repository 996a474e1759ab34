package token

import (
	"testing"
	"time"
)

func TestScopeKey(t *testing.T) {
	cases := []struct {
		name   string
		scopes []string
		want   string
	}{
		{name: "nil", scopes: nil, want: ""},
		{name: "empty", scopes: []string{}, want: ""},
		{name: "single", scopes: []string{"cloud-platform"}, want: "cloud-platform"},
		{name: "sorted", scopes: []string{"b", "a"}, want: "a,b"},
		{name: "dedup", scopes: []string{"a", "a", "b"}, want: "a,b"},
		{name: "trims blanks", scopes: []string{" a ", "", "b"}, want: "a,b"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := ScopeKey(tc.scopes); got != tc.want {
				t.Fatalf("ScopeKey(%v) = %q, want %q", tc.scopes, got, tc.want)
			}
		})
	}
}

func TestCacheGetPut(t *testing.T) {
	c := NewWithMargin(5 * time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, ok := c.Get("cloud-platform", now); ok {
		t.Fatalf("expected miss on empty cache")
	}

	c.Put("cloud-platform", Cached{AccessToken: "tok1", ExpiresAt: now.Add(10 * time.Minute)})
	got, ok := c.Get("cloud-platform", now)
	if !ok || got.AccessToken != "tok1" {
		t.Fatalf("expected fresh hit, got %+v ok=%v", got, ok)
	}

	// Within margin: must be treated as stale.
	c.Put("cloud-platform", Cached{AccessToken: "tok2", ExpiresAt: now.Add(4 * time.Minute)})
	if _, ok := c.Get("cloud-platform", now); ok {
		t.Fatalf("expected stale entry to miss")
	}

	// Exactly at margin boundary: still stale (strict >, not >=).
	c.Put("cloud-platform", Cached{AccessToken: "tok3", ExpiresAt: now.Add(5 * time.Minute)})
	if _, ok := c.Get("cloud-platform", now); ok {
		t.Fatalf("expected boundary entry to miss")
	}
}

func TestCacheFreshPredicate(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Cached{AccessToken: "tok", ExpiresAt: now.Add(6 * time.Minute)}
	if !c.Fresh(now, 5*time.Minute) {
		t.Fatalf("expected fresh")
	}
	if c.Fresh(now, 10*time.Minute) {
		t.Fatalf("expected stale under a larger margin")
	}
	empty := Cached{}
	if empty.Fresh(now, 0) {
		t.Fatalf("empty token must never be fresh")
	}
}
