package facade

import (
	"net/url"
	"strconv"
	"testing"
	"time"
)

const testSignKey = "a1b2c3d4e5f60718293a4b5c6d7e8f90102030405060708090a0b0c0d0e0f101"

func newTestPresigner(t *testing.T, now time.Time) *Presigner {
	t.Helper()
	p, err := NewPresigner("https://cdn.example.com", testSignKey, func() time.Time { return now })
	if err != nil {
		t.Fatalf("NewPresigner() error = %v", err)
	}
	return p
}

func TestPresigner_SignRewritesHostAndPreservesPath(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := newTestPresigner(t, now)

	signed, err := p.Sign("https://origin.internal/media/abc123.png")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	u, err := url.Parse(signed)
	if err != nil {
		t.Fatalf("parse signed url: %v", err)
	}
	if u.Host != "cdn.example.com" {
		t.Errorf("Host = %q, want cdn.example.com", u.Host)
	}
	if u.Path != "/media/abc123.png" {
		t.Errorf("Path = %q, want /media/abc123.png", u.Path)
	}
	if u.Query().Get("exp") == "" || u.Query().Get("sig") == "" {
		t.Error("signed url missing exp/sig query params")
	}
}

func TestPresigner_SignIssuesTwentyFourHourExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := newTestPresigner(t, now)

	signed, err := p.Sign("https://origin.internal/media/abc123.png")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	u, _ := url.Parse(signed)
	exp := u.Query().Get("exp")

	wantExp := now.Add(24 * time.Hour).Unix()
	gotExp := mustParseInt64(t, exp)
	if gotExp != wantExp {
		t.Errorf("exp = %d, want %d", gotExp, wantExp)
	}
}

func TestPresigner_SignLeavesFreshSignatureUntouched(t *testing.T) {
	t.Parallel()

	issuedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := newTestPresigner(t, issuedAt)

	signed, err := p.Sign("https://origin.internal/media/abc123.png")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	// 10h later: 14h of the 24h lifetime remain, comfortably above the 8h floor.
	later := issuedAt.Add(10 * time.Hour)
	pLater := newTestPresigner(t, later)
	resigned, err := pLater.Sign(signed)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if resigned != signed {
		t.Error("Sign() reissued a URL with ample remaining validity")
	}
}

func TestPresigner_SignReissuesBelowRemainingValidityFloor(t *testing.T) {
	t.Parallel()

	issuedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := newTestPresigner(t, issuedAt)

	signed, err := p.Sign("https://origin.internal/media/abc123.png")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	// 17h later: only 7h remain, below the 8h floor, so this must reissue a new 24h link.
	later := issuedAt.Add(17 * time.Hour)
	pLater := newTestPresigner(t, later)
	resigned, err := pLater.Sign(signed)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if resigned == signed {
		t.Error("Sign() did not reissue a URL below the remaining-validity floor")
	}

	u, _ := url.Parse(resigned)
	gotExp := mustParseInt64(t, u.Query().Get("exp"))
	wantExp := later.Add(24 * time.Hour).Unix()
	if gotExp != wantExp {
		t.Errorf("exp = %d, want %d", gotExp, wantExp)
	}
}

func TestPresigner_SignRejectsTamperedSignature(t *testing.T) {
	t.Parallel()

	issuedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := newTestPresigner(t, issuedAt)

	signed, err := p.Sign("https://origin.internal/media/abc123.png")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	u, _ := url.Parse(signed)
	q := u.Query()
	q.Set("sig", "0000000000000000000000000000000000000000000000000000000000000000")
	u.RawQuery = q.Encode()

	later := issuedAt.Add(time.Hour)
	pLater := newTestPresigner(t, later)
	resigned, err := pLater.Sign(u.String())
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if resigned == u.String() {
		t.Error("Sign() accepted a tampered signature")
	}
}

func mustParseInt64(t *testing.T, s string) int64 {
	t.Helper()
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		t.Fatalf("parse int64 %q: %v", s, err)
	}
	return v
}
