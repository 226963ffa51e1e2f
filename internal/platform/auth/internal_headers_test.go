package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func signedRequestFixture(ts string) SignedRequest {
	return SignedRequest{
		Timestamp: ts,
		Method:    http.MethodGet,
		Path:      "/v1/runs",
		RequestID: "req-1",
		Subject:   "alice",
		Email:     "alice@example.com",
		Roles:     "editor",
	}
}

func TestSignInternalRequestRoundTrip(t *testing.T) {
	secret := "test-secret"
	now := time.Now().UTC()
	sr := signedRequestFixture(fmt.Sprintf("%d", now.Unix()))

	sig, err := SignInternalRequest(secret, sr)
	if err != nil {
		t.Fatalf("SignInternalRequest: %v", err)
	}
	if len(sig) != 64 {
		t.Fatalf("signature length = %d, want 64 hex chars", len(sig))
	}
	if err := VerifyInternalRequest(secret, sr, sig, now, 5*time.Minute); err != nil {
		t.Fatalf("VerifyInternalRequest: %v", err)
	}

	tampered := sr
	tampered.Method = http.MethodPost
	if err := VerifyInternalRequest(secret, tampered, sig, now, 5*time.Minute); err == nil {
		t.Fatalf("expected verification failure when method changes")
	}
	if err := VerifyInternalRequest("other-secret", sr, sig, now, 5*time.Minute); err == nil {
		t.Fatalf("expected verification failure with wrong secret")
	}
	if err := VerifyInternalRequest(secret, sr, "", now, 5*time.Minute); err == nil {
		t.Fatalf("expected verification failure without signature")
	}
}

func TestSignInternalRequestRequiresSecretAndTimestamp(t *testing.T) {
	sr := signedRequestFixture("1700000000")
	if _, err := SignInternalRequest("  ", sr); err == nil {
		t.Fatalf("blank secret accepted")
	}
	sr.Timestamp = ""
	if _, err := SignInternalRequest("test-secret", sr); err == nil {
		t.Fatalf("missing timestamp accepted")
	}
}

func TestVerifyInternalRequestTimestampWindow(t *testing.T) {
	secret := "test-secret"
	now := time.Now().UTC()

	stale := signedRequestFixture(fmt.Sprintf("%d", now.Add(-time.Hour).Unix()))
	sig, err := SignInternalRequest(secret, stale)
	if err != nil {
		t.Fatalf("SignInternalRequest: %v", err)
	}
	if err := VerifyInternalRequest(secret, stale, sig, now, 5*time.Minute); err == nil {
		t.Fatalf("stale timestamp accepted")
	}
	// Zero skew disables the window check entirely.
	if err := VerifyInternalRequest(secret, stale, sig, now, 0); err != nil {
		t.Fatalf("skew check not disabled: %v", err)
	}

	garbage := signedRequestFixture("not-a-number")
	sig, err = SignInternalRequest(secret, garbage)
	if err != nil {
		t.Fatalf("SignInternalRequest: %v", err)
	}
	if err := VerifyInternalRequest(secret, garbage, sig, now, 5*time.Minute); err == nil {
		t.Fatalf("non-numeric timestamp accepted")
	}
}

func TestInternalHeadersAuthenticator(t *testing.T) {
	secret := "test-secret"
	authn, err := NewInternalHeadersAuthenticator(secret)
	if err != nil {
		t.Fatalf("NewInternalHeadersAuthenticator: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
	ts := fmt.Sprintf("%d", time.Now().Unix())
	req.Header.Set("X-Request-Id", "req-1")
	req.Header.Set(HeaderSubject, "alice")
	req.Header.Set(HeaderEmail, "alice@example.com")
	req.Header.Set(HeaderRoles, "Editor,viewer,editor")
	req.Header.Set(HeaderInternalAuthTimestamp, ts)

	sig, err := SignInternalRequest(secret, SignedRequest{
		Timestamp: ts,
		Method:    req.Method,
		Path:      req.URL.Path,
		RequestID: "req-1",
		Subject:   "alice",
		Email:     "alice@example.com",
		Roles:     "Editor,viewer,editor",
	})
	if err != nil {
		t.Fatalf("SignInternalRequest: %v", err)
	}
	req.Header.Set(HeaderInternalAuthSignature, sig)

	identity, err := authn.Authenticate(context.Background(), req)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if identity.Subject != "alice" || identity.Email != "alice@example.com" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
	if len(identity.Roles) != 2 || identity.Roles[0] != "editor" || identity.Roles[1] != "viewer" {
		t.Fatalf("unexpected roles: %v", identity.Roles)
	}
}

func TestInternalHeadersAuthenticatorRejectsMissingHeaders(t *testing.T) {
	authn, err := NewInternalHeadersAuthenticator("test-secret")
	if err != nil {
		t.Fatalf("NewInternalHeadersAuthenticator: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
	if _, err := authn.Authenticate(context.Background(), req); err == nil {
		t.Fatalf("expected error without identity headers")
	}

	req.Header.Set(HeaderSubject, "alice")
	if _, err := authn.Authenticate(context.Background(), req); err == nil {
		t.Fatalf("expected error without timestamp and signature")
	}
}

func TestNewInternalHeadersAuthenticatorRequiresSecret(t *testing.T) {
	if _, err := NewInternalHeadersAuthenticator("  "); err == nil {
		t.Fatalf("expected error for blank secret")
	}
}
