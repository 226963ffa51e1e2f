package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"golang.org/x/oauth2"
)

type stubClaimsVerifier struct {
	claims map[string]any
	err    error
}

func (s stubClaimsVerifier) VerifyClaims(_ context.Context, _ string) (map[string]any, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.claims, nil
}

func newOIDCTestService(verifier claimsVerifier) *OIDCService {
	cfg := validConfig(ModeOIDC)
	cfg.OIDCClientSecret = "client-secret"
	cfg.OIDCRedirectURL = "https://app.example.com/auth/callback"
	cfg.OIDCScopes = []string{"openid", "email"}
	return &OIDCService{
		cfg:      cfg,
		verifier: verifier,
		relying: oauth2.Config{
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://issuer.example.com/authorize",
				TokenURL: "https://issuer.example.com/token",
			},
			RedirectURL: cfg.OIDCRedirectURL,
			Scopes:      cfg.OIDCScopes,
		},
	}
}

func TestOIDCAuthenticateBearerToken(t *testing.T) {
	svc := newOIDCTestService(stubClaimsVerifier{claims: map[string]any{
		"sub":   "alice",
		"email": " alice@example.com ",
		"roles": []any{"Admin", "viewer", "admin"},
	}})

	req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
	req.Header.Set("Authorization", "Bearer raw-token")

	identity, err := svc.Authenticate(context.Background(), req)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if identity.Subject != "alice" || identity.Email != "alice@example.com" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
	if len(identity.Roles) != 2 || identity.Roles[0] != "admin" || identity.Roles[1] != "viewer" {
		t.Fatalf("roles not normalized: %v", identity.Roles)
	}
}

func TestOIDCAuthenticateSessionCookieFallback(t *testing.T) {
	svc := newOIDCTestService(stubClaimsVerifier{claims: map[string]any{
		"sub":   "bob",
		"roles": "editor, editor ,viewer",
	}})

	req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
	req.AddCookie(&http.Cookie{Name: svc.cfg.SessionCookieName, Value: "raw-token"})

	identity, err := svc.Authenticate(context.Background(), req)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if identity.Subject != "bob" {
		t.Fatalf("subject = %q", identity.Subject)
	}
	if len(identity.Roles) != 2 || identity.Roles[0] != "editor" || identity.Roles[1] != "viewer" {
		t.Fatalf("csv roles not normalized: %v", identity.Roles)
	}
}

func TestOIDCAuthenticateRejections(t *testing.T) {
	svc := newOIDCTestService(stubClaimsVerifier{err: errors.New("token expired")})

	req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
	if _, err := svc.Authenticate(context.Background(), req); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("no credentials: err = %v, want ErrUnauthenticated", err)
	}

	req.Header.Set("Authorization", "Bearer bad-token")
	if _, err := svc.Authenticate(context.Background(), req); err == nil || errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("bad token must fail verification, got %v", err)
	}
}

func TestLoginFlowCookieRoundTrip(t *testing.T) {
	flow, err := newLoginFlow("/app")
	if err != nil {
		t.Fatalf("newLoginFlow: %v", err)
	}
	if flow.ReturnTo != "/app" {
		t.Fatalf("return_to = %q", flow.ReturnTo)
	}
	encoded, err := flow.encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := decodeLoginFlow(encoded)
	if err != nil {
		t.Fatalf("decodeLoginFlow: %v", err)
	}
	if decoded != flow {
		t.Fatalf("round trip changed flow: %+v vs %+v", decoded, flow)
	}

	if _, err := decodeLoginFlow("not base64 json"); err == nil {
		t.Fatalf("garbage cookie accepted")
	}
	partial, _ := loginFlow{State: "s"}.encode()
	if _, err := decodeLoginFlow(partial); err == nil {
		t.Fatalf("incomplete flow accepted")
	}
}

func TestLoginHandlerStartsPKCEFlow(t *testing.T) {
	svc := newOIDCTestService(stubClaimsVerifier{})
	login, err := svc.LoginHandler()
	if err != nil {
		t.Fatalf("LoginHandler: %v", err)
	}

	rec := httptest.NewRecorder()
	login(rec, httptest.NewRequest(http.MethodGet, "/auth/login?return_to=/app", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}

	var flowCookie *http.Cookie
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == flowCookieName {
			flowCookie = cookie
		}
	}
	if flowCookie == nil {
		t.Fatalf("flow cookie not set")
	}
	flow, err := decodeLoginFlow(flowCookie.Value)
	if err != nil {
		t.Fatalf("decodeLoginFlow: %v", err)
	}
	if flow.ReturnTo != "/app" {
		t.Fatalf("return_to = %q", flow.ReturnTo)
	}

	redirect, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	query := redirect.Query()
	if query.Get("state") != flow.State {
		t.Fatalf("redirect state %q does not match cookie state %q", query.Get("state"), flow.State)
	}
	if query.Get("nonce") != flow.Nonce {
		t.Fatalf("redirect nonce does not match cookie nonce")
	}
	if query.Get("code_challenge_method") != "S256" {
		t.Fatalf("challenge method = %q", query.Get("code_challenge_method"))
	}
	if query.Get("code_challenge") != pkceChallenge(flow.Verifier) {
		t.Fatalf("challenge does not match cookie verifier")
	}
}

func TestCallbackHandlerValidatesFlow(t *testing.T) {
	svc := newOIDCTestService(stubClaimsVerifier{})
	callback, err := svc.CallbackHandler()
	if err != nil {
		t.Fatalf("CallbackHandler: %v", err)
	}

	body := func(rec *httptest.ResponseRecorder) string {
		var payload map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		code, _ := payload["error"].(string)
		return code
	}

	rec := httptest.NewRecorder()
	callback(rec, httptest.NewRequest(http.MethodGet, "/auth/callback", nil))
	if rec.Code != http.StatusBadRequest || body(rec) != "missing_code_or_state" {
		t.Fatalf("no params: status %d error %q", rec.Code, body(rec))
	}

	rec = httptest.NewRecorder()
	callback(rec, httptest.NewRequest(http.MethodGet, "/auth/callback?code=c&state=s", nil))
	if rec.Code != http.StatusBadRequest || body(rec) != "missing_login_flow" {
		t.Fatalf("no flow cookie: status %d error %q", rec.Code, body(rec))
	}

	encoded, err := loginFlow{State: "expected", Verifier: "v", Nonce: "n"}.encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=c&state=forged", nil)
	req.AddCookie(&http.Cookie{Name: flowCookieName, Value: encoded})
	rec = httptest.NewRecorder()
	callback(rec, req)
	if rec.Code != http.StatusBadRequest || body(rec) != "invalid_state" {
		t.Fatalf("state mismatch: status %d error %q", rec.Code, body(rec))
	}
}

func TestSessionHandlerReportsIdentity(t *testing.T) {
	svc := newOIDCTestService(stubClaimsVerifier{claims: map[string]any{
		"sub":   "alice",
		"email": "alice@example.com",
		"roles": []any{"admin"},
	}})
	session := svc.SessionHandler()

	rec := httptest.NewRecorder()
	session(rec, httptest.NewRequest(http.MethodGet, "/auth/session", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous session: status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	req.AddCookie(&http.Cookie{Name: svc.cfg.SessionCookieName, Value: "raw-token"})
	rec = httptest.NewRecorder()
	session(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var payload struct {
		Subject string   `json:"subject"`
		Roles   []string `json:"roles"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload.Subject != "alice" || len(payload.Roles) != 1 || payload.Roles[0] != "admin" {
		t.Fatalf("session payload = %+v", payload)
	}
}

func TestLogoutHandlerClearsSession(t *testing.T) {
	svc := newOIDCTestService(stubClaimsVerifier{})
	rec := httptest.NewRecorder()
	svc.LogoutHandler()(rec, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	cleared := false
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == svc.cfg.SessionCookieName && cookie.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatalf("session cookie not cleared")
	}
}

func TestSafeReturnTo(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{raw: "", want: "/"},
		{raw: "/app", want: "/app"},
		{raw: "https://evil.example.com/phish", want: "/"},
		{raw: "//evil.example.com", want: "/"},
		{raw: "relative/path", want: "/"},
	}
	for _, tc := range cases {
		if got := safeReturnTo(tc.raw); got != tc.want {
			t.Fatalf("safeReturnTo(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}
