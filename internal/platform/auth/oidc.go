package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// flowCookieName carries the in-flight login state across the redirect
// to the provider. The state lives in one opaque cookie instead of
// server-side storage so the service stays stateless.
const flowCookieName = "forgeline_oidc_flow"

const (
	flowCookieTTL   = 10 * time.Minute
	exchangeTimeout = 10 * time.Second
)

// claimsVerifier validates a raw ID token and returns its claims. The
// indirection keeps token handling testable without a live provider.
type claimsVerifier interface {
	VerifyClaims(ctx context.Context, rawToken string) (map[string]any, error)
}

type providerVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func (v providerVerifier) VerifyClaims(ctx context.Context, rawToken string) (map[string]any, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// OIDCService authenticates bearer tokens and session cookies against
// the configured provider and serves the PKCE login flow.
type OIDCService struct {
	cfg      Config
	verifier claimsVerifier
	relying  oauth2.Config
}

func NewOIDCService(ctx context.Context, cfg Config) (*OIDCService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode != ModeOIDC {
		return nil, fmt.Errorf("auth mode must be oidc (got %q)", cfg.Mode)
	}

	provider, err := oidc.NewProvider(ctx, cfg.OIDCIssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}

	return &OIDCService{
		cfg: cfg,
		verifier: providerVerifier{
			verifier: provider.Verifier(&oidc.Config{ClientID: cfg.OIDCClientID}),
		},
		relying: oauth2.Config{
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.OIDCRedirectURL,
			Scopes:       cfg.OIDCScopes,
		},
	}, nil
}

// Authenticate accepts a bearer token or, failing that, the session
// cookie set by the callback handler.
func (s *OIDCService) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	rawToken := bearerToken(r)
	if rawToken == "" {
		rawToken = cookieValue(r, s.cfg.SessionCookieName)
	}
	if rawToken == "" {
		return Identity{}, ErrUnauthenticated
	}

	claims, err := s.verifier.VerifyClaims(ctx, rawToken)
	if err != nil {
		return Identity{}, err
	}
	return s.identityFromClaims(claims), nil
}

func (s *OIDCService) identityFromClaims(claims map[string]any) Identity {
	subject, _ := claims["sub"].(string)
	return Identity{
		Subject: subject,
		Email:   stringClaim(claims, s.cfg.EmailClaim),
		Roles:   rolesClaim(claims, s.cfg.RolesClaim),
	}.Normalized()
}

// loginFlow is the state, PKCE verifier and nonce minted at login and
// checked at the callback.
type loginFlow struct {
	State    string `json:"state"`
	Verifier string `json:"verifier"`
	Nonce    string `json:"nonce"`
	ReturnTo string `json:"return_to"`
}

func newLoginFlow(returnTo string) (loginFlow, error) {
	state, err := randomToken()
	if err != nil {
		return loginFlow{}, err
	}
	verifier, err := randomToken()
	if err != nil {
		return loginFlow{}, err
	}
	nonce, err := randomToken()
	if err != nil {
		return loginFlow{}, err
	}
	return loginFlow{
		State:    state,
		Verifier: verifier,
		Nonce:    nonce,
		ReturnTo: safeReturnTo(returnTo),
	}, nil
}

func (f loginFlow) encode() (string, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeLoginFlow(value string) (loginFlow, error) {
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return loginFlow{}, fmt.Errorf("decode login flow: %w", err)
	}
	var f loginFlow
	if err := json.Unmarshal(raw, &f); err != nil {
		return loginFlow{}, fmt.Errorf("decode login flow: %w", err)
	}
	if f.State == "" || f.Verifier == "" || f.Nonce == "" {
		return loginFlow{}, errors.New("incomplete login flow")
	}
	return f, nil
}

// LoginHandler mints the login flow, parks it in the flow cookie and
// redirects the browser to the provider with a PKCE challenge.
func (s *OIDCService) LoginHandler() (http.HandlerFunc, error) {
	if err := s.cfg.ValidateForLogin(); err != nil {
		return nil, err
	}

	return func(w http.ResponseWriter, r *http.Request) {
		flow, err := newLoginFlow(r.URL.Query().Get("return_to"))
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal_error"})
			return
		}
		encoded, err := flow.encode()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal_error"})
			return
		}
		s.setCookie(w, flowCookieName, encoded, flowCookieTTL)

		authURL := s.relying.AuthCodeURL(
			flow.State,
			oauth2.AccessTypeOnline,
			oauth2.SetAuthURLParam("code_challenge", pkceChallenge(flow.Verifier)),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
			oauth2.SetAuthURLParam("nonce", flow.Nonce),
		)
		http.Redirect(w, r, authURL, http.StatusFound)
	}, nil
}

// CallbackHandler finishes the flow: state check, code exchange with the
// PKCE verifier, ID token verification, nonce check, session cookie.
func (s *OIDCService) CallbackHandler() (http.HandlerFunc, error) {
	if err := s.cfg.ValidateForLogin(); err != nil {
		return nil, err
	}

	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		stateQuery := r.URL.Query().Get("state")
		if code == "" || stateQuery == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing_code_or_state"})
			return
		}

		flow, err := decodeLoginFlow(cookieValue(r, flowCookieName))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing_login_flow"})
			return
		}
		if flow.State != stateQuery {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_state"})
			return
		}

		exchangeCtx, cancel := context.WithTimeout(r.Context(), exchangeTimeout)
		defer cancel()

		token, err := s.relying.Exchange(exchangeCtx, code, oauth2.SetAuthURLParam("code_verifier", flow.Verifier))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "token_exchange_failed"})
			return
		}
		rawIDToken, ok := token.Extra("id_token").(string)
		if !ok || rawIDToken == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "missing_id_token"})
			return
		}

		claims, err := s.verifier.VerifyClaims(exchangeCtx, rawIDToken)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_id_token"})
			return
		}
		nonce, _ := claims["nonce"].(string)
		if nonce == "" || nonce != flow.Nonce {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_nonce"})
			return
		}

		s.setCookie(w, s.cfg.SessionCookieName, rawIDToken, s.cfg.SessionCookieMaxAge)
		s.clearCookie(w, flowCookieName)
		http.Redirect(w, r, flow.ReturnTo, http.StatusFound)
	}, nil
}

func (s *OIDCService) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.clearCookie(w, s.cfg.SessionCookieName)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}
}

// SessionHandler reports the identity behind the current credentials.
func (s *OIDCService) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.Authenticate(r.Context(), r)
		if err != nil {
			code := "invalid_token"
			if errors.Is(err, ErrUnauthenticated) {
				code = "unauthorized"
			}
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": code})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"subject": identity.Subject,
			"email":   identity.Email,
			"roles":   identity.Roles,
		})
	}
}

func (s *OIDCService) setCookie(w http.ResponseWriter, name, value string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = flowCookieTTL
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.SessionCookieSecure,
		SameSite: sameSiteFor(s.cfg.SessionCookieSameSite),
	})
}

func (s *OIDCService) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.SessionCookieSecure,
		SameSite: sameSiteFor(s.cfg.SessionCookieSameSite),
	})
}

func bearerToken(r *http.Request) string {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, found := strings.Cut(authz, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func cookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func pkceChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// safeReturnTo only allows same-origin absolute paths, everything else
// lands on the root.
func safeReturnTo(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.IsAbs() {
		return "/"
	}
	if !strings.HasPrefix(u.Path, "/") || strings.HasPrefix(u.Path, "//") {
		return "/"
	}
	return u.Path
}

func sameSiteFor(raw string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func stringClaim(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return s
}

// rolesClaim accepts either a JSON array of strings or a single CSV
// string; Normalized() lowercases and deduplicates afterwards.
func rolesClaim(claims map[string]any, key string) []string {
	switch typed := claims[key].(type) {
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.Split(typed, ",")
	default:
		return nil
	}
}
