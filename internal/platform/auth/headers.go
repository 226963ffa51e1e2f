package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// InternalHeadersAuthenticator trusts identity headers set by an upstream
// proxy, bound by an HMAC over the request.
type InternalHeadersAuthenticator struct {
	Secret  string
	MaxSkew time.Duration
}

func NewInternalHeadersAuthenticator(secret string) (*InternalHeadersAuthenticator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("FORGELINE_INTERNAL_AUTH_SECRET is required")
	}
	return &InternalHeadersAuthenticator{
		Secret:  secret,
		MaxSkew: 5 * time.Minute,
	}, nil
}

func (a *InternalHeadersAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	subject := strings.TrimSpace(r.Header.Get(HeaderSubject))
	if subject == "" {
		return Identity{}, ErrUnauthenticated
	}

	email := strings.TrimSpace(r.Header.Get(HeaderEmail))
	rolesRaw := strings.TrimSpace(r.Header.Get(HeaderRoles))

	ts := strings.TrimSpace(r.Header.Get(HeaderInternalAuthTimestamp))
	sig := strings.TrimSpace(r.Header.Get(HeaderInternalAuthSignature))
	if ts == "" || sig == "" {
		return Identity{}, ErrUnauthenticated
	}

	sr := SignedRequest{
		Timestamp: ts,
		Method:    r.Method,
		Path:      r.URL.Path,
		RequestID: r.Header.Get("X-Request-Id"),
		Subject:   subject,
		Email:     email,
		Roles:     rolesRaw,
	}
	if err := VerifyInternalRequest(a.Secret, sr, sig, time.Now().UTC(), a.MaxSkew); err != nil {
		return Identity{}, err
	}

	return Identity{
		Subject: subject,
		Email:   email,
		Roles:   parseCSV(rolesRaw),
	}.Normalized(), nil
}
