package auth

import (
	"context"
	"net/http"
	"strings"
)

// Identity is the authenticated caller as the middleware hands it to
// request handlers.
type Identity struct {
	Subject string
	Email   string
	Roles   []string
}

// Normalized returns a copy with trimmed subject and email and with
// roles lowercased and deduplicated. Authenticators normalize before
// handing an identity to the authorizer so role checks stay
// case-insensitive.
func (i Identity) Normalized() Identity {
	return Identity{
		Subject: strings.TrimSpace(i.Subject),
		Email:   strings.TrimSpace(i.Email),
		Roles:   normalizeRoles(i.Roles),
	}
}

func normalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	seen := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}

// Authenticator resolves the caller identity for one request.
// ErrUnauthenticated means no credentials were presented; any other
// error means the presented credentials failed verification.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Identity, error)
}

type ctxKeyIdentity struct{}

func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(ctxKeyIdentity{}).(Identity)
	return v, ok
}
