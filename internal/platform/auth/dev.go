package auth

import (
	"context"
	"net/http"
)

// DevAuthenticator stamps every request with the fixed identity taken
// from the DEV_AUTH_* variables. Local development only; it performs no
// verification at all.
type DevAuthenticator struct {
	identity Identity
}

func NewDevAuthenticator(cfg Config) *DevAuthenticator {
	identity := Identity{
		Subject: cfg.DevSubject,
		Email:   cfg.DevEmail,
		Roles:   cfg.DevRoles,
	}.Normalized()
	if identity.Subject == "" {
		identity.Subject = "dev-user"
	}
	return &DevAuthenticator{identity: identity}
}

func (a *DevAuthenticator) Authenticate(_ context.Context, _ *http.Request) (Identity, error) {
	return a.identity, nil
}
