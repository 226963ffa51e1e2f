package auditlog

import (
	"context"
	"net"
	"strings"

	"github.com/forgeline-labs/forgeline-go/internal/platform/auth"
)

// InsertAuthDeny records an authentication or authorization denial as an
// audit event.
func InsertAuthDeny(ctx context.Context, store *Store, service string, event auth.DenyEvent) error {
	actor := "anonymous"
	if strings.TrimSpace(event.Subject) != "" {
		actor = strings.TrimSpace(event.Subject)
	}

	var sourceIP string
	host, _, err := net.SplitHostPort(event.RemoteAddr)
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			sourceIP = ip.String()
		}
	}

	_, err = store.Insert(ctx, Event{
		OccurredAt: event.Time,
		Actor:      actor,
		Action:     "auth." + strings.TrimSpace(event.Reason),
		EntityType: "http",
		EntityID:   event.Method + " " + event.Path,
		RequestID:  event.RequestID,
		SourceIP:   sourceIP,
		Payload: map[string]any{
			"service":    service,
			"status":     event.Status,
			"reason":     event.Reason,
			"error":      event.Error,
			"subject":    event.Subject,
			"email":      event.Email,
			"roles":      event.Roles,
			"user_agent": event.UserAgent,
		},
	})
	return err
}
