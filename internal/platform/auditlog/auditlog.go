package auditlog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is one append-only audit record. OccurredAt is set by the store
// when zero.
type Event struct {
	EventID    string
	OccurredAt time.Time
	Actor      string
	Action     string
	EntityType string
	EntityID   string
	RequestID  string
	SourceIP   string
	Payload    map[string]any
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.Actor) == "" {
		return fmt.Errorf("actor is required")
	}
	if strings.TrimSpace(e.Action) == "" {
		return fmt.Errorf("action is required")
	}
	if strings.TrimSpace(e.EntityType) == "" {
		return fmt.Errorf("entity type is required")
	}
	return nil
}

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Store struct {
	db DB
}

func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Insert appends one event and returns its id.
func (s *Store) Insert(ctx context.Context, event Event) (string, error) {
	if s == nil || s.db == nil {
		return "", fmt.Errorf("audit store is not initialized")
	}
	if err := event.Validate(); err != nil {
		return "", fmt.Errorf("validate audit event: %w", err)
	}

	if strings.TrimSpace(event.EventID) == "" {
		event.EventID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	} else {
		event.OccurredAt = event.OccurredAt.UTC()
	}
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return "", fmt.Errorf("encode audit payload: %w", err)
	}

	integrity, err := ComputeIntegritySHA256(event)
	if err != nil {
		return "", fmt.Errorf("compute audit integrity: %w", err)
	}

	const query = `
INSERT INTO audit_events (
    event_id, occurred_at, actor, action, entity_type, entity_id,
    request_id, source_ip, payload, integrity_sha256
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = s.db.ExecContext(ctx, query,
		event.EventID,
		event.OccurredAt,
		event.Actor,
		event.Action,
		event.EntityType,
		nullIfEmpty(event.EntityID),
		nullIfEmpty(event.RequestID),
		nullIfEmpty(event.SourceIP),
		payload,
		integrity,
	)
	if err != nil {
		return "", fmt.Errorf("insert audit event: %w", err)
	}
	return event.EventID, nil
}

// ComputeIntegritySHA256 hashes a canonical rendering of the event so
// stored rows can be checked for tampering. Payload keys are sorted to
// keep the digest stable across encodings.
func ComputeIntegritySHA256(event Event) (string, error) {
	canonical := struct {
		EventID    string `json:"event_id"`
		OccurredAt string `json:"occurred_at"`
		Actor      string `json:"actor"`
		Action     string `json:"action"`
		EntityType string `json:"entity_type"`
		EntityID   string `json:"entity_id"`
		RequestID  string `json:"request_id"`
		SourceIP   string `json:"source_ip"`
		Payload    string `json:"payload"`
	}{
		EventID:    event.EventID,
		OccurredAt: event.OccurredAt.UTC().Format(time.RFC3339Nano),
		Actor:      event.Actor,
		Action:     event.Action,
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		RequestID:  event.RequestID,
		SourceIP:   event.SourceIP,
	}

	payload, err := canonicalJSON(event.Payload)
	if err != nil {
		return "", err
	}
	canonical.Payload = payload

	encoded, err := json.Marshal(canonical)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

func canonicalJSON(payload map[string]any) (string, error) {
	if len(payload) == 0 {
		return "{}", nil
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return "", err
		}
		value, err := json.Marshal(payload[k])
		if err != nil {
			return "", err
		}
		b.Write(key)
		b.WriteByte(':')
		b.Write(value)
	}
	b.WriteByte('}')
	return b.String(), nil
}

func nullIfEmpty(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
