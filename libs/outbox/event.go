package outbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DomainEvent is an immutable fact about an aggregate.
type DomainEvent struct {
	EventID       uuid.UUID
	OccurredAt    time.Time
	AggregateID   string
	AggregateType string
	Type          string
	Payload       Payload
	ActorType     ActorType
	ActorID       string
	Metadata      map[string]any
}

// NewEvent stamps a fresh id and the current UTC time. Type is taken from the
// payload variant.
func NewEvent(aggregateType, aggregateID string, payload Payload, actor Actor) (DomainEvent, error) {
	if payload == nil {
		return DomainEvent{}, fmt.Errorf("%w: nil payload", ErrInvalidEvent)
	}
	ev := DomainEvent{
		EventID:       uuid.New(),
		OccurredAt:    time.Now().UTC(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Type:          payload.EventType(),
		Payload:       payload,
		ActorType:     actor.Type,
		ActorID:       actor.ID,
	}
	if err := ev.Validate(); err != nil {
		return DomainEvent{}, err
	}
	return ev, nil
}

// WithMetadata returns a copy carrying an extra metadata entry.
func (e DomainEvent) WithMetadata(key string, value any) DomainEvent {
	md := make(map[string]any, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		md[k] = v
	}
	md[key] = value
	e.Metadata = md
	return e
}

func (e DomainEvent) Actor() Actor { return Actor{Type: e.ActorType, ID: e.ActorID} }

func (e DomainEvent) Validate() error {
	if e.EventID == uuid.Nil {
		return fmt.Errorf("%w: missing event id", ErrInvalidEvent)
	}
	if err := ValidateTypeName(e.Type); err != nil {
		return err
	}
	if e.Payload == nil {
		return fmt.Errorf("%w: nil payload", ErrInvalidEvent)
	}
	if e.Payload.EventType() != e.Type {
		return fmt.Errorf("%w: payload %q does not match type %q", ErrInvalidEvent, e.Payload.EventType(), e.Type)
	}
	if strings.TrimSpace(e.AggregateID) == "" || strings.TrimSpace(e.AggregateType) == "" {
		return fmt.Errorf("%w: aggregate id and type are required", ErrInvalidEvent)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: missing occurred at", ErrInvalidEvent)
	}
	return e.Actor().Validate()
}

type envelope struct {
	EventID       uuid.UUID       `json:"eventId"`
	EventType     string          `json:"eventType"`
	AggregateID   string          `json:"aggregateId"`
	AggregateType string          `json:"aggregateType"`
	Payload       json.RawMessage `json:"payload"`
	ActorType     ActorType       `json:"actorType"`
	ActorID       string          `json:"actorId,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

// ToRecord encodes the event as the JSON envelope stored in event_data and
// sent to the broker.
func (e DomainEvent) ToRecord() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", e.Type, err)
	}
	return json.Marshal(envelope{
		EventID:       e.EventID,
		EventType:     e.Type,
		AggregateID:   e.AggregateID,
		AggregateType: e.AggregateType,
		Payload:       payload,
		ActorType:     e.ActorType,
		ActorID:       e.ActorID,
		Metadata:      e.Metadata,
		OccurredAt:    e.OccurredAt.UTC(),
	})
}

// FromRecord decodes an envelope produced by ToRecord, resolving the payload
// variant through the catalog.
func FromRecord(c *Catalog, data []byte) (DomainEvent, error) {
	var env envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return DomainEvent{}, fmt.Errorf("decode envelope: %w", err)
	}
	payload, err := c.Decode(env.EventType, env.Payload)
	if err != nil {
		return DomainEvent{}, err
	}
	ev := DomainEvent{
		EventID:       env.EventID,
		OccurredAt:    env.OccurredAt.UTC(),
		AggregateID:   env.AggregateID,
		AggregateType: env.AggregateType,
		Type:          env.EventType,
		Payload:       payload,
		ActorType:     env.ActorType,
		ActorID:       env.ActorID,
		Metadata:      restoreNumbers(env.Metadata).(map[string]any),
	}
	if err := ev.Validate(); err != nil {
		return DomainEvent{}, err
	}
	return ev, nil
}

// restoreNumbers turns json.Number values back into int64 when they are
// integral and float64 otherwise, so integer metadata survives FromRecord.
func restoreNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return t
		}
		for k, e := range t {
			t[k] = restoreNumbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = restoreNumbers(e)
		}
		return t
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		return v
	}
}

var typeNamePattern = regexp.MustCompile(`^[a-z0-9_-]+(\.[a-z0-9_-]+)+$`)

// ValidateTypeName accepts lowercase dotted names such as "user.created".
func ValidateTypeName(name string) error {
	if !typeNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidEventType, name)
	}
	return nil
}

// Category is the segment before the first dot.
func Category(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}
