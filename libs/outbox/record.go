package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EventType struct {
	ID            uuid.UUID
	Name          string
	Category      string
	Description   string
	SchemaVersion int
	CreatedAt     time.Time
}

type Status string

const (
	StatusPending      Status = "pending"
	StatusPublished    Status = "published"
	StatusDeadLettered Status = "dead_lettered"
)

type OutboxRecord struct {
	ID             uuid.UUID
	EventTypeID    uuid.UUID
	EventType      string
	AggregateID    string
	AggregateType  string
	ActorType      ActorType
	ActorID        string
	EventData      json.RawMessage
	Published      bool
	PublishedAt    *time.Time
	RetryCount     int
	Error          string
	DeadLetteredAt *time.Time
	Traceparent    string
	Tracestate     string
	CreatedAt      time.Time
}

func (r OutboxRecord) Status() Status {
	switch {
	case r.Published:
		return StatusPublished
	case r.DeadLetteredAt != nil:
		return StatusDeadLettered
	default:
		return StatusPending
	}
}

type HistoryRecord struct {
	ID            uuid.UUID
	OutboxID      uuid.UUID
	EventTypeID   uuid.UUID
	EventType     string
	AggregateID   string
	AggregateType string
	ActorType     ActorType
	ActorID       string
	EventData     json.RawMessage
	OccurredAt    time.Time
	ArchivedAt    time.Time
}

const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 500
)

// HistoryFilter narrows QueryHistory. Zero fields are ignored.
type HistoryFilter struct {
	AggregateID   string
	AggregateType string
	EventType     string
	ActorID       string
	From          time.Time
	To            time.Time
	Limit         int
}

func (f HistoryFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultHistoryLimit
	case f.Limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return f.Limit
	}
}
