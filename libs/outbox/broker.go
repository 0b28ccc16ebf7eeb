package outbox

import "context"

// Message is one outbox row ready for the wire. Brokers add the event_id and
// event_type headers plus the trace context found in the publish ctx.
type Message struct {
	RoutingKey string // event type name
	Key        string // aggregate id, used for partitioning
	EventID    string
	Body       []byte
}

// Broker delivers messages. Publish returns only after the broker accepted
// the message or ctx expired.
type Broker interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

const (
	HeaderEventID   = "event_id"
	HeaderEventType = "event_type"
)
