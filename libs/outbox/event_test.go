package outbox

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
)

type accountOpened struct {
	Email string `json:"email"`
	Tier  int    `json:"tier"`
}

func (accountOpened) EventType() string { return "account.opened" }

type accountClosed struct {
	Reason string `json:"reason"`
}

func (accountClosed) EventType() string { return "account.closed" }

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c := NewCatalog()
	c.MustRegister(
		func() Payload { return &accountOpened{} },
		func() Payload { return &accountClosed{} },
	)
	return c
}

func TestEventRoundTrip(t *testing.T) {
	ev, err := NewEvent("Account", "acc-1", &accountOpened{Email: "a@example.com", Tier: 2}, UserActor("u-7"))
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	ev = ev.WithMetadata("source", "signup")

	data, err := ev.ToRecord()
	if err != nil {
		t.Fatalf("ToRecord: %v", err)
	}
	got, err := FromRecord(testCatalog(t), data)
	if err != nil {
		t.Fatalf("FromRecord: %v", err)
	}
	if !got.OccurredAt.Equal(ev.OccurredAt) {
		t.Fatalf("occurredAt %v != %v", got.OccurredAt, ev.OccurredAt)
	}
	got.OccurredAt = ev.OccurredAt
	if !reflect.DeepEqual(got, ev) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, ev)
	}
	if _, ok := got.Payload.(*accountOpened); !ok {
		t.Fatalf("payload variant lost: %T", got.Payload)
	}
}

func TestEventRoundTripKeepsNumericMetadata(t *testing.T) {
	ev, err := NewEvent("Account", "acc-1", &accountOpened{Email: "a@example.com"}, SystemActor())
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	ev = ev.WithMetadata("attempt", int64(3)).
		WithMetadata("sequence", int64(1)<<60).
		WithMetadata("ratio", 0.5).
		WithMetadata("trail", []any{"api", int64(2)})

	data, err := ev.ToRecord()
	if err != nil {
		t.Fatalf("ToRecord: %v", err)
	}
	got, err := FromRecord(testCatalog(t), data)
	if err != nil {
		t.Fatalf("FromRecord: %v", err)
	}
	if !reflect.DeepEqual(got.Metadata, ev.Metadata) {
		t.Fatalf("metadata mismatch:\n got %#v\nwant %#v", got.Metadata, ev.Metadata)
	}

	ev = ev.WithMetadata("attempt", 7)
	data, _ = ev.ToRecord()
	got, err = FromRecord(testCatalog(t), data)
	if err != nil {
		t.Fatalf("FromRecord: %v", err)
	}
	if n, ok := got.Metadata["attempt"].(int64); !ok || n != 7 {
		t.Fatalf("int metadata decoded as %#v", got.Metadata["attempt"])
	}
}

func TestNewEventPicksTypeFromPayload(t *testing.T) {
	ev, err := NewEvent("Account", "acc-1", &accountClosed{Reason: "fraud"}, SystemActor())
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if ev.Type != "account.closed" || ev.EventID == uuid.Nil || ev.OccurredAt.Location() != time.UTC {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestValidateActorInvariant(t *testing.T) {
	cases := []struct {
		name  string
		actor Actor
		ok    bool
	}{
		{"user with id", UserActor("u-1"), true},
		{"user without id", Actor{Type: ActorUser}, false},
		{"system", SystemActor(), true},
		{"system with id", Actor{Type: ActorSystem, ID: "u-1"}, false},
		{"api", APIActor(), true},
		{"unknown", Actor{Type: "ROBOT"}, false},
	}
	for _, tc := range cases {
		_, err := NewEvent("Account", "acc-1", &accountClosed{}, tc.actor)
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidActor) {
			t.Fatalf("%s: expected ErrInvalidActor, got %v", tc.name, err)
		}
	}
}

func TestActorFor(t *testing.T) {
	if a := ActorFor(""); a.Type != ActorSystem || a.ID != "" {
		t.Fatalf("empty id: %+v", a)
	}
	if a := ActorFor(" u-1 "); a.Type != ActorUser || a.ID != "u-1" {
		t.Fatalf("user id: %+v", a)
	}
}

func TestValidateRejectsMismatchedPayload(t *testing.T) {
	ev, err := NewEvent("Account", "acc-1", &accountClosed{}, SystemActor())
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	ev.Type = "account.opened"
	if err := ev.Validate(); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestFromRecordUnknownType(t *testing.T) {
	data := []byte(`{"eventId":"` + uuid.NewString() + `","eventType":"ledger.posted","aggregateId":"l-1","aggregateType":"Ledger","payload":{},"actorType":"SYSTEM","occurredAt":"2024-01-01T00:00:00Z"}`)
	if _, err := FromRecord(testCatalog(t), data); !errors.Is(err, ErrUnknownEventType) {
		t.Fatalf("expected ErrUnknownEventType, got %v", err)
	}
}

func TestValidateTypeName(t *testing.T) {
	for _, name := range []string{"user.created", "billing.invoice.paid", "a_b.c-d"} {
		if err := ValidateTypeName(name); err != nil {
			t.Fatalf("%q: %v", name, err)
		}
	}
	for _, name := range []string{"", "user", "User.Created", "user..created", ".created", "user.created "} {
		if err := ValidateTypeName(name); !errors.Is(err, ErrInvalidEventType) {
			t.Fatalf("%q: expected ErrInvalidEventType, got %v", name, err)
		}
	}
}

func TestCategory(t *testing.T) {
	if got := Category("billing.invoice.paid"); got != "billing" {
		t.Fatalf("Category = %q", got)
	}
}

func TestCatalogRejectsDuplicates(t *testing.T) {
	c := testCatalog(t)
	if err := c.Register(func() Payload { return &accountOpened{} }); !errors.Is(err, ErrInvalidEventType) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if got := c.Types(); !reflect.DeepEqual(got, []string{"account.closed", "account.opened"}) {
		t.Fatalf("Types = %v", got)
	}
}

func TestHistoryFilterLimit(t *testing.T) {
	cases := map[int]int{0: 100, -3: 100, 20: 20, 500: 500, 501: 500}
	for in, want := range cases {
		if got := (HistoryFilter{Limit: in}).EffectiveLimit(); got != want {
			t.Fatalf("limit %d: got %d want %d", in, got, want)
		}
	}
}

func TestRecordStatus(t *testing.T) {
	now := time.Now()
	if s := (OutboxRecord{}).Status(); s != StatusPending {
		t.Fatalf("zero record: %s", s)
	}
	if s := (OutboxRecord{DeadLetteredAt: &now}).Status(); s != StatusDeadLettered {
		t.Fatalf("dead-lettered: %s", s)
	}
	if s := (OutboxRecord{Published: true, PublishedAt: &now}).Status(); s != StatusPublished {
		t.Fatalf("published: %s", s)
	}
}
