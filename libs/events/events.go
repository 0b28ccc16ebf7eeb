// Package events holds the user and invitation event payloads carried
// through the outbox.
package events

import (
	"reflect"
	"sort"
	"time"

	"github.com/md-rashed-zaman/eventoutbox/libs/outbox"
)

const (
	AggregateUser       = "User"
	AggregateInvitation = "Invitation"

	TypeUserCreated        = "user.created"
	TypeUserUpdated        = "user.updated"
	TypeUserDeleted        = "user.deleted"
	TypeInvitationCreated  = "invitation.created"
	TypeInvitationAccepted = "invitation.accepted"
)

type UserCreated struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	RoleID    string `json:"roleId"`
}

func (UserCreated) EventType() string { return TypeUserCreated }

type UserUpdated struct {
	OldData       map[string]any `json:"oldData"`
	NewData       map[string]any `json:"newData"`
	ChangedFields []string       `json:"changedFields"`
}

func (UserUpdated) EventType() string { return TypeUserUpdated }

type UserDeleted struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

func (UserDeleted) EventType() string { return TypeUserDeleted }

type InvitationCreated struct {
	Email           string    `json:"email"`
	InvitedByUserID string    `json:"invitedByUserId"`
	RoleID          string    `json:"roleId"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

func (InvitationCreated) EventType() string { return TypeInvitationCreated }

type InvitationAccepted struct {
	Email            string `json:"email"`
	AcceptedByUserID string `json:"acceptedByUserId"`
	InvitationID     string `json:"invitationId"`
}

func (InvitationAccepted) EventType() string { return TypeInvitationAccepted }

// Catalog returns a catalog with every payload in this package registered.
func Catalog() *outbox.Catalog {
	c := outbox.NewCatalog()
	c.MustRegister(
		func() outbox.Payload { return &UserCreated{} },
		func() outbox.Payload { return &UserUpdated{} },
		func() outbox.Payload { return &UserDeleted{} },
		func() outbox.Payload { return &InvitationCreated{} },
		func() outbox.Payload { return &InvitationAccepted{} },
	)
	return c
}

// The constructors below attribute the event to actorID when it is set and
// to the system otherwise.

func NewUserCreated(userID string, p UserCreated, actorID string) (outbox.DomainEvent, error) {
	return outbox.NewEvent(AggregateUser, userID, &p, outbox.ActorFor(actorID))
}

func NewUserUpdated(userID string, p UserUpdated, actorID string) (outbox.DomainEvent, error) {
	return outbox.NewEvent(AggregateUser, userID, &p, outbox.ActorFor(actorID))
}

func NewUserDeleted(userID string, p UserDeleted, actorID string) (outbox.DomainEvent, error) {
	return outbox.NewEvent(AggregateUser, userID, &p, outbox.ActorFor(actorID))
}

func NewInvitationCreated(invitationID string, p InvitationCreated, actorID string) (outbox.DomainEvent, error) {
	p.ExpiresAt = p.ExpiresAt.UTC()
	return outbox.NewEvent(AggregateInvitation, invitationID, &p, outbox.ActorFor(actorID))
}

func NewInvitationAccepted(invitationID string, p InvitationAccepted, actorID string) (outbox.DomainEvent, error) {
	return outbox.NewEvent(AggregateInvitation, invitationID, &p, outbox.ActorFor(actorID))
}

// UserChanges compares the fields present in patch against current and
// returns the update payload. ok is false when nothing changed, in which case
// no event should be recorded. Nil patch values mean "not provided".
func UserChanges(current, patch map[string]any) (UserUpdated, bool) {
	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	u := UserUpdated{OldData: map[string]any{}, NewData: map[string]any{}, ChangedFields: []string{}}
	for _, k := range keys {
		next := patch[k]
		if next == nil {
			continue
		}
		prev := current[k]
		if reflect.DeepEqual(prev, next) {
			continue
		}
		u.ChangedFields = append(u.ChangedFields, k)
		u.OldData[k] = prev
		u.NewData[k] = next
	}
	return u, len(u.ChangedFields) > 0
}
