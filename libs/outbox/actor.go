package outbox

import (
	"fmt"
	"strings"
)

type ActorType string

const (
	ActorSystem ActorType = "SYSTEM"
	ActorUser   ActorType = "USER"
	ActorAPI    ActorType = "API"
)

func (a ActorType) Valid() bool {
	switch a {
	case ActorSystem, ActorUser, ActorAPI:
		return true
	}
	return false
}

// Actor identifies who caused an event. ID is set only for ActorUser.
type Actor struct {
	Type ActorType
	ID   string
}

func SystemActor() Actor { return Actor{Type: ActorSystem} }

func APIActor() Actor { return Actor{Type: ActorAPI} }

func UserActor(id string) Actor { return Actor{Type: ActorUser, ID: strings.TrimSpace(id)} }

// ActorFor returns a user actor when userID is non-empty and the system actor otherwise.
func ActorFor(userID string) Actor {
	if strings.TrimSpace(userID) == "" {
		return SystemActor()
	}
	return UserActor(userID)
}

func (a Actor) Validate() error {
	if !a.Type.Valid() {
		return fmt.Errorf("%w: unknown actor type %q", ErrInvalidActor, a.Type)
	}
	if a.Type == ActorUser && a.ID == "" {
		return fmt.Errorf("%w: user actor requires an id", ErrInvalidActor)
	}
	if a.Type != ActorUser && a.ID != "" {
		return fmt.Errorf("%w: %s actor must not carry an id", ErrInvalidActor, a.Type)
	}
	return nil
}
