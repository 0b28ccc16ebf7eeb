// Package accounts owns user and invitation changes. Every change and the
// event describing it are written in the same transaction.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/md-rashed-zaman/eventoutbox/libs/db"
	"github.com/md-rashed-zaman/eventoutbox/libs/events"
	"github.com/md-rashed-zaman/eventoutbox/libs/outbox"
	"github.com/md-rashed-zaman/eventoutbox/services/user-service/internal/storage"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvitationExpired  = errors.New("invitation expired")
	ErrInvitationAccepted = errors.New("invitation already accepted")
)

const (
	DefaultInvitationTTL = 7 * 24 * time.Hour
	DefaultListLimit     = 50
)

type Store interface {
	CreateUser(ctx context.Context, q db.Querier, u storage.User) error
	GetUser(ctx context.Context, q db.Querier, id string) (storage.User, error)
	GetUserForUpdate(ctx context.Context, q db.Querier, id string) (storage.User, error)
	ListUsers(ctx context.Context, q db.Querier, limit int) ([]storage.User, error)
	UpdateUser(ctx context.Context, q db.Querier, u storage.User) error
	DeleteUser(ctx context.Context, q db.Querier, id string) error
	CreateInvitation(ctx context.Context, q db.Querier, inv storage.Invitation) error
	GetInvitationForUpdate(ctx context.Context, q db.Querier, id string) (storage.Invitation, error)
	MarkInvitationAccepted(ctx context.Context, q db.Querier, id, userID string, at time.Time) error
}

// EventRecorder is satisfied by *outbox.Recorder.
type EventRecorder interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
	Record(ctx context.Context, tx pgx.Tx, ev outbox.DomainEvent) (outbox.OutboxRecord, error)
	History(ctx context.Context, f outbox.HistoryFilter) ([]outbox.HistoryRecord, error)
}

type Service struct {
	store         Store
	recorder      EventRecorder
	reader        db.Querier
	now           func() time.Time
	hash          func(string) (string, error)
	invitationTTL time.Duration
}

func NewService(store Store, recorder EventRecorder, reader db.Querier, invitationTTL time.Duration) *Service {
	if invitationTTL <= 0 {
		invitationTTL = DefaultInvitationTTL
	}
	return &Service{
		store:         store,
		recorder:      recorder,
		reader:        reader,
		now:           time.Now,
		hash:          hashPassword,
		invitationTTL: invitationTTL,
	}
}

type CreateUserInput struct {
	Email     string
	FirstName string
	LastName  string
	Password  string
	RoleID    string
}

// UpdateUserInput carries optional fields; nil means unchanged.
type UpdateUserInput struct {
	Email     *string
	FirstName *string
	LastName  *string
	RoleID    *string
}

type AcceptInvitationInput struct {
	FirstName string
	LastName  string
	Password  string
}

func (s *Service) CreateUser(ctx context.Context, in CreateUserInput, actorID string) (storage.User, error) {
	in.Email = strings.TrimSpace(in.Email)
	if err := validEmail(in.Email); err != nil {
		return storage.User{}, err
	}
	if strings.TrimSpace(in.Password) == "" || strings.TrimSpace(in.RoleID) == "" {
		return storage.User{}, fmt.Errorf("%w: password and roleId required", ErrInvalidInput)
	}
	hash, err := s.hash(in.Password)
	if err != nil {
		return storage.User{}, fmt.Errorf("hash password: %w", err)
	}
	u := storage.User{
		ID:           uuid.NewString(),
		Email:        in.Email,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		PasswordHash: hash,
		RoleID:       in.RoleID,
	}
	err = s.recorder.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.store.CreateUser(ctx, tx, u); err != nil {
			return err
		}
		return s.recordUserCreated(ctx, tx, u, actorID)
	})
	if err != nil {
		return storage.User{}, err
	}
	return u, nil
}

func (s *Service) recordUserCreated(ctx context.Context, tx pgx.Tx, u storage.User, actorID string) error {
	ev, err := events.NewUserCreated(u.ID, events.UserCreated{
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		RoleID:    u.RoleID,
	}, actorID)
	if err != nil {
		return err
	}
	_, err = s.recorder.Record(ctx, tx, ev)
	return err
}

// UpdateUser applies in and records user.updated only when a field actually
// changed.
func (s *Service) UpdateUser(ctx context.Context, id string, in UpdateUserInput, actorID string) (storage.User, error) {
	if in.Email != nil {
		trimmed := strings.TrimSpace(*in.Email)
		if err := validEmail(trimmed); err != nil {
			return storage.User{}, err
		}
		in.Email = &trimmed
	}
	var out storage.User
	err := s.recorder.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		current, err := s.store.GetUserForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		changes, changed := events.UserChanges(userFields(current), patchFields(in))
		next := applyPatch(current, in)
		out = next
		if !changed {
			return nil
		}
		if err := s.store.UpdateUser(ctx, tx, next); err != nil {
			return err
		}
		ev, err := events.NewUserUpdated(id, changes, actorID)
		if err != nil {
			return err
		}
		_, err = s.recorder.Record(ctx, tx, ev)
		return err
	})
	if err != nil {
		return storage.User{}, err
	}
	return out, nil
}

func (s *Service) DeleteUser(ctx context.Context, id, actorID string) (storage.User, error) {
	var deleted storage.User
	err := s.recorder.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		u, err := s.store.GetUserForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := s.store.DeleteUser(ctx, tx, id); err != nil {
			return err
		}
		ev, err := events.NewUserDeleted(id, events.UserDeleted{
			Email:     u.Email,
			FirstName: u.FirstName,
			LastName:  u.LastName,
		}, actorID)
		if err != nil {
			return err
		}
		if _, err := s.recorder.Record(ctx, tx, ev); err != nil {
			return err
		}
		deleted = u
		return nil
	})
	if err != nil {
		return storage.User{}, err
	}
	return deleted, nil
}

func (s *Service) GetUser(ctx context.Context, id string) (storage.User, error) {
	return s.store.GetUser(ctx, s.reader, id)
}

func (s *Service) ListUsers(ctx context.Context, limit int) ([]storage.User, error) {
	if limit <= 0 || limit > outbox.MaxHistoryLimit {
		limit = DefaultListLimit
	}
	return s.store.ListUsers(ctx, s.reader, limit)
}

func (s *Service) CreateInvitation(ctx context.Context, email, roleID, invitedBy string) (storage.Invitation, error) {
	email = strings.TrimSpace(email)
	if err := validEmail(email); err != nil {
		return storage.Invitation{}, err
	}
	if strings.TrimSpace(roleID) == "" {
		return storage.Invitation{}, fmt.Errorf("%w: roleId required", ErrInvalidInput)
	}
	inv := storage.Invitation{
		ID:        uuid.NewString(),
		Email:     email,
		RoleID:    roleID,
		InvitedBy: invitedBy,
		ExpiresAt: s.now().UTC().Add(s.invitationTTL),
	}
	err := s.recorder.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.store.CreateInvitation(ctx, tx, inv); err != nil {
			return err
		}
		ev, err := events.NewInvitationCreated(inv.ID, events.InvitationCreated{
			Email:           inv.Email,
			InvitedByUserID: invitedBy,
			RoleID:          roleID,
			ExpiresAt:       inv.ExpiresAt,
		}, invitedBy)
		if err != nil {
			return err
		}
		_, err = s.recorder.Record(ctx, tx, ev)
		return err
	})
	if err != nil {
		return storage.Invitation{}, err
	}
	return inv, nil
}

// AcceptInvitation creates the invited user and records both user.created
// and invitation.accepted, attributed to the new user.
func (s *Service) AcceptInvitation(ctx context.Context, invitationID string, in AcceptInvitationInput) (storage.User, error) {
	if strings.TrimSpace(in.Password) == "" {
		return storage.User{}, fmt.Errorf("%w: password required", ErrInvalidInput)
	}
	hash, err := s.hash(in.Password)
	if err != nil {
		return storage.User{}, fmt.Errorf("hash password: %w", err)
	}
	var created storage.User
	err = s.recorder.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		inv, err := s.store.GetInvitationForUpdate(ctx, tx, invitationID)
		if err != nil {
			return err
		}
		if inv.AcceptedAt != nil {
			return ErrInvitationAccepted
		}
		now := s.now().UTC()
		if !now.Before(inv.ExpiresAt) {
			return ErrInvitationExpired
		}

		u := storage.User{
			ID:           uuid.NewString(),
			Email:        inv.Email,
			FirstName:    strings.TrimSpace(in.FirstName),
			LastName:     strings.TrimSpace(in.LastName),
			PasswordHash: hash,
			RoleID:       inv.RoleID,
		}
		if err := s.store.CreateUser(ctx, tx, u); err != nil {
			return err
		}
		if err := s.store.MarkInvitationAccepted(ctx, tx, inv.ID, u.ID, now); err != nil {
			return err
		}
		if err := s.recordUserCreated(ctx, tx, u, u.ID); err != nil {
			return err
		}
		ev, err := events.NewInvitationAccepted(inv.ID, events.InvitationAccepted{
			Email:            inv.Email,
			AcceptedByUserID: u.ID,
			InvitationID:     inv.ID,
		}, u.ID)
		if err != nil {
			return err
		}
		if _, err := s.recorder.Record(ctx, tx, ev); err != nil {
			return err
		}
		created = u
		return nil
	})
	if err != nil {
		return storage.User{}, err
	}
	return created, nil
}

// UserEvents returns the published event history of one user, newest first.
func (s *Service) UserEvents(ctx context.Context, userID string, limit int) ([]outbox.HistoryRecord, error) {
	return s.recorder.History(ctx, outbox.HistoryFilter{
		AggregateType: events.AggregateUser,
		AggregateID:   userID,
		Limit:         limit,
	})
}

func userFields(u storage.User) map[string]any {
	return map[string]any{
		"email":     u.Email,
		"firstName": u.FirstName,
		"lastName":  u.LastName,
		"roleId":    u.RoleID,
	}
}

func patchFields(in UpdateUserInput) map[string]any {
	m := map[string]any{}
	if in.Email != nil {
		m["email"] = *in.Email
	}
	if in.FirstName != nil {
		m["firstName"] = *in.FirstName
	}
	if in.LastName != nil {
		m["lastName"] = *in.LastName
	}
	if in.RoleID != nil {
		m["roleId"] = *in.RoleID
	}
	return m
}

func applyPatch(u storage.User, in UpdateUserInput) storage.User {
	if in.Email != nil {
		u.Email = *in.Email
	}
	if in.FirstName != nil {
		u.FirstName = *in.FirstName
	}
	if in.LastName != nil {
		u.LastName = *in.LastName
	}
	if in.RoleID != nil {
		u.RoleID = *in.RoleID
	}
	return u
}

func validEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email required", ErrInvalidInput)
	}
	// ParseAddress also accepts "Name <addr>"; only a bare address is stored.
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	return nil
}

func hashPassword(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
