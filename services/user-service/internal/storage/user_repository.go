package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/eventoutbox/libs/db"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrEmailTaken = errors.New("email already registered")
)

//go:embed migrations/*.up.sql
var migrationFiles embed.FS

func Migrate(ctx context.Context, pool db.TxBeginner) error {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return err
	}
	return db.Migrate(ctx, pool, "user-service", sub)
}

type User struct {
	ID           string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	RoleID       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Invitation struct {
	ID         string
	Email      string
	RoleID     string
	InvitedBy  string
	ExpiresAt  time.Time
	AcceptedAt *time.Time
	AcceptedBy string
	CreatedAt  time.Time
}

// Repository is stateless; every method runs on the querier it is given so
// writes can share a transaction with the outbox insert.
type Repository struct{}

func NewRepository() *Repository { return &Repository{} }

const userColumns = `id::text, email, first_name, last_name, password_hash, role_id, created_at, updated_at`

func (r *Repository) CreateUser(ctx context.Context, q db.Querier, u User) error {
	_, err := q.Exec(ctx, `
		INSERT INTO users (id, email, first_name, last_name, password_hash, role_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.Email, u.FirstName, u.LastName, u.PasswordHash, u.RoleID)
	if db.IsUniqueViolation(err) {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *Repository) GetUser(ctx context.Context, q db.Querier, id string) (User, error) {
	return scanUser(q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetUserForUpdate locks the row until the surrounding transaction ends.
func (r *Repository) GetUserForUpdate(ctx context.Context, q db.Querier, id string) (User, error) {
	return scanUser(q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
}

func (r *Repository) ListUsers(ctx context.Context, q db.Querier, limit int) ([]User, error) {
	rows, err := q.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *Repository) UpdateUser(ctx context.Context, q db.Querier, u User) error {
	tag, err := q.Exec(ctx, `
		UPDATE users
		SET email = $2, first_name = $3, last_name = $4, role_id = $5, updated_at = now()
		WHERE id = $1
	`, u.ID, u.Email, u.FirstName, u.LastName, u.RoleID)
	if db.IsUniqueViolation(err) {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) DeleteUser(ctx context.Context, q db.Querier, id string) error {
	tag, err := q.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) CreateInvitation(ctx context.Context, q db.Querier, inv Invitation) error {
	_, err := q.Exec(ctx, `
		INSERT INTO invitations (id, email, role_id, invited_by, expires_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
	`, inv.ID, inv.Email, inv.RoleID, inv.InvitedBy, inv.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert invitation: %w", err)
	}
	return nil
}

func (r *Repository) GetInvitationForUpdate(ctx context.Context, q db.Querier, id string) (Invitation, error) {
	var inv Invitation
	err := q.QueryRow(ctx, `
		SELECT id::text, email, role_id, COALESCE(invited_by, ''), expires_at,
		       accepted_at, COALESCE(accepted_by::text, ''), created_at
		FROM invitations
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&inv.ID, &inv.Email, &inv.RoleID, &inv.InvitedBy, &inv.ExpiresAt,
		&inv.AcceptedAt, &inv.AcceptedBy, &inv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invitation{}, ErrNotFound
	}
	if err != nil {
		return Invitation{}, fmt.Errorf("get invitation: %w", err)
	}
	return inv, nil
}

func (r *Repository) MarkInvitationAccepted(ctx context.Context, q db.Querier, id, userID string, at time.Time) error {
	tag, err := q.Exec(ctx, `
		UPDATE invitations SET accepted_at = $3, accepted_by = $2
		WHERE id = $1 AND accepted_at IS NULL
	`, id, userID, at)
	if err != nil {
		return fmt.Errorf("accept invitation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.PasswordHash, &u.RoleID, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}
