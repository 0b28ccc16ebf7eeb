package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/eventoutbox/libs/db"
)

const eventTypeColumns = `id, name, category, description, schema_version, created_at`

// EnsureType returns the event_types row for name, inserting it on first
// use. Existing rows are returned untouched.
func EnsureType(ctx context.Context, q db.Querier, name string) (EventType, error) {
	name = strings.TrimSpace(name)
	if err := ValidateTypeName(name); err != nil {
		return EventType{}, err
	}

	et, err := scanEventType(q.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO event_types (id, name, category, description)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (name) DO NOTHING
			RETURNING `+eventTypeColumns+`
		)
		SELECT `+eventTypeColumns+` FROM ins
		UNION ALL
		SELECT `+eventTypeColumns+` FROM event_types WHERE name = $2
		LIMIT 1
	`, uuid.New(), name, Category(name), "Auto-registered event type: "+name))
	if errors.Is(err, pgx.ErrNoRows) {
		// A concurrent insert committed after this statement's snapshot.
		et, err = LookupType(ctx, q, name)
	}
	if err != nil {
		return EventType{}, fmt.Errorf("ensure event type %s: %w", name, err)
	}
	return et, nil
}

func LookupType(ctx context.Context, q db.Querier, name string) (EventType, error) {
	et, err := scanEventType(q.QueryRow(ctx,
		`SELECT `+eventTypeColumns+` FROM event_types WHERE name = $1`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return EventType{}, fmt.Errorf("%w: %q", ErrUnknownEventType, name)
	}
	return et, err
}

func scanEventType(row pgx.Row) (EventType, error) {
	var et EventType
	err := row.Scan(&et.ID, &et.Name, &et.Category, &et.Description, &et.SchemaVersion, &et.CreatedAt)
	return et, err
}
