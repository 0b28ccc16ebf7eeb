package inbox

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/md-rashed-zaman/eventoutbox/libs/db"
)

//go:embed migrations/*.up.sql
var migrationFiles embed.FS

func Migrate(ctx context.Context, pool db.TxBeginner) error {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return err
	}
	return db.Migrate(ctx, pool, "notification-inbox", sub)
}

type Repository struct{}

func NewRepository() *Repository { return &Repository{} }

// Claim records eventID as processed and reports false when it already was.
// Run it in the same transaction as the side effect's bookkeeping so a
// rollback releases the claim.
func (r *Repository) Claim(ctx context.Context, q db.Querier, eventID, eventType string) (bool, error) {
	tag, err := q.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("inbox claim: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
