package outbox

import (
	"context"
	"embed"
	"io/fs"

	"github.com/md-rashed-zaman/eventoutbox/libs/db"
)

//go:embed migrations/*.up.sql
var migrationFiles embed.FS

// Migrate creates or upgrades the event_types, event_outbox and
// event_history tables.
func Migrate(ctx context.Context, pool db.TxBeginner) error {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return err
	}
	return db.Migrate(ctx, pool, "outbox", sub)
}
