package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/eventoutbox/libs/db"
	otelx "github.com/md-rashed-zaman/eventoutbox/libs/otel"
)

const (
	DefaultBatchSize      = 50
	DefaultPurgeAfterDays = 7
	maxErrorLen           = 1000
)

// DeliveryStore is the part of Store the Publisher drives.
type DeliveryStore interface {
	UnpublishedBatch(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, id uuid.UUID) error
	IncrementRetry(ctx context.Context, id uuid.UUID, msg string) (int, error)
	MarkDeadLettered(ctx context.Context, id uuid.UUID, reason string) error
}

// Store persists outbox rows in PostgreSQL.
type Store struct {
	pool *db.Pool
}

func NewStore(pool *db.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}

// RecordEvent inserts ev inside tx. With a nil tx it opens its own short
// transaction so type registration and the insert commit together.
func (s *Store) RecordEvent(ctx context.Context, tx pgx.Tx, ev DomainEvent) (OutboxRecord, error) {
	body, err := ev.ToRecord()
	if err != nil {
		return OutboxRecord{}, err
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)

	if tx != nil {
		return insertEvent(ctx, tx, ev, body, traceparent, tracestate)
	}
	var rec OutboxRecord
	err = db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		rec, err = insertEvent(ctx, tx, ev, body, traceparent, tracestate)
		return err
	})
	return rec, err
}

func insertEvent(ctx context.Context, q db.Querier, ev DomainEvent, body []byte, traceparent, tracestate string) (OutboxRecord, error) {
	et, err := EnsureType(ctx, q, ev.Type)
	if err != nil {
		return OutboxRecord{}, err
	}
	rec := OutboxRecord{
		ID:            ev.EventID,
		EventTypeID:   et.ID,
		EventType:     et.Name,
		AggregateID:   ev.AggregateID,
		AggregateType: ev.AggregateType,
		ActorType:     ev.ActorType,
		ActorID:       ev.ActorID,
		EventData:     body,
		Traceparent:   traceparent,
		Tracestate:    tracestate,
	}
	err = q.QueryRow(ctx, `
		INSERT INTO event_outbox (id, event_type_id, aggregate_id, aggregate_type, actor_type, actor_id, event_data, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, rec.ID, rec.EventTypeID, rec.AggregateID, rec.AggregateType, string(rec.ActorType), nullable(rec.ActorID),
		body, traceparent, tracestate).Scan(&rec.CreatedAt)
	if db.IsUniqueViolation(err) {
		return OutboxRecord{}, fmt.Errorf("%w: %s", ErrDuplicateEvent, ev.EventID)
	}
	if err != nil {
		return OutboxRecord{}, fmt.Errorf("insert outbox event %s: %w", ev.Type, err)
	}
	return rec, nil
}

const outboxSelect = `
	SELECT o.id, o.event_type_id, t.name, o.aggregate_id, o.aggregate_type, o.actor_type,
	       COALESCE(o.actor_id, ''), o.event_data, o.published, o.published_at, o.retry_count,
	       COALESCE(o.error, ''), o.dead_lettered_at, o.traceparent, o.tracestate, o.created_at
	FROM event_outbox o
	JOIN event_types t ON t.id = o.event_type_id
`

// UnpublishedBatch returns up to limit pending rows, oldest first.
func (s *Store) UnpublishedBatch(ctx context.Context, limit int) ([]OutboxRecord, error) {
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	rows, err := s.pool.Query(ctx, outboxSelect+`
		WHERE o.published = false AND o.dead_lettered_at IS NULL
		ORDER BY o.created_at, o.seq
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query unpublished: %w", err)
	}
	return collectOutbox(rows)
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (OutboxRecord, error) {
	rows, err := s.pool.Query(ctx, outboxSelect+` WHERE o.id = $1`, id)
	if err != nil {
		return OutboxRecord{}, fmt.Errorf("get outbox record: %w", err)
	}
	recs, err := collectOutbox(rows)
	if err != nil {
		return OutboxRecord{}, err
	}
	if len(recs) == 0 {
		return OutboxRecord{}, ErrRecordNotFound
	}
	return recs[0], nil
}

// ListDeadLettered returns dead-lettered rows, most recent first.
func (s *Store) ListDeadLettered(ctx context.Context, limit int) ([]OutboxRecord, error) {
	if limit <= 0 || limit > MaxHistoryLimit {
		limit = DefaultHistoryLimit
	}
	rows, err := s.pool.Query(ctx, outboxSelect+`
		WHERE o.published = false AND o.dead_lettered_at IS NOT NULL
		ORDER BY o.dead_lettered_at DESC, o.seq DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	return collectOutbox(rows)
}

func collectOutbox(rows pgx.Rows) ([]OutboxRecord, error) {
	defer rows.Close()
	var out []OutboxRecord
	for rows.Next() {
		var r OutboxRecord
		var actorType string
		if err := rows.Scan(&r.ID, &r.EventTypeID, &r.EventType, &r.AggregateID, &r.AggregateType, &actorType,
			&r.ActorID, &r.EventData, &r.Published, &r.PublishedAt, &r.RetryCount,
			&r.Error, &r.DeadLetteredAt, &r.Traceparent, &r.Tracestate, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox record: %w", err)
		}
		r.ActorType = ActorType(actorType)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox records: %w", err)
	}
	return out, nil
}

// MarkPublished flags the row and archives it to event_history in one
// transaction. Repeating the call changes nothing: the update only matches
// unpublished rows and the archive insert is keyed on outbox_id.
func (s *Store) MarkPublished(ctx context.Context, id uuid.UUID) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE event_outbox
			SET published = true, published_at = now(), error = NULL
			WHERE id = $1 AND published = false
		`, id)
		if err != nil {
			return fmt.Errorf("mark published: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM event_outbox WHERE id = $1)`, id).Scan(&exists); err != nil {
				return fmt.Errorf("mark published: %w", err)
			}
			if !exists {
				return ErrRecordNotFound
			}
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO event_history (id, outbox_id, event_type_id, aggregate_id, aggregate_type, actor_type, actor_id, event_data, occurred_at)
			SELECT $2, id, event_type_id, aggregate_id, aggregate_type, actor_type, actor_id, event_data, created_at
			FROM event_outbox
			WHERE id = $1
			ON CONFLICT (outbox_id) DO NOTHING
		`, id, uuid.New()); err != nil {
			return fmt.Errorf("archive event: %w", err)
		}
		return nil
	})
}

// IncrementRetry bumps retry_count, stores the failure message and returns
// the new count.
func (s *Store) IncrementRetry(ctx context.Context, id uuid.UUID, msg string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		UPDATE event_outbox
		SET retry_count = retry_count + 1, error = $2
		WHERE id = $1
		RETURNING retry_count
	`, id, truncateError(msg)).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrRecordNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment retry: %w", err)
	}
	return count, nil
}

// MarkDeadLettered parks a pending row. An empty reason keeps the last error.
func (s *Store) MarkDeadLettered(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE event_outbox
		SET dead_lettered_at = now(), error = COALESCE(NULLIF($2, ''), error)
		WHERE id = $1 AND published = false AND dead_lettered_at IS NULL
	`, id, truncateError(reason))
	if err != nil {
		return fmt.Errorf("mark dead-lettered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Requeue returns a dead-lettered row to the pending set with a fresh retry
// budget.
func (s *Store) Requeue(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE event_outbox
		SET dead_lettered_at = NULL, retry_count = 0, error = NULL
		WHERE id = $1 AND published = false AND dead_lettered_at IS NOT NULL
	`, id)
	if err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// QueryHistory returns archived events matching f, newest first.
func (s *Store) QueryHistory(ctx context.Context, f HistoryFilter) ([]HistoryRecord, error) {
	query, args := historyQuery(f)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []HistoryRecord
	for rows.Next() {
		var h HistoryRecord
		var actorType string
		if err := rows.Scan(&h.ID, &h.OutboxID, &h.EventTypeID, &h.EventType, &h.AggregateID, &h.AggregateType,
			&actorType, &h.ActorID, &h.EventData, &h.OccurredAt, &h.ArchivedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		h.ActorType = ActorType(actorType)
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

func historyQuery(f HistoryFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.AggregateID != "" {
		add("h.aggregate_id = $%d", f.AggregateID)
	}
	if f.AggregateType != "" {
		add("h.aggregate_type = $%d", f.AggregateType)
	}
	if f.EventType != "" {
		add("t.name = $%d", f.EventType)
	}
	if f.ActorID != "" {
		add("h.actor_id = $%d", f.ActorID)
	}
	if !f.From.IsZero() {
		add("h.occurred_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("h.occurred_at <= $%d", f.To)
	}

	var b strings.Builder
	b.WriteString(`
		SELECT h.id, h.outbox_id, h.event_type_id, t.name, h.aggregate_id, h.aggregate_type,
		       h.actor_type, COALESCE(h.actor_id, ''), h.event_data, h.occurred_at, h.archived_at
		FROM event_history h
		JOIN event_types t ON t.id = h.event_type_id`)
	if len(where) > 0 {
		b.WriteString("\n\t\tWHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	args = append(args, f.EffectiveLimit())
	fmt.Fprintf(&b, "\n\t\tORDER BY h.occurred_at DESC, h.archived_at DESC\n\t\tLIMIT $%d", len(args))
	return b.String(), args
}

// PurgeHistory deletes published outbox rows older than the cutoff. Their
// event_history copies are kept.
func (s *Store) PurgeHistory(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		olderThanDays = DefaultPurgeAfterDays
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM event_outbox
		WHERE published = true AND published_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge published events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func truncateError(msg string) string {
	if len(msg) <= maxErrorLen {
		return msg
	}
	cut := maxErrorLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
