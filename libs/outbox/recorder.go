package outbox

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/eventoutbox/libs/db"
)

// RecorderStore is the storage the Recorder writes through.
type RecorderStore interface {
	db.TxBeginner
	RecordEvent(ctx context.Context, tx pgx.Tx, ev DomainEvent) (OutboxRecord, error)
	QueryHistory(ctx context.Context, f HistoryFilter) ([]HistoryRecord, error)
}

// Recorder is the write path business services use to emit events.
type Recorder struct {
	store    RecorderStore
	notifier Notifier
	logger   *slog.Logger
}

func NewRecorder(store RecorderStore, notifier Notifier, logger *slog.Logger) *Recorder {
	if notifier == nil {
		notifier = NotifierFunc(func() {})
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, notifier: notifier, logger: logger}
}

type txSignalKey struct{}

type txSignal struct {
	tx      pgx.Tx
	pending atomic.Bool
}

// WithinTx runs fn in a new transaction. Events recorded on that tx signal
// the publisher only after a successful commit.
func (r *Recorder) WithinTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	sig := &txSignal{}
	err := db.WithTx(ctx, r.store, func(tx pgx.Tx) error {
		sig.tx = tx
		return fn(context.WithValue(ctx, txSignalKey{}, sig), tx)
	})
	if err != nil {
		return err
	}
	if sig.pending.Load() {
		r.notifier.Notify()
	}
	return nil
}

// Record writes ev as part of tx (or its own transaction when tx is nil).
// Storage errors are returned; the delivery signal never fails the caller.
// On a transaction not opened by WithinTx the signal fires immediately and
// the periodic poll covers a later rollback or a not-yet-visible commit.
func (r *Recorder) Record(ctx context.Context, tx pgx.Tx, ev DomainEvent) (OutboxRecord, error) {
	rec, err := r.store.RecordEvent(ctx, tx, ev)
	if err != nil {
		return OutboxRecord{}, err
	}
	r.logger.Debug("outbox event recorded", "event_id", rec.ID, "event_type", rec.EventType)
	if sig, ok := ctx.Value(txSignalKey{}).(*txSignal); ok && tx != nil && sig.tx == tx {
		sig.pending.Store(true)
		return rec, nil
	}
	r.notifier.Notify()
	return rec, nil
}

func (r *Recorder) History(ctx context.Context, f HistoryFilter) ([]HistoryRecord, error) {
	return r.store.QueryHistory(ctx, f)
}
