package outbox

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/jackc/pgx/v5"
)

type stubTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (t *stubTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *stubTx) Rollback(context.Context) error {
	if t.committed {
		return pgx.ErrTxClosed
	}
	t.rolledBack = true
	return nil
}

type stubRecorderStore struct {
	tx       *stubTx
	recorded []DomainEvent
	txs      []pgx.Tx
	err      error
}

func (s *stubRecorderStore) Begin(context.Context) (pgx.Tx, error) {
	s.tx = &stubTx{}
	return s.tx, nil
}

func (s *stubRecorderStore) RecordEvent(_ context.Context, tx pgx.Tx, ev DomainEvent) (OutboxRecord, error) {
	if s.err != nil {
		return OutboxRecord{}, s.err
	}
	s.recorded = append(s.recorded, ev)
	s.txs = append(s.txs, tx)
	return OutboxRecord{ID: ev.EventID, EventType: ev.Type}, nil
}

func (s *stubRecorderStore) QueryHistory(context.Context, HistoryFilter) ([]HistoryRecord, error) {
	return []HistoryRecord{{EventType: "account.opened"}}, nil
}

func newTestEvent(t *testing.T) DomainEvent {
	t.Helper()
	ev, err := NewEvent("Account", "acc-1", &accountOpened{Email: "a@example.com"}, SystemActor())
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	return ev
}

func TestRecordWithoutTxSignalsImmediately(t *testing.T) {
	store := &stubRecorderStore{}
	var signals atomic.Int32
	r := NewRecorder(store, NotifierFunc(func() { signals.Add(1) }), discardLogger())

	if _, err := r.Record(context.Background(), nil, newTestEvent(t)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if signals.Load() != 1 {
		t.Fatalf("expected one signal, got %d", signals.Load())
	}
	if store.txs[0] != nil {
		t.Fatalf("store must receive a nil tx")
	}
}

func TestWithinTxDefersSignalUntilCommit(t *testing.T) {
	store := &stubRecorderStore{}
	var signals atomic.Int32
	r := NewRecorder(store, NotifierFunc(func() { signals.Add(1) }), discardLogger())

	err := r.WithinTx(context.Background(), func(ctx context.Context, tx pgx.Tx) error {
		if _, err := r.Record(ctx, tx, newTestEvent(t)); err != nil {
			return err
		}
		if _, err := r.Record(ctx, tx, newTestEvent(t)); err != nil {
			return err
		}
		if signals.Load() != 0 {
			t.Fatalf("signal fired before commit")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}
	if !store.tx.committed {
		t.Fatalf("tx not committed")
	}
	if signals.Load() != 1 {
		t.Fatalf("expected one signal after commit, got %d", signals.Load())
	}
}

func TestWithinTxRollbackDropsSignal(t *testing.T) {
	store := &stubRecorderStore{}
	var signals atomic.Int32
	r := NewRecorder(store, NotifierFunc(func() { signals.Add(1) }), discardLogger())
	boom := errors.New("business rule failed")

	err := r.WithinTx(context.Background(), func(ctx context.Context, tx pgx.Tx) error {
		if _, err := r.Record(ctx, tx, newTestEvent(t)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected business error, got %v", err)
	}
	if !store.tx.rolledBack {
		t.Fatalf("tx not rolled back")
	}
	if signals.Load() != 0 {
		t.Fatalf("rolled back tx must not signal")
	}
}

func TestWithinTxWithoutEventsDoesNotSignal(t *testing.T) {
	store := &stubRecorderStore{}
	var signals atomic.Int32
	r := NewRecorder(store, NotifierFunc(func() { signals.Add(1) }), discardLogger())

	if err := r.WithinTx(context.Background(), func(context.Context, pgx.Tx) error { return nil }); err != nil {
		t.Fatalf("WithinTx: %v", err)
	}
	if signals.Load() != 0 {
		t.Fatalf("unexpected signal")
	}
}

func TestRecordOnForeignTxSignalsImmediately(t *testing.T) {
	store := &stubRecorderStore{}
	var signals atomic.Int32
	r := NewRecorder(store, NotifierFunc(func() { signals.Add(1) }), discardLogger())

	if _, err := r.Record(context.Background(), &stubTx{}, newTestEvent(t)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if signals.Load() != 1 {
		t.Fatalf("expected best-effort signal, got %d", signals.Load())
	}
}

func TestRecordStorageErrorIsReturnedWithoutSignal(t *testing.T) {
	store := &stubRecorderStore{err: errors.New("insert failed")}
	var signals atomic.Int32
	r := NewRecorder(store, NotifierFunc(func() { signals.Add(1) }), discardLogger())

	if _, err := r.Record(context.Background(), nil, newTestEvent(t)); err == nil {
		t.Fatalf("expected storage error")
	}
	if signals.Load() != 0 {
		t.Fatalf("failed record must not signal")
	}
}

func TestNotifiersFanOut(t *testing.T) {
	var a, b atomic.Int32
	Notifiers{NotifierFunc(func() { a.Add(1) }), nil, NotifierFunc(func() { b.Add(1) })}.Notify()
	if a.Load() != 1 || b.Load() != 1 {
		t.Fatalf("fan-out: a=%d b=%d", a.Load(), b.Load())
	}
}
