package db

import (
	"context"
	"fmt"
)

// AdvisoryLock is a session-level pg_try_advisory_lock held on a dedicated
// pool connection for the lifetime of one critical section.
type AdvisoryLock struct {
	pool *Pool
	key  int64
}

func NewAdvisoryLock(pool *Pool, key int64) *AdvisoryLock {
	return &AdvisoryLock{pool: pool, key: key}
}

// TryLock returns ok=false when another session holds the key. The release
// func must be called when ok is true.
func (l *AdvisoryLock) TryLock(ctx context.Context) (release func(), ok bool, err error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire conn: %w", err)
	}
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, l.key).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}
	return func() {
		// The lock is tied to the session, so unlock on the same conn.
		if _, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, l.key); err != nil {
			// A failed unlock leaves the lock held; dropping the conn ends the session.
			_ = conn.Conn().Close(context.Background())
		}
		conn.Release()
	}, true, nil
}
