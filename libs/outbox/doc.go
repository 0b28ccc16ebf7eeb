// Package outbox implements a transactional outbox for domain events.
//
// Services write an event row in the same PostgreSQL transaction as their
// business mutation (Recorder.Record). A Publisher drains unpublished rows in
// creation order and hands them to a Broker, counting retries on failure and
// archiving each delivered row into event_history exactly once. Delivery is
// at-least-once; consumers de-duplicate on the event id.
//
// Rows with the same created_at are ordered by insertion sequence. Ordering is
// preserved within an aggregate only while deliveries succeed: a failed row
// is retried on a later run after newer rows may already have been sent.
package outbox
