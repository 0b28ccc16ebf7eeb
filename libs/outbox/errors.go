package outbox

import "errors"

var (
	ErrRecordNotFound   = errors.New("outbox: record not found")
	ErrDuplicateEvent   = errors.New("outbox: event already recorded")
	ErrInvalidEventType = errors.New("outbox: invalid event type")
	ErrInvalidActor     = errors.New("outbox: invalid actor")
	ErrInvalidEvent     = errors.New("outbox: invalid event")
	ErrUnknownEventType = errors.New("outbox: unknown event type")
	ErrPublisherClosed  = errors.New("outbox: publisher closed")
)
