package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/md-rashed-zaman/eventoutbox/libs/auth"
	"github.com/md-rashed-zaman/eventoutbox/libs/httpx"
	"github.com/md-rashed-zaman/eventoutbox/libs/outbox"
)

// AdminStore is the slice of *outbox.Store the admin API operates on.
type AdminStore interface {
	QueryHistory(ctx context.Context, f outbox.HistoryFilter) ([]outbox.HistoryRecord, error)
	ListDeadLettered(ctx context.Context, limit int) ([]outbox.OutboxRecord, error)
	Requeue(ctx context.Context, id uuid.UUID) error
	PurgeHistory(ctx context.Context, olderThanDays int) (int64, error)
}

const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

type AdminHandler struct {
	store          AdminStore
	trigger        outbox.Notifier
	logger         *slog.Logger
	purgeAfterDays int
}

func NewAdminHandler(store AdminStore, trigger outbox.Notifier, logger *slog.Logger, purgeAfterDays int) *AdminHandler {
	if purgeAfterDays <= 0 {
		purgeAfterDays = outbox.DefaultPurgeAfterDays
	}
	return &AdminHandler{store: store, trigger: trigger, logger: logger, purgeAfterDays: purgeAfterDays}
}

// Routes mounts the /api/v1/outbox endpoints. Reads are open to operators;
// anything that mutates state needs the admin role. An empty secret
// disables authentication.
func (h *AdminHandler) Routes(jwtSecret string, limiter httpx.Middleware) http.Handler {
	r := chi.NewRouter()
	if limiter != nil {
		r.Use(limiter)
	}
	readers := passthrough
	writers := passthrough
	if jwtSecret != "" {
		readers = auth.RequireRole(jwtSecret, RoleAdmin, RoleOperator)
		writers = auth.RequireRole(jwtSecret, RoleAdmin)
	}

	r.Route("/api/v1/outbox", func(r chi.Router) {
		r.With(readers).Get("/history", h.History)
		r.With(readers).Get("/dead-letters", h.DeadLetters)
		r.With(writers).Post("/dead-letters/{id}/requeue", h.Requeue)
		r.With(writers).Post("/process", h.Process)
		r.With(writers).Post("/purge", h.Purge)
	})
	return r
}

func passthrough(next http.Handler) http.Handler { return next }

type historyItem struct {
	ID            uuid.UUID       `json:"id"`
	OutboxID      uuid.UUID       `json:"outboxId"`
	EventType     string          `json:"eventType"`
	AggregateID   string          `json:"aggregateId"`
	AggregateType string          `json:"aggregateType"`
	ActorType     string          `json:"actorType"`
	ActorID       string          `json:"actorId,omitempty"`
	EventData     json.RawMessage `json:"eventData"`
	OccurredAt    time.Time       `json:"occurredAt"`
	ArchivedAt    time.Time       `json:"archivedAt"`
}

type deadLetterItem struct {
	ID             uuid.UUID       `json:"id"`
	EventType      string          `json:"eventType"`
	AggregateID    string          `json:"aggregateId"`
	AggregateType  string          `json:"aggregateType"`
	RetryCount     int             `json:"retryCount"`
	Error          string          `json:"error,omitempty"`
	EventData      json.RawMessage `json:"eventData"`
	CreatedAt      time.Time       `json:"createdAt"`
	DeadLetteredAt *time.Time      `json:"deadLetteredAt,omitempty"`
}

func (h *AdminHandler) History(w http.ResponseWriter, r *http.Request) {
	f, err := historyFilterFromQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := h.store.QueryHistory(r.Context(), f)
	if err != nil {
		h.logger.Error("query history failed", "err", err)
		respondError(w, http.StatusInternalServerError, "failed to query history")
		return
	}
	items := make([]historyItem, 0, len(recs))
	for _, rec := range recs {
		items = append(items, historyItem{
			ID:            rec.ID,
			OutboxID:      rec.OutboxID,
			EventType:     rec.EventType,
			AggregateID:   rec.AggregateID,
			AggregateType: rec.AggregateType,
			ActorType:     string(rec.ActorType),
			ActorID:       rec.ActorID,
			EventData:     rec.EventData,
			OccurredAt:    rec.OccurredAt,
			ArchivedAt:    rec.ArchivedAt,
		})
	}
	respondJSON(w, http.StatusOK, items)
}

func historyFilterFromQuery(r *http.Request) (outbox.HistoryFilter, error) {
	q := r.URL.Query()
	f := outbox.HistoryFilter{
		AggregateID:   q.Get("aggregateId"),
		AggregateType: q.Get("aggregateType"),
		EventType:     q.Get("eventType"),
		ActorID:       q.Get("actorId"),
	}
	var err error
	if f.From, err = parseTime(q.Get("from")); err != nil {
		return f, errors.New("from must be RFC3339")
	}
	if f.To, err = parseTime(q.Get("to")); err != nil {
		return f, errors.New("to must be RFC3339")
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return f, errors.New("to must not be before from")
	}
	if f.Limit, err = parseLimit(q.Get("limit")); err != nil {
		return f, err
	}
	return f, nil
}

func (h *AdminHandler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := h.store.ListDeadLettered(r.Context(), limit)
	if err != nil {
		h.logger.Error("list dead letters failed", "err", err)
		respondError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}
	items := make([]deadLetterItem, 0, len(recs))
	for _, rec := range recs {
		items = append(items, deadLetterItem{
			ID:             rec.ID,
			EventType:      rec.EventType,
			AggregateID:    rec.AggregateID,
			AggregateType:  rec.AggregateType,
			RetryCount:     rec.RetryCount,
			Error:          rec.Error,
			EventData:      rec.EventData,
			CreatedAt:      rec.CreatedAt,
			DeadLetteredAt: rec.DeadLetteredAt,
		})
	}
	respondJSON(w, http.StatusOK, items)
}

func (h *AdminHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.store.Requeue(r.Context(), id); err != nil {
		if errors.Is(err, outbox.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "dead letter not found")
			return
		}
		h.logger.Error("requeue failed", "id", id, "err", err)
		respondError(w, http.StatusInternalServerError, "failed to requeue")
		return
	}
	h.logger.Info("dead letter requeued", "id", id, "by", subject(r))
	h.trigger.Notify()
	respondJSON(w, http.StatusOK, map[string]string{"status": "requeued"})
}

// Process asks the publisher for a run. The run itself is asynchronous.
func (h *AdminHandler) Process(w http.ResponseWriter, r *http.Request) {
	h.trigger.Notify()
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func (h *AdminHandler) Purge(w http.ResponseWriter, r *http.Request) {
	days := h.purgeAfterDays
	if raw := r.URL.Query().Get("olderThanDays"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "olderThanDays must be a positive integer")
			return
		}
		days = n
	}
	deleted, err := h.store.PurgeHistory(r.Context(), days)
	if err != nil {
		h.logger.Error("purge failed", "err", err)
		respondError(w, http.StatusInternalServerError, "failed to purge")
		return
	}
	h.logger.Info("published events purged", "deleted", deleted, "older_than_days", days, "by", subject(r))
	respondJSON(w, http.StatusOK, map[string]any{"deleted": deleted, "olderThanDays": days})
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	return n, nil
}

func subject(r *http.Request) string {
	if c, ok := auth.ClaimsFromContext(r.Context()); ok {
		return c.Sub
	}
	return ""
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
