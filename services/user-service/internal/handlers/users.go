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
	"github.com/md-rashed-zaman/eventoutbox/libs/outbox"
	"github.com/md-rashed-zaman/eventoutbox/services/user-service/internal/accounts"
	"github.com/md-rashed-zaman/eventoutbox/services/user-service/internal/storage"
)

type AccountService interface {
	CreateUser(ctx context.Context, in accounts.CreateUserInput, actorID string) (storage.User, error)
	UpdateUser(ctx context.Context, id string, in accounts.UpdateUserInput, actorID string) (storage.User, error)
	DeleteUser(ctx context.Context, id, actorID string) (storage.User, error)
	GetUser(ctx context.Context, id string) (storage.User, error)
	ListUsers(ctx context.Context, limit int) ([]storage.User, error)
	CreateInvitation(ctx context.Context, email, roleID, invitedBy string) (storage.Invitation, error)
	AcceptInvitation(ctx context.Context, invitationID string, in accounts.AcceptInvitationInput) (storage.User, error)
	UserEvents(ctx context.Context, userID string, limit int) ([]outbox.HistoryRecord, error)
}

type UserHandler struct {
	svc    AccountService
	logger *slog.Logger
}

func NewUserHandler(svc AccountService, logger *slog.Logger) *UserHandler {
	return &UserHandler{svc: svc, logger: logger}
}

// Routes mounts the user and invitation API. Requests carrying a valid
// bearer token are attributed to its subject, anonymous ones to the system.
func (h *UserHandler) Routes(jwtSecret string) http.Handler {
	r := chi.NewRouter()
	if jwtSecret != "" {
		r.Use(auth.Authenticate(jwtSecret))
	}
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			r.Post("/", h.CreateUser)
			r.Get("/", h.ListUsers)
			r.Route("/{id}", func(r chi.Router) {
				r.Use(requireUUIDParam("id"))
				r.Get("/", h.GetUser)
				r.Patch("/", h.UpdateUser)
				r.Delete("/", h.DeleteUser)
				r.Get("/events", h.UserEvents)
			})
		})
		r.Route("/invitations", func(r chi.Router) {
			r.Post("/", h.CreateInvitation)
			r.With(requireUUIDParam("id")).Post("/{id}/accept", h.AcceptInvitation)
		})
	})
	return r
}

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	RoleID    string    `json:"roleId"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

func toUserResponse(u storage.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		RoleID:    u.RoleID,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

type createUserRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Password  string `json:"password"`
	RoleID    string `json:"roleId"`
}

type updateUserRequest struct {
	Email     *string `json:"email"`
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	RoleID    *string `json:"roleId"`
}

type createInvitationRequest struct {
	Email  string `json:"email"`
	RoleID string `json:"roleId"`
}

type acceptInvitationRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Password  string `json:"password"`
}

func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decode(w, r, &req) {
		return
	}
	u, err := h.svc.CreateUser(r.Context(), accounts.CreateUserInput{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  req.Password,
		RoleID:    req.RoleID,
	}, actorID(r))
	if err != nil {
		h.fail(w, "create user", err)
		return
	}
	respondJSON(w, http.StatusCreated, toUserResponse(u))
}

func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	users, err := h.svc.ListUsers(r.Context(), limit)
	if err != nil {
		h.fail(w, "list users", err)
		return
	}
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get user", err)
		return
	}
	respondJSON(w, http.StatusOK, toUserResponse(u))
}

func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if !decode(w, r, &req) {
		return
	}
	u, err := h.svc.UpdateUser(r.Context(), chi.URLParam(r, "id"), accounts.UpdateUserInput{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		RoleID:    req.RoleID,
	}, actorID(r))
	if err != nil {
		h.fail(w, "update user", err)
		return
	}
	respondJSON(w, http.StatusOK, toUserResponse(u))
}

func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if _, err := h.svc.DeleteUser(r.Context(), chi.URLParam(r, "id"), actorID(r)); err != nil {
		h.fail(w, "delete user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *UserHandler) UserEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := h.svc.UserEvents(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		h.fail(w, "user events", err)
		return
	}
	type item struct {
		EventType  string          `json:"eventType"`
		ActorType  string          `json:"actorType"`
		ActorID    string          `json:"actorId,omitempty"`
		EventData  json.RawMessage `json:"eventData"`
		OccurredAt time.Time       `json:"occurredAt"`
	}
	out := make([]item, 0, len(recs))
	for _, rec := range recs {
		out = append(out, item{
			EventType:  rec.EventType,
			ActorType:  string(rec.ActorType),
			ActorID:    rec.ActorID,
			EventData:  rec.EventData,
			OccurredAt: rec.OccurredAt,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *UserHandler) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	var req createInvitationRequest
	if !decode(w, r, &req) {
		return
	}
	inv, err := h.svc.CreateInvitation(r.Context(), req.Email, req.RoleID, actorID(r))
	if err != nil {
		h.fail(w, "create invitation", err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"id":        inv.ID,
		"email":     inv.Email,
		"roleId":    inv.RoleID,
		"expiresAt": inv.ExpiresAt,
	})
}

func (h *UserHandler) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	var req acceptInvitationRequest
	if !decode(w, r, &req) {
		return
	}
	u, err := h.svc.AcceptInvitation(r.Context(), chi.URLParam(r, "id"), accounts.AcceptInvitationInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  req.Password,
	})
	if err != nil {
		h.fail(w, "accept invitation", err)
		return
	}
	respondJSON(w, http.StatusCreated, toUserResponse(u))
}

func (h *UserHandler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, accounts.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, storage.ErrEmailTaken):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, accounts.ErrInvitationExpired), errors.Is(err, accounts.ErrInvitationAccepted):
		respondError(w, http.StatusGone, err.Error())
	default:
		h.logger.Error(op+" failed", "err", err)
		respondError(w, http.StatusInternalServerError, op+" failed")
	}
}

// requireUUIDParam answers 404 for ids that cannot exist, since every id is
// a server-generated UUID.
func requireUUIDParam(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := uuid.Parse(chi.URLParam(r, name)); err != nil {
				respondError(w, http.StatusNotFound, "not found")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func actorID(r *http.Request) string {
	if c, ok := auth.ClaimsFromContext(r.Context()); ok {
		return c.Sub
	}
	return ""
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
