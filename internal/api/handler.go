package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gabri3lsal3s/ikgaihub/internal/db"
	"github.com/gabri3lsal3s/ikgaihub/internal/recurrence"
	"github.com/gabri3lsal3s/ikgaihub/internal/redis"
	"github.com/gabri3lsal3s/ikgaihub/internal/reminder"
	"github.com/gabri3lsal3s/ikgaihub/internal/validate"
)

// ReminderService defines the reminder operations exposed over HTTP.
type ReminderService interface {
	Create(ctx context.Context, userID uuid.UUID, in reminder.Input) (*db.Reminder, error)
	Update(ctx context.Context, userID, id uuid.UUID, p reminder.Patch, now time.Time) (*db.Reminder, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
	ToggleActive(ctx context.Context, userID, id uuid.UUID) (*db.Reminder, error)
	Get(ctx context.Context, userID, id uuid.UUID, now time.Time) (*reminder.Detail, error)
	List(ctx context.Context, userID uuid.UUID, filter db.ReminderFilter) ([]db.Reminder, error)
	MarkScheduleSent(ctx context.Context, userID, scheduleID uuid.UUID, now time.Time) (*db.Schedule, error)
	CompleteNext(ctx context.Context, userID, reminderID uuid.UUID, now time.Time) (*db.Schedule, error)
	Pending(ctx context.Context, userID uuid.UUID, now time.Time) ([]db.Schedule, error)
	Dashboard(ctx context.Context, userID uuid.UUID, now time.Time) (*reminder.Dashboard, error)
}

// AccountRepository defines the per-user persistence the handlers read
// directly: settings, history, push devices and the calendar feed.
type AccountRepository interface {
	GetOrCreateSettings(ctx context.Context, userID uuid.UUID) (*db.NotificationSettings, error)
	UpsertSettings(ctx context.Context, s *db.NotificationSettings) error
	ListHistory(ctx context.Context, userID uuid.UUID, limit int) ([]db.NotificationHistory, error)
	MarkHistoryRead(ctx context.Context, userID, id uuid.UUID, at time.Time) (*db.NotificationHistory, error)
	SavePushSubscription(ctx context.Context, sub *db.PushSubscription) error
	ListPushSubscriptions(ctx context.Context, userID uuid.UUID) ([]db.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, userID, id uuid.UUID) error
	ListRemindersWithSchedules(ctx context.Context, userID uuid.UUID) ([]db.ReminderWithSchedules, error)
}

// SessionManager starts and stops a user's periodic jobs.
type SessionManager interface {
	Start(userID uuid.UUID) (bool, error)
	Stop(userID uuid.UUID) bool
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string                `json:"type"`
	Title  string                `json:"title"`
	Status int                   `json:"status"`
	Detail string                `json:"detail,omitempty"`
	Errors []validate.FieldError `json:"errors,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	reminders   ReminderService
	repo        AccountRepository
	idempotency *redis.IdempotencyService // nil if Redis not configured
	sessions    SessionManager            // nil if session jobs are disabled
	now         func() time.Time
}

// Option customises a Handler.
type Option func(*Handler)

// WithIdempotency enables Idempotency-Key support on POST /v1/reminders.
func WithIdempotency(svc *redis.IdempotencyService) Option {
	return func(h *Handler) { h.idempotency = svc }
}

// WithSessions enables the /v1/session routes.
func WithSessions(m SessionManager) Option {
	return func(h *Handler) { h.sessions = m }
}

// WithClock overrides the request clock.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, reminders ReminderService, repo AccountRepository, opts ...Option) *Handler {
	h := &Handler{
		logger:    logger,
		reminders: reminders,
		repo:      repo,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// idParam parses the {name} URL parameter as a UUID, writing a 400 when it
// is not one.
func (h *Handler) idParam(w http.ResponseWriter, r *http.Request, name, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid "+label+" ID", "ID must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return false
	}
	return true
}

// fail maps a service error onto a problem response.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if ve, ok := validate.AsValidationErrors(err); ok {
		h.writeProblem(w, ErrorResponse{
			Type:   "validation_failed",
			Title:  "Validation failed",
			Status: http.StatusBadRequest,
			Detail: ve.Error(),
			Errors: ve,
		})
		return
	}

	switch {
	case errors.Is(err, recurrence.ErrInvalidRecurrence):
		h.writeError(w, http.StatusBadRequest, "invalid_recurrence", "Invalid recurrence", err.Error())
	case errors.Is(err, db.ErrReminderNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Reminder not found", "")
	case errors.Is(err, db.ErrScheduleNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "schedule not found", "")
	case errors.Is(err, db.ErrNotificationNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
	case errors.Is(err, db.ErrSubscriptionNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Push subscription not found", "")
	case errors.Is(err, db.ErrScheduleAlreadySent):
		h.writeError(w, http.StatusConflict, "already_sent", "Schedule already sent", "")
	default:
		h.logger.Error("request failed",
			zap.Error(err),
			zap.String("op", op),
			zap.String("path", r.URL.Path),
		)
		if db.IsStoreError(err) {
			h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to "+op, "")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to "+op, "")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	h.writeProblem(w, ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

func (h *Handler) writeProblem(w http.ResponseWriter, p ErrorResponse) {
	writeProblem(w, p)
}

func writeProblem(w http.ResponseWriter, p ErrorResponse) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}
