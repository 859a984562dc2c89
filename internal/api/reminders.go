package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gabri3lsal3s/ikgaihub/internal/calendar"
	"github.com/gabri3lsal3s/ikgaihub/internal/db"
	"github.com/gabri3lsal3s/ikgaihub/internal/metrics"
	"github.com/gabri3lsal3s/ikgaihub/internal/redis"
	"github.com/gabri3lsal3s/ikgaihub/internal/reminder"
)

// CreateReminderResponse is replayed for a repeated Idempotency-Key.
type CreateReminderResponse struct {
	ID string `json:"id"`
}

type listResponse[T any] struct {
	Data  []T `json:"data"`
	Count int `json:"count"`
}

func newList[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Data: items, Count: len(items)}
}

// CreateReminder handles POST /v1/reminders
// Supports idempotency via the Idempotency-Key header.
func (h *Handler) CreateReminder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := userFrom(r)

	var in reminder.Input
	if !h.decode(w, r, &in) {
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	owned := false
	if idempotencyKey != "" && h.idempotency != nil {
		cached, err := h.idempotency.CheckOrReserve(ctx, userID.String(), idempotencyKey)
		switch {
		case errors.Is(err, redis.ErrDuplicateRequest):
			h.writeError(w, http.StatusConflict, "duplicate_request",
				"Request is already being processed",
				"Another request with this idempotency key is in progress")
			return
		case err != nil:
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		case cached != nil:
			metrics.RecordIdempotencyHit()
			w.Header().Set("X-Idempotency-Replayed", "true")
			h.writeJSON(w, cached.StatusCode, CreateReminderResponse{ID: cached.ResourceID})
			return
		default:
			owned = true
		}
	}

	rem, err := h.reminders.Create(ctx, userID, in)
	if err != nil {
		if owned {
			h.releaseIdempotency(ctx, userID, idempotencyKey)
		}
		h.fail(w, r, "create reminder", err)
		return
	}

	if owned {
		result := &redis.IdempotencyResult{
			ResourceID: rem.ID.String(),
			StatusCode: http.StatusCreated,
		}
		if err := h.idempotency.Store(ctx, userID.String(), idempotencyKey, result, redis.IdempotencyTTL); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	h.writeJSON(w, http.StatusCreated, rem)
}

func (h *Handler) releaseIdempotency(ctx context.Context, userID uuid.UUID, key string) {
	if err := h.idempotency.Release(ctx, userID.String(), key); err != nil {
		h.logger.Warn("failed to release idempotency key",
			zap.Error(err),
			zap.String("idempotency_key", key),
		)
	}
}

// ListReminders handles GET /v1/reminders?active=true&type=meal
func (h *Handler) ListReminders(w http.ResponseWriter, r *http.Request) {
	var filter db.ReminderFilter
	if raw := r.URL.Query().Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid active filter", "active must be true or false")
			return
		}
		filter.Active = &active
	}
	filter.Type = r.URL.Query().Get("type")

	reminders, err := h.reminders.List(r.Context(), userFrom(r), filter)
	if err != nil {
		h.fail(w, r, "list reminders", err)
		return
	}

	h.writeJSON(w, http.StatusOK, newList(reminders))
}

// GetReminder handles GET /v1/reminders/{id}
func (h *Handler) GetReminder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r, "id", "reminder")
	if !ok {
		return
	}

	detail, err := h.reminders.Get(r.Context(), userFrom(r), id, h.now())
	if err != nil {
		h.fail(w, r, "get reminder", err)
		return
	}

	h.writeJSON(w, http.StatusOK, detail)
}

// UpdateReminder handles PATCH /v1/reminders/{id}
func (h *Handler) UpdateReminder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r, "id", "reminder")
	if !ok {
		return
	}

	var patch reminder.Patch
	if !h.decode(w, r, &patch) {
		return
	}

	rem, err := h.reminders.Update(r.Context(), userFrom(r), id, patch, h.now())
	if err != nil {
		h.fail(w, r, "update reminder", err)
		return
	}

	h.writeJSON(w, http.StatusOK, rem)
}

// DeleteReminder handles DELETE /v1/reminders/{id}
func (h *Handler) DeleteReminder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r, "id", "reminder")
	if !ok {
		return
	}

	if err := h.reminders.Delete(r.Context(), userFrom(r), id); err != nil {
		h.fail(w, r, "delete reminder", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ToggleReminder handles POST /v1/reminders/{id}/toggle
func (h *Handler) ToggleReminder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r, "id", "reminder")
	if !ok {
		return
	}

	rem, err := h.reminders.ToggleActive(r.Context(), userFrom(r), id)
	if err != nil {
		h.fail(w, r, "toggle reminder", err)
		return
	}

	h.writeJSON(w, http.StatusOK, rem)
}

// CompleteReminder handles POST /v1/reminders/{id}/complete
func (h *Handler) CompleteReminder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r, "id", "reminder")
	if !ok {
		return
	}

	sched, err := h.reminders.CompleteNext(r.Context(), userFrom(r), id, h.now())
	if err != nil {
		h.fail(w, r, "complete reminder", err)
		return
	}

	h.writeJSON(w, http.StatusOK, sched)
}

// ReminderCalendar handles GET /v1/reminders/calendar.ics
func (h *Handler) ReminderCalendar(w http.ResponseWriter, r *http.Request) {
	entries, err := h.repo.ListRemindersWithSchedules(r.Context(), userFrom(r))
	if err != nil {
		h.fail(w, r, "export calendar", err)
		return
	}

	cal := calendar.Build(entries, h.now(), calendar.DefaultProdID)

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="reminders.ics"`)
	w.WriteHeader(http.StatusOK)
	if err := calendar.Encode(w, cal); err != nil {
		h.logger.Warn("failed to encode calendar", zap.Error(err))
	}
}

// PendingSchedules handles GET /v1/schedules/pending
func (h *Handler) PendingSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.reminders.Pending(r.Context(), userFrom(r), h.now())
	if err != nil {
		h.fail(w, r, "list pending schedules", err)
		return
	}

	h.writeJSON(w, http.StatusOK, newList(schedules))
}

// MarkScheduleSent handles POST /v1/schedules/{id}/sent
func (h *Handler) MarkScheduleSent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r, "id", "schedule")
	if !ok {
		return
	}

	sched, err := h.reminders.MarkScheduleSent(r.Context(), userFrom(r), id, h.now())
	if err != nil {
		h.fail(w, r, "mark schedule sent", err)
		return
	}

	h.writeJSON(w, http.StatusOK, sched)
}

// Dashboard handles GET /v1/dashboard
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	dash, err := h.reminders.Dashboard(r.Context(), userFrom(r), h.now())
	if err != nil {
		h.fail(w, r, "load dashboard", err)
		return
	}

	h.writeJSON(w, http.StatusOK, dash)
}
