package api

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/gabri3lsal3s/ikgaihub/internal/db"
	"github.com/gabri3lsal3s/ikgaihub/internal/validate"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// SettingsRequest is the body of PUT /v1/settings. Every field is replaced.
type SettingsRequest struct {
	PushEnabled            bool    `json:"push_enabled"`
	EmailEnabled           bool    `json:"email_enabled"`
	EmailAddress           *string `json:"email_address,omitempty" validate:"required_if=EmailEnabled true,omitempty,email"`
	ReminderAdvanceMinutes int     `json:"reminder_advance_minutes" validate:"min=0,max=1440"`
	QuietHoursStart        string  `json:"quiet_hours_start" validate:"required,clocktime"`
	QuietHoursEnd          string  `json:"quiet_hours_end" validate:"required,clocktime"`
	Timezone               string  `json:"timezone" validate:"required,timezone"`
}

// PushSubscriptionRequest registers a device token.
type PushSubscriptionRequest struct {
	Provider string `json:"provider" validate:"required,oneof=fcm sns"`
	Token    string `json:"token" validate:"required,max=4096"`
}

// PermissionResponse reports whether push can reach the user.
type PermissionResponse struct {
	Permission    string `json:"permission"`
	PushEnabled   bool   `json:"push_enabled"`
	Subscriptions int    `json:"subscriptions"`
}

// GetSettings handles GET /v1/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.repo.GetOrCreateSettings(r.Context(), userFrom(r))
	if err != nil {
		h.fail(w, r, "load settings", err)
		return
	}

	h.writeJSON(w, http.StatusOK, settings)
}

// UpdateSettings handles PUT /v1/settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		h.fail(w, r, "update settings", err)
		return
	}

	settings := &db.NotificationSettings{
		UserID:                 userFrom(r),
		PushEnabled:            req.PushEnabled,
		EmailEnabled:           req.EmailEnabled,
		EmailAddress:           req.EmailAddress,
		ReminderAdvanceMinutes: req.ReminderAdvanceMinutes,
		QuietHoursStart:        req.QuietHoursStart,
		QuietHoursEnd:          req.QuietHoursEnd,
		Timezone:               req.Timezone,
	}
	if err := h.repo.UpsertSettings(r.Context(), settings); err != nil {
		h.fail(w, r, "update settings", err)
		return
	}

	h.writeJSON(w, http.StatusOK, settings)
}

// ListNotifications handles GET /v1/notifications?limit=50
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= maxHistoryLimit {
			limit = l
		}
	}

	history, err := h.repo.ListHistory(r.Context(), userFrom(r), limit)
	if err != nil {
		h.fail(w, r, "list notifications", err)
		return
	}

	h.writeJSON(w, http.StatusOK, newList(history))
}

// MarkNotificationRead handles POST /v1/notifications/{id}/read
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r, "id", "notification")
	if !ok {
		return
	}

	entry, err := h.repo.MarkHistoryRead(r.Context(), userFrom(r), id, h.now())
	if err != nil {
		h.fail(w, r, "mark notification read", err)
		return
	}

	h.writeJSON(w, http.StatusOK, entry)
}

// PushPermission handles GET /v1/push/permission. A registered device counts
// as a granted permission.
func (h *Handler) PushPermission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := userFrom(r)

	settings, err := h.repo.GetOrCreateSettings(ctx, userID)
	if err != nil {
		h.fail(w, r, "load settings", err)
		return
	}

	subs, err := h.repo.ListPushSubscriptions(ctx, userID)
	if err != nil {
		h.fail(w, r, "list push subscriptions", err)
		return
	}

	resp := PermissionResponse{
		Permission:    "default",
		PushEnabled:   settings.PushEnabled,
		Subscriptions: len(subs),
	}
	if len(subs) > 0 {
		resp.Permission = "granted"
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// RegisterPushSubscription handles POST /v1/push/subscriptions
func (h *Handler) RegisterPushSubscription(w http.ResponseWriter, r *http.Request) {
	var req PushSubscriptionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		h.fail(w, r, "register push subscription", err)
		return
	}

	sub := &db.PushSubscription{
		UserID:   userFrom(r),
		Provider: req.Provider,
		Token:    req.Token,
	}
	if err := h.repo.SavePushSubscription(r.Context(), sub); err != nil {
		h.fail(w, r, "register push subscription", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, sub)
}

// DeletePushSubscription handles DELETE /v1/push/subscriptions/{id}
func (h *Handler) DeletePushSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r, "id", "subscription")
	if !ok {
		return
	}

	if err := h.repo.DeletePushSubscription(r.Context(), userFrom(r), id); err != nil {
		h.fail(w, r, "delete push subscription", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// StartSession handles POST /v1/session. It is called on login and starts the
// user's periodic jobs; repeating it is harmless.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		h.writeError(w, http.StatusServiceUnavailable, "sessions_disabled", "Sessions are not enabled", "")
		return
	}

	userID := userFrom(r)
	started, err := h.sessions.Start(userID)
	if err != nil {
		h.fail(w, r, "start session", err)
		return
	}

	status := http.StatusOK
	if started {
		status = http.StatusCreated
		h.logger.Info("session started", zap.String("user_id", userID.String()))
	}
	h.writeJSON(w, status, map[string]bool{"active": true})
}

// EndSession handles DELETE /v1/session on logout.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		h.writeError(w, http.StatusServiceUnavailable, "sessions_disabled", "Sessions are not enabled", "")
		return
	}

	userID := userFrom(r)
	if h.sessions.Stop(userID) {
		h.logger.Info("session ended", zap.String("user_id", userID.String()))
	}
	w.WriteHeader(http.StatusNoContent)
}
