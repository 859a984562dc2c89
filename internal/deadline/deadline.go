// Package deadline warns users about goals whose end date is close or past.
package deadline

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gabri3lsal3s/ikgaihub/internal/db"
	"github.com/gabri3lsal3s/ikgaihub/internal/metrics"
)

// DefaultWarnDays is how many days ahead of the end date a warning starts.
const DefaultWarnDays = 3

// dedupeTTL outlives a calendar day even across a DST change.
const dedupeTTL = 26 * time.Hour

// Kind classifies an alert.
type Kind string

const (
	KindOverdue Kind = "overdue"
	KindWarning Kind = "warning"
)

// Alert is one goal that needs the user's attention.
type Alert struct {
	Goal     db.Goal
	Kind     Kind
	DaysLeft int
}

// Title is the notification headline.
func (a Alert) Title() string {
	if a.Kind == KindOverdue {
		return "⚠️ Meta Atrasada: " + a.Goal.Title
	}
	return "⏰ Prazo se aproximando: " + a.Goal.Title
}

// Body is the notification text.
func (a Alert) Body() string {
	switch {
	case a.Kind == KindOverdue:
		return fmt.Sprintf("O prazo terminou em %s", a.Goal.EndDate.Format("02/01/2006"))
	case a.DaysLeft == 1:
		return "1 dia restante"
	default:
		return fmt.Sprintf("%d dias restantes", a.DaysLeft)
	}
}

// Tag groups repeated alerts for the same goal and kind on the device.
func (a Alert) Tag() string {
	return fmt.Sprintf("goal-%s-%s", a.Goal.ID, a.Kind)
}

// DaysLeft is the number of days from now until the start of endDate in
// now's location, rounded up.
func DaysLeft(endDate, now time.Time) int {
	y, m, d := endDate.Date()
	end := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	return int(math.Ceil(end.Sub(now).Hours() / 24))
}

// Evaluate returns the alerts for active goals with an end date. Goals more
// than warnDays away produce nothing.
func Evaluate(goals []db.Goal, now time.Time, warnDays int) []Alert {
	var alerts []Alert
	for _, g := range goals {
		if g.Status != db.GoalActive || g.EndDate == nil {
			continue
		}

		days := DaysLeft(*g.EndDate, now)
		switch {
		case days < 0:
			alerts = append(alerts, Alert{Goal: g, Kind: KindOverdue, DaysLeft: days})
		case days <= warnDays:
			alerts = append(alerts, Alert{Goal: g, Kind: KindWarning, DaysLeft: days})
		}
	}
	return alerts
}

type Store interface {
	ListActiveGoalsWithDeadline(ctx context.Context, userID uuid.UUID) ([]db.Goal, error)
	GetOrCreateSettings(ctx context.Context, userID uuid.UUID) (*db.NotificationSettings, error)
}

// InAppNotifier delivers the alert to the user's inbox.
type InAppNotifier interface {
	NotifyInApp(ctx context.Context, userID uuid.UUID, reminderID *uuid.UUID, title, body, tag string) error
}

// Dedupe remembers which alerts were already sent.
type Dedupe interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
}

// Notifier evaluates a user's goals and sends each alert at most once per
// goal, kind and local day.
type Notifier struct {
	store    Store
	inApp    InAppNotifier
	dedupe   Dedupe
	warnDays int
	logger   *zap.Logger
}

type Option func(*Notifier)

// WithDedupe replaces the in-process dedupe, e.g. with a Redis locker shared
// by every replica.
func WithDedupe(d Dedupe) Option {
	return func(n *Notifier) {
		if d != nil {
			n.dedupe = d
		}
	}
}

// WithWarnDays overrides DefaultWarnDays.
func WithWarnDays(days int) Option {
	return func(n *Notifier) {
		if days >= 0 {
			n.warnDays = days
		}
	}
}

func NewNotifier(store Store, inApp InAppNotifier, logger *zap.Logger, opts ...Option) *Notifier {
	n := &Notifier{
		store:    store,
		inApp:    inApp,
		dedupe:   NewMemoryDedupe(time.Now),
		warnDays: DefaultWarnDays,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Check evaluates userID's goals at now and returns how many alerts were sent.
func (n *Notifier) Check(ctx context.Context, userID uuid.UUID, now time.Time) (int, error) {
	settings, err := n.store.GetOrCreateSettings(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("load settings: %w", err)
	}

	goals, err := n.store.ListActiveGoalsWithDeadline(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list goals: %w", err)
	}

	local := now.In(settings.Location())
	day := local.Format("2006-01-02")

	var (
		sent int
		errs error
	)
	for _, alert := range Evaluate(goals, local, n.warnDays) {
		key := fmt.Sprintf("%s:%s:%s", alert.Goal.ID, alert.Kind, day)

		ok, err := n.dedupe.Acquire(ctx, key, dedupeTTL)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if !ok {
			continue
		}

		if err := n.inApp.NotifyInApp(ctx, userID, nil, alert.Title(), alert.Body(), alert.Tag()); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("goal %s: %w", alert.Goal.ID, err))
			if rerr := n.dedupe.Release(ctx, key); rerr != nil {
				n.logger.Warn("failed to release deadline alert", zap.Error(rerr))
			}
			continue
		}

		sent++
		metrics.RecordDeadlineAlert(string(alert.Kind))
		n.logger.Info("deadline alert sent",
			zap.String("user_id", userID.String()),
			zap.String("goal_id", alert.Goal.ID.String()),
			zap.String("kind", string(alert.Kind)),
			zap.Int("days_left", alert.DaysLeft),
		)
	}

	return sent, errs
}

// MemoryDedupe is a process-local Dedupe.
type MemoryDedupe struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryDedupe(now func() time.Time) *MemoryDedupe {
	return &MemoryDedupe{entries: make(map[string]time.Time), now: now}
}

func (m *MemoryDedupe) Acquire(_ context.Context, name string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, exp := range m.entries {
		if !now.Before(exp) {
			delete(m.entries, k)
		}
	}

	if _, held := m.entries[name]; held {
		return false, nil
	}
	m.entries[name] = now.Add(ttl)
	return true, nil
}

func (m *MemoryDedupe) Release(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, name)
	return nil
}
