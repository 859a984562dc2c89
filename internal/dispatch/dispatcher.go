package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gabri3lsal3s/ikgaihub/internal/db"
	"github.com/gabri3lsal3s/ikgaihub/internal/metrics"
)

// Store is the persistence the Dispatcher needs.
type Store interface {
	CreateHistory(ctx context.Context, h *db.NotificationHistory) error
	ListPushSubscriptions(ctx context.Context, userID uuid.UUID) ([]db.PushSubscription, error)
	DeletePushToken(ctx context.Context, userID uuid.UUID, token string) error
}

// Attempt is the result of delivering on one channel.
type Attempt struct {
	Channel Channel
	Err     error
	// Skipped is set when the channel had nowhere to deliver, e.g. push
	// without any registered device.
	Skipped bool
}

// Outcome describes what DispatchSchedule did.
type Outcome struct {
	Decision Decision
	Attempts []Attempt
}

// Delivered reports whether at least one channel accepted the notification.
func (o Outcome) Delivered() bool {
	for _, a := range o.Attempts {
		if !a.Skipped && a.Err == nil {
			return true
		}
	}
	return false
}

// Dispatcher applies the policy to due schedules and hands accepted
// notifications to the channel senders.
type Dispatcher struct {
	store  Store
	sender Sender
	logger *zap.Logger
}

func NewDispatcher(store Store, sender Sender, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:  store,
		sender: sender,
		logger: logger,
	}
}

// DispatchSchedule notifies the owner of a due schedule. Suppressed decisions
// are silent: no history and no platform call. Delivery failures are logged
// and reported in the Outcome, never returned. It does not mark the schedule
// sent or notified.
func (d *Dispatcher) DispatchSchedule(ctx context.Context, due db.DueSchedule, settings db.NotificationSettings, now time.Time) Outcome {
	decision := Decide(due.Reminder, settings, now)
	out := Outcome{Decision: decision}

	if !decision.Send {
		metrics.RecordSuppressed(string(decision.Reason))
		d.logger.Debug("notification suppressed",
			zap.String("schedule_id", due.Schedule.ID.String()),
			zap.String("reason", string(decision.Reason)),
		)
		return out
	}

	for _, ch := range decision.Channels {
		msg := NewScheduleMessage(due, ch)

		switch ch {
		case ChannelPush:
			targets, err := d.pushTargets(ctx, msg.UserID)
			if err != nil {
				out.Attempts = append(out.Attempts, Attempt{Channel: ch, Err: err})
				metrics.RecordDispatch(string(ch), "failed")
				d.recordHistory(ctx, msg)
				continue
			}
			if len(targets) == 0 {
				out.Attempts = append(out.Attempts, Attempt{Channel: ch, Skipped: true})
				metrics.RecordDispatch(string(ch), "skipped")
				continue
			}
			msg.Targets = targets
		case ChannelEmail:
			msg.To = *settings.EmailAddress
		}

		out.Attempts = append(out.Attempts, Attempt{Channel: ch, Err: d.deliver(ctx, msg)})
	}

	window := due.Schedule.ScheduledTime.Add(-time.Duration(settings.ReminderAdvanceMinutes) * time.Minute)
	metrics.RecordDispatchLateness(now.Sub(window))

	return out
}

// NotifyInApp sends an in-app notification and records it in history.
func (d *Dispatcher) NotifyInApp(ctx context.Context, userID uuid.UUID, reminderID *uuid.UUID, title, body, tag string) error {
	msg := &Message{
		ID:         uuid.New(),
		UserID:     userID,
		ReminderID: reminderID,
		Channel:    ChannelInApp,
		Title:      title,
		Body:       body,
		Tag:        tag,
	}
	return d.deliver(ctx, msg)
}

// deliver sends msg and writes its history record whatever the send result.
func (d *Dispatcher) deliver(ctx context.Context, msg *Message) error {
	err := d.sender.Send(ctx, msg)
	if err != nil {
		metrics.RecordDispatch(string(msg.Channel), "failed")
		d.logger.Warn("notification delivery failed",
			zap.String("message_id", msg.ID.String()),
			zap.String("channel", string(msg.Channel)),
			zap.String("user_id", msg.UserID.String()),
			zap.Error(err),
		)
		d.dropGoneTargets(ctx, msg.UserID, err)
	} else {
		metrics.RecordDispatch(string(msg.Channel), "delivered")
	}

	d.recordHistory(ctx, msg)
	return err
}

func (d *Dispatcher) recordHistory(ctx context.Context, msg *Message) {
	body := msg.Body
	h := &db.NotificationHistory{
		UserID:           msg.UserID,
		ReminderID:       msg.ReminderID,
		NotificationType: string(msg.Channel),
		Title:            msg.Title,
		Body:             &body,
	}
	if err := d.store.CreateHistory(ctx, h); err != nil {
		d.logger.Error("failed to record notification history",
			zap.String("message_id", msg.ID.String()),
			zap.Error(err),
		)
	}
}

func (d *Dispatcher) pushTargets(ctx context.Context, userID uuid.UUID) ([]Target, error) {
	subs, err := d.store.ListPushSubscriptions(ctx, userID)
	if err != nil {
		d.logger.Error("failed to load push subscriptions",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	targets := make([]Target, 0, len(subs))
	for _, s := range subs {
		targets = append(targets, Target{Provider: s.Provider, Token: s.Token})
	}
	return targets, nil
}

func (d *Dispatcher) dropGoneTargets(ctx context.Context, userID uuid.UUID, err error) {
	for _, t := range GoneTargets(err) {
		if delErr := d.store.DeletePushToken(ctx, userID, t.Token); delErr != nil {
			d.logger.Warn("failed to drop unregistered push target",
				zap.String("user_id", userID.String()),
				zap.String("provider", t.Provider),
				zap.Error(delErr),
			)
			continue
		}
		d.logger.Info("dropped unregistered push target",
			zap.String("user_id", userID.String()),
			zap.String("provider", t.Provider),
		)
	}
}
