package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gabri3lsal3s/ikgaihub/internal/db"
)

type mockStore struct {
	mu         sync.Mutex
	history    []db.NotificationHistory
	subs       []db.PushSubscription
	deleted    []string
	historyErr error
	subsErr    error
}

func (m *mockStore) CreateHistory(ctx context.Context, h *db.NotificationHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.historyErr != nil {
		return m.historyErr
	}
	m.history = append(m.history, *h)
	return nil
}

func (m *mockStore) ListPushSubscriptions(ctx context.Context, userID uuid.UUID) ([]db.PushSubscription, error) {
	return m.subs, m.subsErr
}

func (m *mockStore) DeletePushToken(ctx context.Context, userID uuid.UUID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, token)
	return nil
}

type mockSender struct {
	channels []Channel
	err      error
	sent     []*Message
}

func (m *mockSender) Send(ctx context.Context, msg *Message) error {
	m.sent = append(m.sent, msg)
	return m.err
}

func (m *mockSender) SupportsChannel(ch Channel) bool {
	for _, c := range m.channels {
		if c == ch {
			return true
		}
	}
	return false
}

func dueFor(rem db.Reminder) db.DueSchedule {
	return db.DueSchedule{
		Schedule: db.Schedule{
			ID:            uuid.New(),
			ReminderID:    rem.ID,
			ScheduledTime: time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC),
		},
		Reminder: rem,
	}
}

func withDevice(provider, token string) *mockStore {
	return &mockStore{subs: []db.PushSubscription{{Provider: provider, Token: token}}}
}

var noon = time.Date(2025, 6, 4, 11, 50, 0, 0, time.UTC)

func TestDispatchSchedule_SuppressedIsSilent(t *testing.T) {
	store := withDevice(db.ProviderFCM, "tok")
	sender := &mockSender{channels: []Channel{ChannelPush}}
	d := NewDispatcher(store, sender, zap.NewNop())

	rem := activeReminder()
	rem.IsActive = false

	out := d.DispatchSchedule(context.Background(), dueFor(rem), defaultSettings(), noon)

	if out.Decision.Send {
		t.Fatal("expected suppressed decision")
	}
	if len(sender.sent) != 0 {
		t.Errorf("expected no platform call, got %d", len(sender.sent))
	}
	if len(store.history) != 0 {
		t.Errorf("expected no history, got %d", len(store.history))
	}
	if out.Delivered() {
		t.Error("suppressed outcome must not report delivery")
	}
}

func TestDispatchSchedule_PushDelivered(t *testing.T) {
	store := withDevice(db.ProviderFCM, "tok")
	sender := &mockSender{channels: []Channel{ChannelPush}}
	d := NewDispatcher(store, sender, zap.NewNop())

	rem := activeReminder()
	out := d.DispatchSchedule(context.Background(), dueFor(rem), defaultSettings(), noon)

	if !out.Delivered() {
		t.Fatalf("expected delivery, got %+v", out)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one send, got %d", len(sender.sent))
	}
	msg := sender.sent[0]
	if len(msg.Targets) != 1 || msg.Targets[0].Token != "tok" {
		t.Errorf("unexpected targets %+v", msg.Targets)
	}
	if len(store.history) != 1 {
		t.Fatalf("expected one history record, got %d", len(store.history))
	}
	h := store.history[0]
	if h.NotificationType != db.NotificationPush || h.UserID != rem.UserID || *h.ReminderID != rem.ID {
		t.Errorf("unexpected history record %+v", h)
	}
}

func TestDispatchSchedule_SenderFailureStillRecordsHistory(t *testing.T) {
	store := withDevice(db.ProviderFCM, "tok")
	sender := &mockSender{channels: []Channel{ChannelPush}, err: errors.New("fcm down")}
	d := NewDispatcher(store, sender, zap.NewNop())

	out := d.DispatchSchedule(context.Background(), dueFor(activeReminder()), defaultSettings(), noon)

	if out.Delivered() {
		t.Error("expected no delivery")
	}
	if len(out.Attempts) != 1 || out.Attempts[0].Err == nil {
		t.Errorf("expected failed attempt, got %+v", out.Attempts)
	}
	if len(store.history) != 1 {
		t.Errorf("history must be written even on failure, got %d", len(store.history))
	}
}

func TestDispatchSchedule_DeviceLookupFailureRecordsHistory(t *testing.T) {
	store := &mockStore{subsErr: errors.New("pool closed")}
	sender := &mockSender{channels: []Channel{ChannelPush}}
	d := NewDispatcher(store, sender, zap.NewNop())

	out := d.DispatchSchedule(context.Background(), dueFor(activeReminder()), defaultSettings(), noon)

	if len(out.Attempts) != 1 || out.Attempts[0].Err == nil {
		t.Fatalf("expected failed attempt, got %+v", out.Attempts)
	}
	if len(sender.sent) != 0 {
		t.Errorf("expected no platform call, got %d", len(sender.sent))
	}
	if len(store.history) != 1 || store.history[0].NotificationType != db.NotificationPush {
		t.Errorf("expected one push history record, got %+v", store.history)
	}
}

func TestDispatchSchedule_HistoryFailureSwallowed(t *testing.T) {
	store := withDevice(db.ProviderFCM, "tok")
	store.historyErr = errors.New("db down")
	sender := &mockSender{channels: []Channel{ChannelPush}}
	d := NewDispatcher(store, sender, zap.NewNop())

	out := d.DispatchSchedule(context.Background(), dueFor(activeReminder()), defaultSettings(), noon)

	if !out.Delivered() {
		t.Error("history failure must not affect delivery")
	}
}

func TestDispatchSchedule_PushWithoutDeviceIsSkipped(t *testing.T) {
	store := &mockStore{}
	sender := &mockSender{channels: []Channel{ChannelPush}}
	d := NewDispatcher(store, sender, zap.NewNop())

	out := d.DispatchSchedule(context.Background(), dueFor(activeReminder()), defaultSettings(), noon)

	if len(out.Attempts) != 1 || !out.Attempts[0].Skipped {
		t.Fatalf("expected skipped push, got %+v", out.Attempts)
	}
	if len(sender.sent) != 0 || len(store.history) != 0 {
		t.Error("skipped push must not send or record history")
	}
}

func TestDispatchSchedule_EmailAndPush(t *testing.T) {
	store := withDevice(db.ProviderSNS, "arn:aws:sns:endpoint")
	sender := &mockSender{channels: []Channel{ChannelPush, ChannelEmail}}
	d := NewDispatcher(store, sender, zap.NewNop())

	settings := defaultSettings()
	settings.EmailEnabled = true
	settings.EmailAddress = strPtr("user@example.com")

	out := d.DispatchSchedule(context.Background(), dueFor(activeReminder()), settings, noon)

	if len(out.Attempts) != 2 {
		t.Fatalf("expected two attempts, got %+v", out.Attempts)
	}
	if sender.sent[1].Channel != ChannelEmail || sender.sent[1].To != "user@example.com" {
		t.Errorf("unexpected email message %+v", sender.sent[1])
	}
	if len(store.history) != 2 {
		t.Errorf("expected one history record per channel, got %d", len(store.history))
	}
}

func TestDispatchSchedule_DropsGoneTargets(t *testing.T) {
	store := withDevice(db.ProviderFCM, "stale")
	gone := &TargetError{Target: Target{Provider: db.ProviderFCM, Token: "stale"}, Err: fmt.Errorf("%w: unregistered", ErrTargetGone)}
	sender := &mockSender{channels: []Channel{ChannelPush}, err: gone}
	d := NewDispatcher(store, sender, zap.NewNop())

	d.DispatchSchedule(context.Background(), dueFor(activeReminder()), defaultSettings(), noon)

	if len(store.deleted) != 1 || store.deleted[0] != "stale" {
		t.Errorf("expected stale token deletion, got %v", store.deleted)
	}
}

func TestNotifyInApp(t *testing.T) {
	store := &mockStore{}
	sender := &mockSender{channels: []Channel{ChannelInApp}}
	d := NewDispatcher(store, sender, zap.NewNop())

	userID := uuid.New()
	if err := d.NotifyInApp(context.Background(), userID, nil, "Goal overdue", "Run 5k", "goal-x"); err != nil {
		t.Fatalf("NotifyInApp: %v", err)
	}

	if len(store.history) != 1 || store.history[0].NotificationType != db.NotificationInApp {
		t.Fatalf("expected in-app history, got %+v", store.history)
	}
	if sender.sent[0].Tag != "goal-x" {
		t.Errorf("unexpected tag %s", sender.sent[0].Tag)
	}
}

func TestMultiSender_RoutesToAllMatching(t *testing.T) {
	fcm := &mockSender{channels: []Channel{ChannelPush}}
	sns := &mockSender{channels: []Channel{ChannelPush}, err: errors.New("sns down")}
	email := &mockSender{channels: []Channel{ChannelEmail}}
	m := NewMultiSender(zap.NewNop(), fcm, sns, email)

	err := m.Send(context.Background(), &Message{ID: uuid.New(), Channel: ChannelPush})
	if err == nil {
		t.Fatal("expected combined error from sns")
	}
	if len(fcm.sent) != 1 || len(sns.sent) != 1 || len(email.sent) != 0 {
		t.Errorf("unexpected routing fcm=%d sns=%d email=%d", len(fcm.sent), len(sns.sent), len(email.sent))
	}

	if err := m.Send(context.Background(), &Message{ID: uuid.New(), Channel: ChannelInApp}); err == nil {
		t.Error("expected error for unsupported channel")
	}
	if m.SupportsChannel(ChannelInApp) {
		t.Error("in-app should not be supported")
	}
}

func TestGoneTargets(t *testing.T) {
	stale := Target{Provider: db.ProviderFCM, Token: "a"}

	combined := sendEach(context.Background(), &Message{Targets: []Target{stale, {Provider: db.ProviderFCM, Token: "b"}}},
		db.ProviderFCM, func(ctx context.Context, t Target) error {
			if t.Token == "a" {
				return fmt.Errorf("%w: x", ErrTargetGone)
			}
			return errors.New("timeout")
		})
	got := GoneTargets(combined)
	if len(got) != 1 || got[0] != stale {
		t.Errorf("expected only stale target, got %v", got)
	}
}
