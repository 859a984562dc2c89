package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gabri3lsal3s/ikgaihub/internal/db"
	"github.com/gabri3lsal3s/ikgaihub/internal/dispatch"
	"github.com/gabri3lsal3s/ikgaihub/internal/sqs"
)

var testNow = time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)

type mockStore struct {
	mu          sync.Mutex
	due         []db.DueSchedule
	dueErr      error
	settingsErr error
	notified    []uuid.UUID
}

func (m *mockStore) DueSchedules(ctx context.Context, now time.Time, maxLateness time.Duration, limit int) ([]db.DueSchedule, error) {
	return m.due, m.dueErr
}

func (m *mockStore) GetDueSchedule(ctx context.Context, scheduleID uuid.UUID) (*db.DueSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.due {
		if d.Schedule.ID == scheduleID {
			cp := d
			return &cp, nil
		}
	}
	return nil, db.ErrScheduleNotFound
}

func (m *mockStore) GetOrCreateSettings(ctx context.Context, userID uuid.UUID) (*db.NotificationSettings, error) {
	if m.settingsErr != nil {
		return nil, m.settingsErr
	}
	return &db.NotificationSettings{UserID: userID, PushEnabled: true, Timezone: "UTC"}, nil
}

func (m *mockStore) MarkScheduleNotified(ctx context.Context, scheduleID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notified = append(m.notified, scheduleID)
	return nil
}

type mockDispatcher struct {
	outcome    dispatch.Outcome
	dispatched []uuid.UUID
}

func (m *mockDispatcher) DispatchSchedule(ctx context.Context, due db.DueSchedule, settings db.NotificationSettings, now time.Time) dispatch.Outcome {
	m.dispatched = append(m.dispatched, due.Schedule.ID)
	return m.outcome
}

type mockLocker struct {
	held     map[string]bool
	released []string
	err      error
}

func newLocker() *mockLocker { return &mockLocker{held: map[string]bool{}} }

func (m *mockLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if m.held[name] {
		return false, nil
	}
	m.held[name] = true
	return true, nil
}

func (m *mockLocker) Release(ctx context.Context, name string) error {
	delete(m.held, name)
	m.released = append(m.released, name)
	return nil
}

type mockQueue struct {
	jobs   []sqs.Job
	reject map[uuid.UUID]bool
}

func (m *mockQueue) EnqueueBatch(ctx context.Context, jobs []sqs.Job) ([]uuid.UUID, error) {
	var accepted []uuid.UUID
	for _, j := range jobs {
		if m.reject[j.ScheduleID] {
			continue
		}
		m.jobs = append(m.jobs, j)
		accepted = append(accepted, j.ScheduleID)
	}
	return accepted, nil
}

func dueSchedule() db.DueSchedule {
	rem := db.Reminder{ID: uuid.New(), UserID: uuid.New(), Title: "Água", IsActive: true, NotificationEnabled: true}
	return db.DueSchedule{
		Reminder: rem,
		Schedule: db.Schedule{ID: uuid.New(), ReminderID: rem.ID, ScheduledTime: testNow.Add(10 * time.Minute)},
	}
}

func sent() dispatch.Outcome {
	return dispatch.Outcome{
		Decision: dispatch.Decision{Send: true, Channels: []dispatch.Channel{dispatch.ChannelPush}},
		Attempts: []dispatch.Attempt{{Channel: dispatch.ChannelPush}},
	}
}

func newTestWorker(store *mockStore, disp *mockDispatcher, opts ...Option) *Worker {
	opts = append(opts, WithClock(func() time.Time { return testNow }))
	return New(store, disp, Config{}, zap.NewNop(), opts...)
}

func TestWorker_DispatchesAndMarksNotified(t *testing.T) {
	a, b := dueSchedule(), dueSchedule()
	store := &mockStore{due: []db.DueSchedule{a, b}}
	disp := &mockDispatcher{outcome: sent()}
	locker := newLocker()

	newTestWorker(store, disp, WithLocker(locker)).processBatch(context.Background())

	if len(disp.dispatched) != 2 {
		t.Fatalf("dispatched = %d, want 2", len(disp.dispatched))
	}
	if len(store.notified) != 2 {
		t.Fatalf("notified = %d, want 2", len(store.notified))
	}
	if !locker.held[lockName(a.Schedule.ID)] {
		t.Fatal("claim should be kept until it expires")
	}
}

func TestWorker_QuietHoursAreRetried(t *testing.T) {
	d := dueSchedule()
	store := &mockStore{due: []db.DueSchedule{d}}
	disp := &mockDispatcher{outcome: dispatch.Outcome{Decision: dispatch.Decision{Reason: dispatch.ReasonQuietHours}}}
	locker := newLocker()
	w := newTestWorker(store, disp, WithLocker(locker))

	w.processBatch(context.Background())
	if len(store.notified) != 0 {
		t.Fatal("quiet-hours suppression must not mark the schedule notified")
	}
	if locker.held[lockName(d.Schedule.ID)] {
		t.Fatal("claim should be released for the next tick")
	}

	w.processBatch(context.Background())
	if len(disp.dispatched) != 2 {
		t.Fatalf("expected a second attempt, dispatched = %d", len(disp.dispatched))
	}
}

func TestWorker_OtherSuppressionsAreFinal(t *testing.T) {
	store := &mockStore{due: []db.DueSchedule{dueSchedule()}}
	disp := &mockDispatcher{outcome: dispatch.Outcome{Decision: dispatch.Decision{Reason: dispatch.ReasonNoChannel}}}

	newTestWorker(store, disp).processBatch(context.Background())

	if len(store.notified) != 1 {
		t.Fatalf("notified = %d, want 1", len(store.notified))
	}
}

func TestWorker_SkipsClaimedSchedules(t *testing.T) {
	d := dueSchedule()
	store := &mockStore{due: []db.DueSchedule{d}}
	disp := &mockDispatcher{outcome: sent()}
	locker := newLocker()
	locker.held[lockName(d.Schedule.ID)] = true

	newTestWorker(store, disp, WithLocker(locker)).processBatch(context.Background())

	if len(disp.dispatched) != 0 {
		t.Fatal("schedule claimed elsewhere must not be dispatched")
	}
}

func TestWorker_LockStoreDownSkipsBatch(t *testing.T) {
	store := &mockStore{due: []db.DueSchedule{dueSchedule()}}
	disp := &mockDispatcher{outcome: sent()}
	locker := newLocker()
	locker.err = errors.New("redis down")

	newTestWorker(store, disp, WithLocker(locker)).processBatch(context.Background())

	if len(disp.dispatched) != 0 {
		t.Fatal("nothing should be dispatched without a claim")
	}
}

func TestWorker_SettingsFailureReleasesClaim(t *testing.T) {
	d := dueSchedule()
	store := &mockStore{due: []db.DueSchedule{d}, settingsErr: errors.New("db down")}
	disp := &mockDispatcher{outcome: sent()}
	locker := newLocker()

	newTestWorker(store, disp, WithLocker(locker)).processBatch(context.Background())

	if len(disp.dispatched) != 0 || len(store.notified) != 0 {
		t.Fatal("nothing should happen without settings")
	}
	if locker.held[lockName(d.Schedule.ID)] {
		t.Fatal("claim should be released")
	}
}

func TestWorker_DueQueryFailure(t *testing.T) {
	store := &mockStore{dueErr: errors.New("db down")}
	disp := &mockDispatcher{outcome: sent()}

	newTestWorker(store, disp).processBatch(context.Background())

	if len(disp.dispatched) != 0 {
		t.Fatal("nothing should be dispatched")
	}
}

func TestWorker_QueueModeEnqueuesInsteadOfDispatching(t *testing.T) {
	a, b := dueSchedule(), dueSchedule()
	store := &mockStore{due: []db.DueSchedule{a, b}}
	disp := &mockDispatcher{outcome: sent()}
	locker := newLocker()
	queue := &mockQueue{reject: map[uuid.UUID]bool{b.Schedule.ID: true}}

	newTestWorker(store, disp, WithLocker(locker), WithQueue(queue)).processBatch(context.Background())

	if len(disp.dispatched) != 0 {
		t.Fatal("queue mode must not dispatch inline")
	}
	if len(queue.jobs) != 1 || queue.jobs[0].ScheduleID != a.Schedule.ID || queue.jobs[0].UserID != a.Reminder.UserID {
		t.Fatalf("unexpected jobs %+v", queue.jobs)
	}
	if !locker.held[lockName(a.Schedule.ID)] {
		t.Fatal("queued schedule should stay claimed")
	}
	if locker.held[lockName(b.Schedule.ID)] {
		t.Fatal("rejected schedule should be released")
	}
}

type mockSource struct {
	mu         sync.Mutex
	deliveries []sqs.Delivery
	deleted    []string
	cancel     context.CancelFunc
}

func (m *mockSource) Receive(ctx context.Context, limit int32) ([]sqs.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.deliveries) == 0 {
		m.cancel()
		return nil, ctx.Err()
	}
	out := m.deliveries
	m.deliveries = nil
	return out, nil
}

func (m *mockSource) Delete(ctx context.Context, receiptHandle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, receiptHandle)
	return nil
}

func TestWorker_ConsumeDispatchesAndAcknowledges(t *testing.T) {
	live := dueSchedule()
	stale := dueSchedule()
	expired := dueSchedule()
	expired.Schedule.ScheduledTime = testNow.Add(-2 * time.Hour)

	store := &mockStore{due: []db.DueSchedule{live, expired}}
	disp := &mockDispatcher{outcome: sent()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &mockSource{cancel: cancel, deliveries: []sqs.Delivery{
		{Job: sqs.Job{ScheduleID: live.Schedule.ID}, ReceiptHandle: "rh-live"},
		{Job: sqs.Job{ScheduleID: stale.Schedule.ID}, ReceiptHandle: "rh-stale"},
		{Job: sqs.Job{ScheduleID: expired.Schedule.ID}, ReceiptHandle: "rh-expired"},
	}}

	newTestWorker(store, disp).Consume(ctx, src)

	if len(disp.dispatched) != 1 || disp.dispatched[0] != live.Schedule.ID {
		t.Fatalf("dispatched = %v", disp.dispatched)
	}
	if len(store.notified) != 1 {
		t.Fatalf("notified = %d", len(store.notified))
	}
	if len(src.deleted) != 3 {
		t.Fatalf("every job should be acknowledged, deleted = %v", src.deleted)
	}
}

func TestWorker_StartStopsOnCancel(t *testing.T) {
	store := &mockStore{}
	w := New(store, &mockDispatcher{}, Config{PollInterval: time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestNew_Defaults(t *testing.T) {
	w := New(&mockStore{}, &mockDispatcher{}, Config{}, zap.NewNop())
	if w.config.PollInterval != 30*time.Second || w.config.BatchSize != 50 || w.config.MaxLateness != time.Hour {
		t.Fatalf("unexpected defaults %+v", w.config)
	}
}
