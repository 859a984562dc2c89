// Package session runs periodic per-user work for as long as the user is
// logged in. Each session owns a cron scheduler and a context; logging out
// cancels the context, which aborts in-flight persistence calls.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gabri3lsal3s/ikgaihub/internal/metrics"
)

const defaultSpec = "@hourly"

// Job is a unit of work run for one user at now.
type Job func(ctx context.Context, userID uuid.UUID, now time.Time) error

type namedJob struct {
	name string
	fn   Job
}

type session struct {
	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Manager tracks active sessions.
type Manager struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*session

	jobs    []namedJob
	spec    string
	newCron func() *cron.Cron
	now     func() time.Time
	base    context.Context
	logger  *zap.Logger
}

// Option customises the Manager.
type Option func(*Manager)

// WithJob adds a job run at session start and on every tick.
func WithJob(name string, fn Job) Option {
	return func(m *Manager) {
		if fn != nil {
			m.jobs = append(m.jobs, namedJob{name: name, fn: fn})
		}
	}
}

// WithCron supplies the constructor for per-session schedulers.
func WithCron(fn func() *cron.Cron) Option {
	return func(m *Manager) {
		if fn != nil {
			m.newCron = fn
		}
	}
}

// WithNow overrides the clock handed to jobs.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithSchedule overrides the cron spec, "@hourly" by default.
func WithSchedule(spec string) Option {
	return func(m *Manager) {
		if spec != "" {
			m.spec = spec
		}
	}
}

// WithBaseContext sets the parent of every session context.
func WithBaseContext(ctx context.Context) Option {
	return func(m *Manager) {
		if ctx != nil {
			m.base = ctx
		}
	}
}

// NewManager creates a Manager with no active sessions.
func NewManager(logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		sessions: make(map[uuid.UUID]*session),
		spec:     defaultSpec,
		newCron: func() *cron.Cron {
			return cron.New(cron.WithLogger(cron.DiscardLogger))
		},
		now:    time.Now,
		base:   context.Background(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins a session for userID and runs its jobs once right away.
// It reports false when the session was already running.
func (m *Manager) Start(userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[userID]; ok {
		return false, nil
	}

	ctx, cancel := context.WithCancel(m.base)
	s := &session{cron: m.newCron(), cancel: cancel}

	if _, err := s.cron.AddFunc(m.spec, func() { m.tick(ctx, s, userID) }); err != nil {
		cancel()
		return false, fmt.Errorf("schedule session jobs: %w", err)
	}

	m.sessions[userID] = s
	s.cron.Start()
	metrics.SetActiveSessions(len(m.sessions))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		m.run(ctx, userID)
	}()

	m.logger.Info("session started", zap.String("user_id", userID.String()))
	return true, nil
}

func (m *Manager) tick(ctx context.Context, s *session, userID uuid.UUID) {
	s.wg.Add(1)
	defer s.wg.Done()
	m.run(ctx, userID)
}

func (m *Manager) run(ctx context.Context, userID uuid.UUID) {
	if err := m.RunOnce(ctx, userID); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Warn("session jobs failed",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
	}
}

// Stop ends the session, cancelling running jobs and waiting for them to
// return. It reports false when there was no session.
func (m *Manager) Stop(userID uuid.UUID) bool {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	if ok {
		delete(m.sessions, userID)
		metrics.SetActiveSessions(len(m.sessions))
	}
	m.mu.Unlock()

	if !ok {
		return false
	}

	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()

	m.logger.Info("session stopped", zap.String("user_id", userID.String()))
	return true
}

// StopAll ends every session.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]uuid.UUID, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Stop(id)
	}
}

// Active returns the number of running sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// IsActive reports whether userID has a running session.
func (m *Manager) IsActive(userID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[userID]
	return ok
}

// RunOnce executes every job for userID in order and returns their
// combined errors. A cancelled ctx stops before the next job.
func (m *Manager) RunOnce(ctx context.Context, userID uuid.UUID) error {
	var errs error

	for _, job := range m.jobs {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}

		err := job.fn(ctx, userID, m.now())
		metrics.RecordJobRun(job.name, err)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", job.name, err))
		}
	}

	return errs
}
