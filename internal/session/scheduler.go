package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultRefreshLead is how long before token expiry the proactive refresh
// fires.
const DefaultRefreshLead = 5 * time.Minute

// refreshRunner is the slice of the Manager the scheduler drives.
type refreshRunner interface {
	Refresh(ctx context.Context) (string, error)
	Terminate(ctx context.Context)
}

// Scheduler renews the access token shortly before it expires, independent
// of request traffic. It observes the credential store and keeps at most one
// armed timer: every token change cancels the previous timer before a new
// one is armed.
type Scheduler struct {
	runner refreshRunner
	clock  clockwork.Clock
	lead   time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	timer  clockwork.Timer
	closed bool
}

// SchedulerOption customizes a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock substitutes the wall clock, used by tests.
func WithClock(clock clockwork.Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = clock }
}

// WithLead overrides the renewal lead time.
func WithLead(lead time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.lead = lead }
}

// WithSchedulerLogger sets the scheduler's logger.
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = logger }
}

// NewScheduler creates a scheduler watching the given store. It re-arms on
// every access-token change until Close is called.
func NewScheduler(store *Store, runner refreshRunner, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		runner: runner,
		clock:  clockwork.NewRealClock(),
		lead:   DefaultRefreshLead,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	store.Subscribe(s.onTokenChange)
	return s
}

// onTokenChange cancels any armed timer and decides the next renewal.
func (s *Scheduler) onTokenChange(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.disarmLocked()

	if s.closed || snap.AccessToken == "" {
		return
	}

	expiry, err := tokenExpiry(snap.AccessToken)
	if err != nil {
		// Undecodable tokens get one immediate renewal attempt; the server
		// decides whether the session is still good.
		s.logger.Debug("could not decode token expiry, refreshing now", "error", err)
		go s.refreshNow()
		return
	}

	delay := expiry.Sub(s.clock.Now()) - s.lead
	if delay <= 0 {
		s.logger.Debug("token at or past renewal point, refreshing now", "expiry", expiry)
		go s.refreshNow()
		return
	}

	s.logger.Debug("armed proactive refresh", "in", delay, "expiry", expiry)
	s.timer = s.clock.AfterFunc(delay, s.refreshNow)
}

func (s *Scheduler) refreshNow() {
	ctx := context.Background()
	if _, err := s.runner.Refresh(ctx); err != nil {
		s.logger.Debug("proactive refresh failed", "error", err)
		s.runner.Terminate(ctx)
	}
}

// disarmLocked stops the armed timer, if any. Callers hold s.mu.
func (s *Scheduler) disarmLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Armed reports whether a renewal timer is currently armed.
func (s *Scheduler) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// Close cancels any armed timer and stops future arming.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.disarmLocked()
}
