// Package refresher renews the session's access token before it expires.
// It is an explicit state machine so the "no overlapping refresh" invariant
// is testable in isolation.
package refresher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"avanza/internal/platform/metrics"
	dErrors "avanza/pkg/domainerrors"
)

// State is the scheduler's lifecycle state for one session instance.
type State int

const (
	// StateIdle means no session is active and no timer is armed.
	StateIdle State = iota
	// StateScheduled means the timer is armed and waiting for the next tick.
	StateScheduled
	// StateRefreshing means a refresh call is in flight.
	StateRefreshing
	// StateLoggedOut is terminal for this session instance: an
	// irrecoverable refresh failure forced a logout.
	StateLoggedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateRefreshing:
		return "refreshing"
	case StateLoggedOut:
		return "logged_out"
	}
	return "unknown"
}

// RefreshFunc performs one credential refresh. It returns a domain error on
// failure; CodeExpiredRefreshToken is the terminal signal.
type RefreshFunc func(ctx context.Context) error

// LogoutFunc is invoked exactly once when refresh fails irrecoverably.
type LogoutFunc func(ctx context.Context, cause error)

// Refresher drives periodic refreshes for a single active session.
type Refresher struct {
	interval time.Duration
	refresh  RefreshFunc
	onForced LogoutFunc
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
	forced bool
	// gen identifies the session instance the scheduler is armed for.
	// Start and Stop bump it; a refresh outcome whose generation no longer
	// matches belongs to a torn-down session and is discarded.
	gen uint64
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithInterval overrides the tick interval when greater than zero. It must
// stay shorter than the access token lifetime.
func WithInterval(interval time.Duration) Option {
	return func(r *Refresher) {
		if interval > 0 {
			r.interval = interval
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Refresher) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics wires refresh outcome metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Refresher) {
		r.metrics = m
	}
}

// New constructs an idle Refresher.
func New(refresh RefreshFunc, onForced LogoutFunc, opts ...Option) *Refresher {
	r := &Refresher{
		interval: 8 * time.Minute,
		refresh:  refresh,
		onForced: onForced,
		logger:   slog.Default(),
		state:    StateIdle,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// State returns the current scheduler state.
func (r *Refresher) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start arms the timer: Idle -> Scheduled. LoggedOut is terminal only for
// the session instance that reached it; a new login re-arms the scheduler
// from there. Starting an already-armed refresher is a no-op.
func (r *Refresher) Start(ctx context.Context) {
	r.mu.Lock()
	if r.state == StateScheduled || r.state == StateRefreshing {
		r.mu.Unlock()
		return
	}
	r.state = StateScheduled
	r.forced = false
	r.gen++
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	go r.run(ctx, done)
}

// Stop disarms the timer deterministically: Scheduled/Refreshing -> Idle.
// Used on explicit logout and on teardown; an in-flight refresh finishes but
// its outcome can no longer force a logout.
func (r *Refresher) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.cancel = nil
	r.done = nil
	r.gen++
	if r.state != StateLoggedOut {
		r.state = StateIdle
	}
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	r.mu.Lock()
	r.state = StateIdle
	r.mu.Unlock()
}

func (r *Refresher) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if terminal := r.tick(ctx); terminal {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// tick performs one scheduled refresh. A tick that fires while a refresh is
// already in progress is a no-op, not queued. Returns true when the session
// reached the terminal logged-out state.
func (r *Refresher) tick(ctx context.Context) bool {
	gen, ok := r.begin()
	if !ok {
		if r.metrics != nil {
			r.metrics.IncrementRefreshSkipped()
		}
		return false
	}
	return r.finish(ctx, r.refresh(ctx), gen)
}

// RefreshNow triggers a user-initiated refresh with the same effect as a
// scheduler tick. If a refresh is already in flight it is a no-op and
// reports started=false.
func (r *Refresher) RefreshNow(ctx context.Context) (started bool, err error) {
	gen, ok := r.begin()
	if !ok {
		if r.metrics != nil {
			r.metrics.IncrementRefreshSkipped()
		}
		return false, nil
	}
	err = r.refresh(ctx)
	r.finish(ctx, err, gen)
	return true, err
}

// begin transitions Scheduled -> Refreshing. It is the reentrancy guard:
// only one refresh may be in flight at a time. The returned generation pins
// the outcome to the session instance that started the refresh.
func (r *Refresher) begin() (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateScheduled {
		return 0, false
	}
	r.state = StateRefreshing
	return r.gen, true
}

// finish applies the refresh outcome. Success re-arms the schedule. A
// retryable failure waits for the next tick; there is no in-tick retry.
// An expired refresh token is terminal: force logout exactly once. An
// outcome whose generation no longer matches arrived after Stop or a
// restart; it is discarded without touching state or firing hooks.
func (r *Refresher) finish(ctx context.Context, err error, gen uint64) (terminal bool) {
	if err == nil {
		if r.metrics != nil {
			r.metrics.IncrementRefresh("success")
		}
		return !r.rearm(gen)
	}

	if dErrors.Retryable(err) {
		if r.metrics != nil {
			r.metrics.IncrementRefresh("retryable_failure")
		}
		r.logger.WarnContext(ctx, "session refresh failed, will retry on next tick", "error", err)
		return !r.rearm(gen)
	}

	if r.metrics != nil {
		r.metrics.IncrementRefresh("terminal_failure")
	}

	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return true
	}
	alreadyForced := r.forced
	r.forced = true
	r.state = StateLoggedOut
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !alreadyForced && r.onForced != nil {
		r.logger.ErrorContext(ctx, "refresh token expired, forcing logout", "error", err)
		r.onForced(ctx, err)
	}
	return true
}

// rearm returns to Scheduled if the refresh still belongs to the current
// session instance.
func (r *Refresher) rearm(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen {
		return false
	}
	r.state = StateScheduled
	return true
}
