// Package authstate holds the process-wide authentication state and
// orchestrates the session lifecycle: startup bootstrap, periodic validity
// checks, bounded refresh retries, and the logout cascade.
//
// The manager is the single source of truth for UI-visible auth state. It
// never touches the store directly; all storage mutation flows through the
// injected chms.AuthService.
package authstate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	chms "github.com/parishkit/chms-go"
	"github.com/parishkit/chms-go/apierr"
	"github.com/parishkit/chms-go/audit"
	"github.com/parishkit/chms-go/metrics"
)

// State is the UI-visible snapshot of the session.
// IsAuthenticated implies User is non-nil; both flip together under one lock
// so no observer ever sees an inconsistent pair.
type State struct {
	IsAuthenticated   bool
	User              *chms.User
	IsLoading         bool
	IsTokenRefreshing bool
}

// Notice is a user-facing message pushed by the manager, e.g. the
// session-expired notice after refresh exhaustion.
type Notice struct {
	Message string
}

// Defaults for the refresh retry policy and validity checks.
const (
	DefaultCheckInterval = 5 * time.Minute
	DefaultRetryBase     = 1 * time.Second
	DefaultRetryCap      = 30 * time.Second
	DefaultMaxAttempts   = 3
)

var errRefreshFailed = errors.New("authstate: refresh attempt failed")

// Manager owns the in-memory auth state.
type Manager struct {
	auth    chms.AuthService
	net     chms.Connectivity
	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   *audit.Logger

	checkInterval time.Duration
	retryBase     time.Duration
	retryCap      time.Duration
	maxAttempts   uint64

	mu        sync.RWMutex
	state     State
	subs      map[int]func(State)
	nextSub   int
	noticeFns []func(Notice)

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures the Manager.
type Option func(*Manager)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithCheckInterval sets how often an authenticated session re-checks
// credential validity.
func WithCheckInterval(d time.Duration) Option {
	return func(m *Manager) { m.checkInterval = d }
}

// WithRetryPolicy sets the refresh retry bounds: attempts total, base delay
// (doubling per attempt with jitter), and the delay cap.
func WithRetryPolicy(attempts uint64, base, ceiling time.Duration) Option {
	return func(m *Manager) {
		m.maxAttempts = attempts
		m.retryBase = base
		m.retryCap = ceiling
	}
}

// WithMetrics enables instrumentation.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mx }
}

// WithAudit attaches an audit logger.
func WithAudit(a *audit.Logger) Option {
	return func(m *Manager) { m.audit = a }
}

// New creates a manager. Call Start to bootstrap from the store and begin
// the periodic validity checks.
func New(auth chms.AuthService, net chms.Connectivity, opts ...Option) *Manager {
	m := &Manager{
		auth:          auth,
		net:           net,
		logger:        slog.Default(),
		checkInterval: DefaultCheckInterval,
		retryBase:     DefaultRetryBase,
		retryCap:      DefaultRetryCap,
		maxAttempts:   DefaultMaxAttempts,
		subs:          make(map[int]func(State)),
		done:          make(chan struct{}),
		state:         State{IsLoading: true},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Snapshot returns the current state.
func (m *Manager) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Subscribe registers a callback invoked after every state change.
// The returned function unsubscribes.
func (m *Manager) Subscribe(fn func(State)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// OnNotice registers a callback for user-facing notices.
func (m *Manager) OnNotice(fn func(Notice)) {
	m.mu.Lock()
	m.noticeFns = append(m.noticeFns, fn)
	m.mu.Unlock()
}

// setState mutates the state under the lock and notifies subscribers with a
// consistent snapshot taken inside the critical section.
func (m *Manager) setState(mutate func(*State)) {
	m.mu.Lock()
	mutate(&m.state)
	st := m.state
	subs := make([]func(State), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(st)
	}
}

func (m *Manager) emitNotice(n Notice) {
	m.mu.RLock()
	fns := make([]func(Notice), len(m.noticeFns))
	copy(fns, m.noticeFns)
	m.mu.RUnlock()
	for _, fn := range fns {
		fn(n)
	}
}

// Start bootstraps the state from the store and launches the periodic
// validity checker. It returns once bootstrap has settled; the checker runs
// until Stop or ctx cancellation.
func (m *Manager) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.bootstrap(runCtx)

	go m.run(runCtx)
	return nil
}

// Stop halts the periodic checker. The state itself is left as-is.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

func (m *Manager) bootstrap(ctx context.Context) {
	defer m.setState(func(s *State) { s.IsLoading = false })

	user, err := m.auth.CurrentUser(ctx)
	if err != nil || user == nil {
		// No cached session (or unreadable cache, which counts as none).
		if err != nil {
			m.logger.Warn("authstate: cached user unavailable", "err", err)
		}
		return
	}

	status, err := m.auth.CheckAuthStatus(ctx)
	if err != nil {
		m.logger.Warn("authstate: status check failed during bootstrap", "err", err)
		return
	}

	if status.IsValid {
		m.setState(func(s *State) {
			s.User = user
			s.IsAuthenticated = true
		})
		if status.NeedsRefresh {
			m.refreshNow(ctx, "bootstrap")
		}
		return
	}

	// Expired credential: only a refresh can resurrect it, and only online.
	if !m.net.Online(ctx) {
		// Leave the store intact; the next online check can still refresh.
		return
	}
	if err := m.refreshWithRetry(ctx); err != nil {
		m.logger.Info("authstate: bootstrap refresh failed", "err", err)
		return
	}
	m.setState(func(s *State) {
		s.User = user
		s.IsAuthenticated = true
	})
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Manager) tick(ctx context.Context) {
	if !m.Snapshot().IsAuthenticated || !m.net.Online(ctx) {
		return
	}

	status, err := m.auth.CheckAuthStatus(ctx)
	if err != nil {
		m.logger.Warn("authstate: periodic status check failed", "err", err)
		return
	}
	if status.IsValid && !status.NeedsRefresh {
		return
	}
	m.refreshNow(ctx, "scheduled")
}

// refreshNow runs the bounded-retry refresh, forcing logout and surfacing the
// session-expired notice exactly once if all attempts are exhausted.
func (m *Manager) refreshNow(ctx context.Context, reason string) {
	m.setState(func(s *State) { s.IsTokenRefreshing = true })
	defer m.setState(func(s *State) { s.IsTokenRefreshing = false })

	err := m.refreshWithRetry(ctx)
	if err == nil {
		m.metrics.RecordRefresh("success", reason)
		return
	}
	if errors.Is(err, apierr.ErrOffline) {
		// Went offline mid-chain: abort without consuming the session.
		return
	}

	m.metrics.RecordRefresh("exhausted", reason)
	m.audit.Log(audit.Event{Action: audit.ActionRefresh, Result: audit.ResultFailure, Details: "retries exhausted"})
	m.forceLogout(ctx)
	m.emitNotice(Notice{Message: apierr.MsgSessionExpired})
}

// refreshWithRetry attempts the refresh up to maxAttempts times with
// exponential backoff and jitter. Going offline aborts immediately with
// apierr.ErrOffline rather than counting as a failed attempt.
func (m *Manager) refreshWithRetry(ctx context.Context) error {
	b := retry.NewExponential(m.retryBase)
	b = retry.WithJitter(m.retryBase/2, b)
	b = retry.WithCappedDuration(m.retryCap, b)
	b = retry.WithMaxRetries(m.maxAttempts-1, b)

	return retry.Do(ctx, b, func(ctx context.Context) error {
		if !m.net.Online(ctx) {
			return apierr.ErrOffline
		}
		cred, err := m.auth.RefreshAccessToken(ctx)
		if err != nil {
			return retry.RetryableError(err)
		}
		if cred == nil {
			return retry.RetryableError(errRefreshFailed)
		}
		return nil
	})
}

// Login authenticates and updates the in-memory state in the same turn as the
// underlying store write. Rejects immediately while offline, without any
// network call.
func (m *Manager) Login(ctx context.Context, email, password string) chms.Result {
	if !m.net.Online(ctx) {
		m.metrics.RecordLogin("offline")
		return chms.Result{Message: apierr.MsgOffline}
	}

	m.setState(func(s *State) { s.IsLoading = true })
	defer m.setState(func(s *State) { s.IsLoading = false })

	res, err := m.auth.Login(ctx, email, password)
	if err != nil || res == nil || !res.Success {
		// Guarantee no stale partial state survives a failed attempt.
		m.setState(func(s *State) {
			s.User = nil
			s.IsAuthenticated = false
		})
		msg := "Login failed. Please try again."
		if res != nil && res.Message != "" {
			msg = res.Message
		}
		return chms.Result{Message: msg}
	}

	m.setState(func(s *State) {
		s.User = res.User
		s.IsAuthenticated = true
	})
	return chms.Result{Success: true, Message: res.Message}
}

// Logout clears the session and the state. It never reports an error to the
// caller: local teardown always completes even when the remote call fails.
func (m *Manager) Logout(ctx context.Context) {
	m.setState(func(s *State) { s.IsLoading = true })
	if err := m.auth.Logout(ctx); err != nil {
		m.logger.Warn("authstate: logout cleanup reported", "err", err)
	}
	m.setState(func(s *State) {
		s.User = nil
		s.IsAuthenticated = false
		s.IsLoading = false
	})
}

// SessionExpired tears down the state after an unrecoverable 401 reported by
// the HTTP layer. Wire it via session.WithSessionExpiredHook.
func (m *Manager) SessionExpired(ctx context.Context) {
	m.forceLogout(ctx)
	m.emitNotice(Notice{Message: apierr.MsgSessionExpired})
}

func (m *Manager) forceLogout(ctx context.Context) {
	if err := m.auth.Logout(ctx); err != nil {
		m.logger.Warn("authstate: forced logout cleanup reported", "err", err)
	}
	m.setState(func(s *State) {
		s.User = nil
		s.IsAuthenticated = false
	})
}
