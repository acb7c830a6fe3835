package authstate_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	chms "github.com/parishkit/chms-go"
	"github.com/parishkit/chms-go/authstate"
	"github.com/parishkit/chms-go/fake"
)

// stubAuth is a hand-rolled chms.AuthService whose behavior is set per test.
type stubAuth struct {
	mu sync.Mutex

	loginFn   func(ctx context.Context, email, password string) (*chms.LoginResult, error)
	refreshFn func(ctx context.Context) (*chms.Credential, error)
	statusFn  func(ctx context.Context) (chms.AuthStatus, error)
	currentFn func(ctx context.Context) (*chms.User, error)
	logoutErr error

	loginCalls   int
	refreshCalls int
	logoutCalls  int
}

func (s *stubAuth) Login(ctx context.Context, email, password string) (*chms.LoginResult, error) {
	s.mu.Lock()
	s.loginCalls++
	s.mu.Unlock()
	if s.loginFn == nil {
		return &chms.LoginResult{}, nil
	}
	return s.loginFn(ctx, email, password)
}

func (s *stubAuth) RefreshAccessToken(ctx context.Context) (*chms.Credential, error) {
	s.mu.Lock()
	s.refreshCalls++
	s.mu.Unlock()
	if s.refreshFn == nil {
		return nil, nil
	}
	return s.refreshFn(ctx)
}

func (s *stubAuth) CheckAuthStatus(ctx context.Context) (chms.AuthStatus, error) {
	if s.statusFn == nil {
		return chms.AuthStatus{}, nil
	}
	return s.statusFn(ctx)
}

func (s *stubAuth) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.logoutCalls++
	s.mu.Unlock()
	return s.logoutErr
}

func (s *stubAuth) CurrentUser(ctx context.Context) (*chms.User, error) {
	if s.currentFn == nil {
		return nil, nil
	}
	return s.currentFn(ctx)
}

func (s *stubAuth) UpdateStoredUser(context.Context, *chms.User) error { return nil }
func (s *stubAuth) Register(context.Context, chms.Registration) (*chms.Result, error) {
	return &chms.Result{Success: true}, nil
}
func (s *stubAuth) RegisterAdmin(context.Context, chms.Registration) (*chms.Result, error) {
	return &chms.Result{Success: true}, nil
}
func (s *stubAuth) VerifyEmail(context.Context, string, string) (*chms.Result, error) {
	return &chms.Result{Success: true}, nil
}
func (s *stubAuth) ResendVerification(context.Context, string) (*chms.Result, error) {
	return &chms.Result{Success: true}, nil
}
func (s *stubAuth) Profile(context.Context) (*chms.User, error) { return nil, nil }

func (s *stubAuth) counts() (login, refresh, logout int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginCalls, s.refreshCalls, s.logoutCalls
}

var _ chms.AuthService = (*stubAuth)(nil)

func testUser() *chms.User {
	return &chms.User{ID: "u1", FullName: "Jane", Email: "jane@parish.org", Role: chms.RoleUser}
}

// fastRetry keeps the backoff chain in the microsecond range.
func fastRetry() authstate.Option {
	return authstate.WithRetryPolicy(3, time.Millisecond, 5*time.Millisecond)
}

func startManager(t *testing.T, m *authstate.Manager) {
	t.Helper()
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	t.Cleanup(m.Stop)
}

func TestBootstrap_NoCachedSession(t *testing.T) {
	m := authstate.New(&stubAuth{}, fake.NewConnectivity(true), fastRetry())

	if !m.Snapshot().IsLoading {
		t.Error("state should be loading before Start")
	}
	startManager(t, m)

	st := m.Snapshot()
	if st.IsLoading {
		t.Error("still loading after bootstrap")
	}
	if st.IsAuthenticated || st.User != nil {
		t.Errorf("state = %+v, want signed out", st)
	}
}

func TestBootstrap_ValidSession(t *testing.T) {
	auth := &stubAuth{
		currentFn: func(context.Context) (*chms.User, error) { return testUser(), nil },
		statusFn: func(context.Context) (chms.AuthStatus, error) {
			return chms.AuthStatus{IsValid: true, TimeUntilExpiry: time.Hour}, nil
		},
	}
	m := authstate.New(auth, fake.NewConnectivity(true), fastRetry())
	startManager(t, m)

	st := m.Snapshot()
	if !st.IsAuthenticated || st.User == nil || st.User.ID != "u1" {
		t.Errorf("state = %+v, want authenticated as u1", st)
	}
	if _, refreshes, _ := auth.counts(); refreshes != 0 {
		t.Errorf("refresh called %d times for a fresh credential", refreshes)
	}
}

func TestBootstrap_NearExpiryRefreshesEagerly(t *testing.T) {
	auth := &stubAuth{
		currentFn: func(context.Context) (*chms.User, error) { return testUser(), nil },
		statusFn: func(context.Context) (chms.AuthStatus, error) {
			return chms.AuthStatus{IsValid: true, NeedsRefresh: true, TimeUntilExpiry: time.Minute}, nil
		},
		refreshFn: func(context.Context) (*chms.Credential, error) {
			return &chms.Credential{AccessToken: "new", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	m := authstate.New(auth, fake.NewConnectivity(true), fastRetry())
	startManager(t, m)

	if !m.Snapshot().IsAuthenticated {
		t.Error("should stay authenticated through eager refresh")
	}
	if _, refreshes, _ := auth.counts(); refreshes != 1 {
		t.Errorf("refresh called %d times, want 1", refreshes)
	}
}

func TestBootstrap_ExpiredOfflineLeavesSessionRecoverable(t *testing.T) {
	auth := &stubAuth{
		currentFn: func(context.Context) (*chms.User, error) { return testUser(), nil },
		statusFn: func(context.Context) (chms.AuthStatus, error) {
			return chms.AuthStatus{}, nil
		},
	}
	m := authstate.New(auth, fake.NewConnectivity(false), fastRetry())
	startManager(t, m)

	st := m.Snapshot()
	if st.IsAuthenticated {
		t.Error("expired credential must not authenticate")
	}
	login, refreshes, logouts := auth.counts()
	if login != 0 || refreshes != 0 || logouts != 0 {
		t.Errorf("offline bootstrap made network calls: login=%d refresh=%d logout=%d",
			login, refreshes, logouts)
	}
}

func TestBootstrap_ExpiredOnlineRefreshRecovers(t *testing.T) {
	auth := &stubAuth{
		currentFn: func(context.Context) (*chms.User, error) { return testUser(), nil },
		statusFn: func(context.Context) (chms.AuthStatus, error) {
			return chms.AuthStatus{}, nil
		},
		refreshFn: func(context.Context) (*chms.Credential, error) {
			return &chms.Credential{AccessToken: "new", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	m := authstate.New(auth, fake.NewConnectivity(true), fastRetry())
	startManager(t, m)

	if !m.Snapshot().IsAuthenticated {
		t.Error("successful refresh should resurrect the session")
	}
}

func TestLogin_OfflineRejectsWithoutNetworkCall(t *testing.T) {
	auth := &stubAuth{}
	m := authstate.New(auth, fake.NewConnectivity(false), fastRetry())
	startManager(t, m)

	res := m.Login(context.Background(), "jane@parish.org", "pw")
	if res.Success {
		t.Fatal("offline login succeeded")
	}
	if res.Message != "No internet connection" {
		t.Errorf("Message = %q", res.Message)
	}
	if logins, _, _ := auth.counts(); logins != 0 {
		t.Errorf("login endpoint called %d times while offline", logins)
	}
}

func TestLogin_Success(t *testing.T) {
	auth := &stubAuth{
		loginFn: func(context.Context, string, string) (*chms.LoginResult, error) {
			return &chms.LoginResult{Success: true, Message: "Login successful", User: testUser()}, nil
		},
	}
	m := authstate.New(auth, fake.NewConnectivity(true), fastRetry())
	startManager(t, m)

	res := m.Login(context.Background(), "jane@parish.org", "pw")
	if !res.Success {
		t.Fatalf("Login failed: %s", res.Message)
	}

	st := m.Snapshot()
	if !st.IsAuthenticated || st.User == nil || st.User.ID != "u1" {
		t.Errorf("state = %+v, want authenticated as u1", st)
	}
	if st.IsLoading {
		t.Error("loading flag stuck after login")
	}
}

func TestLogin_FailureResetsState(t *testing.T) {
	auth := &stubAuth{
		loginFn: func(context.Context, string, string) (*chms.LoginResult, error) {
			return &chms.LoginResult{Message: "Invalid email or password"}, nil
		},
	}
	m := authstate.New(auth, fake.NewConnectivity(true), fastRetry())
	startManager(t, m)

	res := m.Login(context.Background(), "jane@parish.org", "wrong")
	if res.Success {
		t.Fatal("failed login reported success")
	}
	if res.Message != "Invalid email or password" {
		t.Errorf("Message = %q", res.Message)
	}
	if st := m.Snapshot(); st.IsAuthenticated || st.User != nil {
		t.Errorf("state = %+v, want signed out after failure", st)
	}
}

func TestLogin_EmptyMessageGetsFallback(t *testing.T) {
	auth := &stubAuth{
		loginFn: func(context.Context, string, string) (*chms.LoginResult, error) {
			return nil, errors.New("wire decode failed")
		},
	}
	m := authstate.New(auth, fake.NewConnectivity(true), fastRetry())
	startManager(t, m)

	res := m.Login(context.Background(), "jane@parish.org", "pw")
	if res.Success || res.Message == "" {
		t.Errorf("result = %+v, want failure with fallback message", res)
	}
}

func TestRefreshExhaustion_ForcesLogoutAndOneNotice(t *testing.T) {
	auth := &stubAuth{
		currentFn: func(context.Context) (*chms.User, error) { return testUser(), nil },
		statusFn: func(context.Context) (chms.AuthStatus, error) {
			return chms.AuthStatus{IsValid: true, NeedsRefresh: true, TimeUntilExpiry: time.Minute}, nil
		},
		refreshFn: func(context.Context) (*chms.Credential, error) { return nil, nil },
	}
	m := authstate.New(auth, fake.NewConnectivity(true), fastRetry())

	var mu sync.Mutex
	var notices []authstate.Notice
	m.OnNotice(func(n authstate.Notice) {
		mu.Lock()
		notices = append(notices, n)
		mu.Unlock()
	})

	startManager(t, m)

	if _, refreshes, _ := auth.counts(); refreshes != 3 {
		t.Errorf("refresh attempted %d times, want 3", refreshes)
	}
	if _, _, logouts := auth.counts(); logouts != 1 {
		t.Errorf("logout called %d times, want 1", logouts)
	}
	if st := m.Snapshot(); st.IsAuthenticated {
		t.Error("still authenticated after exhausted refresh")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(notices) != 1 {
		t.Fatalf("got %d notices, want exactly 1", len(notices))
	}
	if notices[0].Message != "Session expired. Please login again." {
		t.Errorf("notice = %q", notices[0].Message)
	}
}

func TestRefresh_GoingOfflineAbortsWithoutLogout(t *testing.T) {
	conn := fake.NewConnectivity(true)
	auth := &stubAuth{
		currentFn: func(context.Context) (*chms.User, error) { return testUser(), nil },
		statusFn: func(context.Context) (chms.AuthStatus, error) {
			return chms.AuthStatus{IsValid: true, NeedsRefresh: true, TimeUntilExpiry: time.Minute}, nil
		},
	}
	auth.refreshFn = func(context.Context) (*chms.Credential, error) {
		// Connection drops mid-attempt; the next attempt must abort the chain.
		conn.SetOnline(false)
		return nil, nil
	}
	m := authstate.New(auth, conn, fastRetry())

	noticed := 0
	m.OnNotice(func(authstate.Notice) { noticed++ })
	startManager(t, m)

	if _, refreshes, _ := auth.counts(); refreshes != 1 {
		t.Errorf("refresh attempted %d times, want 1 before the offline abort", refreshes)
	}
	if _, _, logouts := auth.counts(); logouts != 0 {
		t.Errorf("logout called %d times during offline abort, want 0", logouts)
	}
	if !m.Snapshot().IsAuthenticated {
		t.Error("offline abort must not tear the session down")
	}
	if noticed != 0 {
		t.Errorf("got %d notices during offline abort, want 0", noticed)
	}
}

func TestLogout_AlwaysCompletes(t *testing.T) {
	auth := &stubAuth{
		loginFn: func(context.Context, string, string) (*chms.LoginResult, error) {
			return &chms.LoginResult{Success: true, User: testUser()}, nil
		},
		logoutErr: errors.New("remote logout unreachable"),
	}
	m := authstate.New(auth, fake.NewConnectivity(true), fastRetry())
	startManager(t, m)

	m.Login(context.Background(), "jane@parish.org", "pw")
	m.Logout(context.Background())

	st := m.Snapshot()
	if st.IsAuthenticated || st.User != nil || st.IsLoading {
		t.Errorf("state = %+v, want fully signed out", st)
	}
}

func TestSessionExpired_TearsDownAndNotifies(t *testing.T) {
	auth := &stubAuth{
		loginFn: func(context.Context, string, string) (*chms.LoginResult, error) {
			return &chms.LoginResult{Success: true, User: testUser()}, nil
		},
	}
	m := authstate.New(auth, fake.NewConnectivity(true), fastRetry())
	startManager(t, m)
	m.Login(context.Background(), "jane@parish.org", "pw")

	noticed := 0
	m.OnNotice(func(authstate.Notice) { noticed++ })

	m.SessionExpired(context.Background())

	if m.Snapshot().IsAuthenticated {
		t.Error("still authenticated after session expiry")
	}
	if noticed != 1 {
		t.Errorf("got %d notices, want 1", noticed)
	}
}

func TestSubscribe_NotifiesAndUnsubscribes(t *testing.T) {
	auth := &stubAuth{
		loginFn: func(context.Context, string, string) (*chms.LoginResult, error) {
			return &chms.LoginResult{Success: true, User: testUser()}, nil
		},
	}
	m := authstate.New(auth, fake.NewConnectivity(true), fastRetry())
	startManager(t, m)

	var mu sync.Mutex
	seen := 0
	unsub := m.Subscribe(func(authstate.State) {
		mu.Lock()
		seen++
		mu.Unlock()
	})

	m.Login(context.Background(), "jane@parish.org", "pw")
	mu.Lock()
	afterLogin := seen
	mu.Unlock()
	if afterLogin == 0 {
		t.Fatal("subscriber never notified")
	}

	unsub()
	m.Logout(context.Background())
	mu.Lock()
	defer mu.Unlock()
	if seen != afterLogin {
		t.Errorf("subscriber notified %d more times after unsubscribe", seen-afterLogin)
	}
}

func TestPeriodicCheck_RefreshesNearExpiry(t *testing.T) {
	auth := &stubAuth{
		currentFn: func(context.Context) (*chms.User, error) { return testUser(), nil },
		statusFn: func(context.Context) (chms.AuthStatus, error) {
			return chms.AuthStatus{IsValid: true, NeedsRefresh: true, TimeUntilExpiry: time.Minute}, nil
		},
		refreshFn: func(context.Context) (*chms.Credential, error) {
			return &chms.Credential{AccessToken: "new", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	m := authstate.New(auth, fake.NewConnectivity(true), fastRetry(),
		authstate.WithCheckInterval(5*time.Millisecond))
	startManager(t, m)

	// Bootstrap refreshes once; the ticker must fire at least one more.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, refreshes, _ := auth.counts(); refreshes >= 2 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	_, refreshes, _ := auth.counts()
	t.Fatalf("refresh count = %d, want at least 2 (bootstrap + tick)", refreshes)
}
