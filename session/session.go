// Package session implements the REST authentication service and owns the
// token lifecycle: every write to the session keys in the store happens here.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	chms "github.com/parishkit/chms-go"
	"github.com/parishkit/chms-go/apierr"
	"github.com/parishkit/chms-go/audit"
	"github.com/parishkit/chms-go/metrics"
	"github.com/parishkit/chms-go/rest"
)

// FallbackTTL is the credential lifetime assumed when the server provides
// neither sessionExpiry nor expiresIn and the access token carries no
// readable exp claim.
const FallbackTTL = 2 * time.Hour

// RefreshWindow is how close to expiry a valid credential is reported as
// needing refresh.
const RefreshWindow = 5 * time.Minute

// Config holds session service configuration.
type Config struct {
	// BaseURL is the backend API address.
	BaseURL string

	// RequestTimeout bounds each HTTP call. Default: chms.DefaultRequestTimeout.
	RequestTimeout time.Duration
}

// Service implements chms.AuthService over the backend REST contract.
type Service struct {
	cfg     Config
	store   chms.Store
	rest    *rest.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   *audit.Logger

	// Concurrent 401s share one in-flight refresh instead of racing
	// redundant refresh-token exchanges.
	sf singleflight.Group

	expiredHook func(ctx context.Context)
}

// compile-time check
var _ chms.AuthService = (*Service)(nil)

// Option configures the Service.
type Option func(*Service)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics enables instrumentation of session operations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAudit attaches an audit logger for session events.
func WithAudit(a *audit.Logger) Option {
	return func(s *Service) { s.audit = a }
}

// WithSessionExpiredHook sets a callback invoked when a request fails with an
// unrecoverable 401 and the session has been cleared.
func WithSessionExpiredHook(fn func(ctx context.Context)) Option {
	return func(s *Service) { s.expiredHook = fn }
}

// New creates the session service. The service constructs and owns the shared
// HTTP client; other services reuse it via HTTP().
func New(cfg Config, st chms.Store, opts ...Option) *Service {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = chms.DefaultRequestTimeout
	}

	s := &Service{cfg: cfg, store: st, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}

	s.rest = rest.New(cfg.BaseURL, st,
		rest.WithLogger(s.logger),
		rest.WithMetrics(s.metrics),
		rest.WithTimeout(cfg.RequestTimeout),
	)
	s.rest.Bind(s.refreshForRetry, s.onSessionExpired)
	return s
}

// HTTP returns the shared authenticated HTTP client for sibling services.
func (s *Service) HTTP() *rest.Client { return s.rest }

type loginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenData struct {
	AccessToken   string          `json:"accessToken"`
	RefreshToken  string          `json:"refreshToken"`
	ExpiresIn     int64           `json:"expiresIn,omitempty"`
	SessionExpiry string          `json:"sessionExpiry,omitempty"`
	User          json.RawMessage `json:"user,omitempty"`
}

// Login authenticates with email and password. On success the credential and
// sanitized user are persisted as one atomic batch before the result is
// returned, so a concurrent bootstrap read never sees partial state.
func (s *Service) Login(ctx context.Context, email, password string) (*chms.LoginResult, error) {
	env, err := s.rest.DoNoRetry(ctx, http.MethodPost, "/api/auth/login", loginPayload{Email: email, Password: password})
	if err != nil {
		s.metrics.RecordLogin("failure")
		s.audit.Log(audit.Event{Action: audit.ActionLogin, Result: audit.ResultFailure, Email: email, Error: apierr.Message(err)})
		return &chms.LoginResult{Message: apierr.Message(err)}, nil
	}
	if !env.OK() || len(env.Data) == 0 {
		msg := env.DisplayMessage()
		if msg == "" {
			msg = "Authentication failed"
		}
		s.metrics.RecordLogin("failure")
		s.audit.Log(audit.Event{Action: audit.ActionLogin, Result: audit.ResultFailure, Email: email, Error: msg})
		return &chms.LoginResult{Message: msg}, nil
	}

	var data tokenData
	if err := env.DecodeData(&data); err != nil {
		s.metrics.RecordLogin("failure")
		return &chms.LoginResult{Message: apierr.MsgGeneric}, nil
	}

	// Decoding into chms.User drops any password field a raw payload might
	// carry; only the sanitized record is ever persisted.
	user := &chms.User{}
	if len(data.User) > 0 {
		if err := json.Unmarshal(data.User, user); err != nil {
			s.logger.Warn("session: malformed user payload", "err", err)
			return &chms.LoginResult{Message: apierr.MsgGeneric}, nil
		}
	}

	expiry := s.deriveExpiry(data)
	if err := s.persistSession(ctx, data.AccessToken, data.RefreshToken, expiry, user); err != nil {
		s.metrics.RecordLogin("failure")
		return &chms.LoginResult{Message: apierr.Message(err)}, nil
	}

	s.metrics.RecordLogin("success")
	s.audit.Log(audit.Event{Action: audit.ActionLogin, Result: audit.ResultSuccess, UserID: user.ID, Email: email})
	return &chms.LoginResult{
		Success: true,
		Message: "Login successful",
		Tokens: &chms.Credential{
			AccessToken:  data.AccessToken,
			RefreshToken: data.RefreshToken,
			ExpiresAt:    expiry,
		},
		User:                 user,
		RequiresVerification: user.Status == chms.StatusPending,
	}, nil
}

// RefreshAccessToken exchanges the stored refresh token for a new credential.
// Concurrent callers share a single in-flight exchange. Any failure is
// terminal for the current session: the store is cleared and (nil, nil)
// returned. Retry policy belongs to the auth-state manager, not here.
func (s *Service) RefreshAccessToken(ctx context.Context) (*chms.Credential, error) {
	v, err, _ := s.sf.Do("refresh", func() (any, error) {
		return s.doRefresh(ctx), nil
	})
	if err != nil {
		return nil, err
	}
	cred, _ := v.(*chms.Credential)
	return cred, nil
}

func (s *Service) doRefresh(ctx context.Context) *chms.Credential {
	refreshToken, err := s.store.Get(ctx, chms.KeyRefreshToken)
	if err != nil {
		s.logger.Warn("session: refresh token read failed", "err", err)
		return nil
	}
	if refreshToken == "" {
		// Nothing to refresh; not an error.
		return nil
	}

	env, err := s.rest.DoNoRetry(ctx, http.MethodPost, "/api/auth/refresh-token",
		map[string]string{"refreshToken": refreshToken})
	if err != nil || !env.OK() || len(env.Data) == 0 {
		s.metrics.RecordRefresh("failure", "exchange")
		s.audit.Log(audit.Event{Action: audit.ActionRefresh, Result: audit.ResultFailure})
		s.clearLocal(ctx)
		return nil
	}

	var data tokenData
	if err := env.DecodeData(&data); err != nil || data.AccessToken == "" {
		s.metrics.RecordRefresh("failure", "exchange")
		s.clearLocal(ctx)
		return nil
	}

	expiry := s.deriveExpiry(data)
	err = s.store.SetMulti(ctx, map[string]string{
		chms.KeyAuthToken:    data.AccessToken,
		chms.KeyRefreshToken: data.RefreshToken,
		chms.KeyTokenExpiry:  expiry.Format(time.RFC3339),
	})
	if err != nil {
		s.logger.Warn("session: persisting refreshed tokens failed", "err", err)
		s.clearLocal(ctx)
		return nil
	}

	s.metrics.RecordRefresh("success", "exchange")
	s.audit.Log(audit.Event{Action: audit.ActionRefresh, Result: audit.ResultSuccess})
	return &chms.Credential{
		AccessToken:  data.AccessToken,
		RefreshToken: data.RefreshToken,
		ExpiresAt:    expiry,
	}
}

// refreshForRetry adapts RefreshAccessToken to the rest.Refresher shape used
// by the 401 replay flow.
func (s *Service) refreshForRetry(ctx context.Context) (string, error) {
	cred, err := s.RefreshAccessToken(ctx)
	if err != nil || cred == nil {
		return "", err
	}
	return cred.AccessToken, nil
}

func (s *Service) onSessionExpired(ctx context.Context) {
	if s.expiredHook != nil {
		s.expiredHook(ctx)
	}
}

// CheckAuthStatus inspects the stored credential. Pure store read: no network
// call and no mutation.
func (s *Service) CheckAuthStatus(ctx context.Context) (chms.AuthStatus, error) {
	token, err := s.store.Get(ctx, chms.KeyAuthToken)
	if err != nil {
		return chms.AuthStatus{}, fmt.Errorf("%w: %v", apierr.ErrStorage, err)
	}
	refreshToken, err := s.store.Get(ctx, chms.KeyRefreshToken)
	if err != nil {
		return chms.AuthStatus{}, fmt.Errorf("%w: %v", apierr.ErrStorage, err)
	}
	expiryRaw, err := s.store.Get(ctx, chms.KeyTokenExpiry)
	if err != nil {
		return chms.AuthStatus{}, fmt.Errorf("%w: %v", apierr.ErrStorage, err)
	}

	if token == "" || refreshToken == "" || expiryRaw == "" {
		return chms.AuthStatus{}, nil
	}

	expiry, err := time.Parse(time.RFC3339, expiryRaw)
	if err != nil {
		// Corrupt expiry is equivalent to no session.
		s.logger.Warn("session: unparseable stored expiry", "value", expiryRaw)
		return chms.AuthStatus{}, nil
	}

	remaining := time.Until(expiry)
	if remaining <= 0 {
		return chms.AuthStatus{}, nil
	}
	return chms.AuthStatus{
		IsValid:         true,
		NeedsRefresh:    remaining < RefreshWindow,
		TimeUntilExpiry: remaining,
	}, nil
}

// Logout clears the session. The remote call is best-effort: its failure is
// logged and swallowed, local cleanup always runs.
func (s *Service) Logout(ctx context.Context) error {
	token, _ := s.store.Get(ctx, chms.KeyAuthToken)
	if token != "" {
		if _, err := s.rest.DoNoRetry(ctx, http.MethodPost, "/api/auth/logout", nil); err != nil {
			s.logger.Warn("session: remote logout failed", "err", err)
		}
	}

	s.metrics.RecordLogout()
	s.audit.Log(audit.Event{Action: audit.ActionLogout, Result: audit.ResultSuccess})
	return s.clearLocal(ctx)
}

func (s *Service) clearLocal(ctx context.Context) error {
	err := s.store.Delete(ctx,
		chms.KeyAuthToken, chms.KeyRefreshToken, chms.KeyTokenExpiry, chms.KeyUserData)
	if err != nil {
		return fmt.Errorf("%w: %v", apierr.ErrStorage, err)
	}
	return nil
}

// CurrentUser returns the cached user record, or nil when none is stored or
// the cache is unreadable.
func (s *Service) CurrentUser(ctx context.Context) (*chms.User, error) {
	raw, err := s.store.Get(ctx, chms.KeyUserData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apierr.ErrStorage, err)
	}
	if raw == "" {
		return nil, nil
	}
	user := &chms.User{}
	if err := json.Unmarshal([]byte(raw), user); err != nil {
		s.logger.Warn("session: corrupt cached user, treating as signed out", "err", err)
		return nil, nil
	}
	return user, nil
}

// UpdateStoredUser replaces the cached user record. chms.User has no password
// field, so re-marshalling strips one regardless of the caller's source data.
func (s *Service) UpdateStoredUser(ctx context.Context, u *chms.User) error {
	if u == nil {
		return fmt.Errorf("session: nil user")
	}
	raw, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("session: encode user: %w", err)
	}
	if err := s.store.SetMulti(ctx, map[string]string{chms.KeyUserData: string(raw)}); err != nil {
		return fmt.Errorf("%w: %v", apierr.ErrStorage, err)
	}
	return nil
}

type adminRegistration struct {
	chms.Registration
	IsSuperAdmin bool `json:"is_super_admin"`
}

// Register signs up a new member account.
func (s *Service) Register(ctx context.Context, reg chms.Registration) (*chms.Result, error) {
	return s.submit(ctx, "/api/auth/register", reg, audit.ActionRegister, reg.Email)
}

// RegisterAdmin signs up a new admin account; the backend responds with a
// pending account awaiting email verification.
func (s *Service) RegisterAdmin(ctx context.Context, reg chms.Registration) (*chms.Result, error) {
	return s.submit(ctx, "/api/auth/register-admin", adminRegistration{Registration: reg, IsSuperAdmin: true}, audit.ActionRegister, reg.Email)
}

// VerifyEmail confirms an admin account with the emailed code. On success the
// cached user record, if it matches the email, is marked active.
func (s *Service) VerifyEmail(ctx context.Context, email, code string) (*chms.Result, error) {
	res, err := s.submit(ctx, "/api/auth/verify-admin",
		map[string]string{"email": email, "verificationCode": code}, audit.ActionVerify, email)
	if err != nil || !res.Success {
		return res, err
	}

	if cached, _ := s.CurrentUser(ctx); cached != nil && cached.Email == email {
		cached.Status = chms.StatusActive
		if err := s.UpdateStoredUser(ctx, cached); err != nil {
			s.logger.Warn("session: updating verified user failed", "err", err)
		}
	}
	return res, nil
}

// ResendVerification requests a fresh verification code.
func (s *Service) ResendVerification(ctx context.Context, email string) (*chms.Result, error) {
	return s.submit(ctx, "/api/auth/resend-verification", map[string]string{"email": email}, audit.ActionVerify, email)
}

// submit posts an unauthenticated form payload and maps the outcome to the
// uniform result shape. Failures never surface as errors.
func (s *Service) submit(ctx context.Context, path string, body any, action, email string) (*chms.Result, error) {
	env, err := s.rest.DoNoRetry(ctx, http.MethodPost, path, body)
	if err != nil {
		s.audit.Log(audit.Event{Action: action, Result: audit.ResultFailure, Email: email, Error: apierr.Message(err)})
		return &chms.Result{Message: apierr.Message(err)}, nil
	}
	if !env.OK() {
		msg := env.DisplayMessage()
		if msg == "" {
			msg = apierr.MsgGeneric
		}
		s.audit.Log(audit.Event{Action: action, Result: audit.ResultFailure, Email: email, Error: msg})
		return &chms.Result{Message: msg}, nil
	}

	s.audit.Log(audit.Event{Action: action, Result: audit.ResultSuccess, Email: email})
	msg := env.Message
	if msg == "" {
		msg = "OK"
	}
	return &chms.Result{Success: true, Message: msg}, nil
}

// Profile fetches the authenticated profile and refreshes the cached record.
func (s *Service) Profile(ctx context.Context) (*chms.User, error) {
	env, err := s.rest.Do(ctx, http.MethodGet, "/api/auth/profile", nil)
	if err != nil {
		return nil, err
	}

	user := &chms.User{}
	if len(env.Data) > 0 {
		if err := env.DecodeData(user); err != nil {
			return nil, fmt.Errorf("session: decode profile: %w", err)
		}
	}
	if user.ID != "" {
		if err := s.UpdateStoredUser(ctx, user); err != nil {
			s.logger.Warn("session: caching profile failed", "err", err)
		}
	}
	return user, nil
}

// persistSession writes the full four-key session as one atomic batch.
func (s *Service) persistSession(ctx context.Context, accessToken, refreshToken string, expiry time.Time, user *chms.User) error {
	rawUser, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("session: encode user: %w", err)
	}
	err = s.store.SetMulti(ctx, map[string]string{
		chms.KeyAuthToken:    accessToken,
		chms.KeyRefreshToken: refreshToken,
		chms.KeyTokenExpiry:  expiry.Format(time.RFC3339),
		chms.KeyUserData:     string(rawUser),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", apierr.ErrStorage, err)
	}
	return nil
}

// deriveExpiry computes the absolute expiry: explicit sessionExpiry wins,
// then expiresIn seconds, then the access token's own exp claim when it
// parses as a JWT, then the fallback window.
func (s *Service) deriveExpiry(data tokenData) time.Time {
	if data.SessionExpiry != "" {
		if t, err := time.Parse(time.RFC3339, data.SessionExpiry); err == nil {
			return t
		}
		s.logger.Warn("session: unparseable sessionExpiry", "value", data.SessionExpiry)
	}
	if data.ExpiresIn > 0 {
		return time.Now().Add(time.Duration(data.ExpiresIn) * time.Second)
	}
	if exp, ok := jwtExpiry(data.AccessToken); ok {
		return exp
	}
	return time.Now().Add(FallbackTTL)
}

// jwtExpiry extracts the exp claim from an access token that happens to be a
// JWT. The signature is not verified; the claim only schedules the local
// refresh, the server remains authoritative.
func jwtExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
