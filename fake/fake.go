// Package fake provides test doubles: a settable Connectivity, an httptest
// backend speaking the REST contract, and a fully wired client over both.
//
// Use fake.NewClient() in unit tests to avoid real network calls while still
// exercising the HTTP, session and storage layers end to end.
package fake

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	chms "github.com/parishkit/chms-go"
	"github.com/parishkit/chms-go/announce"
	"github.com/parishkit/chms-go/events"
	"github.com/parishkit/chms-go/session"
	"github.com/parishkit/chms-go/store"
)

// Connectivity is a settable chms.Connectivity.
type Connectivity struct {
	mu     sync.Mutex
	online bool
}

// compile-time check
var _ chms.Connectivity = (*Connectivity)(nil)

// NewConnectivity creates a Connectivity with the given initial state.
func NewConnectivity(online bool) *Connectivity {
	return &Connectivity{online: online}
}

// SetOnline flips the reported reachability.
func (c *Connectivity) SetOnline(v bool) {
	c.mu.Lock()
	c.online = v
	c.mu.Unlock()
}

// Online implements chms.Connectivity.
func (c *Connectivity) Online(_ context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

type account struct {
	user     chms.User
	password string
}

// Backend is an in-memory implementation of the backend REST contract served
// over httptest.
type Backend struct {
	srv *httptest.Server

	mu            sync.Mutex
	accounts      map[string]*account // email → account
	accessTokens  map[string]string   // access token → email
	refreshTokens map[string]string   // refresh token → email
	verifyCodes   map[string]string   // email → code
	announcements []chms.Announcement
	events        []chms.Event
	nextID        int

	expiresIn     int64
	sessionExpiry time.Time
	failRefresh   bool
	failLogin     bool

	loginCalls   int
	refreshCalls int
	logoutCalls  int
}

// Option configures the fake backend.
type Option func(*Backend)

// WithAccount adds an account.
func WithAccount(email, password string, role chms.Role) Option {
	return func(b *Backend) {
		b.nextID++
		b.accounts[email] = &account{
			user: chms.User{
				ID:       fmt.Sprintf("u%d", b.nextID),
				FullName: email,
				Email:    email,
				Role:     role,
				Status:   chms.StatusActive,
			},
			password: password,
		}
	}
}

// WithExpiresIn sets the expiresIn seconds reported on login and refresh.
func WithExpiresIn(seconds int64) Option {
	return func(b *Backend) { b.expiresIn = seconds }
}

// WithSessionExpiry sets an absolute sessionExpiry reported instead of expiresIn.
func WithSessionExpiry(t time.Time) Option {
	return func(b *Backend) { b.sessionExpiry = t }
}

// WithAnnouncements seeds the announcement list.
func WithAnnouncements(as ...chms.Announcement) Option {
	return func(b *Backend) { b.announcements = append(b.announcements, as...) }
}

// WithEvents seeds the event list.
func WithEvents(es ...chms.Event) Option {
	return func(b *Backend) { b.events = append(b.events, es...) }
}

// NewBackend starts the fake backend.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{
		accounts:      make(map[string]*account),
		accessTokens:  make(map[string]string),
		refreshTokens: make(map[string]string),
		verifyCodes:   make(map[string]string),
		expiresIn:     3600,
	}
	for _, o := range opts {
		o(b)
	}
	b.srv = httptest.NewServer(http.HandlerFunc(b.handle))
	return b
}

// URL returns the backend base URL.
func (b *Backend) URL() string { return b.srv.URL }

// Close shuts the backend down.
func (b *Backend) Close() { b.srv.Close() }

// SetFailRefresh makes the refresh endpoint return 401 until cleared.
func (b *Backend) SetFailRefresh(v bool) {
	b.mu.Lock()
	b.failRefresh = v
	b.mu.Unlock()
}

// SetFailLogin makes the login endpoint reject all credentials until cleared.
func (b *Backend) SetFailLogin(v bool) {
	b.mu.Lock()
	b.failLogin = v
	b.mu.Unlock()
}

// ExpireToken invalidates an access token so bearer requests with it 401.
func (b *Backend) ExpireToken(token string) {
	b.mu.Lock()
	delete(b.accessTokens, token)
	b.mu.Unlock()
}

// Calls returns the login, refresh and logout call counts.
func (b *Backend) Calls() (login, refresh, logout int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loginCalls, b.refreshCalls, b.logoutCalls
}

func writeEnvelope(w http.ResponseWriter, code int, status, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	body := map[string]any{"status": status, "message": message}
	if data != nil {
		body["data"] = data
	}
	_ = json.NewEncoder(w).Encode(body)
}

func (b *Backend) handle(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/auth/login":
		b.handleLogin(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/auth/refresh-token":
		b.handleRefresh(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/auth/logout":
		b.logoutCalls++
		writeEnvelope(w, http.StatusOK, "success", "Logged out", nil)
	case r.Method == http.MethodGet && r.URL.Path == "/api/auth/profile":
		b.handleProfile(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/auth/register":
		b.handleRegister(w, r, chms.RoleUser)
	case r.Method == http.MethodPost && r.URL.Path == "/api/auth/register-admin":
		b.handleRegister(w, r, chms.RoleAdmin)
	case r.Method == http.MethodPost && r.URL.Path == "/api/auth/verify-admin":
		b.handleVerify(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/auth/resend-verification":
		writeEnvelope(w, http.StatusOK, "success", "Verification code sent", nil)
	case r.URL.Path == "/api/announcements" || strings.HasPrefix(r.URL.Path, "/api/announcements/"):
		b.handleAnnouncements(w, r)
	case r.URL.Path == "/api/events" || strings.HasPrefix(r.URL.Path, "/api/events/"):
		b.handleEvents(w, r)
	default:
		writeEnvelope(w, http.StatusNotFound, "error", "Resource not found", nil)
	}
}

func (b *Backend) issueTokens(email string) map[string]any {
	b.nextID++
	access := fmt.Sprintf("at-%d", b.nextID)
	refresh := fmt.Sprintf("rt-%d", b.nextID)
	b.accessTokens[access] = email
	b.refreshTokens[refresh] = email

	data := map[string]any{
		"accessToken":  access,
		"refreshToken": refresh,
	}
	if !b.sessionExpiry.IsZero() {
		data["sessionExpiry"] = b.sessionExpiry.Format(time.RFC3339)
	} else if b.expiresIn > 0 {
		data["expiresIn"] = b.expiresIn
	}
	return data
}

func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	b.loginCalls++

	var creds struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&creds)

	acct, ok := b.accounts[creds.Email]
	if b.failLogin || !ok || acct.password != creds.Password {
		writeEnvelope(w, http.StatusUnauthorized, "error", "Invalid email or password", nil)
		return
	}

	data := b.issueTokens(creds.Email)
	data["user"] = acct.user
	writeEnvelope(w, http.StatusOK, "success", "Login successful", data)
}

func (b *Backend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	b.refreshCalls++

	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	email, ok := b.refreshTokens[body.RefreshToken]
	if b.failRefresh || !ok {
		writeEnvelope(w, http.StatusUnauthorized, "error", "Invalid refresh token", nil)
		return
	}

	// Rotation: the old refresh token is single-use.
	delete(b.refreshTokens, body.RefreshToken)
	writeEnvelope(w, http.StatusOK, "success", "Token refreshed", b.issueTokens(email))
}

func (b *Backend) bearerEmail(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	email, ok := b.accessTokens[strings.TrimPrefix(h, "Bearer ")]
	return email, ok
}

func (b *Backend) handleProfile(w http.ResponseWriter, r *http.Request) {
	email, ok := b.bearerEmail(r)
	if !ok {
		writeEnvelope(w, http.StatusUnauthorized, "error", "Unauthorized", nil)
		return
	}
	writeEnvelope(w, http.StatusOK, "success", "OK", b.accounts[email].user)
}

func (b *Backend) handleRegister(w http.ResponseWriter, r *http.Request, role chms.Role) {
	var reg chms.Registration
	_ = json.NewDecoder(r.Body).Decode(&reg)

	if reg.Email == "" || reg.Password == "" {
		writeEnvelope(w, http.StatusBadRequest, "error", "Missing required fields", nil)
		return
	}
	if _, exists := b.accounts[reg.Email]; exists {
		writeEnvelope(w, http.StatusBadRequest, "error", "Account already exists", nil)
		return
	}

	b.nextID++
	status := chms.StatusActive
	if role == chms.RoleAdmin {
		status = chms.StatusPending
		b.verifyCodes[reg.Email] = "123456"
	}
	b.accounts[reg.Email] = &account{
		user: chms.User{
			ID:          fmt.Sprintf("u%d", b.nextID),
			FullName:    reg.FullName,
			Email:       reg.Email,
			PhoneNumber: reg.PhoneNumber,
			Role:        role,
			Status:      status,
		},
		password: reg.Password,
	}
	writeEnvelope(w, http.StatusOK, "success", "Registration successful", b.accounts[reg.Email].user)
}

func (b *Backend) handleVerify(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
		Code  string `json:"verificationCode"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	acct, ok := b.accounts[body.Email]
	if !ok || b.verifyCodes[body.Email] != body.Code {
		writeEnvelope(w, http.StatusBadRequest, "error", "Invalid verification code", nil)
		return
	}
	acct.user.Status = chms.StatusActive
	delete(b.verifyCodes, body.Email)
	writeEnvelope(w, http.StatusOK, "success", "Email verified", acct.user)
}

func (b *Backend) handleAnnouncements(w http.ResponseWriter, r *http.Request) {
	if _, ok := b.bearerEmail(r); !ok {
		writeEnvelope(w, http.StatusUnauthorized, "error", "Unauthorized", nil)
		return
	}

	switch r.Method {
	case http.MethodGet:
		if id := strings.TrimPrefix(r.URL.Path, "/api/announcements/"); id != r.URL.Path && id != "" {
			for _, a := range b.announcements {
				if a.ID == id {
					writeEnvelope(w, http.StatusOK, "success", "OK", a)
					return
				}
			}
			writeEnvelope(w, http.StatusNotFound, "error", "Resource not found", nil)
			return
		}
		writeEnvelope(w, http.StatusOK, "success", "OK", chms.AnnouncementPage{
			Announcements: b.announcements,
			Pagination: chms.PaginationMeta{
				CurrentPage: 1,
				TotalPages:  1,
				TotalItems:  len(b.announcements),
				Limit:       10,
			},
		})
	case http.MethodPost:
		var body struct {
			Title   string `json:"title"`
			Content string `json:"content"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.nextID++
		a := chms.Announcement{
			ID:        fmt.Sprintf("a%d", b.nextID),
			Title:     body.Title,
			Content:   body.Content,
			Status:    "published",
			CreatedAt: time.Now(),
		}
		b.announcements = append(b.announcements, a)
		writeEnvelope(w, http.StatusOK, "success", "Created", a)
	case http.MethodPut:
		id := strings.TrimPrefix(r.URL.Path, "/api/announcements/")
		var upd chms.AnnouncementUpdate
		_ = json.NewDecoder(r.Body).Decode(&upd)
		for i := range b.announcements {
			if b.announcements[i].ID == id {
				if upd.Title != nil {
					b.announcements[i].Title = *upd.Title
				}
				if upd.Content != nil {
					b.announcements[i].Content = *upd.Content
				}
				if upd.Status != nil {
					b.announcements[i].Status = *upd.Status
				}
				writeEnvelope(w, http.StatusOK, "success", "Updated", b.announcements[i])
				return
			}
		}
		writeEnvelope(w, http.StatusNotFound, "error", "Resource not found", nil)
	case http.MethodDelete:
		id := strings.TrimPrefix(r.URL.Path, "/api/announcements/")
		for i, a := range b.announcements {
			if a.ID == id {
				b.announcements = append(b.announcements[:i], b.announcements[i+1:]...)
				writeEnvelope(w, http.StatusOK, "success", "Deleted", nil)
				return
			}
		}
		writeEnvelope(w, http.StatusNotFound, "error", "Resource not found", nil)
	default:
		writeEnvelope(w, http.StatusNotFound, "error", "Resource not found", nil)
	}
}

func (b *Backend) handleEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := b.bearerEmail(r); !ok {
		writeEnvelope(w, http.StatusUnauthorized, "error", "Unauthorized", nil)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/events" {
		writeEnvelope(w, http.StatusOK, "success", "OK", chms.EventPage{
			Events: b.events,
			Pagination: chms.PaginationMeta{
				CurrentPage: 1,
				TotalPages:  1,
				TotalItems:  len(b.events),
				Limit:       10,
			},
		})
		return
	}
	if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/rsvp") {
		writeEnvelope(w, http.StatusOK, "success", "RSVP recorded", nil)
		return
	}
	if r.Method == http.MethodGet {
		id := strings.TrimPrefix(r.URL.Path, "/api/events/")
		for _, e := range b.events {
			if e.ID == id {
				writeEnvelope(w, http.StatusOK, "success", "OK", e)
				return
			}
		}
	}
	writeEnvelope(w, http.StatusNotFound, "error", "Resource not found", nil)
}

// NewClient creates a *chms.Client wired to a fake backend, an in-memory
// store and the real session service, ready for tests. Close the returned
// backend when done.
func NewClient(opts ...Option) (*chms.Client, *Backend) {
	b := NewBackend(opts...)
	st := store.NewMem()
	svc := session.New(session.Config{BaseURL: b.URL()}, st)

	c, _ := chms.NewClient(
		chms.Config{BaseURL: b.URL()},
		chms.WithStore(st),
		chms.WithAuthService(svc),
		chms.WithAnnouncementService(announce.New(svc.HTTP())),
		chms.WithEventService(events.New(svc.HTTP())),
		chms.WithConnectivity(NewConnectivity(true)),
	)
	return c, b
}
