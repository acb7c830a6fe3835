package chms

import "context"

// Storage keys for the persisted session. The four entries are always written
// and cleared together; a reader must never observe a partial set.
const (
	KeyAuthToken    = "authToken"
	KeyRefreshToken = "refreshToken"
	KeyTokenExpiry  = "tokenExpiry"
	KeyUserData     = "userData"
)

// Store is the on-device key-value store holding the session credential and
// cached user record.
// Implementations: store/ (file-backed and in-memory).
type Store interface {
	// Get returns the value for key, or "" if the key is absent.
	Get(ctx context.Context, key string) (string, error)

	// SetMulti writes all entries as a single atomic batch.
	SetMulti(ctx context.Context, entries map[string]string) error

	// Delete removes the given keys as a single atomic batch.
	// Deleting absent keys is not an error.
	Delete(ctx context.Context, keys ...string) error
}

// AuthService performs the network-level authentication operations and keeps
// the Store synchronized with their outcome. It owns all writes to the
// session keys.
// Implementations: session/ (REST), fake/ (testing).
type AuthService interface {
	// Login authenticates with email and password. Ordinary auth failures are
	// reported in the result, never as an error; only programmer errors return
	// a non-nil error.
	Login(ctx context.Context, email, password string) (*LoginResult, error)

	// RefreshAccessToken exchanges the stored refresh token for a new
	// credential. Returns (nil, nil) when no refresh token is stored.
	// Any failure clears the session locally and returns (nil, nil); the
	// caller decides whether to retry by calling again.
	RefreshAccessToken(ctx context.Context) (*Credential, error)

	// CheckAuthStatus inspects the stored credential without any network call.
	CheckAuthStatus(ctx context.Context) (AuthStatus, error)

	// Logout clears the session. The remote logout call is best-effort; local
	// cleanup always happens.
	Logout(ctx context.Context) error

	// CurrentUser returns the cached user record, or nil if none is stored.
	CurrentUser(ctx context.Context) (*User, error)

	// UpdateStoredUser replaces the cached user record, stripping any
	// password field first.
	UpdateStoredUser(ctx context.Context, u *User) error

	// Register signs up a new member account.
	Register(ctx context.Context, reg Registration) (*Result, error)

	// RegisterAdmin signs up a new admin account pending email verification.
	RegisterAdmin(ctx context.Context, reg Registration) (*Result, error)

	// VerifyEmail confirms an admin account with the emailed code.
	VerifyEmail(ctx context.Context, email, code string) (*Result, error)

	// ResendVerification requests a fresh verification code.
	ResendVerification(ctx context.Context, email string) (*Result, error)

	// Profile fetches the authenticated profile from the backend.
	Profile(ctx context.Context) (*User, error)
}

// AnnouncementService lists and manages church announcements.
type AnnouncementService interface {
	List(ctx context.Context, opts ListOptions) (*AnnouncementPage, error)
	Get(ctx context.Context, id string) (*Announcement, error)

	// Create, Update and Delete require the admin role server-side.
	Create(ctx context.Context, title, content string) (*Announcement, error)
	Update(ctx context.Context, id string, upd AnnouncementUpdate) (*Announcement, error)
	Delete(ctx context.Context, id string) error
}

// EventService lists church events and records attendance.
type EventService interface {
	List(ctx context.Context, opts ListOptions) (*EventPage, error)
	Get(ctx context.Context, id string) (*Event, error)
	RSVP(ctx context.Context, id string, attending bool) error
}

// Connectivity reports network reachability. The auth-state manager consults
// it before any login or refresh attempt.
// Implementations: fake/ (testing); applications typically adapt their
// platform's reachability API.
type Connectivity interface {
	Online(ctx context.Context) bool
}
