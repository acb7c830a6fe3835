package chms

import "time"

// Role is the access level assigned to an account.
type Role string

// Roles recognized by the backend.
const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

// Account statuses recognized by the backend.
const (
	StatusActive  AccountStatus = "active"
	StatusPending AccountStatus = "pending"
)

// User is the sanitized profile record cached on-device. It never carries a
// password; raw server payloads are stripped before the record is persisted
// or handed to callers.
type User struct {
	ID          string        `json:"id"`
	FullName    string        `json:"full_name"`
	Email       string        `json:"email"`
	PhoneNumber string        `json:"phone_number,omitempty"`
	Role        Role          `json:"role"`
	Status      AccountStatus `json:"status,omitempty"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }

// Credential is the access/refresh/expiry triple for one authenticated login.
// The three fields are only meaningful together: they are persisted and
// cleared as a unit.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Valid reports whether the access token has not yet expired.
func (c Credential) Valid() bool { return time.Now().Before(c.ExpiresAt) }

// TimeUntilExpiry returns the remaining lifetime of the access token,
// or zero if it has already expired.
func (c Credential) TimeUntilExpiry() time.Duration {
	d := time.Until(c.ExpiresAt)
	if d < 0 {
		return 0
	}
	return d
}

// AuthStatus is the result of a local credential validity check.
type AuthStatus struct {
	IsValid         bool
	NeedsRefresh    bool
	TimeUntilExpiry time.Duration
}

// Result is the uniform outcome shape for operations that must never surface
// raw transport errors to callers. Message is always populated on failure.
type Result struct {
	Success bool
	Message string
}

// LoginResult is the normalized outcome of a login attempt.
type LoginResult struct {
	Success              bool
	Message              string
	Tokens               *Credential
	User                 *User
	RequiresVerification bool
}

// Registration is the signup payload for member and admin registration.
type Registration struct {
	FullName    string `json:"fullName"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	PhoneNumber string `json:"phoneNumber"`
}

// Announcement is a church-wide notice published by an admin.
type Announcement struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Status      string     `json:"status"` // draft, published, archived, pinned
	AdminName   string     `json:"admin_name,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// AnnouncementUpdate holds the mutable announcement fields for partial updates.
// Nil fields are left unchanged.
type AnnouncementUpdate struct {
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
	Status  *string `json:"status,omitempty"`
}

// Event is a scheduled church event.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at,omitempty"`
}

// PaginationMeta describes the position of a page within a listing.
type PaginationMeta struct {
	CurrentPage int `json:"currentPage"`
	TotalPages  int `json:"totalPages"`
	TotalItems  int `json:"totalItems"`
	Limit       int `json:"limit"`
}

// HasMore reports whether pages remain after the current one.
func (p PaginationMeta) HasMore() bool { return p.CurrentPage < p.TotalPages }

// ListOptions holds pagination parameters for listing endpoints.
type ListOptions struct {
	Page  int
	Limit int
}

// AnnouncementPage is one page of announcements plus its pagination metadata.
type AnnouncementPage struct {
	Announcements []Announcement `json:"annoucements"` // backend key keeps the original misspelling
	Pagination    PaginationMeta `json:"pagination"`
}

// EventPage is one page of events plus its pagination metadata.
type EventPage struct {
	Events     []Event        `json:"events"`
	Pagination PaginationMeta `json:"pagination"`
}
