// Package chms provides a Go client SDK for a church-management backend.
//
// The SDK defines interfaces for authentication, session storage,
// announcements and events. Concrete implementations are injected via Option
// functions, making the SDK independent of any specific transport: the
// session/ package provides the REST implementation, fake/ provides
// in-memory test doubles.
//
// Example usage with the REST session service:
//
//	svc := session.New(session.Config{BaseURL: "https://api.example.org"}, st)
//	client, err := chms.NewClient(
//	    chms.Config{BaseURL: "https://api.example.org"},
//	    chms.WithStore(st),
//	    chms.WithAuthService(svc),
//	)
package chms

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Client is the main entry point for backend operations.
// Service implementations are injected via Option functions.
type Client struct {
	config        Config
	logger        *slog.Logger
	store         Store
	auth          AuthService
	announcements AnnouncementService
	events        EventService
	connectivity  Connectivity
}

// Config holds connection and behavior configuration.
type Config struct {
	// BaseURL is the address of the backend API, without a trailing slash.
	BaseURL string

	// RequestTimeout bounds each HTTP call. Default: 10 seconds.
	RequestTimeout time.Duration

	// RefreshWindow is how close to expiry a credential is considered due for
	// refresh. Default: 5 minutes.
	RefreshWindow time.Duration

	// CheckInterval is how often an authenticated session re-checks validity.
	// Default: 5 minutes.
	CheckInterval time.Duration
}

// Defaults applied by NewClient when the corresponding Config field is zero.
const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultRefreshWindow  = 5 * time.Minute
	DefaultCheckInterval  = 5 * time.Minute
)

// Option configures the Client.
type Option func(*Client)

// WithLogger sets a structured logger for the client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithStore sets the on-device key-value store.
func WithStore(s Store) Option {
	return func(c *Client) { c.store = s }
}

// WithAuthService sets the authentication implementation.
func WithAuthService(a AuthService) Option {
	return func(c *Client) { c.auth = a }
}

// WithAnnouncementService sets the announcements implementation.
func WithAnnouncementService(a AnnouncementService) Option {
	return func(c *Client) { c.announcements = a }
}

// WithEventService sets the events implementation.
func WithEventService(e EventService) Option {
	return func(c *Client) { c.events = e }
}

// WithConnectivity sets the network reachability implementation.
func WithConnectivity(n Connectivity) Option {
	return func(c *Client) { c.connectivity = n }
}

// NewClient creates a new client with the given configuration and options.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("chms: BaseURL is required")
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.RefreshWindow == 0 {
		cfg.RefreshWindow = DefaultRefreshWindow
	}
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}

	c := &Client{config: cfg, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Config returns the client configuration.
func (c *Client) Config() Config { return c.config }

// Logger returns the configured logger.
func (c *Client) Logger() *slog.Logger { return c.logger }

// Store returns the key-value store, or nil if not configured.
func (c *Client) Store() Store { return c.store }

// Auth returns the authentication service, or nil if not configured.
func (c *Client) Auth() AuthService { return c.auth }

// Announcements returns the announcement service, or nil if not configured.
func (c *Client) Announcements() AnnouncementService { return c.announcements }

// Events returns the event service, or nil if not configured.
func (c *Client) Events() EventService { return c.events }

// Connectivity returns the reachability checker, or nil if not configured.
func (c *Client) Connectivity() Connectivity { return c.connectivity }

// HealthCheck performs a basic readiness check of the client wiring.
// Returns nil if at least the auth service and store are configured.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.auth == nil {
		return fmt.Errorf("chms: no auth service configured")
	}
	if c.store == nil {
		return fmt.Errorf("chms: no store configured")
	}
	return nil
}

// Close releases all resources held by the client.
// Any injected service that implements io.Closer will be closed.
func (c *Client) Close() error {
	closers := []interface{}{
		c.auth, c.announcements, c.events, c.store,
	}
	var firstErr error
	for _, svc := range closers {
		if cl, ok := svc.(io.Closer); ok && cl != nil {
			if err := cl.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
