// Package rest provides the shared HTTP client for the backend REST API.
//
// The client owns base URL handling, JSON envelope decoding, bearer-token
// injection from the store, and the 401 refresh-and-retry-once flow. The
// retry is an explicit orchestration inside Do rather than a mutable
// interceptor chain: the call is performed, the status inspected, and at most
// one refresh-and-replay attempted per original request.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	chms "github.com/parishkit/chms-go"
	"github.com/parishkit/chms-go/apierr"
	"github.com/parishkit/chms-go/metrics"
)

// Refresher exchanges the stored refresh token for a new access token.
// It returns "" when the session could not be refreshed.
type Refresher func(ctx context.Context) (string, error)

// FieldError is one entry of a validation-error array.
type FieldError struct {
	Msg   string `json:"msg"`
	Param string `json:"param"`
}

// Envelope is the backend response wrapper.
type Envelope struct {
	Status  string          `json:"status"` // "success" or "error"
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	Errors  []FieldError    `json:"errors,omitempty"`
}

// OK reports whether the envelope signals success.
func (e *Envelope) OK() bool { return e != nil && e.Status == "success" }

// DisplayMessage returns the message to show the user: validation errors
// joined newline-delimited when present, the plain message otherwise.
func (e *Envelope) DisplayMessage() string {
	if e == nil {
		return ""
	}
	if len(e.Errors) > 0 {
		msgs := make([]string, len(e.Errors))
		for i, fe := range e.Errors {
			msgs[i] = fe.Msg
		}
		return strings.Join(msgs, "\n")
	}
	return e.Message
}

// DecodeData unmarshals the envelope payload into v.
func (e *Envelope) DecodeData(v any) error {
	if e == nil || len(e.Data) == 0 {
		return fmt.Errorf("rest: envelope has no data")
	}
	return json.Unmarshal(e.Data, v)
}

// Client is the shared HTTP client. One instance is used per process.
type Client struct {
	baseURL    string
	httpClient *http.Client
	store      chms.Store
	logger     *slog.Logger
	metrics    *metrics.Metrics

	refresh   Refresher
	onExpired func(ctx context.Context)
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics enables request instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTimeout sets the per-request timeout. Default: 10 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New creates a client for the given base URL. Tokens are read from st for
// bearer injection on every request.
func New(baseURL string, st chms.Store, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: chms.DefaultRequestTimeout},
		store:      st,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Bind attaches the refresh and session-expired callbacks. Called once during
// session-service construction; the refresher cannot be passed at New time
// because the session service that implements it needs the client first.
func (c *Client) Bind(refresh Refresher, onExpired func(ctx context.Context)) {
	c.refresh = refresh
	c.onExpired = onExpired
}

// Do performs one request with bearer injection and the 401
// refresh-and-retry-once flow. The returned envelope may be non-nil even when
// err is non-nil, carrying the server's message.
func (c *Client) Do(ctx context.Context, method, path string, body any) (*Envelope, error) {
	env, status, err := c.doOnce(ctx, method, path, body, "")
	if err != nil {
		return env, err
	}

	if status == http.StatusUnauthorized && c.refresh != nil {
		token, rerr := c.refresh(ctx)
		if rerr != nil || token == "" {
			c.sessionExpired(ctx)
			return env, fmt.Errorf("%w: %s", apierr.ErrSessionExpired, apierr.MsgSessionExpired)
		}

		env, status, err = c.doOnce(ctx, method, path, body, token)
		if err != nil {
			return env, err
		}
		// A replayed request that 401s again is terminal, never retried twice.
		if status == http.StatusUnauthorized {
			c.sessionExpired(ctx)
			return env, fmt.Errorf("%w: %s", apierr.ErrSessionExpired, apierr.MsgSessionExpired)
		}
	}

	return env, apierr.FromStatus(status, env.DisplayMessage())
}

// DoNoRetry performs one request without the 401 refresh flow. The refresh
// endpoint itself goes through here to avoid recursing into its own retry.
func (c *Client) DoNoRetry(ctx context.Context, method, path string, body any) (*Envelope, error) {
	env, status, err := c.doOnce(ctx, method, path, body, "")
	if err != nil {
		return env, err
	}
	return env, apierr.FromStatus(status, env.DisplayMessage())
}

func (c *Client) sessionExpired(ctx context.Context) {
	if c.onExpired != nil {
		c.onExpired(ctx)
	}
}

// doOnce performs a single round-trip. overrideToken, when non-empty,
// replaces the stored access token for the replay after a refresh.
func (c *Client) doOnce(ctx context.Context, method, path string, body any, overrideToken string) (*Envelope, int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("rest: encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("rest: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	token := overrideToken
	if token == "" && c.store != nil {
		token, err = c.store.Get(ctx, chms.KeyAuthToken)
		if err != nil {
			c.logger.Warn("rest: token read failed", "err", err)
			token = ""
		}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(method, path, 0, time.Since(start).Seconds())
		return nil, 0, apierr.FromTransport(err)
	}
	defer func() { _ = resp.Body.Close() }()
	c.metrics.ObserveRequest(method, path, resp.StatusCode, time.Since(start).Seconds())

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, apierr.FromTransport(err)
	}

	env := &Envelope{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, env); err != nil {
			// Non-envelope body; keep the status code, synthesize an empty envelope.
			c.logger.Debug("rest: non-envelope response", "path", path, "status", resp.StatusCode)
			env = &Envelope{}
		}
	}
	return env, resp.StatusCode, nil
}
