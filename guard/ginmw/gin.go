// Package ginmw adapts the route guard rules to Gin HTTP middleware, for
// companion services that render the same screens server-side.
//
// The middleware reads the auth state from the shared manager and applies
// guard.Decide — no duplicate gating logic.
package ginmw

import (
	"net/http"

	"github.com/gin-gonic/gin"

	chms "github.com/parishkit/chms-go"
	"github.com/parishkit/chms-go/audit"
	"github.com/parishkit/chms-go/authstate"
	"github.com/parishkit/chms-go/guard"
	"github.com/parishkit/chms-go/metrics"
)

// Context keys for data stored in gin.Context.
const (
	KeyUser = "chms_user"
	KeyRole = "chms_role"
)

// Option configures the middleware.
type Option func(*config)

type config struct {
	metrics *metrics.Metrics
	audit   *audit.Logger
}

// WithMetrics records guard decisions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithAudit records denied requests on the audit trail.
func WithAudit(a *audit.Logger) Option {
	return func(c *config) { c.audit = a }
}

// Guard returns middleware enforcing the given rule against the manager's
// current state. Loading maps to 503 (retryable), redirects to 302.
func Guard(m *authstate.Manager, rule guard.Rule, opts ...Option) gin.HandlerFunc {
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	return func(c *gin.Context) {
		st := m.Snapshot()
		d := guard.Decide(st, rule)
		cfg.metrics.RecordGuardDecision(d.Action.String())

		switch d.Action {
		case guard.ActionShowLoading:
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "session loading"})
		case guard.ActionRedirect:
			var userID string
			if st.User != nil {
				userID = st.User.ID
			}
			cfg.audit.Log(audit.Event{
				Action:  audit.ActionRedirect,
				Result:  audit.ResultDenied,
				UserID:  userID,
				Details: c.Request.URL.Path + " -> " + d.Target,
			})
			c.Redirect(http.StatusFound, d.Target)
			c.Abort()
		default:
			if st.User != nil {
				c.Set(KeyUser, st.User)
				c.Set(KeyRole, st.User.Role)
			}
			c.Next()
		}
	}
}

// RequireRole is shorthand for Guard with an authenticated, role-gated rule.
func RequireRole(m *authstate.Manager, role chms.Role, opts ...Option) gin.HandlerFunc {
	return Guard(m, guard.Rule{RequireAuth: true, RequiredRole: role}, opts...)
}

// CurrentUser extracts the user stored by Guard, or nil.
func CurrentUser(c *gin.Context) *chms.User {
	v, ok := c.Get(KeyUser)
	if !ok {
		return nil
	}
	u, _ := v.(*chms.User)
	return u
}
