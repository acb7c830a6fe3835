// Package guard decides where a screen request should land based on the
// current auth state. Decide is a pure function of state and rule; rendering
// and navigation stay with the caller.
package guard

import (
	chms "github.com/parishkit/chms-go"
	"github.com/parishkit/chms-go/authstate"
)

// Action is the outcome kind of a guard decision.
type Action int

const (
	// ActionShowLoading renders a neutral loading indicator; no redirect yet.
	ActionShowLoading Action = iota

	// ActionRedirect navigates to Decision.Target.
	ActionRedirect

	// ActionRender renders the requested screen.
	ActionRender
)

// String returns the action name for logs and metrics labels.
func (a Action) String() string {
	switch a {
	case ActionShowLoading:
		return "loading"
	case ActionRedirect:
		return "redirect"
	default:
		return "render"
	}
}

// Well-known routes.
const (
	RouteWelcome        = "/(auth)/welcome"
	RouteMemberHome     = "/(root)/(tabs)/home"
	RouteAdminDashboard = "/(admin)/dashboard"
)

// Rule declares the access requirements of a route.
type Rule struct {
	// RequireAuth marks the route as authenticated-only. When false the route
	// is an auth entry screen that signed-in users are bounced away from.
	RequireAuth bool

	// RequiredRole, when set, restricts the route to users with that role.
	RequiredRole chms.Role
}

// Decision is the navigation outcome for one request.
type Decision struct {
	Action Action
	Target string
}

// Landing returns the default landing route for a role.
func Landing(role chms.Role) string {
	if role == chms.RoleAdmin {
		return RouteAdminDashboard
	}
	return RouteMemberHome
}

// Decide evaluates the rules in order: loading wins, then the
// unauthenticated redirect, then signed-in users leaving auth screens, then
// role gating. A role mismatch lands on the user's own default screen,
// never an error page.
func Decide(s authstate.State, r Rule) Decision {
	if s.IsLoading {
		return Decision{Action: ActionShowLoading}
	}

	signedIn := s.IsAuthenticated && s.User != nil

	if r.RequireAuth && !signedIn {
		return Decision{Action: ActionRedirect, Target: RouteWelcome}
	}

	if !r.RequireAuth && signedIn {
		return Decision{Action: ActionRedirect, Target: Landing(s.User.Role)}
	}

	if r.RequiredRole != "" && signedIn && s.User.Role != r.RequiredRole {
		return Decision{Action: ActionRedirect, Target: Landing(s.User.Role)}
	}

	return Decision{Action: ActionRender}
}
