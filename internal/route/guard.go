package route

import (
	"slices"

	"medportal/internal/auth"
	"medportal/internal/upstream"
)

// Outcome of a guard decision.
type Outcome int

const (
	// OutcomeRender renders the matched view.
	OutcomeRender Outcome = iota
	// OutcomeRedirect replaces the location with Decision.Location.
	OutcomeRedirect
	// OutcomeLoading renders the loading interstitial without navigating.
	OutcomeLoading
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRedirect:
		return "redirect"
	case OutcomeLoading:
		return "loading"
	default:
		return "render"
	}
}

// Decision is what the guard wants done with a request.
type Decision struct {
	Outcome  Outcome
	Location string
}

// Decide maps the authentication status of a protected view onto an outcome.
func Decide(status auth.Status) Decision {
	switch status {
	case auth.StatusAuthenticated:
		return Decision{Outcome: OutcomeRender}
	case auth.StatusUnauthenticated:
		return Decision{Outcome: OutcomeRedirect, Location: PathLogin}
	default:
		return Decision{Outcome: OutcomeLoading}
	}
}

// Guard gates protected routes. It is evaluated on every request.
type Guard struct {
	// EnforceRoles redirects users away from dashboards of other roles.
	EnforceRoles bool
}

// Check decides a resolved route for a session status and user role.
// Unprotected routes always render.
func (g Guard) Check(m Match, status auth.Status, role upstream.Role) Decision {
	if !m.Protected() {
		return Decision{Outcome: OutcomeRender}
	}
	d := Decide(status)
	if d.Outcome != OutcomeRender || !g.EnforceRoles {
		return d
	}
	if roles := m.Roles(); len(roles) > 0 && !slices.Contains(roles, string(role)) {
		return Decision{Outcome: OutcomeRedirect, Location: HomeFor(role)}
	}
	return d
}

// HomeFor returns the dashboard of role.
func HomeFor(role upstream.Role) string {
	switch role {
	case upstream.RoleDoctor:
		return PathDoctor
	case upstream.RolePatient:
		return PathPatient
	default:
		return PathDashboard
	}
}
