// Package stepup enforces recent authentication before sensitive staff
// actions.
package stepup

import (
	"time"

	"suemybrother/internal/platform/session"
)

// ReauthenticatePath is where actors are sent when their login is too old.
const ReauthenticatePath = "/reauthenticate"

type Decision struct {
	Allowed  bool
	Redirect string
}

type Gate struct {
	now func() time.Time
}

func NewGate() *Gate {
	return &Gate{now: time.Now}
}

// AuthenticatedWithin reports whether the session's last strong login is no
// older than maxAge. A session that never logged in is never fresh.
func (g *Gate) AuthenticatedWithin(st *session.State, maxAge time.Duration) bool {
	if st == nil || !st.Authenticated() || st.IssuedAt <= 0 {
		return false
	}
	age := g.now().Sub(time.Unix(st.IssuedAt, 0))
	return age <= maxAge
}

// Require lets the action through when the login is fresh. Otherwise it
// remembers next as the post-login destination and asks for a redirect into
// forced re-authentication. The caller must save the session.
func (g *Gate) Require(st *session.State, maxAge time.Duration, next string) Decision {
	if g.AuthenticatedWithin(st, maxAge) {
		return Decision{Allowed: true}
	}

	st.Next = session.SanitizeNext(next)
	st.StepUpPending = st.Next != ""
	return Decision{Redirect: ReauthenticatePath}
}

// Resume returns the deferred destination after a successful login and
// clears it from the session.
func (g *Gate) Resume(st *session.State, fallback string) string {
	next := st.Next
	st.Next = ""
	st.StepUpPending = false
	if next == "" {
		return fallback
	}
	return next
}
