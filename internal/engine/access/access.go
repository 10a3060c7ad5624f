// Package access decides whether an actor may perform a staff action.
package access

import (
	"suemybrother/internal/engine/identity"
	"suemybrother/internal/platform/models"
)

type Permission string

const (
	// Admin is held by anyone with the admin role.
	Admin       Permission = "admin"
	AcceptSuits Permission = "accept_suits"
	MakeAdmin   Permission = "make_admin"
)

type Reason string

const (
	ReasonNone            Reason = ""
	ReasonUnauthenticated Reason = "unauthenticated"
	ReasonForbidden       Reason = "forbidden"
)

// Decision is the result of an authorization check. Missing lists the
// permissions the actor lacked.
type Decision struct {
	Allowed bool
	Reason  Reason
	Missing []Permission
}

func allow() Decision {
	return Decision{Allowed: true}
}

// Authorize checks that the actor is logged in, active, and holds every
// permission listed.
func Authorize(actor *identity.Actor, perms ...Permission) Decision {
	if !actor.Authenticated() || !actor.User.Active {
		return Decision{Reason: ReasonUnauthenticated}
	}

	var missing []Permission
	for _, p := range perms {
		if !holds(actor.User, p) {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return Decision{Reason: ReasonForbidden, Missing: missing}
	}
	return allow()
}

func holds(u *models.User, p Permission) bool {
	switch p {
	case Admin:
		return u.HasRole(models.RoleAdmin)
	case AcceptSuits:
		return u.CanAcceptSuits
	case MakeAdmin:
		return u.IsSuperadmin
	default:
		return false
	}
}
