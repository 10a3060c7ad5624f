package identity

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
	"suemybrother/internal/platform/database"
	"suemybrother/internal/platform/models"
	"suemybrother/internal/platform/oidc"
	"suemybrother/internal/platform/repositories"
	"suemybrother/internal/platform/session"
)

var (
	ErrEmailRequired    = errors.New("identity: email required")
	ErrEmailTaken       = errors.New("identity: email already belongs to another user")
	ErrIdentityConflict = errors.New("identity: email is linked to a different login")
	ErrInactive         = errors.New("identity: user is not active")
)

// Actor is whoever is making the request: a logged-in user, a visitor known
// only by the details they typed in, or nobody at all.
type Actor struct {
	User   *models.User
	Name   string
	Email  string
	Mobile string
}

func (a *Actor) Authenticated() bool {
	return a != nil && a.User != nil
}

func (a *Actor) Anonymous() bool {
	return !a.Authenticated() && a.Name == "" && a.Email == "" && a.Mobile == ""
}

func (a *Actor) HasRole(role string) bool {
	return a.Authenticated() && a.User.HasRole(role)
}

func (a *Actor) UserID() string {
	if !a.Authenticated() {
		return ""
	}
	return a.User.ID
}

func fromUser(u *models.User) *Actor {
	return &Actor{
		User:   u,
		Name:   models.Str(u.Name),
		Email:  models.Str(u.Email),
		Mobile: models.Str(u.Mobile),
	}
}

// Details is a submission of the details form.
type Details struct {
	Name   string
	Email  string
	Mobile string
}

type Resolver struct {
	db    *database.DB
	users *repositories.UserRepository
}

func NewResolver(db *database.DB, users *repositories.UserRepository) *Resolver {
	return &Resolver{db: db, users: users}
}

// Current resolves the actor for a session. A session pointing at a user
// that no longer exists or has been deactivated is logged out.
func (r *Resolver) Current(ctx context.Context, st *session.State) (*Actor, error) {
	if st.Authenticated() {
		u, err := r.users.GetByID(ctx, st.UserID)
		if err != nil {
			return nil, err
		}
		if u != nil && u.Active {
			return fromUser(u), nil
		}
		log.Ctx(ctx).Info().Str("user_id", st.UserID).Msg("session user missing or inactive, clearing login")
		st.ClearLogin()
	}

	if st.Profile != nil {
		return &Actor{Name: st.Profile.Name, Email: st.Profile.Email, Mobile: st.Profile.Mobile}, nil
	}

	return &Actor{}, nil
}

// RememberDetails stores submitted details. Logged-in users are updated in
// place; anyone else only gets the details kept in their session.
func (r *Resolver) RememberDetails(ctx context.Context, st *session.State, actor *Actor, d Details) error {
	d.Email = strings.ToLower(strings.TrimSpace(d.Email))

	if actor.Authenticated() {
		if d.Email != "" {
			other, err := r.users.GetByEmail(ctx, d.Email)
			if err != nil {
				return err
			}
			if other != nil && other.ID != actor.User.ID {
				return ErrEmailTaken
			}
		}

		if err := r.users.UpdateDetails(ctx, actor.User.ID, models.NullStr(d.Name), models.NullStr(d.Email), models.NullStr(d.Mobile)); err != nil {
			return err
		}
		actor.User.Name = models.NullStr(d.Name)
		actor.User.Email = models.NullStr(d.Email)
		actor.User.Mobile = models.NullStr(d.Mobile)
	} else {
		st.Profile = &session.Profile{Name: d.Name, Email: d.Email, Mobile: d.Mobile}
	}

	actor.Name, actor.Email, actor.Mobile = d.Name, d.Email, d.Mobile
	return nil
}

// Promote turns the actor into a durable user keyed by email. This is where
// a soft identity first reaches the users table.
func (r *Resolver) Promote(ctx context.Context, tx *sql.Tx, actor *Actor) (*models.User, error) {
	if actor.Email == "" {
		return nil, ErrEmailRequired
	}

	u, _, err := r.users.GetOrCreateByEmailTx(ctx, tx, actor.Email)
	if err != nil {
		return nil, err
	}

	if actor.Name != "" && models.Str(u.Name) != actor.Name {
		if err := r.users.SetNameTx(ctx, tx, u.ID, actor.Name); err != nil {
			return nil, err
		}
		u.Name = models.NullStr(actor.Name)
	}
	if actor.Mobile != "" && u.Mobile == nil {
		if err := r.users.SetMobileTx(ctx, tx, u.ID, actor.Mobile); err != nil {
			return nil, err
		}
		u.Mobile = models.NullStr(actor.Mobile)
	}

	return u, nil
}

// Login binds verified claims to a user and marks the session as freshly
// authenticated at the token's issue time.
func (r *Resolver) Login(ctx context.Context, st *session.State, claims *oidc.Claims) (*models.User, error) {
	u, err := r.users.GetBySubject(ctx, claims.Issuer, claims.Subject)
	if err != nil {
		return nil, err
	}

	email := strings.ToLower(claims.Email)

	if u == nil && email != "" {
		u, err = r.users.GetByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if u != nil {
			if u.SubjectID != nil && (models.Str(u.IssuerID) != claims.Issuer || *u.SubjectID != claims.Subject) {
				return nil, ErrIdentityConflict
			}
			if err := r.users.LinkIdentity(ctx, u.ID, claims.Issuer, claims.Subject); err != nil {
				return nil, err
			}
		}
	}

	if u == nil {
		u = &models.User{
			IssuerID:  models.NullStr(claims.Issuer),
			SubjectID: models.NullStr(claims.Subject),
			Email:     models.NullStr(email),
			Name:      models.NullStr(claims.Name),
			Active:    true,
		}
		err := database.InTx(ctx, r.db, func(tx *sql.Tx) error {
			if err := r.users.CreateTx(ctx, tx, u); err != nil {
				return err
			}
			return r.users.AddRoleTx(ctx, tx, u.ID, models.RoleUser)
		})
		if err != nil {
			return nil, err
		}
		log.Ctx(ctx).Info().Str("user_id", u.ID).Msg("created user on first login")
	} else if u.Name == nil && claims.Name != "" {
		if err := r.users.SetName(ctx, u.ID, claims.Name); err != nil {
			return nil, err
		}
		u.Name = models.NullStr(claims.Name)
	}

	if !u.Active {
		return nil, ErrInactive
	}

	st.UserID = u.ID
	st.IssuedAt = claims.IssuedAt
	st.Profile = nil
	st.AuthState = ""
	st.Nonce = ""
	st.ForceLogin = false

	return u, nil
}

// Logout forgets the user and any soft identity but keeps correlation
// tokens for payments still in flight.
func (r *Resolver) Logout(st *session.State) {
	st.ClearLogin()
	st.Profile = nil
	st.Next = ""
	st.StepUpPending = false
}
