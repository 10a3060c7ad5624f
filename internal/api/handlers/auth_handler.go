package handlers

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/rs/zerolog/log"
	"suemybrother/internal/engine/identity"
	"suemybrother/internal/engine/stepup"
	"suemybrother/internal/pkg/errors"
	"suemybrother/internal/platform/oidc"
	"suemybrother/internal/platform/session"
)

// Authenticator is the identity provider.
type Authenticator interface {
	AuthCodeURL(ctx context.Context, state, nonce string, force bool) (string, error)
	Authenticate(ctx context.Context, code, nonce string) (*oidc.Claims, error)
}

type AuthHandler struct {
	sessions *session.Manager
	resolver *identity.Resolver
	provider Authenticator
	gate     *stepup.Gate
}

func NewAuthHandler(sessions *session.Manager, resolver *identity.Resolver, provider Authenticator, gate *stepup.Gate) *AuthHandler {
	return &AuthHandler{
		sessions: sessions,
		resolver: resolver,
		provider: provider,
		gate:     gate,
	}
}

func (h *AuthHandler) redirectToProvider(w http.ResponseWriter, r *http.Request, st *session.State) {
	st.AuthState = oidc.RandomToken()
	st.Nonce = oidc.RandomToken()

	target, err := h.provider.AuthCodeURL(r.Context(), st.AuthState, st.Nonce, st.ForceLogin)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("identity provider discovery failed")
		errors.WriteError(w, http.StatusBadGateway, errors.ErrCodeInternal, "Login is unavailable", nil)
		return
	}

	saveAndRedirect(w, r, h.sessions, st, target, http.StatusFound)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	st := sessionFrom(r)
	if next := session.SanitizeNext(r.URL.Query().Get("next")); next != "" {
		st.Next = next
	}
	h.redirectToProvider(w, r, st)
}

// Reauthenticate drops the current login and asks the provider to prompt
// for credentials again, whatever session it holds.
func (h *AuthHandler) Reauthenticate(w http.ResponseWriter, r *http.Request) {
	st := sessionFrom(r)
	if caller := session.SanitizeNext(r.URL.Query().Get("caller")); caller != "" {
		st.Next = caller
		st.StepUpPending = true
	}

	st.ClearLogin()
	st.ForceLogin = true
	h.redirectToProvider(w, r, st)
}

// Callback completes a login started by Login or Reauthenticate.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	st := sessionFrom(r)
	q := r.URL.Query()

	if e := q.Get("error"); e != "" {
		log.Ctx(r.Context()).Warn().Str("error", e).Str("description", q.Get("error_description")).Msg("identity provider refused login")
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Login failed", nil)
		return
	}

	if st.AuthState == "" || q.Get("state") != st.AuthState {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Login state mismatch", nil)
		return
	}
	code := q.Get("code")
	if code == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Missing authorization code", nil)
		return
	}

	claims, err := h.provider.Authenticate(r.Context(), code, st.Nonce)
	if err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Msg("id token rejected")
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Login failed", nil)
		return
	}

	_, err = h.resolver.Login(r.Context(), st, claims)
	switch {
	case stderrors.Is(err, identity.ErrIdentityConflict):
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "This email address is linked to a different login", nil)
		return
	case stderrors.Is(err, identity.ErrInactive):
		errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Account disabled", nil)
		return
	case err != nil:
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to log in user")
		errors.Internal(w, "Database error")
		return
	}

	if !h.rotate(w, r, st) {
		return
	}
	saveAndRedirect(w, r, h.sessions, st, h.gate.Resume(st, "/details"), http.StatusFound)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	st := sessionFrom(r)
	h.resolver.Logout(st)
	if !h.rotate(w, r, st) {
		return
	}
	saveAndRedirect(w, r, h.sessions, st, "/", http.StatusFound)
}

// rotate gives the session a new id whenever who is logged in changes.
func (h *AuthHandler) rotate(w http.ResponseWriter, r *http.Request, st *session.State) bool {
	if err := h.sessions.Rotate(r.Context(), st); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to rotate session")
		errors.Internal(w, "Session unavailable")
		return false
	}
	return true
}
