package session

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"suemybrother/internal/platform/auth"
	"suemybrother/internal/platform/config"
)

// Manager ties the session cookie to server-side state.
type Manager struct {
	store  Store
	tokens *auth.TokenService
	cfg    config.SessionConfig
}

func NewManager(store Store, tokens *auth.TokenService, cfg config.SessionConfig) *Manager {
	return &Manager{store: store, tokens: tokens, cfg: cfg}
}

// Load returns the state named by the request cookie, or a fresh state when
// the cookie is missing, forged, expired or points at nothing.
func (m *Manager) Load(r *http.Request) (*State, error) {
	c, err := r.Cookie(m.cfg.CookieName)
	if err != nil {
		return New(), nil
	}

	claims, err := m.tokens.ValidateToken(c.Value)
	if err != nil {
		log.Ctx(r.Context()).Debug().Err(err).Msg("discarding invalid session cookie")
		return New(), nil
	}

	st, err := m.store.Load(r.Context(), claims.SessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return New(), nil
		}
		return nil, err
	}
	st.ID = claims.SessionID
	return st, nil
}

func (m *Manager) Save(ctx context.Context, w http.ResponseWriter, st *State) error {
	st.Validate()
	if err := m.store.Save(ctx, st, m.cfg.TTL); err != nil {
		return err
	}

	token, err := m.tokens.GenerateSessionToken(st.ID)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.cfg.TTL.Seconds()),
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: sameSite(m.cfg.SameSite),
	})
	return nil
}

// Rotate moves the state to a fresh id and drops the stored entry under the
// old one, so a session id known before a login change stops working. The
// caller saves the state afterwards.
func (m *Manager) Rotate(ctx context.Context, st *State) error {
	old := st.ID
	st.ID = uuid.NewString()
	if old == "" {
		return nil
	}
	if err := m.store.Delete(ctx, old); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// Destroy removes the stored state and expires the cookie.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, st *State) error {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.cfg.Secure,
	})
	return m.store.Delete(ctx, st.ID)
}

func sameSite(v string) http.SameSite {
	switch strings.ToLower(v) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
