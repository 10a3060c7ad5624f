package middleware

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"
	apiContext "suemybrother/internal/api/context"
	"suemybrother/internal/engine/identity"
	"suemybrother/internal/pkg/errors"
	"suemybrother/internal/platform/session"
)

// SessionMiddleware loads the browser session and resolves who is acting.
type SessionMiddleware struct {
	sessions *session.Manager
	resolver *identity.Resolver
}

func NewSessionMiddleware(sessions *session.Manager, resolver *identity.Resolver) *SessionMiddleware {
	return &SessionMiddleware{sessions: sessions, resolver: resolver}
}

func (m *SessionMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := m.sessions.Load(r)
		if err != nil {
			log.Ctx(r.Context()).Error().Err(err).Msg("failed to load session")
			errors.Internal(w, "Session unavailable")
			return
		}

		wasAuthenticated := st.Authenticated()
		actor, err := m.resolver.Current(r.Context(), st)
		if err != nil {
			log.Ctx(r.Context()).Error().Err(err).Msg("failed to resolve actor")
			errors.Internal(w, "Database error")
			return
		}

		// The resolver logs out sessions of deleted or deactivated users.
		if wasAuthenticated && !st.Authenticated() {
			if err := m.sessions.Save(r.Context(), w, st); err != nil {
				log.Ctx(r.Context()).Error().Err(err).Msg("failed to save session")
			}
		}

		ctx := context.WithValue(r.Context(), apiContext.Session, st)
		ctx = context.WithValue(ctx, apiContext.Actor, actor)
		next(w, r.WithContext(ctx))
	}
}
