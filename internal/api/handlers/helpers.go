package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	apiContext "suemybrother/internal/api/context"
	"suemybrother/internal/engine/identity"
	"suemybrother/internal/pkg/errors"
	"suemybrother/internal/pkg/validator"
	"suemybrother/internal/platform/session"
)

func sessionFrom(r *http.Request) *session.State {
	st, _ := r.Context().Value(apiContext.Session).(*session.State)
	if st == nil {
		return session.New()
	}
	return st
}

func actorFrom(r *http.Request) *identity.Actor {
	actor, _ := r.Context().Value(apiContext.Actor).(*identity.Actor)
	if actor == nil {
		return &identity.Actor{}
	}
	return actor
}

func param(r *http.Request, name string) string {
	ps, _ := r.Context().Value(apiContext.Params).(httprouter.Params)
	return ps.ByName(name)
}

// decodeForm accepts either a JSON body or an urlencoded form whose keys
// match the JSON tags of v.
func decodeForm(r *http.Request, v interface{}) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
	}

	if err := r.ParseForm(); err != nil {
		return err
	}
	values := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		values[k] = r.PostForm.Get(k)
	}
	b, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func invalidForm(w http.ResponseWriter, err error) {
	errors.WriteError(w, http.StatusUnprocessableEntity, errors.ErrCodeInvalidInput, "Please correct the errors below", validator.FieldErrors(err))
}

// saveAndRedirect persists the session before redirecting, since the
// cookie must be written ahead of the status line.
func saveAndRedirect(w http.ResponseWriter, r *http.Request, sessions *session.Manager, st *session.State, target string, code int) {
	if err := sessions.Save(r.Context(), w, st); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to save session")
		errors.Internal(w, "Session unavailable")
		return
	}
	http.Redirect(w, r, target, code)
}
