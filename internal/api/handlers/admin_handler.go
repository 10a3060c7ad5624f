package handlers

import (
	"database/sql"
	stderrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"suemybrother/internal/engine/access"
	"suemybrother/internal/engine/identity"
	"suemybrother/internal/engine/stepup"
	"suemybrother/internal/engine/suits"
	"suemybrother/internal/pkg/errors"
	"suemybrother/internal/pkg/validator"
	"suemybrother/internal/platform/audit"
	"suemybrother/internal/platform/config"
	"suemybrother/internal/platform/database"
	"suemybrother/internal/platform/models"
	"suemybrother/internal/platform/repositories"
	"suemybrother/internal/platform/session"
)

// AdminHandler serves the staff pages. Routes are registered behind the
// admin permission; finer checks happen here.
type AdminHandler struct {
	db       *database.DB
	sessions *session.Manager
	suits    *suits.Service
	users    *repositories.UserRepository
	audit    *audit.Logger
	gate     *stepup.Gate
	cfg      config.StepUpConfig
}

func NewAdminHandler(db *database.DB, sessions *session.Manager, suitSvc *suits.Service, users *repositories.UserRepository, auditLogger *audit.Logger, gate *stepup.Gate, cfg config.StepUpConfig) *AdminHandler {
	return &AdminHandler{
		db:       db,
		sessions: sessions,
		suits:    suitSvc,
		users:    users,
		audit:    auditLogger,
		gate:     gate,
		cfg:      cfg,
	}
}

// stepUp reports whether the request may go ahead. When it may not, the
// response has already been written.
func (h *AdminHandler) stepUp(w http.ResponseWriter, r *http.Request, maxAge time.Duration, next string) bool {
	st := sessionFrom(r)
	d := h.gate.Require(st, maxAge, next)
	if d.Allowed {
		return true
	}
	saveAndRedirect(w, r, h.sessions, st, d.Redirect, http.StatusFound)
	return false
}

func can(actor *identity.Actor, perms ...access.Permission) bool {
	return access.Authorize(actor, perms...).Allowed
}

func (h *AdminHandler) Index(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	errors.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"page":             "admin",
		"can_accept_suits": can(actor, access.AcceptSuits),
		"can_make_admin":   can(actor, access.MakeAdmin),
		"links": map[string]string{
			"suits": "/admin/suits",
			"users": "/admin/users",
			"audit": "/admin/audit",
		},
	})
}

func (h *AdminHandler) Suits(w http.ResponseWriter, r *http.Request) {
	list, err := h.suits.List(r.Context())
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to list suits")
		errors.Internal(w, "Database error")
		return
	}

	views := make([]statusView, 0, len(list))
	for _, s := range list {
		views = append(views, viewStatus(s))
	}
	errors.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"suits":            views,
		"can_accept_suits": can(actorFrom(r), access.AcceptSuits),
	})
}

func (h *AdminHandler) writeSuitError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case stderrors.Is(err, suits.ErrNotFound):
		errors.NotFound(w)
	case stderrors.Is(err, suits.ErrInvalidTransition):
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "The suit cannot be changed in its current state", nil)
	default:
		log.Ctx(r.Context()).Error().Err(err).Msg("suit transition failed")
		errors.Internal(w, "Database error")
	}
}

// ConfirmAccept shows the suit about to be accepted with the form action
// that accepts it. Re-authentication for an accept returns here, so a GET
// never changes a suit.
func (h *AdminHandler) ConfirmAccept(w http.ResponseWriter, r *http.Request) {
	if !h.stepUp(w, r, h.cfg.AcceptSuitMaxAge, r.URL.Path) {
		return
	}

	suit, err := h.suits.Get(r.Context(), param(r, "suit"))
	if err != nil {
		h.writeSuitError(w, r, err)
		return
	}

	errors.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"page":   "accept",
		"suit":   viewStatus(suit),
		"action": r.URL.Path,
		"method": http.MethodPost,
	})
}

// Accept resumes on the confirmation page after re-authentication.
func (h *AdminHandler) Accept(w http.ResponseWriter, r *http.Request) {
	id := param(r, "suit")
	if !h.stepUp(w, r, h.cfg.AcceptSuitMaxAge, r.URL.Path) {
		return
	}

	suit, err := h.suits.Accept(r.Context(), id)
	if err != nil {
		h.writeSuitError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), r, actorFrom(r).UserID(), audit.ActionSuitAccepted, "suit", suit.ID, nil)
	http.Redirect(w, r, "/admin", http.StatusSeeOther)
}

// Reject deletes the suit. After re-authentication the staff member is
// returned to the suit list rather than replaying the deletion.
func (h *AdminHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id := param(r, "suit")
	if !h.stepUp(w, r, h.cfg.AcceptSuitMaxAge, "/admin/suits") {
		return
	}

	if err := h.suits.Reject(r.Context(), id); err != nil {
		h.writeSuitError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), r, actorFrom(r).UserID(), audit.ActionSuitRejected, "suit", id, nil)
	http.Redirect(w, r, "/admin", http.StatusSeeOther)
}

func (h *AdminHandler) Users(w http.ResponseWriter, r *http.Request) {
	if !h.stepUp(w, r, h.cfg.AdminUsersMaxAge, "/admin/users") {
		return
	}

	users, err := h.users.List(r.Context())
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to list users")
		errors.Internal(w, "Database error")
		return
	}

	errors.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"users":          users,
		"can_make_admin": can(actorFrom(r), access.MakeAdmin),
	})
}

func parseBoolField(r *http.Request, name string) (*bool, error) {
	raw, ok := r.PostForm[name]
	if !ok {
		return nil, nil
	}
	v := strings.TrimSpace(raw[0])
	if v == "" {
		f := false
		return &f, nil
	}
	if v == "on" {
		t := true
		return &t, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func decodeAdminUserForm(r *http.Request) (*validator.AdminUserForm, error) {
	form := &validator.AdminUserForm{}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := decodeForm(r, form); err != nil {
			return nil, err
		}
		return form, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	form.Name = r.PostForm.Get("name")
	form.Email = r.PostForm.Get("email")
	form.Mobile = r.PostForm.Get("mobile")

	var err error
	if form.Admin, err = parseBoolField(r, "admin"); err != nil {
		return nil, err
	}
	if form.SuperAdmin, err = parseBoolField(r, "superadmin"); err != nil {
		return nil, err
	}
	if form.CanAcceptSuits, err = parseBoolField(r, "accept_suits"); err != nil {
		return nil, err
	}
	return form, nil
}

// UpdateUser edits another user's details. Capability flags and the admin
// role need the make_admin permission. A stale login is sent to
// re-authenticate and comes back to the user list, never to the edit.
func (h *AdminHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	if !h.stepUp(w, r, h.cfg.AdminUsersMaxAge, "/admin/users") {
		return
	}
	actor := actorFrom(r)
	id := param(r, "user")

	form, err := decodeAdminUserForm(r)
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	form.Normalize()
	if err := form.Validate(); err != nil {
		invalidForm(w, err)
		return
	}
	mobile, err := validator.NormalizePhone(form.Mobile)
	if err != nil {
		invalidForm(w, err)
		return
	}

	changesCapabilities := form.Admin != nil || form.SuperAdmin != nil || form.CanAcceptSuits != nil
	if changesCapabilities {
		if d := access.Authorize(actor, access.MakeAdmin); !d.Allowed {
			errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", map[string]interface{}{"missing": d.Missing})
			return
		}
	}

	upd := repositories.AdminUpdate{
		Name:           models.NullStr(form.Name),
		Email:          models.NullStr(form.Email),
		Mobile:         models.NullStr(mobile),
		IsSuperadmin:   form.SuperAdmin,
		CanAcceptSuits: form.CanAcceptSuits,
	}

	if upd.Email != nil {
		other, err := h.users.GetByEmail(r.Context(), *upd.Email)
		if err != nil {
			log.Ctx(r.Context()).Error().Err(err).Msg("failed to look up email")
			errors.Internal(w, "Database error")
			return
		}
		if other != nil && other.ID != id {
			errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "That email address belongs to another account", map[string]string{"email": "Already in use"})
			return
		}
	}

	var missing bool
	err = database.InTx(r.Context(), h.db, func(tx *sql.Tx) error {
		u, err := h.users.GetByIDTx(r.Context(), tx, id)
		if err != nil {
			return err
		}
		if u == nil {
			missing = true
			return nil
		}

		if err := h.users.UpdateAdminTx(r.Context(), tx, id, upd); err != nil {
			return err
		}
		if form.Admin == nil {
			return nil
		}
		if *form.Admin {
			return h.users.AddRoleTx(r.Context(), tx, id, models.RoleAdmin)
		}
		return h.users.RemoveRoleTx(r.Context(), tx, id, models.RoleAdmin)
	})
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to update user")
		errors.Internal(w, "Database error")
		return
	}
	if missing {
		errors.NotFound(w)
		return
	}

	meta := map[string]interface{}{}
	if form.Admin != nil {
		meta["admin"] = *form.Admin
	}
	if form.SuperAdmin != nil {
		meta["superadmin"] = *form.SuperAdmin
	}
	if form.CanAcceptSuits != nil {
		meta["accept_suits"] = *form.CanAcceptSuits
	}
	h.audit.Log(r.Context(), r, actor.UserID(), audit.ActionUserUpdated, "user", id, meta)

	http.Redirect(w, r, "/admin/users", http.StatusSeeOther)
}

// DeleteUser removes a user along with every suit they are party to.
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if !h.stepUp(w, r, h.cfg.AdminUsersMaxAge, "/admin/users") {
		return
	}
	actor := actorFrom(r)
	id := param(r, "user")

	if d := access.Authorize(actor, access.MakeAdmin); !d.Allowed {
		errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", map[string]interface{}{"missing": d.Missing})
		return
	}
	if id == actor.UserID() {
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "You cannot delete yourself", nil)
		return
	}

	var deleted int64
	var removedSuits int64
	err := database.InTx(r.Context(), h.db, func(tx *sql.Tx) error {
		n, err := h.suits.DeleteForUserTx(r.Context(), tx, id)
		if err != nil {
			return err
		}
		removedSuits = n
		deleted, err = h.users.DeleteTx(r.Context(), tx, id)
		return err
	})
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to delete user")
		errors.Internal(w, "Database error")
		return
	}
	if deleted == 0 {
		errors.NotFound(w)
		return
	}

	h.audit.Log(r.Context(), r, actor.UserID(), audit.ActionUserDeleted, "user", id, map[string]interface{}{"suits_deleted": removedSuits})
	http.Redirect(w, r, "/admin/users", http.StatusSeeOther)
}
