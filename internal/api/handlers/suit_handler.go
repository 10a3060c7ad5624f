package handlers

import (
	stderrors "errors"
	"net/http"

	"github.com/rs/zerolog/log"
	"suemybrother/internal/engine/identity"
	"suemybrother/internal/engine/payments"
	"suemybrother/internal/engine/suits"
	"suemybrother/internal/pkg/errors"
	"suemybrother/internal/pkg/validator"
	"suemybrother/internal/platform/models"
	"suemybrother/internal/platform/pay"
	"suemybrother/internal/platform/session"
)

// SuitHandler serves the public filing flow: details, suit, payment,
// confirmation and status.
type SuitHandler struct {
	sessions  *session.Manager
	resolver  *identity.Resolver
	suits     *suits.Service
	payments  *payments.Engine
	publicURL string
}

func NewSuitHandler(sessions *session.Manager, resolver *identity.Resolver, suitSvc *suits.Service, engine *payments.Engine, publicURL string) *SuitHandler {
	return &SuitHandler{
		sessions:  sessions,
		resolver:  resolver,
		suits:     suitSvc,
		payments:  engine,
		publicURL: publicURL,
	}
}

type actorView struct {
	Authenticated bool   `json:"authenticated"`
	Name          string `json:"name,omitempty"`
	Email         string `json:"email,omitempty"`
	Mobile        string `json:"mobile,omitempty"`
}

func viewActor(a *identity.Actor) actorView {
	return actorView{Authenticated: a.Authenticated(), Name: a.Name, Email: a.Email, Mobile: a.Mobile}
}

// statusView is what anyone holding a suit id may see.
type statusView struct {
	ID            string            `json:"id"`
	State         suits.State       `json:"state"`
	Plaintiff     string            `json:"plaintiff"`
	Defendant     string            `json:"defendant"`
	CreatedAt     int64             `json:"created_at"`
	ConfirmedAt   *int64            `json:"confirmed_at,omitempty"`
	AcceptedAt    *int64            `json:"accepted_at,omitempty"`
	PaymentStatus string            `json:"payment_status,omitempty"`
	Message       string            `json:"message,omitempty"`
	Links         map[string]string `json:"links"`
}

func viewStatus(s *models.Suit) statusView {
	v := statusView{
		ID:          s.ID,
		State:       suits.StateOf(s),
		CreatedAt:   s.CreatedAt,
		ConfirmedAt: s.ConfirmedAt,
		AcceptedAt:  s.AcceptedAt,
		Links:       map[string]string{"self": "/status/" + s.ID},
	}
	if s.Plaintiff != nil {
		v.Plaintiff = models.Str(s.Plaintiff.Name)
	}
	if s.Defendant != nil {
		v.Defendant = models.Str(s.Defendant.Name)
	}
	if s.Payment != nil {
		v.PaymentStatus = s.Payment.Status
	}
	if v.State == suits.StateFiled || (v.State == suits.StatePaid && (s.Payment == nil || !s.Payment.Succeeded())) {
		v.Links["pay"] = "/pay"
	}
	return v
}

func (h *SuitHandler) redirectToCurrent(w http.ResponseWriter, r *http.Request, actor *identity.Actor, fallback string) {
	suit, err := h.suits.Current(r.Context(), actor)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to look up current suit")
		errors.Internal(w, "Database error")
		return
	}
	if suit != nil {
		http.Redirect(w, r, "/status/"+suit.ID, http.StatusFound)
		return
	}
	http.Redirect(w, r, fallback, http.StatusFound)
}

// Index sends anyone with a suit to its status page.
func (h *SuitHandler) Index(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)

	suit, err := h.suits.Current(r.Context(), actor)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to look up current suit")
		errors.Internal(w, "Database error")
		return
	}
	if suit != nil {
		http.Redirect(w, r, "/status/"+suit.ID, http.StatusFound)
		return
	}

	errors.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"page":  "index",
		"actor": viewActor(actor),
		"links": map[string]string{"start": "/start", "login": "/login"},
	})
}

// Details captures the plaintiff's own details. With action "set" anyone
// whose name is already known skips straight ahead; "edit" always shows the
// form.
func (h *SuitHandler) Details(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	action := param(r, "action")
	if action == "" {
		action = "set"
	}

	if actor.Name != "" && action == "set" {
		h.redirectToCurrent(w, r, actor, "/start-suit")
		return
	}

	if r.Method != http.MethodPost {
		errors.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"page": "details",
			"form": validator.DetailsForm{Name: actor.Name, Email: actor.Email, Mobile: actor.Mobile},
		})
		return
	}

	var form validator.DetailsForm
	if err := decodeForm(r, &form); err != nil {
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

	st := sessionFrom(r)
	err = h.resolver.RememberDetails(r.Context(), st, actor, identity.Details{Name: form.Name, Email: form.Email, Mobile: mobile})
	if stderrors.Is(err, identity.ErrEmailTaken) {
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "That email address belongs to another account", map[string]string{"email": "Already in use"})
		return
	}
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to store details")
		errors.Internal(w, "Database error")
		return
	}

	saveAndRedirect(w, r, h.sessions, st, "/start-suit", http.StatusSeeOther)
}

func (h *SuitHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.redirectToCurrent(w, r, actorFrom(r), "/start-suit")
}

// StartSuit files a suit against the named defendant.
func (h *SuitHandler) StartSuit(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)

	if r.Method != http.MethodPost {
		errors.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"page":  "suit",
			"actor": viewActor(actor),
			"form":  validator.SuitForm{},
		})
		return
	}

	if actor.Email == "" {
		http.Redirect(w, r, "/details", http.StatusSeeOther)
		return
	}

	var form validator.SuitForm
	if err := decodeForm(r, &form); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	form.Normalize()
	if err := form.Validate(); err != nil {
		invalidForm(w, err)
		return
	}
	mobile, err := validator.NormalizePhone(form.DefendantMobile)
	if err != nil {
		invalidForm(w, err)
		return
	}

	_, err = h.suits.StartSuit(r.Context(), actor, form.DefendantName, mobile)
	switch {
	case stderrors.Is(err, suits.ErrPlaintiffEmailRequired):
		http.Redirect(w, r, "/details", http.StatusSeeOther)
		return
	case stderrors.Is(err, suits.ErrDefendantNameRequired):
		invalidForm(w, err)
		return
	case err != nil:
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to start suit")
		errors.Internal(w, "Failed to file suit")
		return
	}

	http.Redirect(w, r, "/pay", http.StatusSeeOther)
}

// Pay shows the fee on GET and sends the payer to the provider on POST.
func (h *SuitHandler) Pay(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)

	if r.Method != http.MethodPost {
		suit, err := h.suits.Current(r.Context(), actor)
		if err != nil {
			log.Ctx(r.Context()).Error().Err(err).Msg("failed to look up current suit")
			errors.Internal(w, "Database error")
			return
		}
		if suit == nil {
			http.Redirect(w, r, "/start", http.StatusFound)
			return
		}
		errors.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"page": "pay",
			"suit": viewStatus(suit),
		})
		return
	}

	st := sessionFrom(r)
	next, err := h.payments.Initiate(r.Context(), st, actor, h.publicURL)
	if err != nil {
		var ce *pay.CreationError
		switch {
		case stderrors.Is(err, payments.ErrNoSuit):
			http.Redirect(w, r, "/start", http.StatusSeeOther)
		case stderrors.Is(err, payments.ErrAlreadyConfirmed), stderrors.Is(err, suits.ErrInvalidTransition):
			h.redirectToCurrent(w, r, actor, "/start")
		case stderrors.As(err, &ce):
			log.Ctx(r.Context()).Warn().Err(err).Int("status", ce.StatusCode).Str("code", ce.Code).Msg("payment creation rejected")
			errors.WriteError(w, http.StatusBadGateway, errors.ErrCodePaymentFailed, "The payment could not be started, please try again", map[string]string{
				"code":  ce.Code,
				"field": ce.Field,
			})
		default:
			log.Ctx(r.Context()).Error().Err(err).Msg("failed to initiate payment")
			errors.WriteError(w, http.StatusBadGateway, errors.ErrCodePaymentFailed, "The payment could not be started, please try again", nil)
		}
		return
	}

	saveAndRedirect(w, r, h.sessions, st, next, http.StatusSeeOther)
}

// Confirm is where the provider returns the payer.
func (h *SuitHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	st := sessionFrom(r)

	out, err := h.payments.ConfirmCallback(r.Context(), st, actorFrom(r), param(r, "uid"))
	if err != nil {
		switch {
		case stderrors.Is(err, payments.ErrCorrelationMismatch):
			errors.NotFound(w)
		case stderrors.Is(err, pay.ErrAuthFailed), stderrors.Is(err, pay.ErrPaymentNotFound):
			log.Ctx(r.Context()).Error().Err(err).Msg("payment status unavailable")
			errors.WriteError(w, http.StatusBadGateway, errors.ErrCodePaymentFailed, "Payment status unavailable", nil)
		default:
			var pe *pay.Error
			if stderrors.As(err, &pe) {
				log.Ctx(r.Context()).Error().Err(err).Int("status", pe.StatusCode).Msg("payment provider error")
				errors.WriteError(w, http.StatusBadGateway, errors.ErrCodePaymentFailed, "Payment status unavailable", nil)
				return
			}
			log.Ctx(r.Context()).Error().Err(err).Msg("failed to confirm payment")
			errors.Internal(w, "Failed to confirm payment")
		}
		return
	}

	saveAndRedirect(w, r, h.sessions, st, "/status/"+out.Suit.ID, http.StatusFound)
}

func (h *SuitHandler) Status(w http.ResponseWriter, r *http.Request) {
	suit, err := h.suits.Get(r.Context(), param(r, "suit"))
	if stderrors.Is(err, suits.ErrNotFound) {
		errors.NotFound(w)
		return
	}
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to load suit")
		errors.Internal(w, "Database error")
		return
	}

	v := viewStatus(suit)
	switch v.State {
	case suits.StateConfirmed:
		v.Message = "Payment successful. Lawsuit filed."
	case suits.StateAccepted:
		v.Message = "Your suit has been accepted."
	}
	errors.WriteJSON(w, http.StatusOK, v)
}
