package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"suemybrother/internal/engine/identity"
	"suemybrother/internal/engine/suits"
	"suemybrother/internal/platform/database"
	"suemybrother/internal/platform/metrics"
	"suemybrother/internal/platform/models"
	"suemybrother/internal/platform/pay"
	"suemybrother/internal/platform/repositories"
	"suemybrother/internal/platform/session"
)

var (
	// ErrCorrelationMismatch covers every way a return from the provider can
	// fail to match this session's suit. Callers answer it with a plain 404.
	ErrCorrelationMismatch = errors.New("payments: callback does not match a payment for this session")
	ErrNoSuit              = errors.New("payments: actor has no suit to pay for")
	ErrAlreadyConfirmed    = errors.New("payments: suit is already confirmed")
	ErrUnknownPayment      = errors.New("payments: unknown payment reference")
)

const descriptionFormat = "I, %s, wish to sue my brother, %s, for his actions of which we will not speak, but which were despicable and wrong."

// Provider is the payment service.
type Provider interface {
	CreatePayment(ctx context.Context, amount int64, description, returnURL, reference string) (*models.Payment, error)
	Status(ctx context.Context, selfURL string) (*pay.Response, error)
}

// Outcome is the result of a provider return.
type Outcome struct {
	Suit      *models.Suit
	Payment   *models.Payment
	Confirmed bool
}

type Engine struct {
	db       *database.DB
	provider Provider
	suits    *suits.Service
	suitRepo *repositories.SuitRepository
	payments *repositories.PaymentRepository
	fee      int64
}

func NewEngine(db *database.DB, provider Provider, suitSvc *suits.Service, suitRepo *repositories.SuitRepository, payments *repositories.PaymentRepository, fee int64) *Engine {
	return &Engine{
		db:       db,
		provider: provider,
		suits:    suitSvc,
		suitRepo: suitRepo,
		payments: payments,
		fee:      fee,
	}
}

// ReturnURL builds the address the provider sends the payer back to. It is
// always https whatever the configured scheme.
func ReturnURL(publicURL, uid string) (string, error) {
	u, err := url.Parse(publicURL)
	if err != nil {
		return "", fmt.Errorf("payments: bad public url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("payments: public url %q has no host", publicURL)
	}
	u.Scheme = "https"
	u.Path = strings.TrimSuffix(u.Path, "/") + "/confirm/" + uid
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

func Description(plaintiff, defendant string) string {
	return fmt.Sprintf(descriptionFormat, plaintiff, defendant)
}

// Initiate creates a payment for the actor's current suit and returns the
// provider URL to send the payer to. The session remembers which payment the
// new correlation uid stands for; the caller must save it.
func (e *Engine) Initiate(ctx context.Context, st *session.State, actor *identity.Actor, publicURL string) (string, error) {
	suit, err := e.suits.Current(ctx, actor)
	if err != nil {
		return "", err
	}
	if suit == nil {
		return "", ErrNoSuit
	}
	if suit.ConfirmedAt != nil {
		return "", ErrAlreadyConfirmed
	}

	uid := uuid.NewString()
	returnURL, err := ReturnURL(publicURL, uid)
	if err != nil {
		return "", err
	}

	desc := Description(models.Str(suit.Plaintiff.Name), models.Str(suit.Defendant.Name))
	payment, err := e.provider.CreatePayment(ctx, e.fee, desc, returnURL, pay.NewReference())
	if err != nil {
		return "", err
	}

	err = database.InTx(ctx, e.db, func(tx *sql.Tx) error {
		if err := e.payments.CreateTx(ctx, tx, payment); err != nil {
			return err
		}
		return e.suits.AttachPaymentTx(ctx, tx, suit.ID, payment.Reference)
	})
	if err != nil {
		return "", err
	}

	st.SetPayment(uid, payment.Reference)
	metrics.PaymentsCreated.Inc()

	log.Ctx(ctx).Info().
		Str("suit_id", suit.ID).
		Str("reference", payment.Reference).
		Msg("payment created")

	return payment.NextURL, nil
}

// ConfirmCallback handles the payer's return from the provider. The uid must
// be one this session was issued for the payment currently attached to the
// actor's suit. The provider is asked for the authoritative status; a
// successful payment confirms the suit.
func (e *Engine) ConfirmCallback(ctx context.Context, st *session.State, actor *identity.Actor, uid string) (*Outcome, error) {
	reference, ok := st.PaymentReference(uid)
	if !ok {
		return nil, ErrCorrelationMismatch
	}

	suit, err := e.suits.Current(ctx, actor)
	if err != nil {
		return nil, err
	}
	if suit == nil || suit.Payment == nil || suit.Payment.Reference != reference {
		return nil, ErrCorrelationMismatch
	}

	payment := suit.Payment
	resp, err := e.provider.Status(ctx, payment.SelfURL)
	if err != nil {
		return nil, err
	}
	resp.ApplyStatus(payment)

	confirmed, err := e.apply(ctx, suit.ID, payment)
	if err != nil {
		return nil, err
	}

	if payment.Finished {
		st.ForgetPayment(uid)
	}

	out := &Outcome{Payment: payment, Confirmed: confirmed}
	if confirmed {
		out.Suit, err = e.suits.NotifyConfirmed(ctx, suit.ID)
	} else {
		out.Suit, err = e.suits.Get(ctx, suit.ID)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// apply stores the refreshed payment and confirms the suit when the payment
// succeeded, in one transaction.
func (e *Engine) apply(ctx context.Context, suitID string, payment *models.Payment) (bool, error) {
	confirmed := false
	err := database.InTx(ctx, e.db, func(tx *sql.Tx) error {
		if err := e.payments.UpdateStatusTx(ctx, tx, payment); err != nil {
			return err
		}
		if suitID == "" || !payment.Succeeded() {
			return nil
		}

		// Another request may have confirmed or rejected the suit since it
		// was read; the payment status is still stored.
		err := e.suits.ConfirmTx(ctx, tx, suitID, payment)
		switch {
		case errors.Is(err, suits.ErrInvalidTransition), errors.Is(err, suits.ErrNotFound):
			return nil
		case err != nil:
			return err
		}
		confirmed = true
		return nil
	})
	return confirmed, err
}

// Refresh re-queries the provider for a stored payment and confirms the suit
// it pays for when it has succeeded.
func (e *Engine) Refresh(ctx context.Context, reference string) (*Outcome, error) {
	payment, err := e.payments.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrUnknownPayment
	}

	resp, err := e.provider.Status(ctx, payment.SelfURL)
	if err != nil {
		return nil, err
	}
	resp.ApplyStatus(payment)

	var suitID string
	err = database.InTx(ctx, e.db, func(tx *sql.Tx) error {
		suit, err := e.suitRepo.GetByPaymentReferenceTx(ctx, tx, reference)
		if err != nil || suit == nil {
			return err
		}
		suitID = suit.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	confirmed, err := e.apply(ctx, suitID, payment)
	if err != nil {
		return nil, err
	}

	out := &Outcome{Payment: payment, Confirmed: confirmed}
	if confirmed {
		if out.Suit, err = e.suits.NotifyConfirmed(ctx, suitID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// RefreshUnfinished refreshes every payment the provider has not finished.
// Failures are logged and skipped.
func (e *Engine) RefreshUnfinished(ctx context.Context) (int, error) {
	pending, err := e.payments.ListUnfinished(ctx)
	if err != nil {
		return 0, err
	}

	refreshed := 0
	for _, p := range pending {
		if _, err := e.Refresh(ctx, p.Reference); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("reference", p.Reference).Msg("failed to refresh payment")
			continue
		}
		refreshed++
	}
	return refreshed, nil
}
