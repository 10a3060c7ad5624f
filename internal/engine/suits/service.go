package suits

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"suemybrother/internal/engine/identity"
	"suemybrother/internal/platform/database"
	"suemybrother/internal/platform/metrics"
	"suemybrother/internal/platform/models"
	"suemybrother/internal/platform/repositories"
)

var (
	ErrNotFound               = errors.New("suit not found")
	ErrInvalidTransition      = errors.New("suit is not in a state that allows this")
	ErrPaymentNotSuccessful   = errors.New("payment has not succeeded")
	ErrDefendantNameRequired  = errors.New("defendant name is required")
	ErrPlaintiffEmailRequired = errors.New("plaintiff email is required")
)

const (
	TemplateSMS    = "sms"
	TemplateAccept = "accept"
)

type State string

const (
	StateFiled     State = "filed"
	StatePaid      State = "paid"
	StateConfirmed State = "confirmed"
	StateAccepted  State = "accepted"
)

// StateOf derives the lifecycle state from the stored timestamps. Rejected
// suits no longer exist.
func StateOf(s *models.Suit) State {
	switch {
	case s.AcceptedAt != nil:
		return StateAccepted
	case s.ConfirmedAt != nil:
		return StateConfirmed
	case s.PaymentReference != nil:
		return StatePaid
	default:
		return StateFiled
	}
}

// Notifier delivers the outbound messages triggered by transitions.
type Notifier interface {
	SendSMS(ctx context.Context, template, to string, personalisation map[string]string) error
	SendEmail(ctx context.Context, template, to string, personalisation map[string]string) error
}

type Service struct {
	db       *database.DB
	users    *repositories.UserRepository
	suits    *repositories.SuitRepository
	payments *repositories.PaymentRepository
	identity *identity.Resolver
	notifier Notifier
	now      func() time.Time
}

func NewService(db *database.DB, users *repositories.UserRepository, suits *repositories.SuitRepository, payments *repositories.PaymentRepository, resolver *identity.Resolver, notifier Notifier) *Service {
	return &Service{
		db:       db,
		users:    users,
		suits:    suits,
		payments: payments,
		identity: resolver,
		notifier: notifier,
		now:      time.Now,
	}
}

// StartSuit files a new suit by the actor against the named defendant.
func (s *Service) StartSuit(ctx context.Context, actor *identity.Actor, defendantName, defendantMobile string) (*models.Suit, error) {
	defendantName = strings.TrimSpace(defendantName)
	if defendantName == "" {
		return nil, ErrDefendantNameRequired
	}
	if actor.Email == "" {
		return nil, ErrPlaintiffEmailRequired
	}

	suit := &models.Suit{}
	err := database.InTx(ctx, s.db, func(tx *sql.Tx) error {
		plaintiff, err := s.identity.Promote(ctx, tx, actor)
		if err != nil {
			return err
		}

		defendant, _, err := s.users.GetOrCreateByNameTx(ctx, tx, defendantName, plaintiff.ID)
		if err != nil {
			return err
		}
		if defendantMobile != "" {
			if err := s.users.SetMobileTx(ctx, tx, defendant.ID, defendantMobile); err != nil {
				return err
			}
			defendant.Mobile = models.NullStr(defendantMobile)
		}

		suit.PlaintiffID = plaintiff.ID
		suit.DefendantID = defendant.ID
		suit.CreatedAt = s.now().Unix()
		if err := s.suits.CreateTx(ctx, tx, suit); err != nil {
			return err
		}

		suit.Plaintiff = plaintiff
		suit.Defendant = defendant
		return nil
	})
	if err != nil {
		if errors.Is(err, identity.ErrEmailRequired) {
			return nil, ErrPlaintiffEmailRequired
		}
		return nil, err
	}

	metrics.SuitTransitions.WithLabelValues(string(StateFiled)).Inc()
	log.Ctx(ctx).Info().Str("suit_id", suit.ID).Msg("suit filed")
	return suit, nil
}

// Current returns the newest suit brought by the actor, or nil when the
// actor has no email or has brought none. It never writes.
func (s *Service) Current(ctx context.Context, actor *identity.Actor) (*models.Suit, error) {
	if actor == nil || actor.Email == "" {
		return nil, nil
	}

	suit, err := s.suits.LatestForPlaintiffEmail(ctx, strings.ToLower(actor.Email))
	if err != nil || suit == nil {
		return nil, err
	}
	return suit, s.hydrate(ctx, suit)
}

func (s *Service) Get(ctx context.Context, id string) (*models.Suit, error) {
	suit, err := s.suits.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if suit == nil {
		return nil, ErrNotFound
	}
	return suit, s.hydrate(ctx, suit)
}

func (s *Service) List(ctx context.Context) ([]*models.Suit, error) {
	list, err := s.suits.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, suit := range list {
		if err := s.hydrate(ctx, suit); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (s *Service) hydrate(ctx context.Context, suit *models.Suit) error {
	var err error
	if suit.Plaintiff, err = s.users.GetByID(ctx, suit.PlaintiffID); err != nil {
		return err
	}
	if suit.Defendant, err = s.users.GetByID(ctx, suit.DefendantID); err != nil {
		return err
	}
	if suit.PaymentReference != nil {
		if suit.Payment, err = s.payments.GetByReference(ctx, *suit.PaymentReference); err != nil {
			return err
		}
	}
	return nil
}

// AttachPaymentTx points an unconfirmed suit at a new payment.
func (s *Service) AttachPaymentTx(ctx context.Context, tx *sql.Tx, suitID, reference string) error {
	n, err := s.suits.AttachPaymentTx(ctx, tx, suitID, reference)
	if err != nil {
		return err
	}
	if n == 0 {
		return s.missingOrInvalid(ctx, tx, suitID)
	}
	return nil
}

// ConfirmTx moves a paid suit to confirmed inside the caller's transaction.
// The caller must run NotifyConfirmed after commit.
func (s *Service) ConfirmTx(ctx context.Context, tx *sql.Tx, suitID string, payment *models.Payment) error {
	if payment == nil || !payment.Succeeded() {
		return ErrPaymentNotSuccessful
	}

	suit, err := s.suits.GetByIDTx(ctx, tx, suitID)
	if err != nil {
		return err
	}
	if suit == nil {
		return ErrNotFound
	}
	if suit.PaymentReference == nil || *suit.PaymentReference != payment.Reference {
		return ErrInvalidTransition
	}

	n, err := s.suits.ConfirmTx(ctx, tx, suitID, s.now().Unix())
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// Confirm loads the suit's payment and confirms the suit if the payment
// succeeded.
func (s *Service) Confirm(ctx context.Context, suitID string) (*models.Suit, error) {
	err := database.InTx(ctx, s.db, func(tx *sql.Tx) error {
		suit, err := s.suits.GetByIDTx(ctx, tx, suitID)
		if err != nil {
			return err
		}
		if suit == nil {
			return ErrNotFound
		}
		if suit.PaymentReference == nil {
			return ErrPaymentNotSuccessful
		}
		payment, err := s.payments.GetByReferenceTx(ctx, tx, *suit.PaymentReference)
		if err != nil {
			return err
		}
		return s.ConfirmTx(ctx, tx, suitID, payment)
	})
	if err != nil {
		return nil, err
	}
	return s.NotifyConfirmed(ctx, suitID)
}

// NotifyConfirmed texts the defendant, when a mobile is on file, that a
// suit has been filed against them. Delivery failures are logged only.
func (s *Service) NotifyConfirmed(ctx context.Context, suitID string) (*models.Suit, error) {
	metrics.SuitTransitions.WithLabelValues(string(StateConfirmed)).Inc()

	suit, err := s.Get(ctx, suitID)
	if err != nil {
		return nil, err
	}

	logger := log.Ctx(ctx).With().Str("suit_id", suit.ID).Logger()
	logger.Info().Msg("suit confirmed")

	if suit.Defendant == nil || suit.Defendant.Mobile == nil {
		logger.Debug().Msg("defendant has no mobile, skipping sms")
		return suit, nil
	}

	err = s.notifier.SendSMS(ctx, TemplateSMS, *suit.Defendant.Mobile, map[string]string{
		"plaintiff": models.Str(suit.Plaintiff.Name),
	})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to send sms to defendant")
	}
	return suit, nil
}

// Accept marks a confirmed suit accepted and emails the plaintiff.
func (s *Service) Accept(ctx context.Context, suitID string) (*models.Suit, error) {
	err := database.InTx(ctx, s.db, func(tx *sql.Tx) error {
		n, err := s.suits.AcceptTx(ctx, tx, suitID, s.now().Unix())
		if err != nil {
			return err
		}
		if n == 0 {
			return s.missingOrInvalid(ctx, tx, suitID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.SuitTransitions.WithLabelValues(string(StateAccepted)).Inc()

	suit, err := s.Get(ctx, suitID)
	if err != nil {
		return nil, err
	}

	logger := log.Ctx(ctx).With().Str("suit_id", suit.ID).Logger()
	logger.Info().Msg("suit accepted")

	if suit.Plaintiff == nil || suit.Plaintiff.Email == nil {
		logger.Warn().Msg("plaintiff has no email, skipping acceptance email")
		return suit, nil
	}

	err = s.notifier.SendEmail(ctx, TemplateAccept, *suit.Plaintiff.Email, map[string]string{
		"plaintiff": models.Str(suit.Plaintiff.Name),
		"defendant": models.Str(suit.Defendant.Name),
	})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to send acceptance email")
	}
	return suit, nil
}

// Reject deletes a suit that has not been accepted.
func (s *Service) Reject(ctx context.Context, suitID string) error {
	err := database.InTx(ctx, s.db, func(tx *sql.Tx) error {
		n, err := s.suits.DeleteTx(ctx, tx, suitID)
		if err != nil {
			return err
		}
		if n == 0 {
			return s.missingOrInvalid(ctx, tx, suitID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	metrics.SuitTransitions.WithLabelValues("rejected").Inc()
	log.Ctx(ctx).Info().Str("suit_id", suitID).Msg("suit rejected")
	return nil
}

func (s *Service) missingOrInvalid(ctx context.Context, tx *sql.Tx, suitID string) error {
	suit, err := s.suits.GetByIDTx(ctx, tx, suitID)
	if err != nil {
		return err
	}
	if suit == nil {
		return ErrNotFound
	}
	return ErrInvalidTransition
}

// DeleteForUserTx removes every suit the user is party to, whatever its
// state. Used when staff delete the user.
func (s *Service) DeleteForUserTx(ctx context.Context, tx *sql.Tx, userID string) (int64, error) {
	return s.suits.DeleteForUserTx(ctx, tx, userID)
}
