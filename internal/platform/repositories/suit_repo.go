package repositories

import (
	"context"
	"database/sql"
	"time"

	"suemybrother/internal/pkg/ids"
	"suemybrother/internal/platform/database"
	"suemybrother/internal/platform/models"
)

const suitColumns = `suits.id, suits.plaintiff_id, suits.defendant_id, suits.created_at, suits.confirmed_at, suits.accepted_at, suits.payment_reference`

type SuitRepository struct {
	db *database.DB
}

func NewSuitRepository(db *database.DB) *SuitRepository {
	return &SuitRepository{db: db}
}

func scanSuit(row scanner) (*models.Suit, error) {
	s := &models.Suit{}
	if err := row.Scan(&s.ID, &s.PlaintiffID, &s.DefendantID, &s.CreatedAt, &s.ConfirmedAt, &s.AcceptedAt, &s.PaymentReference); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *SuitRepository) CreateTx(ctx context.Context, tx *sql.Tx, suit *models.Suit) error {
	if suit.ID == "" {
		suit.ID = ids.New()
	}
	if suit.CreatedAt == 0 {
		suit.CreatedAt = time.Now().Unix()
	}
	_, err := tx.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO suits (id, plaintiff_id, defendant_id, created_at, confirmed_at, accepted_at, payment_reference)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), suit.ID, suit.PlaintiffID, suit.DefendantID, suit.CreatedAt, suit.ConfirmedAt, suit.AcceptedAt, suit.PaymentReference)
	return err
}

func (r *SuitRepository) get(ctx context.Context, q querier, id string) (*models.Suit, error) {
	s, err := scanSuit(q.QueryRowContext(ctx, r.db.Rebind(`SELECT `+suitColumns+` FROM suits WHERE id = ?`), id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

func (r *SuitRepository) GetByID(ctx context.Context, id string) (*models.Suit, error) {
	return r.get(ctx, r.db, id)
}

func (r *SuitRepository) GetByIDTx(ctx context.Context, tx *sql.Tx, id string) (*models.Suit, error) {
	return r.get(ctx, tx, id)
}

func (r *SuitRepository) GetByPaymentReferenceTx(ctx context.Context, tx *sql.Tx, reference string) (*models.Suit, error) {
	s, err := scanSuit(tx.QueryRowContext(ctx, r.db.Rebind(`SELECT `+suitColumns+` FROM suits WHERE payment_reference = ?`), reference))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// LatestForPlaintiffEmail returns the most recently filed suit brought by
// the user with this email. Ties on created_at fall back to id, which sorts
// in creation order.
func (r *SuitRepository) LatestForPlaintiffEmail(ctx context.Context, email string) (*models.Suit, error) {
	s, err := scanSuit(r.db.QueryRowContext(ctx, r.db.Rebind(`
		SELECT `+suitColumns+` FROM suits
		JOIN users ON users.id = suits.plaintiff_id
		WHERE users.email = ?
		ORDER BY suits.created_at DESC, suits.id DESC
		LIMIT 1
	`), email))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

func (r *SuitRepository) List(ctx context.Context) ([]*models.Suit, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+suitColumns+` FROM suits ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var suits []*models.Suit
	for rows.Next() {
		s, err := scanSuit(rows)
		if err != nil {
			return nil, err
		}
		suits = append(suits, s)
	}
	return suits, rows.Err()
}

// AttachPaymentTx replaces the payment of an unconfirmed suit.
func (r *SuitRepository) AttachPaymentTx(ctx context.Context, tx *sql.Tx, id, reference string) (int64, error) {
	return rowsAffected(tx.ExecContext(ctx, r.db.Rebind(`
		UPDATE suits SET payment_reference = ? WHERE id = ? AND confirmed_at IS NULL
	`), reference, id))
}

func (r *SuitRepository) ConfirmTx(ctx context.Context, tx *sql.Tx, id string, at int64) (int64, error) {
	return rowsAffected(tx.ExecContext(ctx, r.db.Rebind(`
		UPDATE suits SET confirmed_at = ?
		WHERE id = ? AND confirmed_at IS NULL AND payment_reference IS NOT NULL
	`), at, id))
}

func (r *SuitRepository) AcceptTx(ctx context.Context, tx *sql.Tx, id string, at int64) (int64, error) {
	return rowsAffected(tx.ExecContext(ctx, r.db.Rebind(`
		UPDATE suits SET accepted_at = ?
		WHERE id = ? AND confirmed_at IS NOT NULL AND accepted_at IS NULL
	`), at, id))
}

// DeleteTx removes a suit that has not been accepted.
func (r *SuitRepository) DeleteTx(ctx context.Context, tx *sql.Tx, id string) (int64, error) {
	return rowsAffected(tx.ExecContext(ctx, r.db.Rebind(`
		DELETE FROM suits WHERE id = ? AND accepted_at IS NULL
	`), id))
}

// DeleteForUserTx removes every suit the user is party to.
func (r *SuitRepository) DeleteForUserTx(ctx context.Context, tx *sql.Tx, userID string) (int64, error) {
	return rowsAffected(tx.ExecContext(ctx, r.db.Rebind(`
		DELETE FROM suits WHERE plaintiff_id = ? OR defendant_id = ?
	`), userID, userID))
}
