package repositories

import (
	"context"
	"database/sql"

	"suemybrother/internal/platform/database"
	"suemybrother/internal/platform/models"
)

const paymentColumns = `reference, amount, description, provider, status, finished, status_msg, self_url, next_url, created_at`

type PaymentRepository struct {
	db *database.DB
}

func NewPaymentRepository(db *database.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func scanPayment(row scanner) (*models.Payment, error) {
	p := &models.Payment{}
	if err := row.Scan(&p.Reference, &p.Amount, &p.Description, &p.Provider, &p.Status, &p.Finished, &p.StatusMsg, &p.SelfURL, &p.NextURL, &p.CreatedAt); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *PaymentRepository) CreateTx(ctx context.Context, tx *sql.Tx, p *models.Payment) error {
	_, err := tx.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), p.Reference, p.Amount, p.Description, p.Provider, p.Status, p.Finished, p.StatusMsg, p.SelfURL, p.NextURL, p.CreatedAt)
	return err
}

func (r *PaymentRepository) get(ctx context.Context, q querier, reference string) (*models.Payment, error) {
	p, err := scanPayment(q.QueryRowContext(ctx, r.db.Rebind(`SELECT `+paymentColumns+` FROM payments WHERE reference = ?`), reference))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func (r *PaymentRepository) GetByReference(ctx context.Context, reference string) (*models.Payment, error) {
	return r.get(ctx, r.db, reference)
}

func (r *PaymentRepository) GetByReferenceTx(ctx context.Context, tx *sql.Tx, reference string) (*models.Payment, error) {
	return r.get(ctx, tx, reference)
}

// UpdateStatus persists the provider's view of a payment. Only the state
// fields change after creation.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, p *models.Payment) error {
	return r.updateStatus(ctx, r.db, p)
}

func (r *PaymentRepository) UpdateStatusTx(ctx context.Context, tx *sql.Tx, p *models.Payment) error {
	return r.updateStatus(ctx, tx, p)
}

func (r *PaymentRepository) updateStatus(ctx context.Context, q querier, p *models.Payment) error {
	_, err := q.ExecContext(ctx, r.db.Rebind(`
		UPDATE payments SET status = ?, finished = ?, status_msg = ? WHERE reference = ?
	`), p.Status, p.Finished, p.StatusMsg, p.Reference)
	return err
}

func (r *PaymentRepository) ListUnfinished(ctx context.Context) ([]*models.Payment, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`SELECT `+paymentColumns+` FROM payments WHERE finished = ? ORDER BY created_at ASC`), false)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}
