// Package storage persists payment transactions. Every status change is a
// compare-and-set on status = 'pending'; a transaction never leaves a
// terminal status.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-ticketing-engine/internal/models"

	"github.com/uptrace/bun"
)

type Store struct {
	db bun.IDB
}

func New(db bun.IDB) *Store {
	return &Store{db: db}
}

// WithTx returns a Store whose queries run inside tx.
func (s *Store) WithTx(tx bun.IDB) *Store {
	return &Store{db: tx}
}

func (s *Store) Create(ctx context.Context, txn *models.PaymentTransaction) error {
	if _, err := s.db.NewInsert().Model(txn).Exec(ctx); err != nil {
		return fmt.Errorf("insert payment transaction %s: %w", txn.TransactionCode, err)
	}
	return nil
}

func (s *Store) SetProviderRef(ctx context.Context, id, ref string) error {
	_, err := s.db.NewUpdate().
		Model((*models.PaymentTransaction)(nil)).
		Set("provider_ref = ?", ref).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store provider ref of %s: %w", id, err)
	}
	return nil
}

// Transition moves a pending transaction to status and records the raw
// gateway response. It reports false when the transaction had already left
// pending.
func (s *Store) Transition(ctx context.Context, id string, status models.PaymentStatus, response map[string]string, now time.Time) (bool, error) {
	q := s.db.NewUpdate().
		Model((*models.PaymentTransaction)(nil)).
		Set("status = ?", status).
		Set("confirmed_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", models.PaymentPending)
	if response != nil {
		q = q.Set("gateway_response = ?", response)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("move payment %s to %s: %w", id, status, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.PaymentTransaction, error) {
	return s.findOne(ctx, "id = ?", id)
}

// FindByCode returns nil without error when no transaction matches.
func (s *Store) FindByCode(ctx context.Context, code string) (*models.PaymentTransaction, error) {
	return s.findOne(ctx, "transaction_code = ?", code)
}

func (s *Store) FindByProviderRef(ctx context.Context, method, ref string) (*models.PaymentTransaction, error) {
	txn := new(models.PaymentTransaction)
	err := s.db.NewSelect().
		Model(txn).
		Where("payment_method = ?", method).
		Where("provider_ref = ?", ref).
		OrderExpr("created_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find payment by provider ref %s: %w", ref, err)
	}
	return txn, nil
}

// PendingByAmount lists pending transactions of one provider for an amount.
// At most limit rows are returned; callers only need to know whether the
// match is unique.
func (s *Store) PendingByAmount(ctx context.Context, method string, amount int64, limit int) ([]*models.PaymentTransaction, error) {
	var txns []*models.PaymentTransaction
	err := s.db.NewSelect().
		Model(&txns).
		Where("payment_method = ?", method).
		Where("amount = ?", amount).
		Where("status = ?", models.PaymentPending).
		OrderExpr("created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("find pending payments of %d: %w", amount, err)
	}
	return txns, nil
}

func (s *Store) ListByOrder(ctx context.Context, orderID string) ([]*models.PaymentTransaction, error) {
	var txns []*models.PaymentTransaction
	err := s.db.NewSelect().
		Model(&txns).
		Where("order_id = ?", orderID).
		OrderExpr("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list payments of order %s: %w", orderID, err)
	}
	return txns, nil
}

func (s *Store) findOne(ctx context.Context, where string, arg any) (*models.PaymentTransaction, error) {
	txn := new(models.PaymentTransaction)
	err := s.db.NewSelect().Model(txn).Where(where, arg).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find payment transaction: %w", err)
	}
	return txn, nil
}
