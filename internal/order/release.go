package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-ticketing-engine/internal/apperror"
	"ms-ticketing-engine/internal/inventory"
	"ms-ticketing-engine/internal/metrics"
	"ms-ticketing-engine/internal/models"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// LockOrder reads the order inside tx and, on PostgreSQL, keeps its row
// locked until tx ends. Every writer that touches an order and its payment
// transactions locks the order row first.
func LockOrder(ctx context.Context, tx bun.IDB, orderID string) (*models.Order, error) {
	order := new(models.Order)
	q := tx.NewSelect().Model(order).Where("id = ?", orderID).Limit(1)
	if tx.Dialect().Name() == dialect.PG {
		q = q.For("UPDATE")
	}
	err := q.Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("order %s not found", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("lock order %s: %w", orderID, err)
	}
	return order, nil
}

// ReleaseOrder moves a pending order to status and gives its holds back.
// Still-pending payment transactions of the order are failed with it. The
// pending check is a compare-and-set inside the caller's transaction, so it
// returns false without side effects when a settlement got there first.
func ReleaseOrder(ctx context.Context, tx bun.IDB, orderID string, status models.OrderStatus, now time.Time) (bool, error) {
	res, err := tx.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", now).
		Where("id = ?", orderID).
		Where("status = ?", models.OrderPending).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("move order %s to %s: %w", orderID, status, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	if _, err := inventory.Release(ctx, tx, orderID, now); err != nil {
		return false, err
	}

	_, err = tx.NewUpdate().
		Model((*models.PaymentTransaction)(nil)).
		Set("status = ?", models.PaymentFailed).
		Set("confirmed_at = ?", now).
		Where("order_id = ?", orderID).
		Where("status = ?", models.PaymentPending).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("fail pending payments of order %s: %w", orderID, err)
	}
	return true, nil
}

// CancelOrder lets the buyer abandon a pending order before paying.
func (s *OrderService) CancelOrder(ctx context.Context, orderID, requester string) (*models.Order, error) {
	order, err := s.GetOrder(ctx, orderID, requester)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderPending {
		return nil, apperror.InvalidState("order %s is %s and can no longer be cancelled", orderID, order.Status)
	}

	released, err := s.release(ctx, orderID, models.OrderFailed)
	if err != nil {
		return nil, err
	}
	if !released {
		return nil, apperror.InvalidState("order %s is no longer pending", orderID)
	}

	order.Status = models.OrderFailed
	s.Logger.LogOrder("CANCEL", orderID, "cancelled by buyer, holds released")
	s.Publish(EventOrderFailed, order)
	return order, nil
}

func (s *OrderService) release(ctx context.Context, orderID string, status models.OrderStatus) (bool, error) {
	txCtx, cancel := context.WithTimeout(ctx, s.Opts.TxTimeout)
	defer cancel()

	var released bool
	err := s.DB.RunInTx(txCtx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		released, err = ReleaseOrder(ctx, tx, orderID, status, s.now())
		if err != nil {
			return err
		}
		if !released {
			// Holds left behind by a terminal order are orphans; hand them back.
			_, err = inventory.Release(ctx, tx, orderID, s.now())
		}
		return err
	})
	if err != nil {
		return false, apperror.Wrap(err, "release order")
	}
	if released {
		metrics.OrdersReleased.WithLabelValues(string(status)).Inc()
	}
	return released, nil
}

// ExpireStaleHolds expires every pending order owning a hold past its
// expiry and releases all of that order's holds. Each order is handled in
// its own transaction; one failure doesn't stop the rest.
func (s *OrderService) ExpireStaleHolds(ctx context.Context) (int, error) {
	ids, err := inventory.StaleOrderIDs(ctx, s.DB, s.now(), s.Opts.SweepBatchSize)
	if err != nil {
		return 0, apperror.Wrap(err, "list stale holds")
	}
	return s.expireAll(ctx, ids, "stale hold")
}

// ExpireAbandonedOrders expires pending orders older than the abandoned
// order age even when their holds have not run out.
func (s *OrderService) ExpireAbandonedOrders(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.Opts.AbandonedOrderAge)

	var ids []string
	err := s.DB.NewSelect().
		Model((*models.Order)(nil)).
		Column("id").
		Where("status = ?", models.OrderPending).
		Where("created_at < ?", cutoff).
		OrderExpr("created_at ASC").
		Limit(s.Opts.SweepBatchSize).
		Scan(ctx, &ids)
	if err != nil {
		return 0, apperror.Wrap(err, "list abandoned orders")
	}
	return s.expireAll(ctx, ids, "abandoned")
}

func (s *OrderService) expireAll(ctx context.Context, ids []string, reason string) (int, error) {
	expired := 0
	var firstErr error
	for _, id := range ids {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		released, err := s.release(ctx, id, models.OrderExpired)
		if err != nil {
			s.Logger.Error("ORDER", fmt.Sprintf("Failed to expire %s order %s: %v", reason, id, err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !released {
			continue
		}
		expired++
		s.Logger.LogOrder("EXPIRE", id, reason+", holds released")
		s.Publish(EventOrderExpired, &models.Order{ID: id, Status: models.OrderExpired, UpdatedAt: s.now()})
	}
	return expired, firstErr
}
