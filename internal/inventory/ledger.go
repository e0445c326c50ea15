// Package inventory holds the atomic mutation primitives on ticket type
// counters. Every function takes a bun.IDB so callers run it inside their own
// transaction; nothing here commits on its own.
package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-ticketing-engine/internal/models"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ErrNoCapacity means the conditional increment matched no row: the ticket
// type no longer has enough unreserved quantity.
var ErrNoCapacity = errors.New("inventory: not enough available quantity")

// ErrCounterDrift means a release or sale would push a counter below zero.
var ErrCounterDrift = errors.New("inventory: counter would violate ticket type invariant")

// Hold reserves qty units of a ticket type for an order. The increment is a
// single conditional UPDATE so concurrent holds on the same row can never
// exceed remaining_quantity.
func Hold(ctx context.Context, db bun.IDB, orderID, ticketTypeID string, qty int, now, expiresAt time.Time) (*models.Reservation, error) {
	res, err := db.NewUpdate().
		Model((*models.TicketType)(nil)).
		Set("reserved_quantity = reserved_quantity + ?", qty).
		Set("reservation_expires_at = ?", expiresAt).
		Where("id = ?", ticketTypeID).
		Where("remaining_quantity - reserved_quantity >= ?", qty).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("increment reserved_quantity for %s: %w", ticketTypeID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNoCapacity
	}

	hold := &models.Reservation{
		ID:           uuid.NewString(),
		OrderID:      orderID,
		TicketTypeID: ticketTypeID,
		Quantity:     qty,
		Status:       models.ReservationHeld,
		ExpiresAt:    expiresAt,
		CreatedAt:    now,
	}
	if _, err := db.NewInsert().Model(hold).Exec(ctx); err != nil {
		return nil, fmt.Errorf("insert reservation: %w", err)
	}
	return hold, nil
}

// Convert turns every held reservation of the order into a sale: both
// reserved_quantity and remaining_quantity drop by the held amount.
func Convert(ctx context.Context, db bun.IDB, orderID string, now time.Time) (int, error) {
	return closeHolds(ctx, db, orderID, now, models.ReservationConverted)
}

// Release gives every held reservation of the order back to availability.
// remaining_quantity is untouched since no sale happened.
func Release(ctx context.Context, db bun.IDB, orderID string, now time.Time) (int, error) {
	return closeHolds(ctx, db, orderID, now, models.ReservationReleased)
}

func closeHolds(ctx context.Context, db bun.IDB, orderID string, now time.Time, to models.ReservationStatus) (int, error) {
	var holds []models.Reservation
	err := db.NewSelect().
		Model(&holds).
		Where("order_id = ?", orderID).
		Where("status = ?", models.ReservationHeld).
		Order("ticket_type_id ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return 0, fmt.Errorf("load holds for order %s: %w", orderID, err)
	}

	units := 0
	touched := make([]string, 0, len(holds))
	for _, hold := range holds {
		closed, err := closeHold(ctx, db, hold, now, to)
		if err != nil {
			return units, err
		}
		if !closed {
			continue
		}
		units += hold.Quantity
		if len(touched) == 0 || touched[len(touched)-1] != hold.TicketTypeID {
			touched = append(touched, hold.TicketTypeID)
		}
	}

	for _, id := range touched {
		if err := RefreshExpiry(ctx, db, id); err != nil {
			return units, err
		}
	}
	return units, nil
}

// closeHold flips one reservation out of held and applies its counter delta.
// The status compare-and-set makes a second close of the same hold a no-op.
func closeHold(ctx context.Context, db bun.IDB, hold models.Reservation, now time.Time, to models.ReservationStatus) (bool, error) {
	res, err := db.NewUpdate().
		Model((*models.Reservation)(nil)).
		Set("status = ?", to).
		Set("closed_at = ?", now).
		Where("id = ?", hold.ID).
		Where("status = ?", models.ReservationHeld).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("close reservation %s: %w", hold.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	q := db.NewUpdate().
		Model((*models.TicketType)(nil)).
		Set("reserved_quantity = reserved_quantity - ?", hold.Quantity).
		Where("id = ?", hold.TicketTypeID).
		Where("reserved_quantity >= ?", hold.Quantity)
	if to == models.ReservationConverted {
		q = q.Set("remaining_quantity = remaining_quantity - ?", hold.Quantity).
			Where("remaining_quantity >= ?", hold.Quantity)
	}
	res, err = q.Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("apply %s of %d on ticket type %s: %w", to, hold.Quantity, hold.TicketTypeID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, fmt.Errorf("%w: ticket type %s, %s of %d", ErrCounterDrift, hold.TicketTypeID, to, hold.Quantity)
	}
	return true, nil
}

// RefreshExpiry sets reservation_expires_at to the latest outstanding hold
// on the ticket type, or NULL when nothing is held.
func RefreshExpiry(ctx context.Context, db bun.IDB, ticketTypeID string) error {
	var latest []models.Reservation
	err := db.NewSelect().
		Model(&latest).
		Column("expires_at").
		Where("ticket_type_id = ?", ticketTypeID).
		Where("status = ?", models.ReservationHeld).
		OrderExpr("expires_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("load latest hold for %s: %w", ticketTypeID, err)
	}

	q := db.NewUpdate().Model((*models.TicketType)(nil)).Where("id = ?", ticketTypeID)
	if len(latest) == 0 {
		q = q.Set("reservation_expires_at = NULL")
	} else {
		q = q.Set("reservation_expires_at = ?", latest[0].ExpiresAt)
	}
	if _, err := q.Exec(ctx); err != nil {
		return fmt.Errorf("refresh reservation_expires_at for %s: %w", ticketTypeID, err)
	}
	return nil
}

// StaleOrderIDs lists orders owning at least one held reservation that
// expired before now.
func StaleOrderIDs(ctx context.Context, db bun.IDB, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := db.NewSelect().
		Model((*models.Reservation)(nil)).
		ColumnExpr("DISTINCT order_id").
		Where("status = ?", models.ReservationHeld).
		Where("expires_at < ?", now).
		OrderExpr("order_id ASC").
		Limit(limit).
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("list stale holds: %w", err)
	}
	return ids, nil
}

// Snapshot reads the counters of the given ticket types keyed by id.
func Snapshot(ctx context.Context, db bun.IDB, ids []string) (map[string]*models.TicketType, error) {
	out := make(map[string]*models.TicketType, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var types []*models.TicketType
	err := db.NewSelect().
		Model(&types).
		Where("id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ticket types: %w", err)
	}
	for _, tt := range types {
		out[tt.ID] = tt
	}
	return out, nil
}
