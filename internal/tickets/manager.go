// Package tickets issues purchased tickets and moves them through
// check-in and expiry.
package tickets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-ticketing-engine/internal/apperror"
	"ms-ticketing-engine/internal/logger"
	"ms-ticketing-engine/internal/metrics"
	"ms-ticketing-engine/internal/models"
	"ms-ticketing-engine/internal/tickets/qr"
	"ms-ticketing-engine/internal/utils"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const serialAttempts = 5

// EndedLookup builds id subqueries for event and event date boundaries that
// have passed.
type EndedLookup interface {
	EndedEventDates(now time.Time) *bun.SelectQuery
	EndedEvents(now time.Time) *bun.SelectQuery
}

type Manager struct {
	DB      *bun.DB
	Catalog EndedLookup
	QR      *qr.Generator
	Logger  *logger.Logger
	Now     func() time.Time
}

func NewManager(db *bun.DB, catalog EndedLookup, qrGen *qr.Generator, log *logger.Logger, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{DB: db, Catalog: catalog, QR: qrGen, Logger: log, Now: now}
}

func (m *Manager) now() time.Time {
	return m.Now().UTC()
}

// Issue creates one unused ticket per purchased unit of order inside tx.
// types must hold every ticket type the order's items reference.
func (m *Manager) Issue(ctx context.Context, tx bun.IDB, order *models.Order, types map[string]*models.TicketType) ([]*models.PurchasedTicket, error) {
	now := m.now()

	var tickets []*models.PurchasedTicket
	for _, item := range order.Items {
		tt, ok := types[item.TicketTypeID]
		if !ok {
			return nil, fmt.Errorf("issue tickets for order %s: ticket type %s not loaded", order.ID, item.TicketTypeID)
		}
		for i := 0; i < item.Quantity; i++ {
			tickets = append(tickets, &models.PurchasedTicket{
				ID:           uuid.NewString(),
				TicketTypeID: tt.ID,
				OrderID:      order.ID,
				BuyerID:      order.UserID,
				EventID:      tt.EventID,
				EventDateID:  tt.EventDateID,
				Price:        item.UnitPrice,
				Status:       models.TicketUnused,
				IssuedAt:     now,
			})
		}
	}
	if len(tickets) == 0 {
		return nil, nil
	}

	if err := assignSerials(ctx, tx, tickets, now); err != nil {
		return nil, err
	}
	if _, err := tx.NewInsert().Model(&tickets).Exec(ctx); err != nil {
		return nil, fmt.Errorf("insert tickets for order %s: %w", order.ID, err)
	}

	metrics.TicketsIssued.Add(float64(len(tickets)))
	return tickets, nil
}

// assignSerials draws serials until none collides within the batch or with
// an existing ticket. The unique index still backs this up.
func assignSerials(ctx context.Context, tx bun.IDB, tickets []*models.PurchasedTicket, now time.Time) error {
	pending := tickets
	used := make(map[string]bool, len(tickets))

	for attempt := 0; attempt < serialAttempts && len(pending) > 0; attempt++ {
		candidates := make([]string, 0, len(pending))
		for _, t := range pending {
			serial, err := utils.GenerateSerial(now)
			if err != nil {
				return err
			}
			for used[serial] {
				if serial, err = utils.GenerateSerial(now); err != nil {
					return err
				}
			}
			used[serial] = true
			t.SerialNumber = serial
			candidates = append(candidates, serial)
		}

		var taken []string
		err := tx.NewSelect().
			Model((*models.PurchasedTicket)(nil)).
			Column("serial_number").
			Where("serial_number IN (?)", bun.In(candidates)).
			Scan(ctx, &taken)
		if err != nil {
			return fmt.Errorf("check serial numbers: %w", err)
		}
		if len(taken) == 0 {
			return nil
		}

		clash := make(map[string]bool, len(taken))
		for _, s := range taken {
			clash[s] = true
		}
		var retry []*models.PurchasedTicket
		for _, t := range pending {
			if clash[t.SerialNumber] {
				retry = append(retry, t)
			}
		}
		pending = retry
	}
	if len(pending) > 0 {
		return errors.New("could not allocate unique ticket serial numbers")
	}
	return nil
}

// GetTicket returns a ticket. A non-empty requester must be its buyer.
func (m *Manager) GetTicket(ctx context.Context, ticketID, requester string) (*models.PurchasedTicket, error) {
	ticket, err := m.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if requester != "" && ticket.BuyerID != requester {
		return nil, apperror.Validation("you can only access your own tickets")
	}
	return ticket, nil
}

func (m *Manager) ListByOrder(ctx context.Context, orderID string) ([]*models.PurchasedTicket, error) {
	var tickets []*models.PurchasedTicket
	err := m.DB.NewSelect().
		Model(&tickets).
		Where("order_id = ?", orderID).
		OrderExpr("serial_number ASC").
		Scan(ctx)
	if err != nil {
		return nil, apperror.Wrap(fmt.Errorf("list tickets of order %s: %w", orderID, err), "list tickets")
	}
	return tickets, nil
}

func (m *Manager) load(ctx context.Context, ticketID string) (*models.PurchasedTicket, error) {
	ticket := new(models.PurchasedTicket)
	err := m.DB.NewSelect().Model(ticket).Where("id = ?", ticketID).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("ticket %s not found", ticketID)
	}
	if err != nil {
		return nil, apperror.Wrap(fmt.Errorf("load ticket %s: %w", ticketID, err), "load ticket")
	}
	return ticket, nil
}

// CheckIn moves an unused ticket to target, which must be used or expired.
func (m *Manager) CheckIn(ctx context.Context, ticketID string, target models.TicketStatus) (*models.PurchasedTicket, error) {
	if target != models.TicketUsed && target != models.TicketExpired {
		return nil, apperror.Validation("check-in status must be %q or %q", models.TicketUsed, models.TicketExpired)
	}

	ticket, err := m.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.Status != models.TicketUnused {
		metrics.TicketCheckIns.WithLabelValues("rejected").Inc()
		return nil, apperror.AlreadyCheckedIn(ticketID, string(ticket.Status))
	}

	now := m.now()
	res, err := m.DB.NewUpdate().
		Model((*models.PurchasedTicket)(nil)).
		Set("status = ?", target).
		Set("check_in_at = ?", now).
		Where("id = ?", ticketID).
		Where("status = ?", models.TicketUnused).
		Exec(ctx)
	if err != nil {
		return nil, apperror.Wrap(fmt.Errorf("check in ticket %s: %w", ticketID, err), "check in")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Someone else scanned it between the read and the update.
		current, err := m.load(ctx, ticketID)
		if err != nil {
			return nil, err
		}
		metrics.TicketCheckIns.WithLabelValues("rejected").Inc()
		return nil, apperror.AlreadyCheckedIn(ticketID, string(current.Status))
	}

	ticket.Status = target
	ticket.CheckInAt = now
	metrics.TicketCheckIns.WithLabelValues(string(target)).Inc()
	m.Logger.Info("TICKET", fmt.Sprintf("Ticket %s (%s) checked in as %s", ticket.ID, ticket.SerialNumber, target))
	return ticket, nil
}

// CheckInByQR decrypts a scanned code and marks its ticket used.
func (m *Manager) CheckInByQR(ctx context.Context, encrypted string) (*models.PurchasedTicket, error) {
	if m.QR == nil {
		return nil, apperror.Validation("qr check-in is not configured")
	}
	payload, err := m.QR.Decrypt(encrypted)
	if err != nil {
		m.Logger.LogSecurity("QR_REJECTED", err.Error())
		return nil, apperror.Validation("invalid ticket qr code")
	}

	ticket, err := m.load(ctx, payload.TicketID)
	if err != nil {
		return nil, err
	}
	if ticket.SerialNumber != payload.SerialNumber || ticket.EventID != payload.EventID {
		m.Logger.LogSecurity("QR_MISMATCH", fmt.Sprintf("qr for ticket %s does not match its serial", ticket.ID))
		return nil, apperror.Validation("invalid ticket qr code")
	}
	return m.CheckIn(ctx, ticket.ID, models.TicketUsed)
}

// ExpireEndedEvents marks unused tickets expired once their event date, or
// their event when they have no date, has ended.
func (m *Manager) ExpireEndedEvents(ctx context.Context) (int, error) {
	now := m.now()
	dates := m.Catalog.EndedEventDates(now)
	events := m.Catalog.EndedEvents(now)

	q := m.DB.NewUpdate().
		Model((*models.PurchasedTicket)(nil)).
		Set("status = ?", models.TicketExpired).
		Where("status = ?", models.TicketUnused).
		WhereGroup(" AND ", func(q *bun.UpdateQuery) *bun.UpdateQuery {
			return q.
				Where("event_date_id IN (?)", dates).
				WhereOr("event_date_id IS NULL AND event_id IN (?)", events)
		})

	res, err := q.Exec(ctx)
	if err != nil {
		return 0, apperror.Wrap(fmt.Errorf("expire tickets: %w", err), "expire tickets")
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		metrics.TicketsExpired.Add(float64(n))
		m.Logger.LogSweep("ticket-expiry", fmt.Sprintf("expired %d unused ticket(s)", n))
	}
	return int(n), nil
}
