package order

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"strings"

	"ms-ticketing-engine/internal/apperror"
	"ms-ticketing-engine/internal/inventory"
	"ms-ticketing-engine/internal/metrics"
	"ms-ticketing-engine/internal/models"
	"ms-ticketing-engine/internal/payment/gateway"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type ItemRequest struct {
	TicketTypeID string `json:"ticket_type_id"`
	Quantity     int    `json:"quantity"`
}

type CreateOrderRequest struct {
	Items         []ItemRequest `json:"items"`
	BuyerEmail    string        `json:"buyer_email"`
	BuyerPhone    string        `json:"buyer_phone"`
	PaymentMethod string        `json:"payment_method,omitempty"`
}

// normalize validates the request and merges duplicate ticket type lines.
// Lines come back sorted by ticket type id, the order rows are touched in.
func (r CreateOrderRequest) normalize() ([]ItemRequest, gateway.Provider, error) {
	if len(r.Items) == 0 {
		return nil, "", apperror.Validation("order must contain at least one item")
	}
	if strings.TrimSpace(r.BuyerEmail) == "" {
		return nil, "", apperror.Validation("buyer email is required")
	}
	if _, err := mail.ParseAddress(r.BuyerEmail); err != nil {
		return nil, "", apperror.Validation("buyer email %q is invalid", r.BuyerEmail)
	}
	if strings.TrimSpace(r.BuyerPhone) == "" {
		return nil, "", apperror.Validation("buyer phone is required")
	}

	method := gateway.VNPay
	if r.PaymentMethod != "" {
		p, ok := gateway.ParseProvider(r.PaymentMethod)
		if !ok {
			return nil, "", apperror.Validation("unsupported payment method %q", r.PaymentMethod)
		}
		method = p
	}

	merged := make(map[string]int, len(r.Items))
	for _, item := range r.Items {
		if item.TicketTypeID == "" {
			return nil, "", apperror.Validation("ticket_type_id is required")
		}
		if item.Quantity <= 0 {
			return nil, "", apperror.Validation("quantity for ticket type %s must be positive", item.TicketTypeID)
		}
		merged[item.TicketTypeID] += item.Quantity
	}

	lines := make([]ItemRequest, 0, len(merged))
	for id, qty := range merged {
		lines = append(lines, ItemRequest{TicketTypeID: id, Quantity: qty})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].TicketTypeID < lines[j].TicketTypeID })
	return lines, method, nil
}

// CreateOrder reserves every requested line and creates the pending order in
// one transaction. Either all lines are held and the order exists, or
// nothing changed.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest, requester string) (*models.Order, error) {
	order, err := s.createOrder(ctx, req, requester)
	if err != nil {
		metrics.ReservationsRejected.WithLabelValues(string(apperror.KindOf(err))).Inc()
		s.Logger.Warn("ORDER", fmt.Sprintf("CreateOrder rejected for user %s: %v", requester, err))
		return nil, err
	}

	metrics.OrdersCreated.Inc()
	s.Logger.LogOrder("CREATE", order.ID, fmt.Sprintf("reserved %d line(s), total %d", len(order.Items), order.TotalAmount))
	s.Publish(EventOrderCreated, order)
	return order, nil
}

func (s *OrderService) createOrder(ctx context.Context, req CreateOrderRequest, requester string) (*models.Order, error) {
	if requester == "" {
		return nil, apperror.Validation("requester is required")
	}
	lines, method, err := req.normalize()
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(lines))
	for i, line := range lines {
		ids[i] = line.TicketTypeID
	}

	// Existence and event approval don't need the transaction; inventory does.
	types, err := inventory.Snapshot(ctx, s.DB, ids)
	if err != nil {
		return nil, apperror.Wrap(err, "create order")
	}
	if err := s.checkEvents(ctx, ids, types); err != nil {
		return nil, err
	}

	now := s.now()
	expiresAt := now.Add(s.Opts.HoldTTL)
	order := &models.Order{
		ID:            uuid.NewString(),
		UserID:        requester,
		BuyerEmail:    strings.TrimSpace(req.BuyerEmail),
		BuyerPhone:    strings.TrimSpace(req.BuyerPhone),
		PaymentMethod: string(method),
		Status:        models.OrderPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	txCtx, cancel := context.WithTimeout(ctx, s.Opts.TxTimeout)
	defer cancel()

	err = s.DB.RunInTx(txCtx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := inventory.Snapshot(ctx, tx, ids)
		if err != nil {
			return err
		}

		order.Items = make([]*models.OrderItem, 0, len(lines))
		order.TotalAmount = 0
		for _, line := range lines {
			tt, ok := current[line.TicketTypeID]
			if !ok {
				return apperror.NotFound("ticket type %s not found", line.TicketTypeID)
			}
			if line.Quantity > tt.Available() {
				return apperror.InsufficientInventory(tt.ID, tt.Available(), line.Quantity)
			}
			order.TotalAmount += tt.Price * int64(line.Quantity)
			order.Items = append(order.Items, &models.OrderItem{
				ID:           uuid.NewString(),
				OrderID:      order.ID,
				TicketTypeID: tt.ID,
				Quantity:     line.Quantity,
				UnitPrice:    tt.Price,
			})
		}

		if _, err := tx.NewInsert().Model(order).Exec(ctx); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		if _, err := tx.NewInsert().Model(&order.Items).Exec(ctx); err != nil {
			return fmt.Errorf("insert order items: %w", err)
		}

		for _, line := range lines {
			_, err := inventory.Hold(ctx, tx, order.ID, line.TicketTypeID, line.Quantity, now, expiresAt)
			if errors.Is(err, inventory.ErrNoCapacity) {
				// Another reservation committed between the snapshot and the hold.
				latest, snapErr := inventory.Snapshot(ctx, tx, []string{line.TicketTypeID})
				if snapErr != nil {
					return snapErr
				}
				available := 0
				if tt, ok := latest[line.TicketTypeID]; ok {
					available = tt.Available()
				}
				return apperror.InsufficientInventory(line.TicketTypeID, available, line.Quantity)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperror.Wrap(err, "create order")
	}
	return order, nil
}

func (s *OrderService) checkEvents(ctx context.Context, ids []string, types map[string]*models.TicketType) error {
	eventIDs := make([]string, 0, len(types))
	seen := make(map[string]bool, len(types))
	for _, id := range ids {
		tt, ok := types[id]
		if !ok {
			return apperror.NotFound("ticket type %s not found", id)
		}
		if !seen[tt.EventID] {
			seen[tt.EventID] = true
			eventIDs = append(eventIDs, tt.EventID)
		}
	}

	statuses, err := s.Catalog.EventStatuses(ctx, eventIDs)
	if err != nil {
		return apperror.Wrap(err, "check event approval")
	}
	for _, eventID := range eventIDs {
		status, ok := statuses[eventID]
		if !ok {
			return apperror.NotFound("event %s not found", eventID)
		}
		if status != models.EventStatusApproved {
			return apperror.Validation("event %s is not open for sale (status %s)", eventID, status)
		}
	}
	return nil
}
