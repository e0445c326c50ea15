package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"ms-ticketing-engine/internal/apperror"
	"ms-ticketing-engine/internal/logger"
	"ms-ticketing-engine/internal/models"

	"github.com/uptrace/bun"
)

// Event types published on the order events topic.
const (
	EventOrderCreated = "order.created"
	EventOrderPaid    = "order.paid"
	EventOrderFailed  = "order.failed"
	EventOrderExpired = "order.expired"
)

// EventCatalog is the event service's approval lookup.
type EventCatalog interface {
	EventStatuses(ctx context.Context, eventIDs []string) (map[string]string, error)
}

type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, eventType string, order *models.Order) error
}

type Options struct {
	HoldTTL           time.Duration
	AbandonedOrderAge time.Duration
	TxTimeout         time.Duration
	PublishTimeout    time.Duration
	SweepBatchSize    int
}

func DefaultOptions() Options {
	return Options{
		HoldTTL:           15 * time.Minute,
		AbandonedOrderAge: 15 * time.Minute,
		TxTimeout:         30 * time.Second,
		PublishTimeout:    10 * time.Second,
		SweepBatchSize:    500,
	}
}

// OrderService is the reservation manager: it creates orders against
// ticket type inventory and releases holds when orders fail or expire.
type OrderService struct {
	DB      *bun.DB
	Catalog EventCatalog
	Events  EventPublisher
	Logger  *logger.Logger
	Now     func() time.Time
	Opts    Options

	pending sync.WaitGroup
}

func NewOrderService(db *bun.DB, catalog EventCatalog, events EventPublisher, log *logger.Logger, now func() time.Time, opts Options) *OrderService {
	if now == nil {
		now = time.Now
	}
	defaults := DefaultOptions()
	if opts.HoldTTL <= 0 {
		opts.HoldTTL = defaults.HoldTTL
	}
	if opts.AbandonedOrderAge <= 0 {
		opts.AbandonedOrderAge = defaults.AbandonedOrderAge
	}
	if opts.TxTimeout <= 0 {
		opts.TxTimeout = defaults.TxTimeout
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = defaults.PublishTimeout
	}
	if opts.SweepBatchSize <= 0 {
		opts.SweepBatchSize = defaults.SweepBatchSize
	}
	return &OrderService{
		DB:      db,
		Catalog: catalog,
		Events:  events,
		Logger:  log,
		Now:     now,
		Opts:    opts,
	}
}

func (s *OrderService) now() time.Time {
	return s.Now().UTC()
}

// GetOrder returns the order with its items. Only the buyer may read it.
func (s *OrderService) GetOrder(ctx context.Context, orderID, requester string) (*models.Order, error) {
	order, err := LoadOrder(ctx, s.DB, orderID)
	if err != nil {
		return nil, err
	}
	if requester != "" && order.UserID != requester {
		return nil, apperror.Validation("you can only access your own orders")
	}
	return order, nil
}

// LoadOrder reads an order and its items through any bun handle.
func LoadOrder(ctx context.Context, db bun.IDB, orderID string) (*models.Order, error) {
	order := new(models.Order)
	err := db.NewSelect().
		Model(order).
		Relation("Items").
		Where("id = ?", orderID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("order %s not found", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}
	return order, nil
}

// Publish streams an order lifecycle event in the background. Failures are
// logged only; the order state is already committed.
func (s *OrderService) Publish(eventType string, order *models.Order) {
	if s.Events == nil {
		return
	}
	snapshot := *order
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.Opts.PublishTimeout)
		defer cancel()
		if err := s.Events.PublishOrderEvent(ctx, eventType, &snapshot); err != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("Failed to publish %s for order %s: %v", eventType, snapshot.ID, err))
		}
	}()
}

// Wait blocks until in-flight event publishes finish.
func (s *OrderService) Wait() {
	s.pending.Wait()
}
