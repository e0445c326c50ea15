// Package payment settles orders against verified payment provider
// callbacks.
package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ms-ticketing-engine/internal/apperror"
	"ms-ticketing-engine/internal/lock"
	"ms-ticketing-engine/internal/logger"
	"ms-ticketing-engine/internal/metrics"
	"ms-ticketing-engine/internal/models"
	"ms-ticketing-engine/internal/notify"
	"ms-ticketing-engine/internal/order"
	"ms-ticketing-engine/internal/payment/gateway"
	"ms-ticketing-engine/internal/payment/storage"
	"ms-ticketing-engine/internal/tickets"
	"ms-ticketing-engine/internal/utils"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const currencyVND = "VND"

// Locker serializes payment URL creation per order across replicas.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

type Options struct {
	SettlementTxTimeout time.Duration
	GatewayTimeout      time.Duration
	LockTTL             time.Duration
	NotificationTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		SettlementTxTimeout: 60 * time.Second,
		GatewayTimeout:      10 * time.Second,
		LockTTL:             30 * time.Second,
		NotificationTimeout: 30 * time.Second,
	}
}

type Coordinator struct {
	DB       *bun.DB
	Store    *storage.Store
	Gateways *gateway.Registry
	Orders   *order.OrderService
	Tickets  *tickets.Manager
	Locker   Locker
	Notifier notify.Sender
	Logger   *logger.Logger
	Now      func() time.Time
	Opts     Options

	pending sync.WaitGroup
}

func NewCoordinator(
	db *bun.DB,
	gateways *gateway.Registry,
	orders *order.OrderService,
	ticketManager *tickets.Manager,
	locker Locker,
	notifier notify.Sender,
	log *logger.Logger,
	now func() time.Time,
	opts Options,
) *Coordinator {
	if now == nil {
		now = time.Now
	}
	defaults := DefaultOptions()
	if opts.SettlementTxTimeout <= 0 {
		opts.SettlementTxTimeout = defaults.SettlementTxTimeout
	}
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = defaults.GatewayTimeout
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaults.LockTTL
	}
	if opts.NotificationTimeout <= 0 {
		opts.NotificationTimeout = defaults.NotificationTimeout
	}
	return &Coordinator{
		DB:       db,
		Store:    storage.New(db),
		Gateways: gateways,
		Orders:   orders,
		Tickets:  ticketManager,
		Locker:   locker,
		Notifier: notifier,
		Logger:   log,
		Now:      now,
		Opts:     opts,
	}
}

func (c *Coordinator) now() time.Time {
	return c.Now().UTC()
}

type CreatePaymentRequest struct {
	OrderID       string `json:"order_id"`
	PaymentMethod string `json:"payment_method,omitempty"`
}

type CreatePaymentResponse struct {
	PaymentURL    string `json:"payment_url"`
	TransactionID string `json:"transaction_id"`
	Gateway       string `json:"gateway"`
}

// CreatePaymentURL opens a pending transaction for a pending order and asks
// the provider for a checkout URL. The provider call never runs inside a
// database transaction.
func (c *Coordinator) CreatePaymentURL(ctx context.Context, req CreatePaymentRequest, requester, clientIP string) (*CreatePaymentResponse, error) {
	if req.OrderID == "" {
		return nil, apperror.Validation("order_id is required")
	}
	o, err := c.Orders.GetOrder(ctx, req.OrderID, requester)
	if err != nil {
		return nil, err
	}
	if o.Status != models.OrderPending {
		return nil, apperror.InvalidState("order %s is %s, payment is only possible for pending orders", o.ID, o.Status)
	}

	method := req.PaymentMethod
	if method == "" {
		method = o.PaymentMethod
	}
	provider, ok := gateway.ParseProvider(method)
	if !ok {
		return nil, apperror.Validation("unsupported payment method %q", method)
	}
	gw, err := c.Gateways.Get(provider)
	if err != nil {
		return nil, err
	}

	var resp *CreatePaymentResponse
	create := func(ctx context.Context) error {
		var err error
		resp, err = c.createPaymentURL(ctx, o, gw, clientIP)
		return err
	}
	if c.Locker == nil {
		err = create(ctx)
	} else {
		err = c.Locker.WithLock(ctx, lock.PaymentURLKey(o.ID), c.Opts.LockTTL, create)
		if errors.Is(err, lock.ErrNotAcquired) {
			err = apperror.InvalidState("a payment for order %s is already being created", o.ID)
		}
	}
	if err != nil {
		metrics.PaymentURLs.WithLabelValues(string(provider), "failed").Inc()
		return nil, err
	}
	metrics.PaymentURLs.WithLabelValues(string(provider), "created").Inc()
	return resp, nil
}

func (c *Coordinator) createPaymentURL(ctx context.Context, o *models.Order, gw gateway.Gateway, clientIP string) (*CreatePaymentResponse, error) {
	provider := gw.Provider()
	now := c.now()
	txn := &models.PaymentTransaction{
		ID:              uuid.NewString(),
		OrderID:         o.ID,
		PaymentMethod:   string(provider),
		TransactionCode: utils.GenerateTransactionCode(now),
		Amount:          o.TotalAmount,
		Currency:        currencyVND,
		Status:          models.PaymentPending,
		CreatedAt:       now,
	}

	err := c.DB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// Re-check under the lock; the order may have expired since it was read.
		res, err := tx.NewUpdate().
			Model((*models.Order)(nil)).
			Set("payment_method = ?", string(provider)).
			Set("updated_at = ?", now).
			Where("id = ?", o.ID).
			Where("status = ?", models.OrderPending).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("select payment method for order %s: %w", o.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperror.InvalidState("order %s is no longer pending", o.ID)
		}
		return c.Store.WithTx(tx).Create(ctx, txn)
	})
	if err != nil {
		return nil, apperror.Wrap(err, "create payment transaction")
	}

	gwCtx, cancel := context.WithTimeout(ctx, c.Opts.GatewayTimeout)
	defer cancel()
	url, err := gw.GeneratePaymentURL(gwCtx, gateway.PaymentContext{
		OrderID:         o.ID,
		TransactionCode: txn.TransactionCode,
		Amount:          txn.Amount,
		OrderInfo:       fmt.Sprintf("Thanh toan don hang %s", o.ID),
		ClientIP:        clientIP,
		CreatedAt:       now,
	})
	if err != nil {
		c.Logger.LogPayment(string(provider), txn.TransactionCode, fmt.Sprintf("payment url failed: %v", err))
		if _, markErr := c.Store.Transition(context.WithoutCancel(ctx), txn.ID, models.PaymentFailed, nil, c.now()); markErr != nil {
			c.Logger.Error("PAYMENT", fmt.Sprintf("Failed to mark transaction %s failed: %v", txn.TransactionCode, markErr))
		}
		if apperror.KindOf(err) == apperror.KindGateway {
			return nil, err
		}
		return nil, apperror.Gateway(string(provider), err)
	}

	if url.ProviderRef != "" {
		if err := c.Store.SetProviderRef(ctx, txn.ID, url.ProviderRef); err != nil {
			return nil, apperror.Wrap(err, "store provider reference")
		}
	}

	c.Logger.LogPayment(string(provider), txn.TransactionCode, fmt.Sprintf("payment url created for order %s, amount %d", o.ID, txn.Amount))
	return &CreatePaymentResponse{
		PaymentURL:    url.URL,
		TransactionID: txn.TransactionCode,
		Gateway:       string(provider),
	}, nil
}

// ListPayments returns every payment attempt of an order the requester owns,
// oldest first. Raw provider payloads stay server side.
func (c *Coordinator) ListPayments(ctx context.Context, orderID, requester string) ([]*models.PaymentTransaction, error) {
	if _, err := c.Orders.GetOrder(ctx, orderID, requester); err != nil {
		return nil, err
	}
	txns, err := c.Store.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, apperror.Wrap(err, "list payments")
	}
	for _, txn := range txns {
		txn.GatewayResponse = nil
	}
	return txns, nil
}

// Wait blocks until background notifications finish.
func (c *Coordinator) Wait() {
	c.pending.Wait()
}
