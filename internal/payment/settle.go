package payment

import (
	"context"
	"errors"
	"fmt"

	"ms-ticketing-engine/internal/apperror"
	"ms-ticketing-engine/internal/inventory"
	"ms-ticketing-engine/internal/metrics"
	"ms-ticketing-engine/internal/models"
	"ms-ticketing-engine/internal/order"
	"ms-ticketing-engine/internal/payment/gateway"

	"github.com/uptrace/bun"
)

// Result is the outcome of a callback. Replayed is set when the transaction
// had already been settled by an earlier delivery.
type Result struct {
	Success       bool   `json:"success"`
	OrderID       string `json:"order_id"`
	TransactionID string `json:"transaction_id"`
	Replayed      bool   `json:"replayed,omitempty"`
}

func recorded(txn *models.PaymentTransaction) *Result {
	return &Result{
		Success:       txn.Status == models.PaymentSuccess,
		OrderID:       txn.OrderID,
		TransactionID: txn.TransactionCode,
		Replayed:      true,
	}
}

// HandleCallback verifies a provider callback and settles its transaction
// exactly once. Replays of a settled transaction return the recorded outcome.
func (c *Coordinator) HandleCallback(ctx context.Context, provider gateway.Provider, cb gateway.Callback) (*Result, error) {
	result, err := c.handleCallback(ctx, provider, cb)
	outcome := "error"
	switch {
	case err == nil && result.Replayed:
		outcome = "replay"
	case err == nil && result.Success:
		outcome = "success"
	case err == nil:
		outcome = "failed"
	case errors.Is(err, apperror.ErrSignatureInvalid):
		outcome = "signature_invalid"
	case errors.Is(err, apperror.ErrNotFound):
		outcome = "not_found"
	}
	metrics.PaymentCallbacks.WithLabelValues(string(provider), outcome).Inc()
	return result, err
}

func (c *Coordinator) handleCallback(ctx context.Context, provider gateway.Provider, cb gateway.Callback) (*Result, error) {
	gw, err := c.Gateways.Get(provider)
	if err != nil {
		return nil, err
	}
	if !gw.VerifyCallback(cb) {
		c.Logger.LogSecurity("SIGNATURE_INVALID", fmt.Sprintf("%s %s callback failed verification", provider, cb.Source))
		return nil, apperror.SignatureInvalid(string(provider))
	}

	corr := gw.Correlate(cb)
	txn, err := c.resolve(ctx, provider, corr)
	if err != nil {
		return nil, err
	}
	success := gw.IsPaymentSuccess(cb)

	if txn.Status != models.PaymentPending {
		if success && txn.Status == models.PaymentFailed {
			c.Logger.Error("PAYMENT", fmt.Sprintf("Provider %s reports payment for %s but it was already failed; refund required", provider, txn.TransactionCode))
		}
		return recorded(txn), nil
	}
	if success && corr.Amount > 0 && corr.Amount != txn.Amount {
		c.Logger.LogSecurity("AMOUNT_MISMATCH", fmt.Sprintf("%s callback for %s paid %d, expected %d", provider, txn.TransactionCode, corr.Amount, txn.Amount))
		return nil, apperror.Validation("paid amount %d does not match transaction amount %d", corr.Amount, txn.Amount)
	}

	return c.settle(ctx, txn, success, cb.Params)
}

// resolve finds the transaction a callback belongs to: by transaction code,
// then by provider reference, then, only when the adapter allows it, by the
// single pending transaction of that provider with the same amount.
func (c *Coordinator) resolve(ctx context.Context, provider gateway.Provider, corr gateway.Correlation) (*models.PaymentTransaction, error) {
	if corr.Code != "" {
		txn, err := c.Store.FindByCode(ctx, corr.Code)
		if err != nil {
			return nil, apperror.Wrap(err, "resolve payment")
		}
		if txn != nil && txn.PaymentMethod == string(provider) {
			return txn, nil
		}
	}
	if corr.ProviderRef != "" {
		txn, err := c.Store.FindByProviderRef(ctx, string(provider), corr.ProviderRef)
		if err != nil {
			return nil, apperror.Wrap(err, "resolve payment")
		}
		if txn != nil {
			return txn, nil
		}
	}
	if corr.AmountFallback && corr.Amount > 0 {
		candidates, err := c.Store.PendingByAmount(ctx, string(provider), corr.Amount, 2)
		if err != nil {
			return nil, apperror.Wrap(err, "resolve payment")
		}
		switch len(candidates) {
		case 1:
			c.Logger.Warn("PAYMENT", fmt.Sprintf("%s callback matched %s by amount only", provider, candidates[0].TransactionCode))
			return candidates[0], nil
		case 2:
			c.Logger.Warn("PAYMENT", fmt.Sprintf("%s callback amount %d matches several pending transactions, refusing", provider, corr.Amount))
		}
	}
	return nil, apperror.NotFound("no %s transaction matches the callback", provider)
}

func (c *Coordinator) settle(ctx context.Context, txn *models.PaymentTransaction, success bool, raw map[string]string) (*Result, error) {
	txCtx, cancel := context.WithTimeout(ctx, c.Opts.SettlementTxTimeout)
	defer cancel()

	now := c.now()
	status := models.PaymentFailed
	if success {
		status = models.PaymentSuccess
	}

	var (
		result   = &Result{Success: success, OrderID: txn.OrderID, TransactionID: txn.TransactionCode}
		settled  *models.Order
		issued   []*models.PurchasedTicket
		released bool
	)
	err := c.DB.RunInTx(txCtx, nil, func(ctx context.Context, tx bun.Tx) error {
		// Order row before transaction rows, the same order ReleaseOrder uses.
		if _, err := order.LockOrder(ctx, tx, txn.OrderID); err != nil {
			return err
		}

		won, err := c.Store.WithTx(tx).Transition(ctx, txn.ID, status, raw, now)
		if err != nil {
			return err
		}
		if !won {
			// A concurrent delivery, a sweep or a cancel settled it first.
			current, err := c.Store.WithTx(tx).Get(ctx, txn.ID)
			if err != nil {
				return err
			}
			if current == nil {
				return apperror.NotFound("transaction %s disappeared", txn.TransactionCode)
			}
			if success && current.Status == models.PaymentFailed {
				c.Logger.Error("PAYMENT", fmt.Sprintf("Provider reports payment for %s but it was already failed; refund required", txn.TransactionCode))
			}
			result = recorded(current)
			return nil
		}

		if !success {
			released, err = order.ReleaseOrder(ctx, tx, txn.OrderID, models.OrderFailed, now)
			return err
		}

		settled, issued, err = c.fulfil(ctx, tx, txn)
		return err
	})
	if err != nil {
		if errors.Is(err, apperror.ErrInvalidState) {
			c.Logger.Error("PAYMENT", fmt.Sprintf("Payment %s succeeded for order %s which is no longer pending; refund required", txn.TransactionCode, txn.OrderID))
		}
		return nil, apperror.Wrap(err, "settle payment")
	}
	if result.Replayed {
		return result, nil
	}

	c.Logger.LogPayment(txn.PaymentMethod, txn.TransactionCode, fmt.Sprintf("settled as %s for order %s", status, txn.OrderID))
	switch {
	case success:
		c.Logger.LogOrder("PAID", settled.ID, fmt.Sprintf("issued %d ticket(s)", len(issued)))
		c.sendConfirmation(settled, issued)
		c.Orders.Publish(order.EventOrderPaid, settled)
	case released:
		metrics.OrdersReleased.WithLabelValues(string(models.OrderFailed)).Inc()
		c.Logger.LogOrder("FAIL", txn.OrderID, "payment failed, holds released")
		c.Orders.Publish(order.EventOrderFailed, &models.Order{ID: txn.OrderID, Status: models.OrderFailed, UpdatedAt: now})
	}
	return result, nil
}

// fulfil turns a pending order into a paid one inside tx: the holds become
// sales, one ticket is issued per unit and any other pending transaction of
// the order is failed.
func (c *Coordinator) fulfil(ctx context.Context, tx bun.Tx, txn *models.PaymentTransaction) (*models.Order, []*models.PurchasedTicket, error) {
	now := c.now()
	orderID := txn.OrderID
	res, err := tx.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", models.OrderPaid).
		Set("updated_at = ?", now).
		Where("id = ?", orderID).
		Where("status = ?", models.OrderPending).
		Exec(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("mark order %s paid: %w", orderID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil, apperror.InvalidState("order %s is no longer pending", orderID)
	}

	if _, err := inventory.Convert(ctx, tx, orderID, now); err != nil {
		return nil, nil, err
	}

	_, err = tx.NewUpdate().
		Model((*models.PaymentTransaction)(nil)).
		Set("status = ?", models.PaymentFailed).
		Set("confirmed_at = ?", now).
		Where("order_id = ?", orderID).
		Where("id <> ?", txn.ID).
		Where("status = ?", models.PaymentPending).
		Exec(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("fail sibling payments of order %s: %w", orderID, err)
	}

	paid, err := order.LoadOrder(ctx, tx, orderID)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]string, 0, len(paid.Items))
	for _, item := range paid.Items {
		ids = append(ids, item.TicketTypeID)
	}
	types, err := inventory.Snapshot(ctx, tx, ids)
	if err != nil {
		return nil, nil, err
	}
	issued, err := c.Tickets.Issue(ctx, tx, paid, types)
	if err != nil {
		return nil, nil, err
	}
	return paid, issued, nil
}

func (c *Coordinator) sendConfirmation(o *models.Order, issued []*models.PurchasedTicket) {
	if c.Notifier == nil {
		return
	}
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.Opts.NotificationTimeout)
		defer cancel()
		if err := c.Notifier.SendTicketConfirmation(ctx, o, issued); err != nil {
			metrics.NotificationFailures.Inc()
			c.Logger.Error("NOTIFY", fmt.Sprintf("Failed to send ticket confirmation for order %s: %v", o.ID, err))
		}
	}()
}

// CancelByTransactionCode fails a still-pending transaction and its order.
// Used on browser-return failure paths; a settled transaction is left alone.
func (c *Coordinator) CancelByTransactionCode(ctx context.Context, code string) error {
	txn, err := c.Store.FindByCode(ctx, code)
	if err != nil {
		return apperror.Wrap(err, "cancel payment")
	}
	if txn == nil {
		return apperror.NotFound("transaction %s not found", code)
	}
	if txn.Status != models.PaymentPending {
		return nil
	}
	return c.CancelOrderPayment(ctx, txn.OrderID)
}

// CancelOrderPayment fails a pending order together with its pending
// transactions and releases its holds.
func (c *Coordinator) CancelOrderPayment(ctx context.Context, orderID string) error {
	txCtx, cancel := context.WithTimeout(ctx, c.Opts.SettlementTxTimeout)
	defer cancel()

	var released bool
	err := c.DB.RunInTx(txCtx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		released, err = order.ReleaseOrder(ctx, tx, orderID, models.OrderFailed, c.now())
		return err
	})
	if err != nil {
		return apperror.Wrap(err, "cancel payment")
	}
	if released {
		metrics.OrdersReleased.WithLabelValues(string(models.OrderFailed)).Inc()
		c.Logger.LogOrder("FAIL", orderID, "payment abandoned on return, holds released")
		c.Orders.Publish(order.EventOrderFailed, &models.Order{ID: orderID, Status: models.OrderFailed, UpdatedAt: c.now()})
	}
	return nil
}

// HandleReturn settles a browser redirect. When the redirect reports a
// failed payment that could not be settled, the order is cancelled on a best
// effort basis. A bad signature never cancels anything.
func (c *Coordinator) HandleReturn(ctx context.Context, provider gateway.Provider, cb gateway.Callback) (*Result, error) {
	cb.Source = gateway.SourceReturn
	result, err := c.HandleCallback(ctx, provider, cb)
	if err == nil || errors.Is(err, apperror.ErrSignatureInvalid) {
		return result, err
	}

	gw, gwErr := c.Gateways.Get(provider)
	if gwErr != nil || gw.IsPaymentSuccess(cb) {
		return nil, err
	}
	if code := gw.Correlate(cb).Code; code != "" {
		if cancelErr := c.CancelByTransactionCode(context.WithoutCancel(ctx), code); cancelErr != nil {
			c.Logger.Warn("PAYMENT", fmt.Sprintf("Best-effort cancel of %s failed: %v", code, cancelErr))
		}
	}
	return nil, err
}
