//go:build integration

package payment_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"ms-ticketing-engine/internal/models"
	"ms-ticketing-engine/internal/payment"
	"ms-ticketing-engine/internal/payment/gateway"
	"ms-ticketing-engine/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresDuplicateCallbacksSettleOnce(t *testing.T) {
	f := newFixtureOn(t, testutil.NewPostgresDB(t))
	o := f.placeOrder(t, "user-a", 3, "")
	resp := f.createURL(t, o)

	const deliveries = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		fresh    int
		replayed int
		failures []error
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.coord.HandleCallback(context.Background(), gateway.VNPay, callback(resp.TransactionID, true))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				failures = append(failures, err)
			case result.Replayed:
				replayed++
			default:
				fresh++
			}
		}()
	}
	wg.Wait()
	f.coord.Wait()

	assert.Empty(t, failures)
	assert.Equal(t, 1, fresh)
	assert.Equal(t, deliveries-1, replayed)
	assert.Equal(t, 3, testutil.CountTickets(t, f.db, o.ID))
	tt := testutil.LoadTicketType(t, f.db, f.ticketTy.ID)
	assert.Equal(t, 7, tt.RemainingQuantity)
	assert.Zero(t, tt.ReservedQuantity)
	f.sender.AssertNumberOfCalls(t, "SendTicketConfirmation", 1)
}

func TestPostgresSweepRacingSettlement(t *testing.T) {
	f := newFixtureOn(t, testutil.NewPostgresDB(t))
	ctx := context.Background()

	type attempt struct {
		order *models.Order
		resp  *payment.CreatePaymentResponse
	}
	var attempts []attempt
	for i := 0; i < 8; i++ {
		o := f.placeOrder(t, "user-a", 1, "")
		attempts = append(attempts, attempt{order: o, resp: f.createURL(t, o)})
	}
	f.clock.Advance(16 * time.Minute)

	var (
		wg       sync.WaitGroup
		sweepErr error
		results  = make([]*payment.Result, len(attempts))
		errs     = make([]error, len(attempts))
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, sweepErr = f.orders.ExpireStaleHolds(ctx)
	}()
	for i, a := range attempts {
		wg.Add(1)
		go func(i int, code string) {
			defer wg.Done()
			results[i], errs[i] = f.coord.HandleCallback(ctx, gateway.VNPay, callback(code, true))
		}(i, a.resp.TransactionID)
	}
	wg.Wait()
	f.coord.Wait()
	f.orders.Wait()

	require.NoError(t, sweepErr)
	paid := 0
	for i, a := range attempts {
		require.NoError(t, errs[i], "callback for order %s", a.order.ID)

		o := testutil.LoadOrder(t, f.db, a.order.ID)
		txn, err := f.coord.Store.FindByCode(ctx, a.resp.TransactionID)
		require.NoError(t, err)

		switch o.Status {
		case models.OrderPaid:
			paid++
			assert.True(t, results[i].Success)
			assert.Equal(t, models.PaymentSuccess, txn.Status)
			assert.Equal(t, 1, testutil.CountTickets(t, f.db, o.ID))
		case models.OrderExpired:
			assert.False(t, results[i].Success)
			assert.Equal(t, models.PaymentFailed, txn.Status)
			assert.Zero(t, testutil.CountTickets(t, f.db, o.ID))
		default:
			t.Errorf("order %s ended %s", o.ID, o.Status)
		}
	}

	tt := testutil.LoadTicketType(t, f.db, f.ticketTy.ID)
	assert.Zero(t, tt.ReservedQuantity)
	assert.Equal(t, 10-paid, tt.RemainingQuantity)
}
