package storage_test

import (
	"context"
	"testing"
	"time"

	"ms-ticketing-engine/internal/models"
	"ms-ticketing-engine/internal/payment/storage"
	"ms-ticketing-engine/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTxn(method, code string, amount int64, at time.Time) *models.PaymentTransaction {
	return &models.PaymentTransaction{
		ID:              uuid.NewString(),
		OrderID:         "order-1",
		PaymentMethod:   method,
		TransactionCode: code,
		Amount:          amount,
		Currency:        "VND",
		Status:          models.PaymentPending,
		CreatedAt:       at,
	}
}

func TestTransitionIsOneWay(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()
	store := storage.New(db)
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	txn := newTxn("vnpay", "TXN_1_1", 300000, now)
	require.NoError(t, store.Create(ctx, txn))

	won, err := store.Transition(ctx, txn.ID, models.PaymentSuccess, map[string]string{"vnp_ResponseCode": "00"}, now)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = store.Transition(ctx, txn.ID, models.PaymentFailed, nil, now)
	require.NoError(t, err)
	assert.False(t, won)

	got, err := store.FindByCode(ctx, "TXN_1_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentSuccess, got.Status)
	assert.Equal(t, "00", got.GatewayResponse["vnp_ResponseCode"])
	assert.True(t, got.ConfirmedAt.Equal(now))
}

func TestLookups(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()
	store := storage.New(db)
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	a := newTxn("zalopay", "TXN_1_1", 300000, now)
	b := newTxn("zalopay", "TXN_1_2", 300000, now.Add(time.Second))
	c := newTxn("momo", "TXN_1_3", 300000, now)
	for _, txn := range []*models.PaymentTransaction{a, b, c} {
		require.NoError(t, store.Create(ctx, txn))
	}
	require.NoError(t, store.SetProviderRef(ctx, a.ID, "260314_TXN_1_1"))

	got, err := store.FindByProviderRef(ctx, "zalopay", "260314_TXN_1_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, a.ID, got.ID)

	missing, err := store.FindByCode(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	pending, err := store.PendingByAmount(ctx, "zalopay", 300000, 2)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	listed, err := store.ListByOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Len(t, listed, 3)
}
