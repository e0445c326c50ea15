package inventory_test

import (
	"context"
	"testing"
	"time"

	"ms-ticketing-engine/internal/inventory"
	"ms-ticketing-engine/internal/models"
	"ms-ticketing-engine/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func setup(t *testing.T) (*bun.DB, *models.TicketType, time.Time) {
	db := testutil.NewTestDB(t)
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	event := testutil.SeedEvent(t, db, models.EventStatusApproved, now.Add(48*time.Hour))
	tt := testutil.SeedTicketType(t, db, event.ID, 150000, 10)
	return db, tt, now
}

func TestHoldRespectsAvailability(t *testing.T) {
	db, tt, now := setup(t)
	ctx := context.Background()

	hold, err := inventory.Hold(ctx, db, "order-a", tt.ID, 7, now, now.Add(15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.ReservationHeld, hold.Status)

	_, err = inventory.Hold(ctx, db, "order-b", tt.ID, 5, now, now.Add(15*time.Minute))
	assert.ErrorIs(t, err, inventory.ErrNoCapacity)

	_, err = inventory.Hold(ctx, db, "order-b", tt.ID, 3, now, now.Add(15*time.Minute))
	require.NoError(t, err)

	got := testutil.LoadTicketType(t, db, tt.ID)
	assert.Equal(t, 10, got.ReservedQuantity)
	assert.Equal(t, 10, got.RemainingQuantity)
	assert.Equal(t, 0, got.Available())
	assert.True(t, got.ReservationExpiresAt.Equal(now.Add(15*time.Minute)))
}

func TestConvertDecrementsBothCounters(t *testing.T) {
	db, tt, now := setup(t)
	ctx := context.Background()

	_, err := inventory.Hold(ctx, db, "order-a", tt.ID, 7, now, now.Add(15*time.Minute))
	require.NoError(t, err)
	_, err = inventory.Hold(ctx, db, "order-b", tt.ID, 3, now.Add(time.Minute), now.Add(16*time.Minute))
	require.NoError(t, err)

	units, err := inventory.Convert(ctx, db, "order-a", now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 7, units)

	got := testutil.LoadTicketType(t, db, tt.ID)
	assert.Equal(t, 3, got.RemainingQuantity)
	assert.Equal(t, 3, got.ReservedQuantity)
	assert.True(t, got.ReservationExpiresAt.Equal(now.Add(16*time.Minute)), "marker follows the hold still outstanding")

	// Converting again is a no-op: the holds are no longer held.
	units, err = inventory.Convert(ctx, db, "order-a", now.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, units)
	assert.Equal(t, 3, testutil.LoadTicketType(t, db, tt.ID).RemainingQuantity)
}

func TestReleaseRestoresAvailabilityAndClearsMarker(t *testing.T) {
	db, tt, now := setup(t)
	ctx := context.Background()

	_, err := inventory.Hold(ctx, db, "order-a", tt.ID, 4, now, now.Add(15*time.Minute))
	require.NoError(t, err)

	units, err := inventory.Release(ctx, db, "order-a", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 4, units)

	got := testutil.LoadTicketType(t, db, tt.ID)
	assert.Equal(t, 0, got.ReservedQuantity)
	assert.Equal(t, 10, got.RemainingQuantity)
	assert.True(t, got.ReservationExpiresAt.IsZero())

	var hold models.Reservation
	require.NoError(t, db.NewSelect().Model(&hold).Where("order_id = ?", "order-a").Scan(ctx))
	assert.Equal(t, models.ReservationReleased, hold.Status)
	assert.False(t, hold.ClosedAt.IsZero())
}

func TestStaleOrderIDs(t *testing.T) {
	db, tt, now := setup(t)
	ctx := context.Background()

	_, err := inventory.Hold(ctx, db, "order-old", tt.ID, 1, now, now.Add(15*time.Minute))
	require.NoError(t, err)
	_, err = inventory.Hold(ctx, db, "order-new", tt.ID, 1, now.Add(10*time.Minute), now.Add(25*time.Minute))
	require.NoError(t, err)

	ids, err := inventory.StaleOrderIDs(ctx, db, now.Add(16*time.Minute), 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"order-old"}, ids)
}

func TestSnapshot(t *testing.T) {
	db, tt, _ := setup(t)

	types, err := inventory.Snapshot(context.Background(), db, []string{tt.ID, "missing"})
	require.NoError(t, err)
	assert.Len(t, types, 1)
	assert.Equal(t, 10, types[tt.ID].Available())
}
