package tickets_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"ms-ticketing-engine/internal/apperror"
	"ms-ticketing-engine/internal/catalog"
	"ms-ticketing-engine/internal/logger"
	"ms-ticketing-engine/internal/models"
	"ms-ticketing-engine/internal/testutil"
	"ms-ticketing-engine/internal/tickets"
	"ms-ticketing-engine/internal/tickets/qr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func newManager(t *testing.T) (*tickets.Manager, *bun.DB, *testutil.Clock) {
	db := testutil.NewTestDB(t)
	clock := testutil.NewClock()
	gen, err := qr.NewGenerator("test-secret-key")
	require.NoError(t, err)
	return tickets.NewManager(db, catalog.New(db), gen, logger.NewDiscard(), clock.Func()), db, clock
}

func issue(t *testing.T, m *tickets.Manager, db *bun.DB, tt *models.TicketType, qty int) []*models.PurchasedTicket {
	order := &models.Order{
		ID:     "order-" + tt.ID[:8],
		UserID: "user-1",
		Items:  []*models.OrderItem{{ID: "item-1", TicketTypeID: tt.ID, Quantity: qty, UnitPrice: tt.Price}},
	}
	issued, err := m.Issue(context.Background(), db, order, map[string]*models.TicketType{tt.ID: tt})
	require.NoError(t, err)
	return issued
}

func TestIssueOneTicketPerUnit(t *testing.T) {
	m, db, clock := newManager(t)
	event := testutil.SeedEvent(t, db, models.EventStatusApproved, clock.Now.Add(48*time.Hour))
	tt := testutil.SeedTicketType(t, db, event.ID, 150000, 10)

	issued := issue(t, m, db, tt, 3)
	require.Len(t, issued, 3)

	serials := make(map[string]bool)
	for _, ticket := range issued {
		assert.Equal(t, models.TicketUnused, ticket.Status)
		assert.Equal(t, event.ID, ticket.EventID)
		assert.Equal(t, "user-1", ticket.BuyerID)
		assert.Equal(t, int64(150000), ticket.Price)
		assert.Regexp(t, `^TK260314[A-Z2-7]{10}$`, ticket.SerialNumber)
		serials[ticket.SerialNumber] = true
	}
	assert.Len(t, serials, 3)

	listed, err := m.ListByOrder(context.Background(), issued[0].OrderID)
	require.NoError(t, err)
	assert.Len(t, listed, 3)
}

func TestCheckIn(t *testing.T) {
	m, db, clock := newManager(t)
	ctx := context.Background()
	event := testutil.SeedEvent(t, db, models.EventStatusApproved, clock.Now.Add(48*time.Hour))
	tt := testutil.SeedTicketType(t, db, event.ID, 150000, 10)
	ticket := issue(t, m, db, tt, 1)[0]

	_, err := m.CheckIn(ctx, ticket.ID, models.TicketUnused)
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = m.CheckIn(ctx, "missing", models.TicketUsed)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	checked, err := m.CheckIn(ctx, ticket.ID, models.TicketUsed)
	require.NoError(t, err)
	assert.Equal(t, models.TicketUsed, checked.Status)
	assert.True(t, checked.CheckInAt.Equal(clock.Now))

	_, err = m.CheckIn(ctx, ticket.ID, models.TicketUsed)
	assert.ErrorIs(t, err, apperror.ErrAlreadyCheckedIn)
}

func TestConcurrentCheckInSucceedsOnce(t *testing.T) {
	m, db, clock := newManager(t)
	event := testutil.SeedEvent(t, db, models.EventStatusApproved, clock.Now.Add(48*time.Hour))
	tt := testutil.SeedTicketType(t, db, event.ID, 150000, 10)
	ticket := issue(t, m, db, tt, 1)[0]

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.CheckIn(context.Background(), ticket.ID, models.TicketUsed); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
}

func TestCheckInByQR(t *testing.T) {
	m, db, clock := newManager(t)
	ctx := context.Background()
	event := testutil.SeedEvent(t, db, models.EventStatusApproved, clock.Now.Add(48*time.Hour))
	tt := testutil.SeedTicketType(t, db, event.ID, 150000, 10)
	ticket := issue(t, m, db, tt, 1)[0]

	code, err := m.QR.Encrypt(models.QRPayload{TicketID: ticket.ID, EventID: ticket.EventID, SerialNumber: ticket.SerialNumber})
	require.NoError(t, err)

	checked, err := m.CheckInByQR(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, models.TicketUsed, checked.Status)

	_, err = m.CheckInByQR(ctx, code)
	assert.ErrorIs(t, err, apperror.ErrAlreadyCheckedIn)

	forged, err := m.QR.Encrypt(models.QRPayload{TicketID: ticket.ID, EventID: ticket.EventID, SerialNumber: "TK000000AAAAAAAAAA"})
	require.NoError(t, err)
	_, err = m.CheckInByQR(ctx, forged)
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = m.CheckInByQR(ctx, "garbage")
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestExpireEndedEvents(t *testing.T) {
	m, db, clock := newManager(t)
	ctx := context.Background()

	ended := testutil.SeedEvent(t, db, models.EventStatusApproved, clock.Now.Add(-time.Hour))
	running := testutil.SeedEvent(t, db, models.EventStatusApproved, clock.Now.Add(48*time.Hour))
	pastDate := testutil.SeedEventDate(t, db, running.ID, clock.Now.Add(-time.Minute))
	futureDate := testutil.SeedEventDate(t, db, running.ID, clock.Now.Add(24*time.Hour))

	noDate := testutil.SeedTicketType(t, db, ended.ID, 100000, 10)
	datedPast := testutil.SeedTicketType(t, db, running.ID, 100000, 10)
	datedPast.EventDateID = pastDate.ID
	datedFuture := testutil.SeedTicketType(t, db, running.ID, 100000, 10)
	datedFuture.EventDateID = futureDate.ID
	undated := testutil.SeedTicketType(t, db, running.ID, 100000, 10)

	expiredA := issue(t, m, db, noDate, 2)
	expiredB := issue(t, m, db, datedPast, 1)
	keptA := issue(t, m, db, datedFuture, 1)
	keptB := issue(t, m, db, undated, 1)

	// A used ticket stays used.
	_, err := m.CheckIn(ctx, expiredA[0].ID, models.TicketUsed)
	require.NoError(t, err)

	n, err := m.ExpireEndedEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	status := func(id string) models.TicketStatus {
		ticket, err := m.GetTicket(ctx, id, "")
		require.NoError(t, err)
		return ticket.Status
	}
	assert.Equal(t, models.TicketUsed, status(expiredA[0].ID))
	assert.Equal(t, models.TicketExpired, status(expiredA[1].ID))
	assert.Equal(t, models.TicketExpired, status(expiredB[0].ID))
	assert.Equal(t, models.TicketUnused, status(keptA[0].ID))
	assert.Equal(t, models.TicketUnused, status(keptB[0].ID))
}

func TestGetTicketOwnership(t *testing.T) {
	m, db, clock := newManager(t)
	event := testutil.SeedEvent(t, db, models.EventStatusApproved, clock.Now.Add(48*time.Hour))
	tt := testutil.SeedTicketType(t, db, event.ID, 150000, 10)
	ticket := issue(t, m, db, tt, 1)[0]

	_, err := m.GetTicket(context.Background(), ticket.ID, "user-1")
	require.NoError(t, err)
	_, err = m.GetTicket(context.Background(), ticket.ID, "user-2")
	assert.ErrorIs(t, err, apperror.ErrValidation)
}
