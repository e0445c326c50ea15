// Package testutil holds fixtures shared by the package tests.
package testutil

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"ms-ticketing-engine/internal/database"
	"ms-ticketing-engine/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// NewTestDB returns an in-memory SQLite database with the full schema. A single
// connection is kept open so every query sees the same memory database and
// concurrent transactions are serialized the way row locks would serialize them.
func NewTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err, "failed to open in-memory database")
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	sqldb.SetConnMaxLifetime(0)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, database.CreateSchema(context.Background(), db))

	t.Cleanup(func() { db.Close() })
	return db
}

// Clock is a settable time source for services that take a now func.
type Clock struct {
	Now time.Time
}

func NewClock() *Clock {
	return &Clock{Now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *Clock) Func() func() time.Time {
	return func() time.Time { return c.Now }
}

func (c *Clock) Advance(d time.Duration) {
	c.Now = c.Now.Add(d)
}

// SeedEvent inserts an event ending at end with the given status.
func SeedEvent(t *testing.T, db bun.IDB, status string, end time.Time) *models.Event {
	t.Helper()
	event := &models.Event{
		ID:        uuid.NewString(),
		Title:     "Live at the Opera House",
		Status:    status,
		StartTime: end.Add(-3 * time.Hour),
		EndTime:   end,
	}
	_, err := db.NewInsert().Model(event).Exec(context.Background())
	require.NoError(t, err)
	return event
}

func SeedEventDate(t *testing.T, db bun.IDB, eventID string, end time.Time) *models.EventDate {
	t.Helper()
	date := &models.EventDate{
		ID:      uuid.NewString(),
		EventID: eventID,
		StartAt: end.Add(-2 * time.Hour),
		EndAt:   end,
	}
	_, err := db.NewInsert().Model(date).Exec(context.Background())
	require.NoError(t, err)
	return date
}

// SeedTicketType inserts a ticket type with remaining = initial = quantity.
func SeedTicketType(t *testing.T, db bun.IDB, eventID string, price int64, quantity int) *models.TicketType {
	t.Helper()
	tt := &models.TicketType{
		ID:                uuid.NewString(),
		EventID:           eventID,
		Name:              "General Admission",
		Price:             price,
		InitialQuantity:   quantity,
		RemainingQuantity: quantity,
		Status:            "active",
	}
	_, err := db.NewInsert().Model(tt).Exec(context.Background())
	require.NoError(t, err)
	return tt
}

func LoadTicketType(t *testing.T, db bun.IDB, id string) *models.TicketType {
	t.Helper()
	tt := new(models.TicketType)
	err := db.NewSelect().Model(tt).Where("id = ?", id).Scan(context.Background())
	require.NoError(t, err)
	return tt
}

func LoadOrder(t *testing.T, db bun.IDB, id string) *models.Order {
	t.Helper()
	order := new(models.Order)
	err := db.NewSelect().Model(order).Relation("Items").Where("id = ?", id).Scan(context.Background())
	require.NoError(t, err)
	return order
}

func CountTickets(t *testing.T, db bun.IDB, orderID string) int {
	t.Helper()
	n, err := db.NewSelect().Model((*models.PurchasedTicket)(nil)).Where("order_id = ?", orderID).Count(context.Background())
	require.NoError(t, err)
	return n
}
