package models

import (
	"time"

	"github.com/uptrace/bun"
)

// TicketType holds the inventory counters for one priced ticket class.
// Invariant: 0 <= ReservedQuantity <= RemainingQuantity <= InitialQuantity.
type TicketType struct {
	bun.BaseModel `bun:"table:ticket_types"`

	ID                   string    `bun:"id,pk" json:"id"`
	EventID              string    `bun:"event_id,notnull" json:"event_id"`
	EventDateID          string    `bun:"event_date_id,nullzero" json:"event_date_id,omitempty"`
	Name                 string    `bun:"name" json:"name"`
	Price                int64     `bun:"price,notnull" json:"price"`
	InitialQuantity      int       `bun:"initial_quantity,notnull" json:"initial_quantity"`
	RemainingQuantity    int       `bun:"remaining_quantity,notnull" json:"remaining_quantity"`
	ReservedQuantity     int       `bun:"reserved_quantity,notnull,default:0" json:"reserved_quantity"`
	ReservationExpiresAt time.Time `bun:"reservation_expires_at,nullzero" json:"reservation_expires_at,omitempty"`
	Status               string    `bun:"status" json:"status"`
}

// Available is the quantity that can still be newly reserved.
func (t *TicketType) Available() int {
	return t.RemainingQuantity - t.ReservedQuantity
}

type ReservationStatus string

const (
	ReservationHeld      ReservationStatus = "held"
	ReservationConverted ReservationStatus = "converted"
	ReservationReleased  ReservationStatus = "released"
)

// Reservation is one time-bounded hold placed by an order on a ticket type.
// TicketType.ReservedQuantity is the sum of Quantity over its held rows.
type Reservation struct {
	bun.BaseModel `bun:"table:reservations"`

	ID           string            `bun:"id,pk" json:"id"`
	OrderID      string            `bun:"order_id,notnull" json:"order_id"`
	TicketTypeID string            `bun:"ticket_type_id,notnull" json:"ticket_type_id"`
	Quantity     int               `bun:"quantity,notnull" json:"quantity"`
	Status       ReservationStatus `bun:"status,notnull" json:"status"`
	ExpiresAt    time.Time         `bun:"expires_at,notnull" json:"expires_at"`
	CreatedAt    time.Time         `bun:"created_at,notnull" json:"created_at"`
	ClosedAt     time.Time         `bun:"closed_at,nullzero" json:"closed_at,omitempty"`
}
