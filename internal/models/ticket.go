package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TicketStatus string

const (
	TicketUnused  TicketStatus = "unused"
	TicketUsed    TicketStatus = "used"
	TicketExpired TicketStatus = "expired"
)

type PurchasedTicket struct {
	bun.BaseModel `bun:"table:purchased_tickets"`

	ID           string       `bun:"id,pk" json:"id"`
	TicketTypeID string       `bun:"ticket_type_id,notnull" json:"ticket_type_id"`
	OrderID      string       `bun:"order_id,notnull" json:"order_id"`
	BuyerID      string       `bun:"buyer_id,notnull" json:"buyer_id"`
	EventID      string       `bun:"event_id,notnull" json:"event_id"`
	EventDateID  string       `bun:"event_date_id,nullzero" json:"event_date_id,omitempty"`
	SerialNumber string       `bun:"serial_number,notnull,unique" json:"serial_number"`
	Price        int64        `bun:"price,notnull" json:"price"`
	Status       TicketStatus `bun:"status,notnull" json:"status"`
	IssuedAt     time.Time    `bun:"issued_at,notnull" json:"issued_at"`
	CheckInAt    time.Time    `bun:"check_in_at,nullzero" json:"check_in_at,omitempty"`
}

// QRPayload is the content encrypted into a ticket's QR code.
type QRPayload struct {
	TicketID     string `json:"ticketId"`
	EventID      string `json:"eventId"`
	SerialNumber string `json:"serialNumber"`
}
