package models

import (
	"time"

	"github.com/uptrace/bun"
)

type OrderStatus string

const (
	OrderPending OrderStatus = "pending"
	OrderPaid    OrderStatus = "paid"
	OrderFailed  OrderStatus = "failed"
	OrderExpired OrderStatus = "expired"
)

type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID            string       `bun:"id,pk" json:"id"`
	UserID        string       `bun:"user_id,notnull" json:"user_id"`
	BuyerEmail    string       `bun:"buyer_email" json:"buyer_email"`
	BuyerPhone    string       `bun:"buyer_phone" json:"buyer_phone"`
	PaymentMethod string       `bun:"payment_method" json:"payment_method"`
	TotalAmount   int64        `bun:"total_amount,notnull" json:"total_amount"`
	Status        OrderStatus  `bun:"status,notnull" json:"status"`
	CreatedAt     time.Time    `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt     time.Time    `bun:"updated_at,notnull" json:"updated_at"`
	Items         []*OrderItem `bun:"rel:has-many,join:id=order_id" json:"items,omitempty"`
}

type OrderItem struct {
	bun.BaseModel `bun:"table:order_items"`

	ID           string `bun:"id,pk" json:"id"`
	OrderID      string `bun:"order_id,notnull" json:"order_id"`
	TicketTypeID string `bun:"ticket_type_id,notnull" json:"ticket_type_id"`
	Quantity     int    `bun:"quantity,notnull" json:"quantity"`
	UnitPrice    int64  `bun:"unit_price,notnull" json:"unit_price"`
}

// OrderEvent is the payload streamed to Kafka on order lifecycle changes.
type OrderEvent struct {
	Type        string      `json:"type"`
	OrderID     string      `json:"order_id"`
	UserID      string      `json:"user_id"`
	Status      OrderStatus `json:"status"`
	TotalAmount int64       `json:"total_amount"`
	Timestamp   time.Time   `json:"timestamp"`
}
