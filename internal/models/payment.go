package models

import (
	"time"

	"github.com/uptrace/bun"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentSuccess PaymentStatus = "success"
	PaymentFailed  PaymentStatus = "failed"
)

type PaymentTransaction struct {
	bun.BaseModel `bun:"table:payment_transactions"`

	ID              string            `bun:"id,pk" json:"id"`
	OrderID         string            `bun:"order_id,notnull" json:"order_id"`
	PaymentMethod   string            `bun:"payment_method,notnull" json:"payment_method"`
	TransactionCode string            `bun:"transaction_code,notnull,unique" json:"transaction_code"`
	ProviderRef     string            `bun:"provider_ref,nullzero" json:"provider_ref,omitempty"`
	Amount          int64             `bun:"amount,notnull" json:"amount"`
	Currency        string            `bun:"currency" json:"currency"`
	Status          PaymentStatus     `bun:"status,notnull" json:"status"`
	GatewayResponse map[string]string `bun:"gateway_response,type:jsonb" json:"gateway_response,omitempty"`
	CreatedAt       time.Time         `bun:"created_at,notnull" json:"created_at"`
	ConfirmedAt     time.Time         `bun:"confirmed_at,nullzero" json:"confirmed_at,omitempty"`
}
