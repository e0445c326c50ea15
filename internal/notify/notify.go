// Package notify hands ticket confirmations to the notification service.
package notify

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"ms-ticketing-engine/internal/models"
)

type Sender interface {
	SendTicketConfirmation(ctx context.Context, order *models.Order, tickets []*models.PurchasedTicket) error
}

type Publisher interface {
	PublishNotification(ctx context.Context, key string, value any) error
}

type QRRenderer interface {
	PNG(ticket *models.PurchasedTicket) ([]byte, error)
}

// TicketConfirmation is the message the notification service renders into
// the buyer's confirmation email.
type TicketConfirmation struct {
	Type        string            `json:"type"`
	OrderID     string            `json:"order_id"`
	UserID      string            `json:"user_id"`
	Email       string            `json:"email"`
	Phone       string            `json:"phone"`
	TotalAmount int64             `json:"total_amount"`
	Tickets     []ConfirmedTicket `json:"tickets"`
	SentAt      time.Time         `json:"sent_at"`
}

type ConfirmedTicket struct {
	TicketID     string `json:"ticket_id"`
	TicketTypeID string `json:"ticket_type_id"`
	EventID      string `json:"event_id"`
	SerialNumber string `json:"serial_number"`
	Price        int64  `json:"price"`
	QRCodePNG    string `json:"qr_code_png"`
}

type KafkaSender struct {
	publisher Publisher
	qr        QRRenderer
	now       func() time.Time
}

func NewKafkaSender(publisher Publisher, qr QRRenderer) *KafkaSender {
	return &KafkaSender{publisher: publisher, qr: qr, now: time.Now}
}

func (s *KafkaSender) SendTicketConfirmation(ctx context.Context, order *models.Order, tickets []*models.PurchasedTicket) error {
	msg := TicketConfirmation{
		Type:        "ticket.confirmation",
		OrderID:     order.ID,
		UserID:      order.UserID,
		Email:       order.BuyerEmail,
		Phone:       order.BuyerPhone,
		TotalAmount: order.TotalAmount,
		Tickets:     make([]ConfirmedTicket, 0, len(tickets)),
		SentAt:      s.now().UTC(),
	}
	for _, t := range tickets {
		png, err := s.qr.PNG(t)
		if err != nil {
			return fmt.Errorf("render qr for ticket %s: %w", t.ID, err)
		}
		msg.Tickets = append(msg.Tickets, ConfirmedTicket{
			TicketID:     t.ID,
			TicketTypeID: t.TicketTypeID,
			EventID:      t.EventID,
			SerialNumber: t.SerialNumber,
			Price:        t.Price,
			QRCodePNG:    base64.StdEncoding.EncodeToString(png),
		})
	}
	return s.publisher.PublishNotification(ctx, order.ID, msg)
}
