package notify_test

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"ms-ticketing-engine/internal/models"
	"ms-ticketing-engine/internal/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishNotification(ctx context.Context, key string, value any) error {
	args := m.Called(key, value)
	return args.Error(0)
}

type stubQR struct{ err error }

func (s stubQR) PNG(ticket *models.PurchasedTicket) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []byte("png:" + ticket.SerialNumber), nil
}

func TestSendTicketConfirmation(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("PublishNotification", "order-1", mock.AnythingOfType("notify.TicketConfirmation")).Return(nil)

	sender := notify.NewKafkaSender(pub, stubQR{})
	order := &models.Order{ID: "order-1", UserID: "user-1", BuyerEmail: "a@b.co", BuyerPhone: "0901", TotalAmount: 300000}
	tickets := []*models.PurchasedTicket{
		{ID: "t1", SerialNumber: "TK1", Price: 150000},
		{ID: "t2", SerialNumber: "TK2", Price: 150000},
	}
	require.NoError(t, sender.SendTicketConfirmation(context.Background(), order, tickets))

	pub.AssertExpectations(t)
	msg := pub.Calls[0].Arguments.Get(1).(notify.TicketConfirmation)
	assert.Equal(t, "a@b.co", msg.Email)
	require.Len(t, msg.Tickets, 2)
	png, err := base64.StdEncoding.DecodeString(msg.Tickets[1].QRCodePNG)
	require.NoError(t, err)
	assert.Equal(t, "png:TK2", string(png))
}

func TestSendTicketConfirmationQRFailure(t *testing.T) {
	pub := new(MockPublisher)
	sender := notify.NewKafkaSender(pub, stubQR{err: errors.New("encode failed")})

	err := sender.SendTicketConfirmation(context.Background(), &models.Order{ID: "o"}, []*models.PurchasedTicket{{ID: "t1"}})
	assert.Error(t, err)
	pub.AssertNotCalled(t, "PublishNotification", mock.Anything, mock.Anything)
}
