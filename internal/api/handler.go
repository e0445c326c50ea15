// Package api exposes the reservation, payment and ticket operations over
// HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"ms-ticketing-engine/internal/auth"
	"ms-ticketing-engine/internal/logger"
	"ms-ticketing-engine/internal/metrics"
	"ms-ticketing-engine/internal/models"
	"ms-ticketing-engine/internal/order"
	"ms-ticketing-engine/internal/payment"
	"ms-ticketing-engine/internal/payment/gateway"
	"ms-ticketing-engine/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Orders interface {
	CreateOrder(ctx context.Context, req order.CreateOrderRequest, requester string) (*models.Order, error)
	GetOrder(ctx context.Context, orderID, requester string) (*models.Order, error)
	CancelOrder(ctx context.Context, orderID, requester string) (*models.Order, error)
}

type Payments interface {
	CreatePaymentURL(ctx context.Context, req payment.CreatePaymentRequest, requester, clientIP string) (*payment.CreatePaymentResponse, error)
	HandleCallback(ctx context.Context, provider gateway.Provider, cb gateway.Callback) (*payment.Result, error)
	HandleReturn(ctx context.Context, provider gateway.Provider, cb gateway.Callback) (*payment.Result, error)
	ListPayments(ctx context.Context, orderID, requester string) ([]*models.PaymentTransaction, error)
}

type Tickets interface {
	GetTicket(ctx context.Context, ticketID, requester string) (*models.PurchasedTicket, error)
	CheckIn(ctx context.Context, ticketID string, target models.TicketStatus) (*models.PurchasedTicket, error)
	CheckInByQR(ctx context.Context, encrypted string) (*models.PurchasedTicket, error)
	ListByOrder(ctx context.Context, orderID string) ([]*models.PurchasedTicket, error)
}

type Handler struct {
	Orders      Orders
	Payments    Payments
	Tickets     Tickets
	Verifier    auth.TokenVerifier
	Logger      *logger.Logger
	FrontendURL string
}

// Router wires every route. Provider callbacks are public; their
// signatures authenticate them.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.accessLog)
	r.Use(metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ok", nil))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/payments", func(r chi.Router) {
		r.Get("/vnpay-return", h.VNPayReturn)
		r.Get("/momo-return", h.MoMoReturn)
		r.Post("/momo-notify", h.MoMoNotify)
		r.Get("/zalo-return", h.ZaloPayReturn)
		r.Post("/zalopay-callback", h.ZaloPayCallback)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(h.Verifier, h.Logger))
			r.Post("/create-url", h.CreatePaymentURL)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(h.Verifier, h.Logger))

		r.Route("/api/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Get("/{orderId}", h.GetOrder)
			r.Delete("/{orderId}", h.CancelOrder)
			r.Get("/{orderId}/tickets", h.GetOrderTickets)
			r.Get("/{orderId}/payments", h.GetOrderPayments)
		})
		r.Route("/api/tickets", func(r chi.Router) {
			r.Post("/check-in", h.CheckInByQR)
			r.Get("/{ticketId}", h.GetTicket)
			r.Post("/{ticketId}/check-in", h.CheckIn)
		})
	})
	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.Logger.LogAPI(r.Method, r.URL.Path, fmt.Sprintf("%d", ww.Status()), time.Since(start).String())
	})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func clientIP(r *http.Request) string {
	// RealIP has already folded X-Forwarded-For into RemoteAddr.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
