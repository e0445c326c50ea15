package api

import (
	"net/http"

	"ms-ticketing-engine/internal/apperror"
	"ms-ticketing-engine/internal/auth"
	"ms-ticketing-engine/internal/order"
	"ms-ticketing-engine/internal/utils"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req order.CreateOrderRequest
	if err := decode(w, r, &req); err != nil {
		utils.WriteError(w, apperror.Validation("%v", err))
		return
	}

	created, err := h.Orders.CreateOrder(r.Context(), req, auth.UserID(r.Context()))
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("order created", created))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.GetOrder(r.Context(), chi.URLParam(r, "orderId"), auth.UserID(r.Context()))
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("order retrieved", o))
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.CancelOrder(r.Context(), chi.URLParam(r, "orderId"), auth.UserID(r.Context()))
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("order cancelled", o))
}

// GetOrderTickets lists the tickets issued for an order the caller owns.
func (h *Handler) GetOrderTickets(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.GetOrder(r.Context(), chi.URLParam(r, "orderId"), auth.UserID(r.Context()))
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	issued, err := h.Tickets.ListByOrder(r.Context(), o.ID)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("tickets retrieved", issued))
}

func (h *Handler) GetOrderPayments(w http.ResponseWriter, r *http.Request) {
	txns, err := h.Payments.ListPayments(r.Context(), chi.URLParam(r, "orderId"), auth.UserID(r.Context()))
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("payments retrieved", txns))
}
