package api

import (
	"net/http"

	"ms-ticketing-engine/internal/apperror"
	"ms-ticketing-engine/internal/auth"
	"ms-ticketing-engine/internal/models"
	"ms-ticketing-engine/internal/utils"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.Tickets.GetTicket(r.Context(), chi.URLParam(r, "ticketId"), auth.UserID(r.Context()))
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ticket retrieved", ticket))
}

func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status models.TicketStatus `json:"status"`
	}
	if err := decode(w, r, &req); err != nil {
		utils.WriteError(w, apperror.Validation("%v", err))
		return
	}
	if req.Status == "" {
		req.Status = models.TicketUsed
	}

	ticket, err := h.Tickets.CheckIn(r.Context(), chi.URLParam(r, "ticketId"), req.Status)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ticket checked in", ticket))
}

func (h *Handler) CheckInByQR(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EncryptedQR string `json:"encrypted_qr"`
	}
	if err := decode(w, r, &req); err != nil {
		utils.WriteError(w, apperror.Validation("%v", err))
		return
	}
	if req.EncryptedQR == "" {
		utils.WriteError(w, apperror.Validation("encrypted_qr is required"))
		return
	}

	ticket, err := h.Tickets.CheckInByQR(r.Context(), req.EncryptedQR)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ticket checked in", ticket))
}
