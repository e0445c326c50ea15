package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"ms-ticketing-engine/internal/apperror"
	"ms-ticketing-engine/internal/auth"
	"ms-ticketing-engine/internal/payment"
	"ms-ticketing-engine/internal/payment/gateway"
	"ms-ticketing-engine/internal/utils"
)

func (h *Handler) CreatePaymentURL(w http.ResponseWriter, r *http.Request) {
	var req payment.CreatePaymentRequest
	if err := decode(w, r, &req); err != nil {
		utils.WriteError(w, apperror.Validation("%v", err))
		return
	}

	resp, err := h.Payments.CreatePaymentURL(r.Context(), req, auth.UserID(r.Context()), clientIP(r))
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("payment url created", resp))
}

func (h *Handler) VNPayReturn(w http.ResponseWriter, r *http.Request) {
	h.browserReturn(w, r, gateway.VNPay)
}

func (h *Handler) MoMoReturn(w http.ResponseWriter, r *http.Request) {
	h.browserReturn(w, r, gateway.MoMo)
}

func (h *Handler) ZaloPayReturn(w http.ResponseWriter, r *http.Request) {
	h.browserReturn(w, r, gateway.ZaloPay)
}

// browserReturn settles the redirect and sends the buyer to the result page.
// Any failure lands on status=failed.
func (h *Handler) browserReturn(w http.ResponseWriter, r *http.Request, provider gateway.Provider) {
	cb := gateway.Callback{Source: gateway.SourceReturn, Params: queryParams(r.URL.Query())}

	status, orderID := "failed", ""
	result, err := h.Payments.HandleReturn(r.Context(), provider, cb)
	switch {
	case err != nil:
		h.Logger.Warn("PAYMENT", fmt.Sprintf("%s return could not be settled: %v", provider, err))
	case result.Success:
		status, orderID = "success", result.OrderID
	default:
		orderID = result.OrderID
	}
	http.Redirect(w, r, h.resultURL(status, orderID), http.StatusFound)
}

func (h *Handler) resultURL(status, orderID string) string {
	q := url.Values{}
	q.Set("status", status)
	if orderID != "" {
		q.Set("orderId", orderID)
	}
	return h.FrontendURL + "/payment/result?" + q.Encode()
}

// MoMoNotify handles MoMo's instant payment notification.
func (h *Handler) MoMoNotify(w http.ResponseWriter, r *http.Request) {
	params, err := flattenJSON(w, r)
	if err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, map[string]interface{}{"errorCode": 1, "message": err.Error()})
		return
	}

	result, err := h.Payments.HandleCallback(r.Context(), gateway.MoMo, gateway.Callback{Source: gateway.SourceNotify, Params: params})
	if err != nil {
		status, resp := utils.AppErrorResponse(err)
		utils.WriteJSON(w, status, map[string]interface{}{"errorCode": 1, "message": resp.Message})
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{"errorCode": 0, "message": "Success", "data": result})
}

// ZaloPayCallback answers in ZaloPay's return_code convention: 1 accepted,
// -1 bad mac, 0 asks ZaloPay to deliver again.
func (h *Handler) ZaloPayCallback(w http.ResponseWriter, r *http.Request) {
	params, err := flattenJSON(w, r)
	if err != nil {
		utils.WriteJSON(w, http.StatusOK, map[string]interface{}{"return_code": -1, "return_message": err.Error()})
		return
	}

	_, err = h.Payments.HandleCallback(r.Context(), gateway.ZaloPay, gateway.Callback{Source: gateway.SourceNotify, Params: params})
	switch {
	case err == nil:
		utils.WriteJSON(w, http.StatusOK, map[string]interface{}{"return_code": 1, "return_message": "Success"})
	case errors.Is(err, apperror.ErrSignatureInvalid):
		utils.WriteJSON(w, http.StatusOK, map[string]interface{}{"return_code": -1, "return_message": "mac not equal"})
	default:
		_, resp := utils.AppErrorResponse(err)
		utils.WriteJSON(w, http.StatusOK, map[string]interface{}{"return_code": 0, "return_message": resp.Message})
	}
}

func queryParams(q url.Values) map[string]string {
	params := make(map[string]string, len(q))
	for k, v := range q {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return params
}

// flattenJSON reads a JSON object body into string parameters. Numbers keep
// their literal text so signatures computed over them still match. A "data"
// field holding an encoded object, as ZaloPay sends it, is merged in.
func flattenJSON(w http.ResponseWriter, r *http.Request) (map[string]string, error) {
	var raw map[string]interface{}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid callback body: %w", err)
	}

	params := make(map[string]string, len(raw))
	if data, ok := raw["data"].(string); ok {
		var inner map[string]interface{}
		innerDec := json.NewDecoder(bytes.NewReader([]byte(data)))
		innerDec.UseNumber()
		if err := innerDec.Decode(&inner); err == nil {
			for k, v := range inner {
				params[k] = stringify(v)
			}
			delete(raw, "data")
		}
	}
	for k, v := range raw {
		params[k] = stringify(v)
	}
	return params, nil
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
