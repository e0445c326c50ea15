package utils

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"ms-ticketing-engine/internal/apperror"
)

type APIResponse struct {
	Success   bool           `json:"success"`
	Message   string         `json:"message"`
	Data      interface{}    `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	Code      string         `json:"code,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func SuccessResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	}
}

func ErrorResponse(message, error string) APIResponse {
	return APIResponse{
		Success:   false,
		Message:   message,
		Error:     error,
		Timestamp: time.Now(),
	}
}

// AppErrorResponse renders err with its HTTP status. Internal causes are
// never exposed to the caller.
func AppErrorResponse(err error) (int, APIResponse) {
	kind := apperror.KindOf(err)
	resp := ErrorResponse("request failed", string(kind))
	resp.Code = string(kind)

	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		if appErr.Code != "" {
			resp.Code = appErr.Code
		}
		if kind != apperror.KindInternal {
			resp.Message = appErr.Message
			resp.Details = appErr.Details
		}
	}
	if kind == apperror.KindInternal {
		resp.Message = "internal server error"
	}
	return apperror.HTTPStatus(kind), resp
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, err error) {
	status, resp := AppErrorResponse(err)
	WriteJSON(w, status, resp)
}
