package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/josh-kwaku/simsync/internal/domain"
	"github.com/josh-kwaku/simsync/internal/provider"
)

type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data"`
	Error   *APIError `json:"error"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func RespondSuccess(w http.ResponseWriter, status int, data any) {
	RespondJSON(w, status, APIResponse{
		Success: true,
		Data:    data,
		Error:   nil,
	})
}

func RespondAppError(w http.ResponseWriter, appErr *AppError, details any) {
	RespondJSON(w, appErr.Status, APIResponse{
		Success: false,
		Data:    nil,
		Error: &APIError{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: details,
		},
	})
}

func RespondValidationError(w http.ResponseWriter, fields []FieldError) {
	RespondAppError(w, ErrValidationFailed, fields)
}

var domainErrors = []struct {
	err    error
	appErr *AppError
}{
	{domain.ErrNotFound, ErrResourceNotFound},
	{domain.ErrInvalidMSISDN, ErrInvalidMSISDN},
	{domain.ErrInvalidAmount, ErrInvalidAmount},
	{domain.ErrInvalidOTP, ErrInvalidOTP},
	{domain.ErrMissingUserID, ErrMissingUserID},
	{domain.ErrNoSelection, ErrNoSelection},
	{domain.ErrInsufficientPoints, ErrInsufficientPoints},
	{domain.ErrNotClaimable, ErrNotClaimable},
	{domain.ErrTransferRejected, ErrTransferRejected},
	{domain.ErrAccountExists, ErrAccountExists},
	{domain.ErrAccountLimitReached, ErrAccountLimitReached},
	{domain.ErrBatchInProgress, ErrBatchInProgress},
	{domain.ErrSessionExpired, ErrSessionExpired},
	{domain.ErrTokenUnavailable, ErrTokenUnavailable},
}

func RespondDomainError(w http.ResponseWriter, err error) {
	for _, m := range domainErrors {
		if errors.Is(err, m.err) {
			RespondAppError(w, m.appErr, nil)
			return
		}
	}

	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		RespondAppError(w, ErrUpstreamFailed, map[string]any{
			"endpoint": apiErr.Endpoint,
			"status":   apiErr.Status,
		})
		return
	}

	slog.Error("unhandled domain error", "error", err)
	RespondAppError(w, ErrInternalError, nil)
}
