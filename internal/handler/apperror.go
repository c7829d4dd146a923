package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrInvalidRequest   = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrResourceNotFound = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrInternalError    = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}
	ErrUpstreamFailed   = &AppError{http.StatusBadGateway, "UPSTREAM_FAILED", "The account API did not answer as expected"}

	ErrInvalidMSISDN       = &AppError{http.StatusBadRequest, "INVALID_MSISDN", "Phone number must be 10 digits starting with 09"}
	ErrInvalidAmount       = &AppError{http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be a positive whole number"}
	ErrInvalidOTP          = &AppError{http.StatusBadRequest, "INVALID_OTP", "OTP must be 4 to 6 digits"}
	ErrMissingUserID       = &AppError{http.StatusBadRequest, "MISSING_USER_ID", "user_id is required"}
	ErrNoSelection         = &AppError{http.StatusBadRequest, "NO_SELECTION", "No account selected"}
	ErrInsufficientPoints  = &AppError{http.StatusUnprocessableEntity, "INSUFFICIENT_POINTS", "Amount exceeds available points"}
	ErrNotClaimable        = &AppError{http.StatusUnprocessableEntity, "NOTHING_TO_CLAIM", "No points to claim"}
	ErrTransferRejected    = &AppError{http.StatusUnprocessableEntity, "TRANSFER_REJECTED", "Transfer was rejected"}
	ErrAccountExists       = &AppError{http.StatusConflict, "ACCOUNT_ALREADY_EXISTS", "Account already exists"}
	ErrAccountLimitReached = &AppError{http.StatusConflict, "ACCOUNT_LIMIT_REACHED", "Account limit reached"}
	ErrBatchInProgress     = &AppError{http.StatusConflict, "BATCH_IN_PROGRESS", "A batch of this kind is already running"}
	ErrSessionExpired      = &AppError{http.StatusUnprocessableEntity, "SESSION_EXPIRED", "Account session expired, log in again"}
	ErrTokenUnavailable    = &AppError{http.StatusBadGateway, "TOKEN_REFRESH_FAILED", "Could not refresh the account token"}
)
