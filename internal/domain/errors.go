package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAccountExists       = errors.New("account already exists")
	ErrAccountLimitReached = errors.New("account limit reached")
	ErrInvalidMSISDN       = errors.New("phone number must be 10 digits starting with 09")
	ErrInvalidAmount       = errors.New("amount must be a positive whole number")
	ErrInsufficientPoints  = errors.New("amount exceeds available points")
	ErrInvalidOTP          = errors.New("otp must be 4 to 6 digits")
	ErrNoSelection         = errors.New("no account selected")
	ErrNotClaimable        = errors.New("no points to claim")
	ErrBatchInProgress     = errors.New("batch already in progress")
	ErrTransferRejected    = errors.New("transfer rejected")
	ErrMissingUserID       = errors.New("record has no user_id")
	ErrSessionExpired      = errors.New("session expired")
	ErrTokenUnavailable    = errors.New("no usable access token")
)
