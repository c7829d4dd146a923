package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/simsync/internal/domain"
	"github.com/josh-kwaku/simsync/internal/logging"
	"github.com/josh-kwaku/simsync/internal/provider"
	"github.com/josh-kwaku/simsync/internal/service"
)

type accountService interface {
	Register(ctx context.Context, rec domain.AccountRecord) (domain.AccountRecord, error)
	Delete(ctx context.Context, userID domain.UserID) error
	DeleteAllLocal(ctx context.Context) error
	Search(query string) []domain.AccountRecord
	RefreshOne(ctx context.Context, msisdn string) (domain.Outcome, error)
	MarkSold(ctx context.Context, userID domain.UserID, details domain.SaleDetails) (domain.SoldRecord, error)
	Transfer(ctx context.Context, req service.TransferRequest) (provider.TransferResult, error)
	ConfirmTransfer(ctx context.Context, req service.TransferRequest, otp, requestID string) (provider.TransferResult, error)
	PointDetails(ctx context.Context, userID domain.UserID) (provider.PointDetails, error)
}

type singleClaimer interface {
	ClaimSingle(ctx context.Context, userID domain.UserID) (domain.AccountRecord, error)
}

type AccountHandler struct {
	accounts accountService
	claims   singleClaimer
}

func NewAccountHandler(accounts accountService, claims singleClaimer) *AccountHandler {
	return &AccountHandler{accounts: accounts, claims: claims}
}

// accountDTO is the outward view of a record. Tokens never leave the daemon.
type accountDTO struct {
	UserID           string              `json:"user_id"`
	MSISDN           string              `json:"msisdn"`
	MainBalance      *domain.MainBalance `json:"main_balance"`
	TotalPoint       int64               `json:"total_point"`
	Points           *domain.ClaimPoints `json:"points"`
	Label            string              `json:"label"`
	StartStatusLabel string              `json:"start_status_label"`
	LastUpdated      *time.Time          `json:"last_updated"`
	HasError         bool                `json:"has_error"`
	ErrorMessage     *string             `json:"error_message"`
	ErrorLabel       domain.ErrorLabel   `json:"error_label"`
}

func toAccountDTO(r domain.AccountRecord) accountDTO {
	return accountDTO{
		UserID:           r.UserID.String(),
		MSISDN:           r.MSISDN,
		MainBalance:      r.MainBalance,
		TotalPoint:       r.TotalPoint,
		Points:           r.Points,
		Label:            r.Label,
		StartStatusLabel: r.StartStatusLabel,
		LastUpdated:      r.LastUpdated,
		HasError:         r.HasError,
		ErrorMessage:     r.ErrorMessage,
		ErrorLabel:       r.ErrorLabel,
	}
}

type registerRequest struct {
	UserID               string `json:"user_id"`
	MSISDN               string `json:"msisdn"`
	Token                string `json:"token"`
	RefreshToken         string `json:"refresh_token"`
	AccessTokenExpireAt  int64  `json:"access_token_expire_at"`
	RefreshTokenExpireAt int64  `json:"refresh_token_expire_at"`
}

func (r registerRequest) Validate() []FieldError {
	var errs []FieldError
	if strings.TrimSpace(r.UserID) == "" {
		errs = append(errs, FieldError{Field: "user_id", Message: "required"})
	}
	if err := domain.ValidateMSISDN(r.MSISDN); err != nil {
		errs = append(errs, FieldError{Field: "msisdn", Message: domain.ErrInvalidMSISDN.Error()})
	}
	if r.RefreshToken == "" {
		errs = append(errs, FieldError{Field: "refresh_token", Message: "required"})
	}
	return errs
}

func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	recs := h.accounts.Search(r.URL.Query().Get("q"))
	dtos := make([]accountDTO, len(recs))
	for i := range recs {
		dtos[i] = toAccountDTO(recs[i])
	}
	RespondSuccess(w, http.StatusOK, dtos)
}

func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	rec, err := h.accounts.Register(r.Context(), domain.AccountRecord{
		UserID:               domain.UserID(strings.TrimSpace(req.UserID)),
		MSISDN:               req.MSISDN,
		Token:                req.Token,
		RefreshToken:         req.RefreshToken,
		AccessTokenExpireAt:  req.AccessTokenExpireAt,
		RefreshTokenExpireAt: req.RefreshTokenExpireAt,
	})
	if err != nil {
		logging.FromContext(r.Context()).Warn("failed to register account", "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusCreated, toAccountDTO(rec))
}

func (h *AccountHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := domain.UserID(chi.URLParam(r, "userID"))
	if err := h.accounts.Delete(r.Context(), userID); err != nil {
		logging.FromContext(r.Context()).Error("failed to delete account", "user_id", userID, "error", err)
		RespondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AccountHandler) DeleteAllLocal(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.DeleteAllLocal(r.Context()); err != nil {
		logging.FromContext(r.Context()).Error("failed to clear local accounts", "error", err)
		RespondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type refreshOneRequest struct {
	MSISDN string `json:"msisdn"`
}

type outcomeDTO struct {
	Kind    string     `json:"kind"`
	Reason  string     `json:"reason,omitempty"`
	Account accountDTO `json:"account"`
}

func (h *AccountHandler) RefreshOne(w http.ResponseWriter, r *http.Request) {
	var req refreshOneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	out, err := h.accounts.RefreshOne(r.Context(), req.MSISDN)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	if out.Record == nil {
		RespondSuccess(w, http.StatusOK, map[string]string{"kind": out.Kind.String()})
		return
	}
	RespondSuccess(w, http.StatusOK, outcomeDTO{Kind: out.Kind.String(), Reason: out.Reason, Account: toAccountDTO(*out.Record)})
}

func (h *AccountHandler) Claim(w http.ResponseWriter, r *http.Request) {
	userID := domain.UserID(chi.URLParam(r, "userID"))
	rec, err := h.claims.ClaimSingle(r.Context(), userID)
	if err != nil {
		logging.FromContext(r.Context()).Warn("claim failed", "user_id", userID, "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toAccountDTO(rec))
}

func (h *AccountHandler) PointDetails(w http.ResponseWriter, r *http.Request) {
	userID := domain.UserID(chi.URLParam(r, "userID"))
	details, err := h.accounts.PointDetails(r.Context(), userID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, details)
}

type markSoldRequest struct {
	SaleDate  string          `json:"sale_date"`
	SalePrice decimal.Decimal `json:"sale_price"`
	BuyerInfo string          `json:"buyer_info"`
}

func (r markSoldRequest) Validate() []FieldError {
	var errs []FieldError
	if r.SalePrice.IsNegative() {
		errs = append(errs, FieldError{Field: "sale_price", Message: "must not be negative"})
	}
	if r.SaleDate != "" {
		if _, err := time.Parse(time.DateOnly, r.SaleDate); err != nil {
			errs = append(errs, FieldError{Field: "sale_date", Message: "must be YYYY-MM-DD"})
		}
	}
	return errs
}

func (h *AccountHandler) MarkSold(w http.ResponseWriter, r *http.Request) {
	var req markSoldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	userID := domain.UserID(chi.URLParam(r, "userID"))
	sold, err := h.accounts.MarkSold(r.Context(), userID, domain.SaleDetails{
		SaleDate:  req.SaleDate,
		SalePrice: req.SalePrice,
		BuyerInfo: strings.TrimSpace(req.BuyerInfo),
	})
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusCreated, toSoldDTO(sold))
}

type transferRequest struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	OTP       string `json:"otp"`
	RequestID string `json:"request_id"`
}

type transferDTO struct {
	OTPRequired bool   `json:"otp_required"`
	Completed   bool   `json:"completed"`
	RequestID   string `json:"request_id,omitempty"`
	Message     string `json:"message"`
}

func (h *AccountHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, false)
}

func (h *AccountHandler) ConfirmTransfer(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, true)
}

func (h *AccountHandler) transfer(w http.ResponseWriter, r *http.Request, confirm bool) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	treq := service.TransferRequest{
		FromUserID: domain.UserID(chi.URLParam(r, "userID")),
		Recipient:  req.Recipient,
		Amount:     req.Amount,
	}

	var (
		res provider.TransferResult
		err error
	)
	if confirm {
		res, err = h.accounts.ConfirmTransfer(r.Context(), treq, req.OTP, req.RequestID)
	} else {
		res, err = h.accounts.Transfer(r.Context(), treq)
	}
	if err != nil {
		logging.FromContext(r.Context()).Warn("transfer failed", "user_id", treq.FromUserID, "confirm", confirm, "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, transferDTO{
		OTPRequired: res.OTPRequired,
		Completed:   res.Completed,
		RequestID:   res.RequestID,
		Message:     res.Message,
	})
}
