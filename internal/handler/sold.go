package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/josh-kwaku/simsync/internal/domain"
	"github.com/josh-kwaku/simsync/internal/logging"
	"github.com/josh-kwaku/simsync/internal/service"
)

type soldInventory interface {
	List(ctx context.Context) ([]domain.SoldRecord, error)
	RefreshAll(ctx context.Context, progress domain.ProgressFunc) (service.SoldRefreshResult, error)
	Delete(ctx context.Context, userID domain.UserID) error
}

type SoldHandler struct {
	sold soldInventory
}

func NewSoldHandler(sold soldInventory) *SoldHandler {
	return &SoldHandler{sold: sold}
}

type soldDTO struct {
	accountDTO
	InventoryStatus domain.InventoryStatus `json:"inventory_status"`
	SoldAt          time.Time              `json:"sold_at"`
	SaleDetails     domain.SaleDetails     `json:"sale_details"`
	LoyaltyData     []domain.LoyaltyEntry  `json:"loyalty_data"`
}

func toSoldDTO(r domain.SoldRecord) soldDTO {
	loyalty := r.LoyaltyData
	if loyalty == nil {
		loyalty = []domain.LoyaltyEntry{}
	}
	return soldDTO{
		accountDTO:      toAccountDTO(r.AccountRecord),
		InventoryStatus: r.InventoryStatus,
		SoldAt:          r.SoldAt,
		SaleDetails:     r.SaleDetails,
		LoyaltyData:     loyalty,
	}
}

func toSoldDTOs(recs []domain.SoldRecord) []soldDTO {
	dtos := make([]soldDTO, len(recs))
	for i := range recs {
		dtos[i] = toSoldDTO(recs[i])
	}
	return dtos
}

func (h *SoldHandler) List(w http.ResponseWriter, r *http.Request) {
	recs, err := h.sold.List(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to list sold inventory", "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toSoldDTOs(recs))
}

func (h *SoldHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	res, err := h.sold.RefreshAll(r.Context(), nil)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to refresh sold inventory", "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, map[string]any{
		"succeeded": res.Succeeded,
		"failed":    res.Failed,
		"cancelled": res.Cancelled,
		"records":   toSoldDTOs(res.Records),
	})
}

func (h *SoldHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := domain.UserID(chi.URLParam(r, "userID"))
	if err := h.sold.Delete(r.Context(), userID); err != nil {
		logging.FromContext(r.Context()).Error("failed to delete sold entry", "user_id", userID, "error", err)
		RespondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
