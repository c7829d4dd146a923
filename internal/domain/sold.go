package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type InventoryStatus string

const InventoryStatusSold InventoryStatus = "sold"

type SaleDetails struct {
	SaleDate  string          `json:"sale_date"`
	SalePrice decimal.Decimal `json:"sale_price"`
	BuyerInfo string          `json:"buyer_info"`
}

type LoyaltyEntry struct {
	Title           string          `json:"title"`
	ExpireAt        string          `json:"expireAt"`
	RemainingAmount decimal.Decimal `json:"remainingAmount"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
}

// SoldRecord is a copy of an account taken when it was sold. It lives in its
// own inventory and is refreshed independently of the active collection.
type SoldRecord struct {
	AccountRecord
	InventoryStatus InventoryStatus `json:"inventory_status"`
	SoldAt          time.Time       `json:"sold_at"`
	SaleDetails     SaleDetails     `json:"sale_details"`
	LoyaltyData     []LoyaltyEntry  `json:"loyaltyData"`
}

func NewSoldRecord(rec AccountRecord, details SaleDetails, soldAt time.Time) SoldRecord {
	return SoldRecord{
		AccountRecord:   rec.Clone(),
		InventoryStatus: InventoryStatusSold,
		SoldAt:          soldAt.UTC(),
		SaleDetails:     details,
	}
}
