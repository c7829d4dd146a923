package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/simsync/internal/domain"
)

// envelope is the wrapper every endpoint returns: {"status", "message", "data": {"attribute": ...}}.
type envelope[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Attribute T `json:"attribute"`
	} `json:"data"`
}

// flexInt decodes integers sent as numbers, numeric strings or null.
type flexInt int64

func (n *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*n = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("flexInt: %w", err)
		}
		if s == "" {
			*n = 0
			return nil
		}
		b = []byte(s)
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("flexInt: %w", err)
	}
	*n = flexInt(f)
	return nil
}

// TokenAttributes is the refresh-token payload. Zero values mean the field
// was absent from the response.
type TokenAttributes struct {
	Token                string
	AccessTokenExpireAt  int64
	RefreshToken         string
	RefreshTokenExpireAt int64
}

type tokenAttributes struct {
	Token                string  `json:"token"`
	AccessTokenExpireAt  flexInt `json:"access_token_expire_at"`
	RefreshToken         string  `json:"refresh_token"`
	RefreshTokenExpireAt flexInt `json:"refresh_token_expire_at"`
}

type dashboardAttributes struct {
	StartStatusLabel string `json:"startStatusLabel"`
}

type pointDashboardAttributes struct {
	TotalPoint flexInt `json:"totalPoint"`
}

type balanceAttributes struct {
	MainBalance *struct {
		AvailableTotalBalance decimal.NullDecimal `json:"availableTotalBalance"`
		Currency              string              `json:"currency"`
	} `json:"mainBalance"`
	PacksPieData *struct {
		Data *struct {
			PacksList []domain.LoyaltyEntry `json:"packsList"`
		} `json:"data"`
	} `json:"packsPieData"`
}

// Balance is the decoded lightweight-balance response.
type Balance struct {
	Main  domain.MainBalance
	Packs []domain.LoyaltyEntry
}

func (a balanceAttributes) toBalance() Balance {
	b := Balance{Main: domain.DefaultMainBalance()}
	if a.MainBalance != nil {
		if a.MainBalance.AvailableTotalBalance.Valid {
			b.Main.AvailableTotalBalance = a.MainBalance.AvailableTotalBalance.Decimal
		}
		if a.MainBalance.Currency != "" {
			b.Main.Currency = a.MainBalance.Currency
		}
	}
	if a.PacksPieData != nil && a.PacksPieData.Data != nil {
		b.Packs = a.PacksPieData.Data.PacksList
	}
	return b
}

type transferAttributes struct {
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
	Response  *struct {
		Message string `json:"message"`
	} `json:"response"`
}

// TransferResult reports how the API answered a point transfer request.
// OTPRequired means the transfer must be confirmed with ConfirmTransfer.
type TransferResult struct {
	OTPRequired bool
	Completed   bool
	RequestID   string
	Message     string
}

// PointDetails is the decoded point-system/details response.
type PointDetails struct {
	TotalPoint   int64               `json:"totalPoint"`
	ExpiringSoon int64               `json:"expiringSoon"`
	History      []PointHistoryEntry `json:"history"`
}

type PointHistoryEntry struct {
	Title  string `json:"title"`
	Amount int64  `json:"amount"`
	Date   string `json:"date"`
}

type pointDetailsAttributes struct {
	TotalPoint   flexInt `json:"totalPoint"`
	ExpiringSoon flexInt `json:"expiringSoon"`
	History      []struct {
		Title  string  `json:"title"`
		Amount flexInt `json:"amount"`
		Date   string  `json:"date"`
	} `json:"history"`
}

type errorBody struct {
	Message string `json:"message"`
	Errors  *struct {
		Message string `json:"message"`
	} `json:"errors"`
	Data *struct {
		Attribute *struct {
			Message string `json:"message"`
		} `json:"attribute"`
	} `json:"data"`
}

func (e errorBody) message() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Errors != nil && e.Errors.Message != "":
		return e.Errors.Message
	case e.Data != nil && e.Data.Attribute != nil:
		return e.Data.Attribute.Message
	default:
		return ""
	}
}
