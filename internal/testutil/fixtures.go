package testutil

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/simsync/internal/domain"
)

// FutureExpiry is an access token expiry well outside the refresh margin.
func FutureExpiry() int64 {
	return time.Now().Add(24 * time.Hour).Unix()
}

// NewAccountRecord builds a healthy record for account n with a valid token
// and nothing to claim.
func NewAccountRecord(n int) domain.AccountRecord {
	updated := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return domain.AccountRecord{
		UserID:               domain.UserID(fmt.Sprintf("user-%d", n)),
		MSISDN:               fmt.Sprintf("09%08d", n),
		Token:                fmt.Sprintf("token-%d", n),
		RefreshToken:         fmt.Sprintf("refresh-%d", n),
		AccessTokenExpireAt:  FutureExpiry(),
		RefreshTokenExpireAt: time.Now().Add(30 * 24 * time.Hour).Unix(),
		MainBalance: &domain.MainBalance{
			AvailableTotalBalance: decimal.NewFromInt(int64(n * 100)),
			Currency:              domain.DefaultCurrency,
		},
		TotalPoint:  int64(n * 10),
		LastUpdated: &updated,
	}
}

// Claimable marks rec as having points on offer under pointsID.
func Claimable(rec domain.AccountRecord, pointsID string) domain.AccountRecord {
	rec.Points = &domain.ClaimPoints{Enable: true, ID: pointsID, Label: domain.LabelClaim}
	rec.Label = domain.LabelClaim
	return rec
}

// ExpiredToken moves the access token expiry inside the refresh margin.
func ExpiredToken(rec domain.AccountRecord) domain.AccountRecord {
	rec.AccessTokenExpireAt = time.Now().Add(-time.Minute).Unix()
	return rec
}
