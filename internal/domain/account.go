package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultCurrency = "Ks"

type UserID string

func (id UserID) String() string {
	return string(id)
}

// UnmarshalJSON accepts both string and numeric user ids; the upstream API
// has returned both over time.
func (id *UserID) UnmarshalJSON(b []byte) error {
	s, err := decodeFlexString(b)
	if err != nil {
		return fmt.Errorf("UserID: %w", err)
	}
	*id = UserID(s)
	return nil
}

type ErrorLabel string

const (
	ErrorLabelNone           ErrorLabel = ""
	ErrorLabelSessionExpired ErrorLabel = "SESSION_EXPIRED"
	ErrorLabelRefreshFailed  ErrorLabel = "REFRESH_FAILED"
)

func (l ErrorLabel) MarshalJSON() ([]byte, error) {
	if l == ErrorLabelNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(l))
}

func (l *ErrorLabel) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*l = ErrorLabelNone
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("ErrorLabel: %w", err)
	}
	*l = ErrorLabel(s)
	return nil
}

const (
	LabelClaim   = "Claim"
	LabelClaimed = "Claimed"
)

type MainBalance struct {
	AvailableTotalBalance decimal.Decimal `json:"availableTotalBalance"`
	Currency              string          `json:"currency"`
}

func DefaultMainBalance() MainBalance {
	return MainBalance{AvailableTotalBalance: decimal.Zero, Currency: DefaultCurrency}
}

type ClaimPoints struct {
	Enable bool   `json:"enable"`
	ID     string `json:"id"`
	Label  string `json:"label"`
}

func (p *ClaimPoints) UnmarshalJSON(b []byte) error {
	var raw struct {
		Enable bool            `json:"enable"`
		ID     json.RawMessage `json:"id"`
		Label  string          `json:"label"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("ClaimPoints: %w", err)
	}
	id, err := decodeFlexString(raw.ID)
	if err != nil {
		return fmt.Errorf("ClaimPoints: id: %w", err)
	}
	*p = ClaimPoints{Enable: raw.Enable, ID: id, Label: raw.Label}
	return nil
}

// AccountRecord is the last known state of one SIM account. Every field is
// always serialized, nil pointers as null, so mirror documents never have
// missing keys.
type AccountRecord struct {
	UserID               UserID       `json:"user_id"`
	MSISDN               string       `json:"msisdn"`
	Token                string       `json:"token"`
	RefreshToken         string       `json:"refresh_token"`
	AccessTokenExpireAt  int64        `json:"access_token_expire_at"`
	RefreshTokenExpireAt int64        `json:"refresh_token_expire_at"`
	MainBalance          *MainBalance `json:"mainBalance"`
	TotalPoint           int64        `json:"totalPoint"`
	Points               *ClaimPoints `json:"points"`
	Label                string       `json:"label"`
	StartStatusLabel     string       `json:"startStatusLabel"`
	LastUpdated          *time.Time   `json:"lastUpdated"`
	HasError             bool         `json:"hasError"`
	ErrorMessage         *string      `json:"errorMessage"`
	ErrorLabel           ErrorLabel   `json:"errorLabel"`
}

// Claimable reports whether the record can be sent to the claim endpoint.
// Both the enable flag and the claim id must be present.
func (r AccountRecord) Claimable() bool {
	return r.Points != nil && r.Points.Enable && r.Points.ID != ""
}

// TokenValid reports whether the access token outlives now by more than margin.
func (r AccountRecord) TokenValid(now time.Time, margin time.Duration) bool {
	return r.AccessTokenExpireAt-now.Unix() > int64(margin/time.Second)
}

func (r AccountRecord) Clone() AccountRecord {
	c := r
	if r.MainBalance != nil {
		mb := *r.MainBalance
		c.MainBalance = &mb
	}
	if r.Points != nil {
		p := *r.Points
		c.Points = &p
	}
	if r.LastUpdated != nil {
		t := *r.LastUpdated
		c.LastUpdated = &t
	}
	if r.ErrorMessage != nil {
		m := *r.ErrorMessage
		c.ErrorMessage = &m
	}
	return c
}

func (r AccountRecord) WithError(label ErrorLabel, message string, at time.Time) AccountRecord {
	c := r.Clone()
	c.HasError = true
	c.ErrorMessage = &message
	c.ErrorLabel = label
	at = at.UTC()
	c.LastUpdated = &at
	return c
}

func (r AccountRecord) ClearError() AccountRecord {
	c := r.Clone()
	c.HasError = false
	c.ErrorMessage = nil
	c.ErrorLabel = ErrorLabelNone
	return c
}

// Sanitize fills the fields the mirror cannot store as absent values and
// normalizes timestamps to UTC.
func (r AccountRecord) Sanitize() AccountRecord {
	c := r.Clone()
	if c.MainBalance == nil {
		mb := DefaultMainBalance()
		c.MainBalance = &mb
	}
	if c.MainBalance.Currency == "" {
		c.MainBalance.Currency = DefaultCurrency
	}
	if c.LastUpdated != nil {
		t := c.LastUpdated.UTC()
		c.LastUpdated = &t
	}
	if !c.HasError {
		c.ErrorMessage = nil
		c.ErrorLabel = ErrorLabelNone
	}
	return c
}

func (r AccountRecord) ErrorText() string {
	if r.ErrorMessage == nil {
		return ""
	}
	return *r.ErrorMessage
}

func decodeFlexString(b []byte) (string, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return "", nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}
