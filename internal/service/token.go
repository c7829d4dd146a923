package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/josh-kwaku/simsync/internal/domain"
	"github.com/josh-kwaku/simsync/internal/logging"
	"github.com/josh-kwaku/simsync/internal/provider"
	"github.com/josh-kwaku/simsync/internal/retry"
)

const (
	defaultTokenLifetime  = 24 * time.Hour
	sessionExpiredMessage = "Session expired. Please log in again."
)

type TokenManager struct {
	client tokenRefresher
	policy retry.Policy
	margin time.Duration
	now    func() time.Time
}

func NewTokenManager(client tokenRefresher, policy retry.Policy, margin time.Duration) *TokenManager {
	return &TokenManager{
		client: client,
		policy: policy.WithRetryable(func(err error) bool {
			return !errors.Is(err, provider.ErrInvalidRefreshToken)
		}),
		margin: margin,
		now:    time.Now,
	}
}

// Refresh returns rec with a usable access token when it can get one. It
// never fails: refresh problems are recorded on the returned record. A
// cancelled ctx returns rec untouched.
func (m *TokenManager) Refresh(ctx context.Context, rec domain.AccountRecord, force bool) domain.AccountRecord {
	if !force && rec.TokenValid(m.now(), m.margin) {
		return rec
	}

	log := logging.FromContext(ctx)

	if rec.RefreshToken == "" {
		log.Warn("no refresh token on record")
		return rec.WithError(domain.ErrorLabelSessionExpired, sessionExpiredMessage, m.now())
	}

	var attrs *provider.TokenAttributes
	err := m.policy.Do(ctx, func(ctx context.Context) error {
		a, err := m.client.RefreshToken(ctx, provider.IdentityOf(rec), rec.RefreshToken)
		if err != nil {
			return err
		}
		attrs = a
		return nil
	})

	now := m.now()
	switch {
	case err == nil:
		log.Info("token refreshed", "forced", force)
		return applyToken(rec, attrs, now)
	case ctx.Err() != nil:
		return rec
	case errors.Is(err, provider.ErrInvalidRefreshToken):
		log.Warn("refresh token rejected", "error", err)
		return rec.WithError(domain.ErrorLabelSessionExpired, sessionExpiredMessage, now)
	default:
		log.Error("token refresh failed", "error", err)
		return rec.WithError(domain.ErrorLabelRefreshFailed, fmt.Sprintf("Token refresh failed: %v", err), now)
	}
}

func applyToken(rec domain.AccountRecord, attrs *provider.TokenAttributes, now time.Time) domain.AccountRecord {
	c := rec.ClearError()
	c.Token = attrs.Token
	c.AccessTokenExpireAt = attrs.AccessTokenExpireAt
	if c.AccessTokenExpireAt == 0 {
		c.AccessTokenExpireAt = tokenExpiry(attrs.Token, now)
	}
	if attrs.RefreshToken != "" {
		c.RefreshToken = attrs.RefreshToken
	}
	if attrs.RefreshTokenExpireAt != 0 {
		c.RefreshTokenExpireAt = attrs.RefreshTokenExpireAt
	}
	return c
}

// tokenExpiry reads exp from a JWT access token without verifying it. Opaque
// tokens get the default lifetime.
func tokenExpiry(token string, now time.Time) int64 {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Unix()
		}
	}
	return now.Add(defaultTokenLifetime).Unix()
}
