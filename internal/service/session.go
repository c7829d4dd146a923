package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/josh-kwaku/simsync/internal/domain"
	"github.com/josh-kwaku/simsync/internal/logging"
	"github.com/josh-kwaku/simsync/internal/provider"
)

// Session runs authenticated calls outside the processing pipeline: claims,
// transfers and point details. It keeps the same token rules as Processor.
type Session struct {
	tokens tokenLifecycle
	local  recordWriter
	mirror recordMirror
	now    func() time.Time
}

// NewSession builds a Session. Rotated tokens are written to local and
// mirror; either may be nil.
func NewSession(tokens tokenLifecycle, local recordWriter, mirror recordMirror) *Session {
	return &Session{tokens: tokens, local: local, mirror: mirror, now: time.Now}
}

// Call refreshes rec when its token is inside the margin and then runs call.
// A 401 forces one refresh and one retry. The returned record carries any
// rotated token, whatever call returned.
func (s *Session) Call(ctx context.Context, rec domain.AccountRecord, call func(context.Context, provider.Identity) error) (domain.AccountRecord, error) {
	current := s.tokens.Refresh(ctx, rec, false)
	if err := ctx.Err(); err != nil {
		return rec, err
	}
	if err := s.usable(current); err != nil {
		return current, err
	}

	err := call(ctx, provider.IdentityOf(current))
	if err != nil && ctx.Err() == nil && provider.StatusOf(err) == http.StatusUnauthorized {
		logging.FromContext(ctx).Info("access token rejected, forcing refresh", "user_id", rec.UserID)
		current = s.tokens.Refresh(ctx, current, true)
		if err := ctx.Err(); err != nil {
			s.keepRotated(ctx, rec, current)
			return current, err
		}
		if err := s.usable(current); err != nil {
			s.keepRotated(ctx, rec, current)
			return current, err
		}
		err = call(ctx, provider.IdentityOf(current))
		if err != nil && provider.StatusOf(err) == http.StatusUnauthorized {
			current = current.WithError(domain.ErrorLabelSessionExpired, sessionExpiredMessage, s.now())
			err = fmt.Errorf("%w: %w", domain.ErrSessionExpired, err)
		}
	}
	s.keepRotated(ctx, rec, current)
	return current, err
}

// usable reports why the token step left nothing to call with.
func (s *Session) usable(rec domain.AccountRecord) error {
	switch rec.ErrorLabel {
	case domain.ErrorLabelSessionExpired:
		return fmt.Errorf("%s: %w", rec.ErrorText(), domain.ErrSessionExpired)
	case domain.ErrorLabelRefreshFailed:
		if !rec.TokenValid(s.now(), 0) {
			return fmt.Errorf("%s: %w", rec.ErrorText(), domain.ErrTokenUnavailable)
		}
	}
	return nil
}

// keepRotated writes the new tokens when the refresh step issued any.
func (s *Session) keepRotated(ctx context.Context, before, after domain.AccountRecord) {
	if before.Token == after.Token && before.RefreshToken == after.RefreshToken {
		return
	}
	log := logging.FromContext(ctx)
	rec := after.Sanitize()
	if s.local != nil {
		if err := s.local.Upsert(ctx, &rec); err != nil {
			log.Error("local store write failed", "user_id", rec.UserID, "error", err)
		}
	}
	if s.mirror != nil {
		if err := s.mirror.Upsert(ctx, rec.UserID.String(), rec); err != nil {
			log.Error("mirror write failed", "user_id", rec.UserID, "error", err)
		}
	}
}

// withTokens copies the auth fields of from onto r.
func withTokens(r, from domain.AccountRecord) domain.AccountRecord {
	r.Token = from.Token
	r.RefreshToken = from.RefreshToken
	r.AccessTokenExpireAt = from.AccessTokenExpireAt
	r.RefreshTokenExpireAt = from.RefreshTokenExpireAt
	return r
}
