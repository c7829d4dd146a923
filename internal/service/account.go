package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/josh-kwaku/simsync/internal/domain"
	"github.com/josh-kwaku/simsync/internal/logging"
	"github.com/josh-kwaku/simsync/internal/provider"
)

type AccountService struct {
	local        accountStore
	mirror       recordMirror
	sold         soldStore
	soldMirror   soldMirror
	processor    accountProcessor
	session      sessionCaller
	transfers    pointsTransferrer
	collection   *Collection
	accountLimit int
	now          func() time.Time
}

func NewAccountService(
	local accountStore,
	mirror recordMirror,
	sold soldStore,
	soldMirror soldMirror,
	processor accountProcessor,
	session sessionCaller,
	transfers pointsTransferrer,
	collection *Collection,
	accountLimit int,
) *AccountService {
	return &AccountService{
		local:        local,
		mirror:       mirror,
		sold:         sold,
		soldMirror:   soldMirror,
		processor:    processor,
		session:      session,
		transfers:    transfers,
		collection:   collection,
		accountLimit: accountLimit,
		now:          time.Now,
	}
}

// Register stores a freshly verified account in both stores and adds it to
// the collection.
func (s *AccountService) Register(ctx context.Context, rec domain.AccountRecord) (domain.AccountRecord, error) {
	rec.MSISDN = strings.TrimSpace(rec.MSISDN)
	if err := domain.ValidateMSISDN(rec.MSISDN); err != nil {
		return domain.AccountRecord{}, fmt.Errorf("Register: %w", err)
	}
	if rec.UserID == "" {
		return domain.AccountRecord{}, fmt.Errorf("Register: %w", domain.ErrMissingUserID)
	}

	now := s.now().UTC()
	rec.LastUpdated = &now
	rec = rec.Sanitize()

	if err := s.local.Insert(ctx, &rec, s.accountLimit); err != nil {
		return domain.AccountRecord{}, fmt.Errorf("Register: %w", err)
	}
	if err := s.mirror.Upsert(ctx, rec.UserID.String(), rec); err != nil {
		logging.FromContext(ctx).Error("mirror write failed on register", "user_id", rec.UserID, "error", err)
	}
	s.collection.Upsert(rec)

	logging.FromContext(ctx).Info("account registered", "user_id", rec.UserID, "msisdn", rec.MSISDN)
	return rec, nil
}

// Delete removes an account from the local store, then the mirror, then the
// collection. If the mirror delete fails the local row is restored.
func (s *AccountService) Delete(ctx context.Context, userID domain.UserID) error {
	log := logging.FromContext(ctx)

	prev, err := s.local.GetByKey(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("Delete: local: %w", err)
	}
	if err := s.local.DeleteByKey(ctx, userID); err != nil {
		return fmt.Errorf("Delete: local: %w", err)
	}
	if err := s.mirror.Delete(ctx, userID.String()); err != nil {
		if prev != nil {
			if rerr := s.local.Upsert(ctx, prev); rerr != nil {
				log.Error("restore after failed mirror delete", "user_id", userID, "error", rerr)
			}
		}
		return fmt.Errorf("Delete: mirror: %w", err)
	}
	s.collection.Remove(userID)

	log.Info("account deleted", "user_id", userID)
	return nil
}

// DeleteAllLocal empties the local table and the collection. The mirror and
// the sold inventory keep their data, so a later sync can restore accounts.
func (s *AccountService) DeleteAllLocal(ctx context.Context) error {
	if err := s.local.DeleteAll(ctx); err != nil {
		return fmt.Errorf("DeleteAllLocal: %w", err)
	}
	s.collection.Replace(nil)
	logging.FromContext(ctx).Info("local accounts cleared")
	return nil
}

func (s *AccountService) Search(query string) []domain.AccountRecord {
	return s.collection.Search(query)
}

// RefreshOne reprocesses the collection entry with the given msisdn and
// stores the result back in the collection.
func (s *AccountService) RefreshOne(ctx context.Context, msisdn string) (domain.Outcome, error) {
	rec, ok := s.collection.FindByMSISDN(strings.TrimSpace(msisdn))
	if !ok {
		return domain.Outcome{}, fmt.Errorf("RefreshOne: %s: %w", msisdn, domain.ErrNotFound)
	}
	out := s.processor.Process(ctx, rec, ProcessOptions{})
	if out.Record != nil {
		s.collection.Upsert(*out.Record)
	}
	return out, nil
}

// MarkSold copies the account into the sold inventory. The active account is
// left in place.
func (s *AccountService) MarkSold(ctx context.Context, userID domain.UserID, details domain.SaleDetails) (domain.SoldRecord, error) {
	rec, ok := s.collection.Find(userID)
	if !ok {
		return domain.SoldRecord{}, fmt.Errorf("MarkSold: %s: %w", userID, domain.ErrNotFound)
	}
	if details.SaleDate == "" {
		details.SaleDate = s.now().UTC().Format(time.DateOnly)
	}

	sold := domain.NewSoldRecord(rec, details, s.now())
	if err := s.sold.Upsert(ctx, &sold); err != nil {
		return domain.SoldRecord{}, fmt.Errorf("MarkSold: %w", err)
	}
	if err := s.soldMirror.Upsert(ctx, userID.String(), sold); err != nil {
		logging.FromContext(ctx).Error("sold mirror write failed", "user_id", userID, "error", err)
	}

	logging.FromContext(ctx).Info("account marked sold", "user_id", userID, "sale_price", details.SalePrice)
	return sold, nil
}

type TransferRequest struct {
	FromUserID domain.UserID
	Recipient  string
	Amount     string
}

type validTransfer struct {
	from      domain.AccountRecord
	recipient string
	amount    int64
}

func (s *AccountService) validateTransfer(req TransferRequest) (validTransfer, error) {
	if req.FromUserID == "" {
		return validTransfer{}, domain.ErrNoSelection
	}
	from, ok := s.collection.Find(req.FromUserID)
	if !ok {
		return validTransfer{}, fmt.Errorf("%s: %w", req.FromUserID, domain.ErrNotFound)
	}
	recipient := strings.TrimSpace(req.Recipient)
	if err := domain.ValidateMSISDN(recipient); err != nil {
		return validTransfer{}, err
	}
	amount, err := domain.ParsePointAmount(req.Amount)
	if err != nil {
		return validTransfer{}, err
	}
	if amount > from.TotalPoint {
		return validTransfer{}, fmt.Errorf("%d > %d: %w", amount, from.TotalPoint, domain.ErrInsufficientPoints)
	}
	return validTransfer{from: from, recipient: recipient, amount: amount}, nil
}

// Transfer starts a point transfer. Validation happens before any network
// call. The API normally answers with an OTP challenge.
func (s *AccountService) Transfer(ctx context.Context, req TransferRequest) (provider.TransferResult, error) {
	v, err := s.validateTransfer(req)
	if err != nil {
		return provider.TransferResult{}, fmt.Errorf("Transfer: %w", err)
	}

	var res provider.TransferResult
	err = s.call(ctx, v.from, func(ctx context.Context, id provider.Identity) error {
		var err error
		res, err = s.transfers.TransferPoints(ctx, id, v.recipient, v.amount)
		return err
	})
	if err != nil {
		return provider.TransferResult{}, fmt.Errorf("Transfer: %w", err)
	}

	logging.FromContext(ctx).Info("transfer requested",
		"user_id", v.from.UserID,
		"amount", v.amount,
		"otp_required", res.OTPRequired,
	)
	return res, nil
}

// ConfirmTransfer completes a transfer with the OTP and refreshes the source
// account on success.
func (s *AccountService) ConfirmTransfer(ctx context.Context, req TransferRequest, otp, requestID string) (provider.TransferResult, error) {
	v, err := s.validateTransfer(req)
	if err != nil {
		return provider.TransferResult{}, fmt.Errorf("ConfirmTransfer: %w", err)
	}
	if err := domain.ValidateOTP(otp); err != nil {
		return provider.TransferResult{}, fmt.Errorf("ConfirmTransfer: %w", err)
	}

	var res provider.TransferResult
	err = s.call(ctx, v.from, func(ctx context.Context, id provider.Identity) error {
		var err error
		res, err = s.transfers.ConfirmTransfer(ctx, id, v.recipient, v.amount, strings.TrimSpace(otp), requestID)
		return err
	})
	if err != nil {
		return provider.TransferResult{}, fmt.Errorf("ConfirmTransfer: %w", err)
	}
	if !res.Completed {
		return res, fmt.Errorf("ConfirmTransfer: %s: %w", res.Message, domain.ErrTransferRejected)
	}

	logging.FromContext(ctx).Info("transfer completed", "user_id", v.from.UserID, "amount", v.amount)
	if _, err := s.RefreshOne(ctx, v.from.MSISDN); err != nil {
		logging.FromContext(ctx).Warn("refresh after transfer failed", "error", err)
	}
	return res, nil
}

// PointDetails reads the point history of a loaded account. The read is not
// persisted.
func (s *AccountService) PointDetails(ctx context.Context, userID domain.UserID) (provider.PointDetails, error) {
	rec, ok := s.collection.Find(userID)
	if !ok {
		return provider.PointDetails{}, fmt.Errorf("PointDetails: %s: %w", userID, domain.ErrNotFound)
	}
	var details provider.PointDetails
	err := s.call(ctx, rec, func(ctx context.Context, id provider.Identity) error {
		var err error
		details, err = s.transfers.PointDetails(ctx, id)
		return err
	})
	if err != nil {
		return provider.PointDetails{}, fmt.Errorf("PointDetails: %w", err)
	}
	return details, nil
}

// call runs fn for rec through the token session and keeps the tokens it
// ended with in the collection.
func (s *AccountService) call(ctx context.Context, rec domain.AccountRecord, fn func(context.Context, provider.Identity) error) error {
	after, err := s.session.Call(ctx, rec, fn)
	expired := errors.Is(err, domain.ErrSessionExpired)
	if after.Token == rec.Token && !expired {
		return err
	}
	now := s.now()
	s.collection.Update(map[domain.UserID]bool{rec.UserID: true}, func(r domain.AccountRecord) domain.AccountRecord {
		r = withTokens(r, after)
		if expired {
			r = r.WithError(domain.ErrorLabelSessionExpired, sessionExpiredMessage, now)
		}
		return r
	})
	return err
}
