package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/josh-kwaku/simsync/internal/domain"
	"github.com/josh-kwaku/simsync/internal/logging"
	"github.com/josh-kwaku/simsync/internal/provider"
)

type SoldRefreshResult struct {
	Records   []domain.SoldRecord
	Succeeded int
	Failed    int
	Cancelled int
}

// SoldInventory keeps sold accounts up to date. It shares the token and read
// path with the active collection but writes only to the sold stores.
type SoldInventory struct {
	tokens      tokenLifecycle
	reader      accountReader
	store       soldStore
	mirror      soldMirror
	concurrency int
	now         func() time.Time
}

func NewSoldInventory(tokens tokenLifecycle, reader accountReader, store soldStore, mirror soldMirror, concurrency int) *SoldInventory {
	if concurrency < 1 {
		concurrency = 1
	}
	return &SoldInventory{
		tokens:      tokens,
		reader:      reader,
		store:       store,
		mirror:      mirror,
		concurrency: concurrency,
		now:         time.Now,
	}
}

func (s *SoldInventory) List(ctx context.Context) ([]domain.SoldRecord, error) {
	recs, err := s.store.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return recs, nil
}

// RefreshAll re-reads every sold account. Results keep the store order and
// leave out cancelled items.
func (s *SoldInventory) RefreshAll(ctx context.Context, progress domain.ProgressFunc) (SoldRefreshResult, error) {
	recs, err := s.store.GetAll(ctx)
	if err != nil {
		return SoldRefreshResult{}, fmt.Errorf("RefreshAll: %w", err)
	}

	ctx, log := logging.With(ctx, "operation", "sold_refresh")
	results := make([]*domain.SoldRecord, len(recs))
	cancelled := make([]bool, len(recs))

	var mu sync.Mutex
	completed := 0

	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for i, rec := range recs {
		g.Go(func() error {
			defer func() {
				mu.Lock()
				completed++
				progress.Report(completed, len(recs), fmt.Sprintf("Updating %s", rec.MSISDN))
				mu.Unlock()
			}()

			updated, ok := s.refreshOne(ctx, rec)
			if !ok {
				cancelled[i] = true
				return nil
			}
			results[i] = &updated
			return nil
		})
	}
	_ = g.Wait()

	var res SoldRefreshResult
	for i, r := range results {
		if cancelled[i] || r == nil {
			res.Cancelled++
			continue
		}
		if r.HasError {
			res.Failed++
		} else {
			res.Succeeded++
		}
		res.Records = append(res.Records, *r)
	}

	log.Info("sold inventory refreshed",
		"succeeded", res.Succeeded,
		"failed", res.Failed,
		"cancelled", res.Cancelled,
	)
	return res, nil
}

// refreshOne returns false when ctx was cancelled before the item finished.
func (s *SoldInventory) refreshOne(ctx context.Context, rec domain.SoldRecord) (domain.SoldRecord, bool) {
	ctx, log := logging.With(ctx, "user_id", rec.UserID)
	if ctx.Err() != nil {
		return rec, false
	}

	account := s.tokens.Refresh(ctx, rec.AccountRecord, false)
	if ctx.Err() != nil {
		return rec, false
	}

	var (
		label string
		total int64
		bal   provider.Balance
		err   error
	)
	if account.ErrorLabel == domain.ErrorLabelSessionExpired {
		err = errors.New(account.ErrorText())
	} else {
		label, total, bal, err = s.read(ctx, account)
		if err != nil && ctx.Err() == nil && provider.StatusOf(err) == http.StatusUnauthorized {
			account = s.tokens.Refresh(ctx, account, true)
			label, total, bal, err = s.read(ctx, account)
		}
	}
	if ctx.Err() != nil {
		return rec, false
	}

	updated := rec
	now := s.now()
	if err != nil {
		log.Warn("sold account refresh failed", "error", err)
		updated.AccountRecord = account.WithError(account.ErrorLabel, readFailureMessage(err), now)
	} else {
		a := account.ClearError()
		main := bal.Main
		a.MainBalance = &main
		a.TotalPoint = total
		a.StartStatusLabel = label
		nowUTC := now.UTC()
		a.LastUpdated = &nowUTC
		updated.AccountRecord = a.Sanitize()
		updated.LoyaltyData = bal.Packs
	}

	if err := s.store.Upsert(ctx, &updated); err != nil {
		log.Error("sold store write failed", "error", err)
	}
	if err := s.mirror.Upsert(ctx, updated.UserID.String(), updated); err != nil {
		log.Error("sold mirror write failed", "error", err)
	}
	return updated, true
}

func (s *SoldInventory) read(ctx context.Context, rec domain.AccountRecord) (string, int64, provider.Balance, error) {
	id := provider.IdentityOf(rec)
	var (
		label string
		total int64
		bal   provider.Balance
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		if label, err = s.reader.Dashboard(gctx, id); err != nil {
			return readFailure(provider.EndpointDashboard, err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if total, err = s.reader.PointDashboard(gctx, id); err != nil {
			return readFailure(provider.EndpointPointDashboard, err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if bal, err = s.reader.Balance(gctx, id); err != nil {
			return readFailure(provider.EndpointBalance, err)
		}
		return nil
	})
	err := g.Wait()
	return label, total, bal, err
}

// Delete removes a sold entry from the sold store and the sold mirror.
func (s *SoldInventory) Delete(ctx context.Context, userID domain.UserID) error {
	if err := s.store.DeleteByKey(ctx, userID); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	if err := s.mirror.Delete(ctx, userID.String()); err != nil {
		return fmt.Errorf("Delete: mirror: %w", err)
	}
	logging.FromContext(ctx).Info("sold entry deleted", "user_id", userID)
	return nil
}
