package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/josh-kwaku/simsync/internal/domain"
	"github.com/josh-kwaku/simsync/internal/logging"
	"github.com/josh-kwaku/simsync/internal/provider"
)

type ProcessOptions struct {
	ForceRefresh bool
}

// ReadFailure is one of the four account reads giving up.
type ReadFailure struct {
	Endpoint string
	Status   int
	Err      error
}

func (f *ReadFailure) Error() string {
	return fmt.Sprintf("%s failed: %v", f.Endpoint, f.Err)
}

func (f *ReadFailure) Unwrap() error {
	return f.Err
}

type accountSnapshot struct {
	startStatusLabel string
	totalPoint       int64
	balance          provider.Balance
	points           *domain.ClaimPoints
}

type Processor struct {
	tokens tokenLifecycle
	reader accountReader
	local  recordWriter
	mirror recordMirror
	admin  recordMirror
	now    func() time.Time
}

// NewProcessor wires the processing pipeline. admin may be nil.
func NewProcessor(tokens tokenLifecycle, reader accountReader, local recordWriter, mirror, admin recordMirror) *Processor {
	return &Processor{
		tokens: tokens,
		reader: reader,
		local:  local,
		mirror: mirror,
		admin:  admin,
		now:    time.Now,
	}
}

// Process refreshes one account end to end. Failures come back as an
// error-flagged record inside the outcome; only a cancelled ctx yields an
// outcome without a record.
func (p *Processor) Process(ctx context.Context, rec domain.AccountRecord, opts ProcessOptions) (out domain.Outcome) {
	ctx, log := logging.With(ctx, "user_id", rec.UserID, "msisdn", rec.MSISDN)
	start := p.now()

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic processing account", "panic", r, "stack", string(debug.Stack()))
			msg := fmt.Sprintf("Internal error: %v", r)
			out = domain.TransientFailure(rec.WithError(domain.ErrorLabelNone, msg, p.now()), msg)
		}
	}()

	if ctx.Err() != nil {
		return domain.Cancelled()
	}

	current := p.tokens.Refresh(ctx, rec, opts.ForceRefresh)
	if ctx.Err() != nil {
		return domain.Cancelled()
	}
	if o, stop := p.refreshOutcome(current); stop {
		return o
	}

	snap, err := p.fetch(ctx, current)
	if err != nil && ctx.Err() == nil && provider.StatusOf(err) == http.StatusUnauthorized {
		log.Info("access token rejected, forcing refresh")
		current = p.tokens.Refresh(ctx, current, true)
		if ctx.Err() != nil {
			return domain.Cancelled()
		}
		if o, stop := p.refreshOutcome(current); stop {
			return o
		}
		snap, err = p.fetch(ctx, current)
		if err != nil && provider.StatusOf(err) == http.StatusUnauthorized {
			failed := current.WithError(domain.ErrorLabelSessionExpired, sessionExpiredMessage, p.now())
			p.keepRotatedToken(ctx, rec, failed)
			return domain.SessionExpired(failed, sessionExpiredMessage)
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return domain.Cancelled()
		}
		msg := readFailureMessage(err)
		log.Warn("account read failed", "error", err)
		failed := current.WithError(domain.ErrorLabelNone, msg, p.now())
		p.keepRotatedToken(ctx, rec, failed)
		return domain.TransientFailure(failed, msg)
	}

	merged := mergeSnapshot(current, snap, p.now())
	p.persist(ctx, merged)

	log.Info("account processed",
		"total_point", merged.TotalPoint,
		"claimable", merged.Claimable(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return domain.Succeeded(merged)
}

// refreshOutcome stops the pass when the token step left nothing to read with.
func (p *Processor) refreshOutcome(rec domain.AccountRecord) (domain.Outcome, bool) {
	switch rec.ErrorLabel {
	case domain.ErrorLabelSessionExpired:
		return domain.SessionExpired(rec, rec.ErrorText()), true
	case domain.ErrorLabelRefreshFailed:
		if !rec.TokenValid(p.now(), 0) {
			return domain.TransientFailure(rec, rec.ErrorText()), true
		}
	}
	return domain.Outcome{}, false
}

func (p *Processor) fetch(ctx context.Context, rec domain.AccountRecord) (accountSnapshot, error) {
	id := provider.IdentityOf(rec)
	var snap accountSnapshot

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		label, err := p.reader.Dashboard(gctx, id)
		if err != nil {
			return readFailure(provider.EndpointDashboard, err)
		}
		snap.startStatusLabel = label
		return nil
	})
	g.Go(func() error {
		total, err := p.reader.PointDashboard(gctx, id)
		if err != nil {
			return readFailure(provider.EndpointPointDashboard, err)
		}
		snap.totalPoint = total
		return nil
	})
	g.Go(func() error {
		bal, err := p.reader.Balance(gctx, id)
		if err != nil {
			return readFailure(provider.EndpointBalance, err)
		}
		snap.balance = bal
		return nil
	})
	g.Go(func() error {
		points, err := p.reader.ClaimList(gctx, id)
		if err != nil {
			return readFailure(provider.EndpointClaimList, err)
		}
		snap.points = points
		return nil
	})

	if err := g.Wait(); err != nil {
		return accountSnapshot{}, err
	}
	return snap, nil
}

func (p *Processor) persist(ctx context.Context, rec domain.AccountRecord) {
	log := logging.FromContext(ctx)
	key := rec.UserID.String()

	var g errgroup.Group
	g.Go(func() error {
		if err := p.local.Upsert(ctx, &rec); err != nil {
			log.Error("local store write failed", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := p.mirror.Upsert(ctx, key, rec); err != nil {
			log.Error("mirror write failed", "error", err)
		}
		return nil
	})
	if p.admin != nil {
		g.Go(func() error {
			if err := p.admin.Upsert(ctx, key, rec); err != nil {
				log.Warn("admin mirror write failed", "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// keepRotatedToken saves a failed record when the refresh step issued new
// tokens, so the stores never hold a refresh token the API has retired.
func (p *Processor) keepRotatedToken(ctx context.Context, before, failed domain.AccountRecord) {
	if before.Token == failed.Token && before.RefreshToken == failed.RefreshToken {
		return
	}
	p.persist(ctx, failed.Sanitize())
}

func mergeSnapshot(rec domain.AccountRecord, snap accountSnapshot, now time.Time) domain.AccountRecord {
	c := rec.ClearError()
	main := snap.balance.Main
	c.MainBalance = &main
	c.TotalPoint = snap.totalPoint
	c.Points = snap.points
	c.Label = ""
	if snap.points != nil {
		c.Label = snap.points.Label
	}
	c.StartStatusLabel = snap.startStatusLabel
	now = now.UTC()
	c.LastUpdated = &now
	return c.Sanitize()
}

func readFailure(endpoint string, err error) error {
	return &ReadFailure{Endpoint: endpoint, Status: provider.StatusOf(err), Err: err}
}

func readFailureMessage(err error) string {
	var rf *ReadFailure
	if errors.As(err, &rf) {
		if errors.Is(err, provider.ErrResourceGone) {
			return fmt.Sprintf("Resource no longer available (410 Gone) on %s", rf.Endpoint)
		}
		if rf.Status != 0 {
			return fmt.Sprintf("Failed to fetch %s (status %d)", rf.Endpoint, rf.Status)
		}
		return fmt.Sprintf("Failed to fetch %s: %v", rf.Endpoint, rf.Err)
	}
	return err.Error()
}
