package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/josh-kwaku/simsync/internal/domain"
	"github.com/josh-kwaku/simsync/internal/logging"
	"github.com/josh-kwaku/simsync/internal/notify"
	"github.com/josh-kwaku/simsync/internal/provider"
)

const (
	OperationLoad     = "load"
	OperationLoadMore = "load_more"
	OperationLoadAll  = "load_all"
	OperationRefresh  = "refresh"
	OperationClaimAll = "claim_all"

	noClaimableMessage = "No claimable points"
)

type BatchStatus string

const (
	BatchStatusSuccess   BatchStatus = "success"
	BatchStatusPartial   BatchStatus = "partial"
	BatchStatusFailed    BatchStatus = "failed"
	BatchStatusNone      BatchStatus = "none"
	BatchStatusCancelled BatchStatus = "cancelled"
)

type ItemFailure struct {
	UserID domain.UserID
	MSISDN string
	Kind   domain.OutcomeKind
	Reason string
}

// BatchResult summarizes one batch. Records holds the non-cancelled results
// in input order for load and refresh batches.
type BatchResult struct {
	BatchID   uuid.UUID
	Operation string
	Records   []domain.AccountRecord
	Total     int
	Succeeded int
	Failed    int
	Cancelled int
	Failures  []ItemFailure
	Status    BatchStatus
	Message   string
}

type OrchestratorConfig struct {
	PageSize         int
	ClaimConcurrency int
}

type Orchestrator struct {
	processor  accountProcessor
	session    sessionCaller
	claimer    pointsClaimer
	local      recordStore
	syncer     mirrorSyncer
	events     eventPublisher
	collection *Collection
	registry   *CancelRegistry
	cfg        OrchestratorConfig
	now        func() time.Time

	mu         sync.Mutex
	loading    bool
	refreshing bool
	claiming   bool
	page       int
	hasMore    bool
}

// NewOrchestrator builds the batch engine. syncer and events may be nil.
func NewOrchestrator(
	processor accountProcessor,
	session sessionCaller,
	claimer pointsClaimer,
	local recordStore,
	syncer mirrorSyncer,
	events eventPublisher,
	collection *Collection,
	cfg OrchestratorConfig,
) *Orchestrator {
	if cfg.PageSize < 1 {
		cfg.PageSize = 10
	}
	if cfg.ClaimConcurrency < 1 {
		cfg.ClaimConcurrency = 20
	}
	return &Orchestrator{
		processor:  processor,
		session:    session,
		claimer:    claimer,
		local:      local,
		syncer:     syncer,
		events:     events,
		collection: collection,
		registry:   NewCancelRegistry(),
		cfg:        cfg,
		now:        time.Now,
	}
}

func (o *Orchestrator) Collection() *Collection {
	return o.collection
}

// Load reads the first page from the local store, processes it in order and
// replaces the collection with the results.
func (o *Orchestrator) Load(ctx context.Context, progress domain.ProgressFunc) (BatchResult, error) {
	if !o.acquire(&o.loading) {
		return BatchResult{}, fmt.Errorf("Load: %w", domain.ErrBatchInProgress)
	}
	defer o.release(&o.loading)

	o.sync(ctx)

	page, err := o.local.GetPage(ctx, 1, o.cfg.PageSize)
	if err != nil {
		return BatchResult{}, fmt.Errorf("Load: %w", err)
	}

	res := o.runSequential(ctx, OperationLoad, page, ProcessOptions{}, progress)
	o.store(res)

	o.mu.Lock()
	o.page = 1
	o.hasMore = len(page) >= o.cfg.PageSize
	o.mu.Unlock()

	return res, nil
}

// LoadMore processes the next page and appends it. It does nothing while a
// load is running or once the last page has been seen.
func (o *Orchestrator) LoadMore(ctx context.Context, progress domain.ProgressFunc) (BatchResult, error) {
	o.mu.Lock()
	if o.loading || !o.hasMore {
		o.mu.Unlock()
		return BatchResult{Operation: OperationLoadMore, Status: BatchStatusNone}, nil
	}
	o.loading = true
	next := o.page + 1
	o.mu.Unlock()
	defer o.release(&o.loading)

	page, err := o.local.GetPage(ctx, next, o.cfg.PageSize)
	if err != nil {
		return BatchResult{}, fmt.Errorf("LoadMore: %w", err)
	}
	if len(page) == 0 {
		o.mu.Lock()
		o.hasMore = false
		o.mu.Unlock()
		return BatchResult{Operation: OperationLoadMore, Status: BatchStatusNone}, nil
	}

	res := o.runSequential(ctx, OperationLoadMore, page, ProcessOptions{}, progress)
	o.collection.Merge(res.Records)

	o.mu.Lock()
	o.page = next
	o.hasMore = len(page) >= o.cfg.PageSize
	o.mu.Unlock()

	return res, nil
}

// LoadAll processes every local record without forcing token refreshes.
func (o *Orchestrator) LoadAll(ctx context.Context, progress domain.ProgressFunc) (BatchResult, error) {
	if !o.acquire(&o.loading) {
		return BatchResult{}, fmt.Errorf("LoadAll: %w", domain.ErrBatchInProgress)
	}
	defer o.release(&o.loading)

	o.sync(ctx)

	all, err := o.local.GetAll(ctx)
	if err != nil {
		return BatchResult{}, fmt.Errorf("LoadAll: %w", err)
	}

	res := o.runSequential(ctx, OperationLoadAll, all, ProcessOptions{}, progress)
	o.store(res)

	o.mu.Lock()
	o.hasMore = false
	o.mu.Unlock()

	return res, nil
}

// Refresh force-refreshes every local record in order.
func (o *Orchestrator) Refresh(ctx context.Context, progress domain.ProgressFunc) (BatchResult, error) {
	if !o.acquire(&o.refreshing) {
		return BatchResult{}, fmt.Errorf("Refresh: %w", domain.ErrBatchInProgress)
	}
	defer o.release(&o.refreshing)

	o.sync(ctx)

	all, err := o.local.GetAll(ctx)
	if err != nil {
		return BatchResult{}, fmt.Errorf("Refresh: %w", err)
	}

	res := o.runSequential(ctx, OperationRefresh, all, ProcessOptions{ForceRefresh: true}, progress)
	o.store(res)
	return res, nil
}

func (o *Orchestrator) runSequential(ctx context.Context, op string, recs []domain.AccountRecord, opts ProcessOptions, progress domain.ProgressFunc) BatchResult {
	batchID, ctx, done := o.registry.Begin(ctx)
	defer done()
	ctx, log := logging.With(ctx, "batch_id", batchID, "operation", op)

	res := BatchResult{
		BatchID:   batchID,
		Operation: op,
		Records:   make([]domain.AccountRecord, 0, len(recs)),
		Total:     len(recs),
	}
	log.Info("batch started", "total", res.Total)

	for i, rec := range recs {
		if ctx.Err() != nil {
			res.Cancelled += len(recs) - i
			break
		}

		out := o.processGuarded(ctx, rec, opts)
		switch {
		case out.IsCancelled():
			res.Cancelled++
		case out.IsFailure():
			res.Failed++
			res.Failures = append(res.Failures, ItemFailure{UserID: rec.UserID, MSISDN: rec.MSISDN, Kind: out.Kind, Reason: out.Reason})
			res.Records = append(res.Records, *out.Record)
		default:
			res.Succeeded++
			res.Records = append(res.Records, *out.Record)
		}

		progress.Report(i+1, res.Total, fmt.Sprintf("Updating %s", rec.MSISDN))
	}

	res.Status, res.Message = summarize(op, res)
	log.Info("batch finished",
		"succeeded", res.Succeeded,
		"failed", res.Failed,
		"cancelled", res.Cancelled,
		"status", res.Status,
	)
	o.publish(ctx, res)
	return res
}

// processGuarded keeps one misbehaving item from taking down the batch.
func (o *Orchestrator) processGuarded(ctx context.Context, rec domain.AccountRecord, opts ProcessOptions) (out domain.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logging.FromContext(ctx).Error("panic in batch item",
				"user_id", rec.UserID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			msg := fmt.Sprintf("Internal error: %v", r)
			out = domain.TransientFailure(rec.WithError(domain.ErrorLabelNone, msg, o.now()), msg)
		}
	}()
	return o.processor.Process(ctx, rec, opts)
}

// store replaces the collection with a finished batch, or merges the partial
// results of a cancelled one so unprocessed records stay visible.
func (o *Orchestrator) store(res BatchResult) {
	if res.Cancelled > 0 {
		o.collection.Merge(res.Records)
		return
	}
	o.collection.Replace(res.Records)
}

// ClaimAll sends one claim per claimable account with bounded concurrency.
func (o *Orchestrator) ClaimAll(ctx context.Context, progress domain.ProgressFunc) (BatchResult, error) {
	if !o.acquire(&o.claiming) {
		return BatchResult{}, fmt.Errorf("ClaimAll: %w", domain.ErrBatchInProgress)
	}
	defer o.release(&o.claiming)

	source, err := o.claimSource(ctx)
	if err != nil {
		return BatchResult{}, fmt.Errorf("ClaimAll: %w", err)
	}

	var eligible []domain.AccountRecord
	for _, rec := range source {
		if rec.Claimable() {
			eligible = append(eligible, rec)
		}
	}

	batchID, ctx, done := o.registry.Begin(ctx)
	defer done()
	ctx, log := logging.With(ctx, "batch_id", batchID, "operation", OperationClaimAll)

	res := BatchResult{BatchID: batchID, Operation: OperationClaimAll, Total: len(eligible)}
	if len(eligible) == 0 {
		res.Status, res.Message = BatchStatusNone, noClaimableMessage
		progress.Report(0, 0, noClaimableMessage)
		log.Info("nothing to claim")
		o.publish(ctx, res)
		return res, nil
	}
	log.Info("claim batch started", "eligible", len(eligible), "concurrency", o.cfg.ClaimConcurrency)

	var (
		mu        sync.Mutex
		completed int
		results   = make(map[domain.UserID]claimResult, len(eligible))
	)

	g := new(errgroup.Group)
	g.SetLimit(o.cfg.ClaimConcurrency)
	for _, rec := range eligible {
		g.Go(func() error {
			after, err := o.claim(ctx, rec)

			mu.Lock()
			defer mu.Unlock()
			defer func() {
				completed++
				progress.Report(completed, res.Total, fmt.Sprintf("Claimed %s", rec.MSISDN))
			}()

			result := claimResult{rec: after}
			switch {
			case err == nil:
				res.Succeeded++
				result.claimed = true
			case isCancellation(ctx, err):
				res.Cancelled++
			default:
				res.Failed++
				result.reason = err.Error()
				kind := domain.OutcomeTransientFailure
				if errors.Is(err, domain.ErrSessionExpired) {
					kind = domain.OutcomeSessionExpired
				}
				res.Failures = append(res.Failures, ItemFailure{
					UserID: rec.UserID,
					MSISDN: rec.MSISDN,
					Kind:   kind,
					Reason: result.reason,
				})
				log.Warn("claim failed", "user_id", rec.UserID, "error", err)
			}
			results[rec.UserID] = result
			return nil
		})
	}
	_ = g.Wait()

	o.applyClaimResults(ctx, results)

	res.Status, res.Message = summarize(OperationClaimAll, res)
	log.Info("claim batch finished",
		"succeeded", res.Succeeded,
		"failed", res.Failed,
		"cancelled", res.Cancelled,
		"status", res.Status,
	)
	o.publish(ctx, res)
	return res, nil
}

// claimSource lists every stored account, with the loaded copy taking the
// place of the stored one when the collection holds it. Accounts only the
// collection knows about come last.
func (o *Orchestrator) claimSource(ctx context.Context) ([]domain.AccountRecord, error) {
	loaded := o.collection.Snapshot()
	stored, err := o.local.GetAll(ctx)
	if err != nil {
		if len(loaded) == 0 {
			return nil, err
		}
		logging.FromContext(ctx).Warn("local store read failed, claiming loaded accounts only", "error", err)
		return loaded, nil
	}

	byID := make(map[domain.UserID]domain.AccountRecord, len(loaded))
	for _, r := range loaded {
		byID[r.UserID] = r
	}
	source := make([]domain.AccountRecord, 0, len(stored)+len(loaded))
	seen := make(map[domain.UserID]bool, len(stored))
	for _, r := range stored {
		if l, ok := byID[r.UserID]; ok {
			r = l
		}
		seen[r.UserID] = true
		source = append(source, r)
	}
	for _, r := range loaded {
		if !seen[r.UserID] {
			source = append(source, r)
		}
	}
	return source, nil
}

// claim sends one claim through the token session.
func (o *Orchestrator) claim(ctx context.Context, rec domain.AccountRecord) (domain.AccountRecord, error) {
	return o.session.Call(ctx, rec, func(ctx context.Context, id provider.Identity) error {
		return o.claimer.Claim(ctx, id, rec.Points.ID)
	})
}

// ClaimSingle claims for one account and re-reads it afterwards.
func (o *Orchestrator) ClaimSingle(ctx context.Context, userID domain.UserID) (domain.AccountRecord, error) {
	if !o.acquire(&o.claiming) {
		return domain.AccountRecord{}, fmt.Errorf("ClaimSingle: %w", domain.ErrBatchInProgress)
	}
	defer o.release(&o.claiming)

	rec, ok := o.collection.Find(userID)
	if !ok {
		return domain.AccountRecord{}, fmt.Errorf("ClaimSingle: %s: %w", userID, domain.ErrNotFound)
	}
	if !rec.Claimable() {
		return rec, fmt.Errorf("ClaimSingle: %s: %w", userID, domain.ErrNotClaimable)
	}

	_, ctx, done := o.registry.Begin(ctx)
	defer done()
	ctx, log := logging.With(ctx, "user_id", userID, "msisdn", rec.MSISDN)

	after, err := o.claim(ctx, rec)
	if err != nil {
		result := claimResult{rec: after}
		if isCancellation(ctx, err) {
			o.applyClaimResults(ctx, map[domain.UserID]claimResult{userID: result})
			return after, fmt.Errorf("ClaimSingle: %w", context.Canceled)
		}
		log.Warn("claim failed", "error", err)
		result.reason = err.Error()
		o.applyClaimResults(ctx, map[domain.UserID]claimResult{userID: result})
		current, _ := o.collection.Find(userID)
		return current, fmt.Errorf("ClaimSingle: %w", err)
	}
	log.Info("points claimed")
	o.applyClaimResults(ctx, map[domain.UserID]claimResult{userID: {rec: after, claimed: true}})

	claimedRec, _ := o.collection.Find(userID)
	out := o.processGuarded(ctx, claimedRec, ProcessOptions{})
	if out.IsCancelled() || out.Record == nil {
		return claimedRec, nil
	}
	o.collection.Upsert(*out.Record)
	return *out.Record, nil
}

// claimResult is what one claim attempt left behind. rec carries the
// tokens the session ended with. reason is set when the claim failed.
type claimResult struct {
	rec     domain.AccountRecord
	claimed bool
	reason  string
}

func (res claimResult) settled() bool {
	return res.claimed || res.reason != ""
}

// settle applies a claim result to r. A claimed or failed offer is disabled
// until the next load reads the claim list again.
func settle(r domain.AccountRecord, res claimResult, now time.Time) domain.AccountRecord {
	r = withTokens(r.Clone(), res.rec)
	switch {
	case res.claimed:
		r.Label = domain.LabelClaimed
	case res.reason != "":
		r = r.WithError(res.rec.ErrorLabel, res.reason, now)
	default:
		return r
	}
	if r.Points != nil {
		r.Points.Enable = false
	}
	return r
}

// applyClaimResults folds claim results into the collection and writes
// settled accounts to the local store so a later claim-all skips them.
func (o *Orchestrator) applyClaimResults(ctx context.Context, results map[domain.UserID]claimResult) {
	if len(results) == 0 {
		return
	}
	now := o.now()
	ids := make(map[domain.UserID]bool, len(results))
	for id := range results {
		ids[id] = true
	}
	o.collection.Update(ids, func(r domain.AccountRecord) domain.AccountRecord {
		return settle(r, results[r.UserID], now)
	})

	ctx = context.WithoutCancel(ctx)
	log := logging.FromContext(ctx)
	for id, res := range results {
		if !res.settled() {
			continue
		}
		rec := settle(res.rec, res, now).Sanitize()
		if err := o.local.Upsert(ctx, &rec); err != nil {
			log.Error("local store write failed", "user_id", id, "error", err)
		}
	}
}

func (o *Orchestrator) IsClaiming() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.claiming
}

func (o *Orchestrator) IsRefreshing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.refreshing
}

// HasMore reports whether LoadMore would read another page.
func (o *Orchestrator) HasMore() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hasMore
}

// CancelAll stops every in-flight batch and returns how many were running.
func (o *Orchestrator) CancelAll() int {
	return o.registry.CancelAll()
}

// Close cancels every in-flight batch. Batches started afterwards are
// cancelled immediately.
func (o *Orchestrator) Close() {
	o.registry.Close()
}

func (o *Orchestrator) acquire(flag *bool) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if *flag {
		return false
	}
	*flag = true
	return true
}

func (o *Orchestrator) release(flag *bool) {
	o.mu.Lock()
	*flag = false
	o.mu.Unlock()
}

func (o *Orchestrator) sync(ctx context.Context) {
	if o.syncer == nil {
		return
	}
	if _, err := o.syncer.Sync(ctx); err != nil {
		logging.FromContext(ctx).Warn("mirror sync failed", "error", err)
	}
}

func (o *Orchestrator) publish(ctx context.Context, res BatchResult) {
	if o.events == nil {
		return
	}
	event := notify.BatchCompleted{
		EventID:     uuid.New(),
		BatchID:     res.BatchID,
		Operation:   res.Operation,
		Status:      string(res.Status),
		Total:       res.Total,
		Succeeded:   res.Succeeded,
		Failed:      res.Failed,
		Cancelled:   res.Cancelled,
		Message:     res.Message,
		CompletedAt: o.now().UTC(),
	}
	for _, f := range res.Failures {
		event.Failures = append(event.Failures, notify.ItemFailure{
			UserID: f.UserID.String(),
			MSISDN: f.MSISDN,
			Reason: f.Reason,
		})
	}
	if err := o.events.Publish(context.WithoutCancel(ctx), event); err != nil {
		logging.FromContext(ctx).Warn("batch event publish failed", "error", err)
	}
}

func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}

func summarize(op string, res BatchResult) (BatchStatus, string) {
	verb := "Processed"
	switch op {
	case OperationRefresh:
		verb = "Refreshed"
	case OperationLoad, OperationLoadMore, OperationLoadAll:
		verb = "Loaded"
	case OperationClaimAll:
		verb = "Claimed"
	}

	if res.Total == 0 {
		if op == OperationClaimAll {
			return BatchStatusNone, noClaimableMessage
		}
		return BatchStatusNone, "No accounts"
	}

	var status BatchStatus
	switch {
	case res.Cancelled > 0:
		status = BatchStatusCancelled
	case res.Failed == 0:
		status = BatchStatusSuccess
	case res.Succeeded == 0:
		status = BatchStatusFailed
	default:
		status = BatchStatusPartial
	}

	msg := fmt.Sprintf("%s %d/%d accounts", verb, res.Succeeded, res.Total)
	if res.Failed > 0 {
		msg += fmt.Sprintf(", %d failed", res.Failed)
	}
	if res.Cancelled > 0 {
		msg += fmt.Sprintf(", %d cancelled", res.Cancelled)
	}
	return status, msg
}
