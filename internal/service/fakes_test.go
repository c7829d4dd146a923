package service

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/simsync/internal/domain"
	"github.com/josh-kwaku/simsync/internal/notify"
	"github.com/josh-kwaku/simsync/internal/provider"
	"github.com/josh-kwaku/simsync/internal/retry"
)

var fastRetry = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}

var errStoreDown = errors.New("store unavailable")

type fakeAccount struct {
	label   string
	total   int64
	balance provider.Balance
	points  *domain.ClaimPoints
	// acceptToken, when set, is the only access token reads accept.
	acceptToken string
}

type fakeAPI struct {
	mu           sync.Mutex
	accounts     map[domain.UserID]*fakeAccount
	refreshErrs  map[domain.UserID][]error
	refreshCalls map[domain.UserID]int
	readErrs     map[domain.UserID]map[string][]error
	readCalls    map[domain.UserID]int
	claimErrs    map[domain.UserID]error
	claimCalls   []domain.UserID
	onClaim      func(ctx context.Context, userID domain.UserID) error
	onRead       func(userID domain.UserID, endpoint string)
	transfer     provider.TransferResult
	confirm      provider.TransferResult
	transferCall int
	confirmCall  int
	// transferToken is the access token the last transfer call carried.
	transferToken string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		accounts:     map[domain.UserID]*fakeAccount{},
		refreshErrs:  map[domain.UserID][]error{},
		refreshCalls: map[domain.UserID]int{},
		readErrs:     map[domain.UserID]map[string][]error{},
		readCalls:    map[domain.UserID]int{},
		claimErrs:    map[domain.UserID]error{},
	}
}

func (f *fakeAPI) addAccount(userID domain.UserID, total int64, points *domain.ClaimPoints) *fakeAccount {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := &fakeAccount{
		label: "Gold",
		total: total,
		balance: provider.Balance{
			Main: domain.MainBalance{AvailableTotalBalance: decimal.NewFromInt(total * 2), Currency: "Ks"},
		},
		points: points,
	}
	f.accounts[userID] = a
	return a
}

func (f *fakeAPI) failRefresh(userID domain.UserID, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshErrs[userID] = append(f.refreshErrs[userID], errs...)
}

func (f *fakeAPI) failRead(userID domain.UserID, endpoint string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErrs[userID] == nil {
		f.readErrs[userID] = map[string][]error{}
	}
	f.readErrs[userID][endpoint] = append(f.readErrs[userID][endpoint], errs...)
}

func (f *fakeAPI) refreshCount(userID domain.UserID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls[userID]
}

func (f *fakeAPI) readCount(userID domain.UserID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readCalls[userID]
}

func (f *fakeAPI) claimed() []domain.UserID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]domain.UserID{}, f.claimCalls...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (f *fakeAPI) RefreshToken(ctx context.Context, id provider.Identity, refreshToken string) (*provider.TokenAttributes, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls[id.UserID]++
	if q := f.refreshErrs[id.UserID]; len(q) > 0 {
		f.refreshErrs[id.UserID] = q[1:]
		return nil, q[0]
	}
	return &provider.TokenAttributes{
		Token:               "new-" + id.UserID.String(),
		AccessTokenExpireAt: time.Now().Add(time.Hour).Unix(),
	}, nil
}

func (f *fakeAPI) account(ctx context.Context, id provider.Identity, endpoint string) (*fakeAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	hook := f.onRead
	f.readCalls[id.UserID]++
	var queued error
	if q := f.readErrs[id.UserID][endpoint]; len(q) > 0 {
		f.readErrs[id.UserID][endpoint] = q[1:]
		queued = q[0]
	}
	a, ok := f.accounts[id.UserID]
	f.mu.Unlock()

	if hook != nil {
		hook(id.UserID, endpoint)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if queued != nil {
		return nil, queued
	}
	if !ok {
		return nil, &provider.APIError{Endpoint: endpoint, Status: http.StatusGone, Message: "gone"}
	}
	if a.acceptToken != "" && id.Token != a.acceptToken {
		return nil, &provider.APIError{Endpoint: endpoint, Status: http.StatusUnauthorized, Message: "token expired"}
	}
	return a, nil
}

func (f *fakeAPI) Dashboard(ctx context.Context, id provider.Identity) (string, error) {
	a, err := f.account(ctx, id, provider.EndpointDashboard)
	if err != nil {
		return "", err
	}
	return a.label, nil
}

func (f *fakeAPI) PointDashboard(ctx context.Context, id provider.Identity) (int64, error) {
	a, err := f.account(ctx, id, provider.EndpointPointDashboard)
	if err != nil {
		return 0, err
	}
	return a.total, nil
}

func (f *fakeAPI) Balance(ctx context.Context, id provider.Identity) (provider.Balance, error) {
	a, err := f.account(ctx, id, provider.EndpointBalance)
	if err != nil {
		return provider.Balance{}, err
	}
	return a.balance, nil
}

func (f *fakeAPI) ClaimList(ctx context.Context, id provider.Identity) (*domain.ClaimPoints, error) {
	a, err := f.account(ctx, id, provider.EndpointClaimList)
	if err != nil {
		return nil, err
	}
	if a.points == nil {
		return nil, nil
	}
	p := *a.points
	return &p, nil
}

func (f *fakeAPI) Claim(ctx context.Context, id provider.Identity, pointsID string) error {
	f.mu.Lock()
	hook := f.onClaim
	f.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, id.UserID); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id.UserID]
	if ok && a.acceptToken != "" && id.Token != a.acceptToken {
		return &provider.APIError{Endpoint: provider.EndpointClaim, Status: http.StatusUnauthorized, Message: "token expired"}
	}
	f.claimCalls = append(f.claimCalls, id.UserID)
	if err := f.claimErrs[id.UserID]; err != nil {
		return err
	}
	if ok && a.points != nil {
		a.points = &domain.ClaimPoints{Enable: false, ID: a.points.ID, Label: domain.LabelClaimed}
	}
	return nil
}

func (f *fakeAPI) TransferPoints(ctx context.Context, id provider.Identity, recipient string, amount int64) (provider.TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transferCall++
	f.transferToken = id.Token
	return f.transfer, nil
}

func (f *fakeAPI) ConfirmTransfer(ctx context.Context, id provider.Identity, recipient string, amount int64, otp, requestID string) (provider.TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmCall++
	return f.confirm, nil
}

func (f *fakeAPI) PointDetails(ctx context.Context, id provider.Identity) (provider.PointDetails, error) {
	a, err := f.account(ctx, id, provider.EndpointPointDetails)
	if err != nil {
		return provider.PointDetails{}, err
	}
	return provider.PointDetails{TotalPoint: a.total}, nil
}

type memStore struct {
	mu        sync.Mutex
	recs      map[domain.UserID]domain.AccountRecord
	upserts   int
	upsertErr error
	deleteErr error
	calls     *[]string
}

func newMemStore(recs ...domain.AccountRecord) *memStore {
	s := &memStore{recs: map[domain.UserID]domain.AccountRecord{}}
	for _, r := range recs {
		s.recs[r.UserID] = r
	}
	return s
}

func (s *memStore) record(call string) {
	if s.calls != nil {
		*s.calls = append(*s.calls, call)
	}
}

func (s *memStore) Upsert(ctx context.Context, rec *domain.AccountRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.upserts++
	s.recs[rec.UserID] = rec.Clone()
	return nil
}

func (s *memStore) Insert(ctx context.Context, rec *domain.AccountRecord, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.recs {
		if r.UserID == rec.UserID || r.MSISDN == rec.MSISDN {
			return domain.ErrAccountExists
		}
	}
	if limit > 0 && len(s.recs) >= limit {
		return domain.ErrAccountLimitReached
	}
	s.recs[rec.UserID] = rec.Clone()
	return nil
}

func (s *memStore) sorted() []domain.AccountRecord {
	out := make([]domain.AccountRecord, 0, len(s.recs))
	for _, r := range s.recs {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalPoint != out[j].TotalPoint {
			return out[i].TotalPoint > out[j].TotalPoint
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func (s *memStore) GetPage(ctx context.Context, page, size int) ([]domain.AccountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.sorted()
	start := (page - 1) * size
	if start >= len(all) {
		return []domain.AccountRecord{}, nil
	}
	end := min(start+size, len(all))
	return all[start:end], nil
}

func (s *memStore) GetAll(ctx context.Context) ([]domain.AccountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(), nil
}

func (s *memStore) GetByKey(ctx context.Context, userID domain.UserID) (*domain.AccountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := r.Clone()
	return &c, nil
}

func (s *memStore) DeleteByKey(ctx context.Context, userID domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("local.delete")
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.recs, userID)
	return nil
}

func (s *memStore) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = map[domain.UserID]domain.AccountRecord{}
	return nil
}

func (s *memStore) get(userID domain.UserID) (domain.AccountRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[userID]
	return r, ok
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

type memMirror struct {
	mu        sync.Mutex
	docs      map[string]domain.AccountRecord
	upsertErr error
	deleteErr error
	calls     *[]string
}

func newMemMirror(recs ...domain.AccountRecord) *memMirror {
	m := &memMirror{docs: map[string]domain.AccountRecord{}}
	for _, r := range recs {
		m.docs[r.UserID.String()] = r
	}
	return m
}

func (m *memMirror) Upsert(ctx context.Context, key string, doc domain.AccountRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.docs[key] = doc.Clone()
	return nil
}

func (m *memMirror) GetAll(ctx context.Context) ([]domain.AccountRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.docs))
	for k := range m.docs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]domain.AccountRecord, 0, len(keys))
	for _, k := range keys {
		out = append(out, m.docs[k].Clone())
	}
	return out, nil
}

func (m *memMirror) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls != nil {
		*m.calls = append(*m.calls, "mirror.delete")
	}
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.docs, key)
	return nil
}

func (m *memMirror) get(key string) (domain.AccountRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.docs[key]
	return r, ok
}

type memSold struct {
	mu   sync.Mutex
	recs map[domain.UserID]domain.SoldRecord
	docs map[string]domain.SoldRecord
}

func newMemSold(recs ...domain.SoldRecord) *memSold {
	s := &memSold{recs: map[domain.UserID]domain.SoldRecord{}, docs: map[string]domain.SoldRecord{}}
	for _, r := range recs {
		s.recs[r.UserID] = r
	}
	return s
}

func (s *memSold) Upsert(ctx context.Context, rec *domain.SoldRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.UserID] = *rec
	return nil
}

func (s *memSold) GetAll(ctx context.Context) ([]domain.SoldRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.SoldRecord, 0, len(s.recs))
	for _, r := range s.recs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *memSold) DeleteByKey(ctx context.Context, userID domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, userID)
	return nil
}

// soldMirrorView exposes the mirror half of memSold.
type soldMirrorView struct{ s *memSold }

func (v soldMirrorView) Upsert(ctx context.Context, key string, doc domain.SoldRecord) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	v.s.docs[key] = doc
	return nil
}

func (v soldMirrorView) Delete(ctx context.Context, key string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	delete(v.s.docs, key)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.BatchCompleted
}

func (p *recordingPublisher) Publish(ctx context.Context, event notify.BatchCompleted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) all() []notify.BatchCompleted {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notify.BatchCompleted{}, p.events...)
}

// scriptedProcessor lets batch tests decide each outcome directly.
type scriptedProcessor struct {
	mu    sync.Mutex
	fn    func(ctx context.Context, rec domain.AccountRecord, opts ProcessOptions) domain.Outcome
	order []domain.UserID
}

func (p *scriptedProcessor) Process(ctx context.Context, rec domain.AccountRecord, opts ProcessOptions) domain.Outcome {
	p.mu.Lock()
	p.order = append(p.order, rec.UserID)
	p.mu.Unlock()
	return p.fn(ctx, rec, opts)
}

func (p *scriptedProcessor) seen() []domain.UserID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.UserID{}, p.order...)
}

type progressLog struct {
	mu      sync.Mutex
	reports []domain.Progress
}

func (l *progressLog) fn() domain.ProgressFunc {
	return func(p domain.Progress) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.reports = append(l.reports, p)
	}
}

func (l *progressLog) currents() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]int, 0, len(l.reports))
	for _, r := range l.reports {
		out = append(out, r.Current)
	}
	return out
}

func (l *progressLog) last() domain.Progress {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.reports) == 0 {
		return domain.Progress{}
	}
	return l.reports[len(l.reports)-1]
}
