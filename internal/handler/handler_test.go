package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/simsync/internal/domain"
	"github.com/josh-kwaku/simsync/internal/provider"
	"github.com/josh-kwaku/simsync/internal/service"
	"github.com/josh-kwaku/simsync/internal/testutil"
)

type mockAccounts struct {
	registered *domain.AccountRecord
	err        error
	records    []domain.AccountRecord
	transfer   provider.TransferResult
	lastOTP    string
}

func (m *mockAccounts) Register(_ context.Context, rec domain.AccountRecord) (domain.AccountRecord, error) {
	m.registered = &rec
	return rec, m.err
}

func (m *mockAccounts) Delete(context.Context, domain.UserID) error { return m.err }

func (m *mockAccounts) DeleteAllLocal(context.Context) error { return m.err }

func (m *mockAccounts) Search(string) []domain.AccountRecord { return m.records }

func (m *mockAccounts) RefreshOne(_ context.Context, msisdn string) (domain.Outcome, error) {
	if m.err != nil {
		return domain.Outcome{}, m.err
	}
	return domain.Succeeded(m.records[0]), nil
}

func (m *mockAccounts) MarkSold(_ context.Context, userID domain.UserID, d domain.SaleDetails) (domain.SoldRecord, error) {
	return domain.SoldRecord{SaleDetails: d}, m.err
}

func (m *mockAccounts) Transfer(context.Context, service.TransferRequest) (provider.TransferResult, error) {
	return m.transfer, m.err
}

func (m *mockAccounts) ConfirmTransfer(_ context.Context, _ service.TransferRequest, otp, _ string) (provider.TransferResult, error) {
	m.lastOTP = otp
	return m.transfer, m.err
}

func (m *mockAccounts) PointDetails(context.Context, domain.UserID) (provider.PointDetails, error) {
	return provider.PointDetails{TotalPoint: 42}, m.err
}

type mockClaimer struct{ err error }

func (m mockClaimer) ClaimSingle(context.Context, domain.UserID) (domain.AccountRecord, error) {
	return domain.AccountRecord{}, m.err
}

type mockBatches struct {
	res service.BatchResult
	err error
}

func (m *mockBatches) Load(context.Context, domain.ProgressFunc) (service.BatchResult, error) {
	return m.res, m.err
}
func (m *mockBatches) LoadMore(context.Context, domain.ProgressFunc) (service.BatchResult, error) {
	return m.res, m.err
}
func (m *mockBatches) LoadAll(context.Context, domain.ProgressFunc) (service.BatchResult, error) {
	return m.res, m.err
}
func (m *mockBatches) Refresh(context.Context, domain.ProgressFunc) (service.BatchResult, error) {
	return m.res, m.err
}
func (m *mockBatches) ClaimAll(context.Context, domain.ProgressFunc) (service.BatchResult, error) {
	return m.res, m.err
}
func (m *mockBatches) CancelAll() int     { return 2 }
func (m *mockBatches) IsRefreshing() bool { return true }
func (m *mockBatches) IsClaiming() bool   { return false }
func (m *mockBatches) HasMore() bool      { return true }

type mockPinger struct{ err error }

func (m mockPinger) PingContext(context.Context) error { return m.err }
func (m mockPinger) Ping(context.Context) error        { return m.err }

func newTestRouter(accounts *mockAccounts, claimer mockClaimer, batches *mockBatches) http.Handler {
	ah := NewAccountHandler(accounts, claimer)
	bh := NewBatchHandler(batches)
	r := chi.NewRouter()
	r.Get("/accounts", ah.List)
	r.Post("/accounts", ah.Register)
	r.Get("/accounts/{userID}/points", ah.PointDetails)
	r.Post("/accounts/{userID}/claim", ah.Claim)
	r.Post("/accounts/{userID}/transfer/confirm", ah.ConfirmTransfer)
	r.Post("/accounts/{userID}/sold", ah.MarkSold)
	r.Post("/batches/refresh", bh.Refresh)
	r.Post("/batches/cancel", bh.Cancel)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp APIResponse
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestAccountHandler_Register(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		svcErr     error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "created",
			body:       `{"user_id":"u-1","msisdn":"0912345678","refresh_token":"r"}`,
			wantStatus: http.StatusCreated,
		},
		{
			name:       "malformed body",
			body:       `{`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "bad msisdn",
			body:       `{"user_id":"u-1","msisdn":"12345","refresh_token":"r"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_FAILED",
		},
		{
			name:       "limit reached",
			body:       `{"user_id":"u-1","msisdn":"0912345678","refresh_token":"r"}`,
			svcErr:     fmt.Errorf("Register: %w", domain.ErrAccountLimitReached),
			wantStatus: http.StatusConflict,
			wantCode:   "ACCOUNT_LIMIT_REACHED",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accounts := &mockAccounts{err: tt.svcErr}
			rec, resp := do(t, newTestRouter(accounts, mockClaimer{}, &mockBatches{}), http.MethodPost, "/accounts", tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCode != "" {
				require.NotNil(t, resp.Error)
				assert.Equal(t, tt.wantCode, resp.Error.Code)
				return
			}
			assert.True(t, resp.Success)
			require.NotNil(t, accounts.registered)
			assert.Equal(t, domain.UserID("u-1"), accounts.registered.UserID)
		})
	}
}

func TestAccountHandler_ListHidesTokens(t *testing.T) {
	accounts := &mockAccounts{records: []domain.AccountRecord{testutil.NewAccountRecord(1)}}

	rec, resp := do(t, newTestRouter(accounts, mockClaimer{}, &mockBatches{}), http.MethodGet, "/accounts?q=09", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.NotContains(t, rec.Body.String(), "token-1")
	assert.NotContains(t, rec.Body.String(), "refresh-1")
	assert.Contains(t, rec.Body.String(), `"msisdn":"0900000001"`)
}

func TestAccountHandler_ClaimErrors(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
	}{
		{domain.ErrNotClaimable, http.StatusUnprocessableEntity},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrBatchInProgress, http.StatusConflict},
		{fmt.Errorf("ClaimSingle: %w", domain.ErrSessionExpired), http.StatusUnprocessableEntity},
		{fmt.Errorf("ClaimSingle: %w", domain.ErrTokenUnavailable), http.StatusBadGateway},
		{&provider.APIError{Endpoint: provider.EndpointClaim, Status: 500}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			router := newTestRouter(&mockAccounts{}, mockClaimer{err: fmt.Errorf("ClaimSingle: %w", tt.err)}, &mockBatches{})
			rec, resp := do(t, router, http.MethodPost, "/accounts/u-1/claim", "")

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.False(t, resp.Success)
		})
	}
}

func TestAccountHandler_ConfirmTransfer(t *testing.T) {
	accounts := &mockAccounts{transfer: provider.TransferResult{Completed: true, Message: "Transfer successful"}}
	router := newTestRouter(accounts, mockClaimer{}, &mockBatches{})

	rec, resp := do(t, router, http.MethodPost, "/accounts/u-1/transfer/confirm",
		`{"recipient":"0911111111","amount":"10","otp":"1234","request_id":"req-1"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1234", accounts.lastOTP)
	data := resp.Data.(map[string]any)
	assert.Equal(t, true, data["completed"])
}

func TestAccountHandler_MarkSoldValidation(t *testing.T) {
	router := newTestRouter(&mockAccounts{}, mockClaimer{}, &mockBatches{})

	rec, resp := do(t, router, http.MethodPost, "/accounts/u-1/sold", `{"sale_price":"-5","sale_date":"05/01/2026"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Len(t, resp.Error.Details, 2)
}

func TestBatchHandler(t *testing.T) {
	t.Run("result", func(t *testing.T) {
		batches := &mockBatches{res: service.BatchResult{
			Operation: service.OperationRefresh,
			Total:     3,
			Succeeded: 2,
			Failed:    1,
			Status:    service.BatchStatusPartial,
			Message:   "Refreshed 2/3 accounts, 1 failed",
			Failures:  []service.ItemFailure{{UserID: "u-2", Kind: domain.OutcomeTransientFailure, Reason: "balance failed"}},
		}}
		rec, resp := do(t, newTestRouter(&mockAccounts{}, mockClaimer{}, batches), http.MethodPost, "/batches/refresh", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		data := resp.Data.(map[string]any)
		assert.Equal(t, "Refreshed 2/3 accounts, 1 failed", data["message"])
		assert.Len(t, data["failures"], 1)
	})

	t.Run("overlap", func(t *testing.T) {
		batches := &mockBatches{err: fmt.Errorf("Refresh: %w", domain.ErrBatchInProgress)}
		rec, resp := do(t, newTestRouter(&mockAccounts{}, mockClaimer{}, batches), http.MethodPost, "/batches/refresh", "")

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "BATCH_IN_PROGRESS", resp.Error.Code)
	})

	t.Run("cancel", func(t *testing.T) {
		rec, resp := do(t, newTestRouter(&mockAccounts{}, mockClaimer{}, &mockBatches{}), http.MethodPost, "/batches/cancel", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 2, resp.Data.(map[string]any)["cancelled"])
	})
}

func TestHealthHandler_Readiness(t *testing.T) {
	tests := []struct {
		name       string
		db         error
		mirror     error
		wantStatus int
	}{
		{"all up", nil, nil, http.StatusOK},
		{"database down", errors.New("refused"), nil, http.StatusServiceUnavailable},
		{"mirror down", nil, errors.New("refused"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(mockPinger{err: tt.db}, mockPinger{err: tt.mirror})
			rec := httptest.NewRecorder()

			h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestAccountHandler_PointDetails(t *testing.T) {
	rec, resp := do(t, newTestRouter(&mockAccounts{}, mockClaimer{}, &mockBatches{}), http.MethodGet, "/accounts/user-1/points", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"totalPoint":42`)
	assert.Nil(t, resp.Error)

	rec, _ = do(t, newTestRouter(&mockAccounts{err: domain.ErrNotFound}, mockClaimer{}, &mockBatches{}), http.MethodGet, "/accounts/missing/points", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
