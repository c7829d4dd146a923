package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/simsync/internal/domain"
	"github.com/josh-kwaku/simsync/internal/provider"
	"github.com/josh-kwaku/simsync/internal/testutil"
)

type processorHarness struct {
	api       *fakeAPI
	local     *memStore
	mirror    *memMirror
	admin     *memMirror
	processor *Processor
}

func newProcessorHarness(t *testing.T) *processorHarness {
	t.Helper()
	h := &processorHarness{
		api:    newFakeAPI(),
		local:  newMemStore(),
		mirror: newMemMirror(),
		admin:  newMemMirror(),
	}
	tokens := NewTokenManager(h.api, fastRetry, 300*time.Second)
	h.processor = NewProcessor(tokens, h.api, h.local, h.mirror, h.admin)
	return h
}

func TestProcessor_MergesFreshState(t *testing.T) {
	h := newProcessorHarness(t)
	rec := testutil.NewAccountRecord(1)
	h.api.addAccount(rec.UserID, 750, &domain.ClaimPoints{Enable: true, ID: "p-1", Label: domain.LabelClaim})
	h.api.accounts[rec.UserID].label = "Platinum"

	before := time.Now().UTC()
	out := h.processor.Process(context.Background(), rec, ProcessOptions{})

	require.Equal(t, domain.OutcomeSuccess, out.Kind)
	got := *out.Record
	assert.Equal(t, int64(750), got.TotalPoint)
	assert.True(t, got.MainBalance.AvailableTotalBalance.Equal(decimal.NewFromInt(1500)))
	assert.Equal(t, "Platinum", got.StartStatusLabel)
	assert.Equal(t, domain.LabelClaim, got.Label)
	assert.True(t, got.Claimable())
	assert.False(t, got.HasError)
	require.NotNil(t, got.LastUpdated)
	assert.False(t, got.LastUpdated.Before(before.Truncate(time.Second)))
	assert.Equal(t, rec.Token, got.Token, "valid token is not refreshed")

	stored, ok := h.local.get(rec.UserID)
	require.True(t, ok)
	assert.Equal(t, got, stored)
	mirrored, ok := h.mirror.get(rec.UserID.String())
	require.True(t, ok)
	assert.Equal(t, got, mirrored)
	_, ok = h.admin.get(rec.UserID.String())
	assert.True(t, ok)
}

func TestProcessor_ReadFailureKeepsLastKnownState(t *testing.T) {
	h := newProcessorHarness(t)
	rec := testutil.NewAccountRecord(2)
	h.api.addAccount(rec.UserID, 999, nil)
	h.api.failRead(rec.UserID, provider.EndpointBalance, errors.New("connection refused"))

	out := h.processor.Process(context.Background(), rec, ProcessOptions{})

	require.Equal(t, domain.OutcomeTransientFailure, out.Kind)
	got := *out.Record
	assert.True(t, got.HasError)
	assert.Equal(t, domain.ErrorLabelNone, got.ErrorLabel)
	assert.Contains(t, got.ErrorText(), provider.EndpointBalance)
	assert.Equal(t, rec.TotalPoint, got.TotalPoint)
	assert.True(t, got.MainBalance.AvailableTotalBalance.Equal(rec.MainBalance.AvailableTotalBalance))
	assert.Equal(t, 0, h.local.len(), "failed pass without token rotation is not persisted")
}

func TestProcessor_GoneResource(t *testing.T) {
	h := newProcessorHarness(t)
	rec := testutil.NewAccountRecord(3)
	h.api.addAccount(rec.UserID, 10, nil)
	h.api.failRead(rec.UserID, provider.EndpointClaimList,
		&provider.APIError{Endpoint: provider.EndpointClaimList, Status: http.StatusGone})

	out := h.processor.Process(context.Background(), rec, ProcessOptions{})

	require.Equal(t, domain.OutcomeTransientFailure, out.Kind)
	assert.Equal(t, "Resource no longer available (410 Gone) on claimList", out.Record.ErrorText())
}

func TestProcessor_SanitizesMissingBalance(t *testing.T) {
	h := newProcessorHarness(t)
	rec := testutil.NewAccountRecord(4)
	rec.MainBalance = nil
	h.api.addAccount(rec.UserID, 5, nil)
	h.api.accounts[rec.UserID].balance = provider.Balance{Main: domain.MainBalance{AvailableTotalBalance: decimal.Zero}}

	out := h.processor.Process(context.Background(), rec, ProcessOptions{})
	require.Equal(t, domain.OutcomeSuccess, out.Kind)

	mirrored, ok := h.mirror.get(rec.UserID.String())
	require.True(t, ok)
	require.NotNil(t, mirrored.MainBalance)
	assert.Equal(t, domain.DefaultCurrency, mirrored.MainBalance.Currency)

	raw, err := json.Marshal(mirrored)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	for _, key := range []string{"mainBalance", "points", "errorMessage", "errorLabel", "lastUpdated"} {
		assert.Contains(t, doc, key)
	}
	assert.Nil(t, doc["points"])
	assert.Nil(t, doc["errorMessage"])
}

func TestProcessor_SessionExpiredSkipsReads(t *testing.T) {
	h := newProcessorHarness(t)
	rec := testutil.ExpiredToken(testutil.NewAccountRecord(5))
	h.api.addAccount(rec.UserID, 10, nil)
	h.api.failRefresh(rec.UserID, &provider.APIError{Endpoint: provider.EndpointRefreshToken, Status: 400, Message: "invalid refresh token"})

	out := h.processor.Process(context.Background(), rec, ProcessOptions{})

	require.Equal(t, domain.OutcomeSessionExpired, out.Kind)
	assert.Equal(t, domain.ErrorLabelSessionExpired, out.Record.ErrorLabel)
	assert.Equal(t, 0, h.api.readCount(rec.UserID))
}

func TestProcessor_RefreshFailure(t *testing.T) {
	unavailable := &provider.APIError{Endpoint: provider.EndpointRefreshToken, Status: 503}

	t.Run("expired token stops the pass", func(t *testing.T) {
		h := newProcessorHarness(t)
		rec := testutil.ExpiredToken(testutil.NewAccountRecord(6))
		h.api.addAccount(rec.UserID, 10, nil)
		h.api.failRefresh(rec.UserID, unavailable, unavailable, unavailable)

		out := h.processor.Process(context.Background(), rec, ProcessOptions{})

		require.Equal(t, domain.OutcomeTransientFailure, out.Kind)
		assert.Equal(t, domain.ErrorLabelRefreshFailed, out.Record.ErrorLabel)
		assert.Equal(t, 0, h.api.readCount(rec.UserID))
	})

	t.Run("still-valid token keeps reading", func(t *testing.T) {
		h := newProcessorHarness(t)
		rec := testutil.NewAccountRecord(7)
		h.api.addAccount(rec.UserID, 42, nil)
		h.api.failRefresh(rec.UserID, unavailable, unavailable, unavailable)

		out := h.processor.Process(context.Background(), rec, ProcessOptions{ForceRefresh: true})

		require.Equal(t, domain.OutcomeSuccess, out.Kind)
		assert.False(t, out.Record.HasError)
		assert.Equal(t, int64(42), out.Record.TotalPoint)
		assert.Equal(t, rec.Token, out.Record.Token)
	})
}

func TestProcessor_UnauthorizedForcesOneRefresh(t *testing.T) {
	h := newProcessorHarness(t)
	rec := testutil.NewAccountRecord(8)
	acct := h.api.addAccount(rec.UserID, 80, nil)
	acct.acceptToken = "new-" + rec.UserID.String()

	out := h.processor.Process(context.Background(), rec, ProcessOptions{})

	require.Equal(t, domain.OutcomeSuccess, out.Kind)
	assert.Equal(t, 1, h.api.refreshCount(rec.UserID))
	assert.Equal(t, acct.acceptToken, out.Record.Token)
	assert.Equal(t, int64(80), out.Record.TotalPoint)
}

func TestProcessor_RepeatedUnauthorizedExpiresSession(t *testing.T) {
	h := newProcessorHarness(t)
	rec := testutil.NewAccountRecord(9)
	acct := h.api.addAccount(rec.UserID, 80, nil)
	acct.acceptToken = "never-issued"

	out := h.processor.Process(context.Background(), rec, ProcessOptions{})

	require.Equal(t, domain.OutcomeSessionExpired, out.Kind)
	assert.Equal(t, 1, h.api.refreshCount(rec.UserID))
	assert.Equal(t, domain.ErrorLabelSessionExpired, out.Record.ErrorLabel)

	stored, ok := h.local.get(rec.UserID)
	require.True(t, ok, "rotated token is persisted even on failure")
	assert.Equal(t, "new-"+rec.UserID.String(), stored.Token)
}

func TestProcessor_Cancelled(t *testing.T) {
	h := newProcessorHarness(t)
	rec := testutil.NewAccountRecord(10)
	h.api.addAccount(rec.UserID, 10, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := h.processor.Process(ctx, rec, ProcessOptions{})

	assert.True(t, out.IsCancelled())
	assert.Nil(t, out.Record)
	assert.Equal(t, 0, h.local.len())
}

func TestProcessor_CancelledMidRead(t *testing.T) {
	h := newProcessorHarness(t)
	rec := testutil.NewAccountRecord(11)
	h.api.addAccount(rec.UserID, 10, nil)

	ctx, cancel := context.WithCancel(context.Background())
	h.api.onRead = func(domain.UserID, string) { cancel() }

	out := h.processor.Process(ctx, rec, ProcessOptions{})

	assert.True(t, out.IsCancelled())
	assert.Equal(t, 0, h.local.len())
}

func TestProcessor_StoreFailureDoesNotFailPass(t *testing.T) {
	h := newProcessorHarness(t)
	h.local.upsertErr = errStoreDown
	h.mirror.upsertErr = errStoreDown
	rec := testutil.NewAccountRecord(12)
	h.api.addAccount(rec.UserID, 10, nil)

	out := h.processor.Process(context.Background(), rec, ProcessOptions{})

	assert.Equal(t, domain.OutcomeSuccess, out.Kind)
	_, ok := h.admin.get(rec.UserID.String())
	assert.True(t, ok)
}

type panickingTokens struct{}

func (panickingTokens) Refresh(context.Context, domain.AccountRecord, bool) domain.AccountRecord {
	panic("decoder exploded")
}

func TestProcessor_RecoversPanics(t *testing.T) {
	h := newProcessorHarness(t)
	rec := testutil.NewAccountRecord(13)
	h.api.addAccount(rec.UserID, 10, nil)
	h.processor.tokens = panickingTokens{}

	out := h.processor.Process(context.Background(), rec, ProcessOptions{})

	require.Equal(t, domain.OutcomeTransientFailure, out.Kind)
	assert.Contains(t, out.Record.ErrorText(), "decoder exploded")
}
