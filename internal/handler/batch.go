package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/josh-kwaku/simsync/internal/domain"
	"github.com/josh-kwaku/simsync/internal/logging"
	"github.com/josh-kwaku/simsync/internal/service"
)

type batchRunner interface {
	Load(ctx context.Context, progress domain.ProgressFunc) (service.BatchResult, error)
	LoadMore(ctx context.Context, progress domain.ProgressFunc) (service.BatchResult, error)
	LoadAll(ctx context.Context, progress domain.ProgressFunc) (service.BatchResult, error)
	Refresh(ctx context.Context, progress domain.ProgressFunc) (service.BatchResult, error)
	ClaimAll(ctx context.Context, progress domain.ProgressFunc) (service.BatchResult, error)
	CancelAll() int
	IsRefreshing() bool
	IsClaiming() bool
	HasMore() bool
}

type BatchHandler struct {
	batches batchRunner
}

func NewBatchHandler(batches batchRunner) *BatchHandler {
	return &BatchHandler{batches: batches}
}

type itemFailureDTO struct {
	UserID string `json:"user_id"`
	MSISDN string `json:"msisdn"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

type batchResultDTO struct {
	BatchID   uuid.UUID        `json:"batch_id"`
	Operation string           `json:"operation"`
	Status    string           `json:"status"`
	Message   string           `json:"message"`
	Total     int              `json:"total"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Cancelled int              `json:"cancelled"`
	Failures  []itemFailureDTO `json:"failures"`
}

func toBatchResultDTO(res service.BatchResult) batchResultDTO {
	dto := batchResultDTO{
		BatchID:   res.BatchID,
		Operation: res.Operation,
		Status:    string(res.Status),
		Message:   res.Message,
		Total:     res.Total,
		Succeeded: res.Succeeded,
		Failed:    res.Failed,
		Cancelled: res.Cancelled,
		Failures:  make([]itemFailureDTO, 0, len(res.Failures)),
	}
	for _, f := range res.Failures {
		dto.Failures = append(dto.Failures, itemFailureDTO{
			UserID: f.UserID.String(),
			MSISDN: f.MSISDN,
			Kind:   f.Kind.String(),
			Reason: f.Reason,
		})
	}
	return dto
}

type batchFunc func(ctx context.Context, progress domain.ProgressFunc) (service.BatchResult, error)

// run executes a batch on the request context, so a client that goes away
// cancels the batch.
func (h *BatchHandler) run(w http.ResponseWriter, r *http.Request, op string, fn batchFunc) {
	log := logging.FromContext(r.Context())
	progress := func(p domain.Progress) {
		log.Debug("batch progress", "operation", op, "current", p.Current, "total", p.Total)
	}

	res, err := fn(r.Context(), progress)
	if err != nil {
		log.Warn("batch not run", "operation", op, "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toBatchResultDTO(res))
}

func (h *BatchHandler) Load(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, service.OperationLoad, h.batches.Load)
}

func (h *BatchHandler) LoadMore(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, service.OperationLoadMore, h.batches.LoadMore)
}

func (h *BatchHandler) LoadAll(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, service.OperationLoadAll, h.batches.LoadAll)
}

func (h *BatchHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, service.OperationRefresh, h.batches.Refresh)
}

func (h *BatchHandler) ClaimAll(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, service.OperationClaimAll, h.batches.ClaimAll)
}

func (h *BatchHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	n := h.batches.CancelAll()
	logging.FromContext(r.Context()).Info("batches cancelled", "count", n)
	RespondSuccess(w, http.StatusOK, map[string]int{"cancelled": n})
}

func (h *BatchHandler) Status(w http.ResponseWriter, r *http.Request) {
	RespondSuccess(w, http.StatusOK, map[string]bool{
		"refreshing": h.batches.IsRefreshing(),
		"claiming":   h.batches.IsClaiming(),
		"has_more":   h.batches.HasMore(),
	})
}
