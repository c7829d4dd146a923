package notify

import (
	"time"

	"github.com/google/uuid"
)

const RoutingKeyBatchCompleted = "batch.completed"

type ItemFailure struct {
	UserID string `json:"user_id"`
	MSISDN string `json:"msisdn"`
	Reason string `json:"reason"`
}

// BatchCompleted is emitted once per finished load, refresh or claim batch.
type BatchCompleted struct {
	EventID     uuid.UUID     `json:"event_id"`
	BatchID     uuid.UUID     `json:"batch_id"`
	Operation   string        `json:"operation"`
	Status      string        `json:"status"`
	Total       int           `json:"total"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	Cancelled   int           `json:"cancelled"`
	Message     string        `json:"message"`
	Failures    []ItemFailure `json:"failures"`
	CompletedAt time.Time     `json:"completed_at"`
}
