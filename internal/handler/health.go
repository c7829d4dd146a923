package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

type pinger interface {
	PingContext(ctx context.Context) error
}

type mirrorPinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	db     pinger
	mirror mirrorPinger
}

func NewHealthHandler(db pinger, mirror mirrorPinger) *HealthHandler {
	return &HealthHandler{db: db, mirror: mirror}
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness reports down when either store is unreachable.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	httpStatus := http.StatusOK
	checks := map[string]string{"database": "ok", "mirror": "ok"}

	if err := h.db.PingContext(ctx); err != nil {
		slog.Warn("readiness check failed: database unreachable", "error", err)
		checks["database"] = "down"
		httpStatus = http.StatusServiceUnavailable
	}
	if err := h.mirror.Ping(ctx); err != nil {
		slog.Warn("readiness check failed: mirror unreachable", "error", err)
		checks["mirror"] = "down"
		httpStatus = http.StatusServiceUnavailable
	}

	overallStatus := "ok"
	if httpStatus != http.StatusOK {
		overallStatus = "down"
	}

	RespondJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}
