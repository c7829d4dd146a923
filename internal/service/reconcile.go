package service

import (
	"context"
	"fmt"

	"github.com/josh-kwaku/simsync/internal/domain"
	"github.com/josh-kwaku/simsync/internal/logging"
)

// Reconciler copies records that exist only in the mirror into the local
// store. It never overwrites or deletes local records.
type Reconciler struct {
	local      recordStore
	mirror     recordMirror
	collection *Collection
}

func NewReconciler(local recordStore, mirror recordMirror, collection *Collection) *Reconciler {
	return &Reconciler{local: local, mirror: mirror, collection: collection}
}

// Sync returns the number of records copied into the local store.
func (r *Reconciler) Sync(ctx context.Context) (int, error) {
	log := logging.FromContext(ctx)

	remote, err := r.mirror.GetAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("Sync: read mirror: %w", err)
	}
	local, err := r.local.GetAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("Sync: read local: %w", err)
	}

	known := make(map[domain.UserID]bool, len(local))
	for _, rec := range local {
		known[rec.UserID] = true
	}

	var added []domain.AccountRecord
	for _, rec := range remote {
		if rec.UserID == "" || known[rec.UserID] {
			continue
		}
		if err := ctx.Err(); err != nil {
			r.prepend(added)
			return len(added), fmt.Errorf("Sync: %w", err)
		}
		rec = rec.Sanitize()
		if err := r.local.Upsert(ctx, &rec); err != nil {
			log.Error("sync upsert failed", "user_id", rec.UserID, "error", err)
			continue
		}
		known[rec.UserID] = true
		added = append(added, rec)
	}

	r.prepend(added)
	if len(added) > 0 {
		log.Info("mirror records synced", "added", len(added))
	}
	return len(added), nil
}

func (r *Reconciler) prepend(added []domain.AccountRecord) {
	if r.collection == nil || len(added) == 0 || r.collection.Len() == 0 {
		return
	}
	r.collection.Prepend(added)
}
