package service

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/josh-kwaku/simsync/internal/domain"
)

// Collection is the in-memory view of the loaded accounts. Writers build a
// new slice and swap it in; readers always see a complete snapshot.
type Collection struct {
	mu    sync.Mutex
	items atomic.Pointer[[]domain.AccountRecord]
}

func NewCollection() *Collection {
	c := &Collection{}
	empty := []domain.AccountRecord{}
	c.items.Store(&empty)
	return c
}

func (c *Collection) load() []domain.AccountRecord {
	return *c.items.Load()
}

// Snapshot returns a copy of the current record list.
func (c *Collection) Snapshot() []domain.AccountRecord {
	return slices.Clone(c.load())
}

func (c *Collection) Len() int {
	return len(c.load())
}

func (c *Collection) Find(userID domain.UserID) (domain.AccountRecord, bool) {
	for _, r := range c.load() {
		if r.UserID == userID {
			return r.Clone(), true
		}
	}
	return domain.AccountRecord{}, false
}

func (c *Collection) FindByMSISDN(msisdn string) (domain.AccountRecord, bool) {
	for _, r := range c.load() {
		if r.MSISDN == msisdn {
			return r.Clone(), true
		}
	}
	return domain.AccountRecord{}, false
}

// Search matches query as a substring of the msisdn. An empty query matches
// everything.
func (c *Collection) Search(query string) []domain.AccountRecord {
	query = strings.TrimSpace(query)
	out := []domain.AccountRecord{}
	for _, r := range c.load() {
		if strings.Contains(r.MSISDN, query) {
			out = append(out, r.Clone())
		}
	}
	return out
}

func (c *Collection) swap(fn func(cur []domain.AccountRecord) []domain.AccountRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := fn(c.load())
	if next == nil {
		next = []domain.AccountRecord{}
	}
	c.items.Store(&next)
}

func (c *Collection) Replace(recs []domain.AccountRecord) {
	c.swap(func([]domain.AccountRecord) []domain.AccountRecord {
		return slices.Clone(recs)
	})
}

// Merge replaces records with matching user_id in place and appends the rest.
func (c *Collection) Merge(recs []domain.AccountRecord) {
	c.swap(func(cur []domain.AccountRecord) []domain.AccountRecord {
		next := slices.Clone(cur)
		index := make(map[domain.UserID]int, len(next))
		for i, r := range next {
			index[r.UserID] = i
		}
		for _, r := range recs {
			if i, ok := index[r.UserID]; ok {
				next[i] = r
				continue
			}
			index[r.UserID] = len(next)
			next = append(next, r)
		}
		return next
	})
}

// Prepend puts recs ahead of the current records, skipping any user_id
// already present.
func (c *Collection) Prepend(recs []domain.AccountRecord) {
	c.swap(func(cur []domain.AccountRecord) []domain.AccountRecord {
		seen := make(map[domain.UserID]bool, len(cur))
		for _, r := range cur {
			seen[r.UserID] = true
		}
		next := make([]domain.AccountRecord, 0, len(recs)+len(cur))
		for _, r := range recs {
			if !seen[r.UserID] {
				seen[r.UserID] = true
				next = append(next, r)
			}
		}
		return append(next, cur...)
	})
}

func (c *Collection) Upsert(rec domain.AccountRecord) {
	c.Merge([]domain.AccountRecord{rec})
}

// Update applies fn to every record whose user_id is in ids.
func (c *Collection) Update(ids map[domain.UserID]bool, fn func(domain.AccountRecord) domain.AccountRecord) {
	c.swap(func(cur []domain.AccountRecord) []domain.AccountRecord {
		next := slices.Clone(cur)
		for i, r := range next {
			if ids[r.UserID] {
				next[i] = fn(r.Clone())
			}
		}
		return next
	})
}

func (c *Collection) Remove(userID domain.UserID) {
	c.swap(func(cur []domain.AccountRecord) []domain.AccountRecord {
		return slices.DeleteFunc(slices.Clone(cur), func(r domain.AccountRecord) bool {
			return r.UserID == userID
		})
	})
}

// CancelRegistry tracks the cancel functions of in-flight batches so they
// can all be stopped at once.
type CancelRegistry struct {
	mu     sync.Mutex
	active map[uuid.UUID]context.CancelFunc
	closed bool
}

func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{active: make(map[uuid.UUID]context.CancelFunc)}
}

// Begin derives a cancellable context for one batch. The returned release
// func must be called when the batch ends. After Close, Begin hands out
// contexts that are already cancelled.
func (r *CancelRegistry) Begin(ctx context.Context) (uuid.UUID, context.Context, func()) {
	id := uuid.New()
	ctx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		cancel()
		return id, ctx, func() {}
	}
	r.active[id] = cancel

	return id, ctx, func() {
		r.mu.Lock()
		delete(r.active, id)
		r.mu.Unlock()
		cancel()
	}
}

func (r *CancelRegistry) CancelAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.active)
	for id, cancel := range r.active {
		cancel()
		delete(r.active, id)
	}
	return n
}

func (r *CancelRegistry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

func (r *CancelRegistry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.CancelAll()
}
