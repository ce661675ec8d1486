package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory call repository useful for tests.
// It is not intended for production use.
type MemoryRepo struct {
	mu     sync.Mutex
	calls  map[string]Call
	events []CallEvent
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{calls: make(map[string]Call)}
}

func (r *MemoryRepo) GetByUniqueID(ctx context.Context, uniqueID string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[uniqueID]
	if !ok {
		return Call{}, ErrNotFound
	}
	return cloneCall(c), nil
}

func (r *MemoryRepo) Create(ctx context.Context, c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[c.UniqueID]; ok {
		return ErrDuplicate
	}
	r.calls[c.UniqueID] = cloneCall(c)
	return nil
}

func (r *MemoryRepo) Update(ctx context.Context, c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[c.UniqueID]; !ok {
		return ErrNotFound
	}
	r.calls[c.UniqueID] = cloneCall(c)
	return nil
}

func (r *MemoryRepo) List(ctx context.Context, f Filter) ([]Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.calls {
		if f.ActiveOnly && !c.IsActive {
			continue
		}
		out = append(out, cloneCall(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Started.After(out[j].Started) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *MemoryRepo) DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for id, c := range r.calls {
		if !c.Ended.IsZero() && c.Ended.Before(cutoff) {
			delete(r.calls, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *MemoryRepo) AppendEvent(ctx context.Context, e CallEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *MemoryRepo) EventsForCall(ctx context.Context, callUniqueID string) ([]CallEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CallEvent
	for _, e := range r.events {
		if e.CallUniqueID == callUniqueID {
			out = append(out, e)
		}
	}
	return out, nil
}

func cloneCall(c Call) Call {
	out := c
	out.CalledUserIDs = append([]string(nil), c.CalledUserIDs...)
	return out
}
