package channels

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository used in tests and single-node
// deployments without Postgres.
type MemoryRepo struct {
	mu       sync.RWMutex
	channels map[string]Channel // keyed by ID
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{channels: make(map[string]Channel)}
}

func (r *MemoryRepo) GetActiveByUniqueID(ctx context.Context, uniqueID string) (Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ch := range r.channels {
		if ch.UniqueID == uniqueID && ch.IsActive {
			return ch, nil
		}
	}
	return Channel{}, ErrNotFound
}

func (r *MemoryRepo) GetLatestByUniqueID(ctx context.Context, uniqueID string) (Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		found bool
		best  Channel
	)
	for _, ch := range r.channels {
		if ch.UniqueID != uniqueID {
			continue
		}
		if !found || ch.CreatedAt.After(best.CreatedAt) {
			best = ch
			found = true
		}
	}
	if !found {
		return Channel{}, ErrNotFound
	}
	return best, nil
}

func (r *MemoryRepo) Create(ctx context.Context, ch Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch.IsActive {
		for _, existing := range r.channels {
			if existing.UniqueID == ch.UniqueID && existing.IsActive {
				return ErrActiveExists
			}
		}
	}
	r.channels[ch.ID] = ch
	return nil
}

func (r *MemoryRepo) Update(ctx context.Context, ch Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.channels[ch.ID]; !ok {
		return ErrNotFound
	}
	r.channels[ch.ID] = ch
	return nil
}

func (r *MemoryRepo) List(ctx context.Context, f Filter) ([]Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		if f.ActiveOnly && !ch.IsActive {
			continue
		}
		if f.SystemName != "" && ch.SystemName != f.SystemName {
			continue
		}
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *MemoryRepo) ListByCall(ctx context.Context, callUniqueID string) ([]Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Channel
	for _, ch := range r.channels {
		if ch.CallUniqueID == callUniqueID {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepo) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, ch := range r.channels {
		if ch.CreatedAt.Before(cutoff) {
			delete(r.channels, id)
			n++
		}
	}
	return n, nil
}
