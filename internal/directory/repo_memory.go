package directory

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory directory useful for tests and for static
// config-driven deployments without a directory database.
type MemoryRepo struct {
	mu       sync.Mutex
	users    map[string]PbxUser
	channels []UserChannel
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{users: make(map[string]PbxUser)}
}

// AddUser registers a user and its channels.
func (r *MemoryRepo) AddUser(u PbxUser, channels ...UserChannel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.UserID] = u
	for _, c := range channels {
		c.UserID = u.UserID
		r.channels = append(r.channels, c)
	}
}

func (r *MemoryRepo) FindChannel(ctx context.Context, shortChannel, systemName string) (UserChannel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.channels {
		if c.Name == shortChannel && c.SystemName == systemName {
			return c, nil
		}
	}
	return UserChannel{}, ErrNotFound
}

func (r *MemoryRepo) FindUserByExten(ctx context.Context, exten string) (PbxUser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Exten != "" && u.Exten == exten {
			return u, nil
		}
	}
	return PbxUser{}, ErrNotFound
}

func (r *MemoryRepo) GetUser(ctx context.Context, userID string) (PbxUser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return PbxUser{}, ErrNotFound
	}
	return u, nil
}

func (r *MemoryRepo) UserChannels(ctx context.Context, userID string) ([]UserChannel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []UserChannel
	for _, c := range r.channels {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}
