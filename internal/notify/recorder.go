package notify

import (
	"context"
	"sync"
)

// Recorder captures notifications in memory. Useful for tests.
type Recorder struct {
	mu         sync.Mutex
	Messages   []RecordedMessage
	Subs       []RecordedSub
	Broadcasts []RecordedBroadcast
}

type RecordedMessage struct {
	UserID string
	Msg    Message
}

type RecordedSub struct {
	UserID       string
	CallUniqueID string
}

type RecordedBroadcast struct {
	Action string
	Model  string
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) NotifyUser(ctx context.Context, userID string, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Messages = append(r.Messages, RecordedMessage{UserID: userID, Msg: msg})
	return nil
}

func (r *Recorder) Subscribe(ctx context.Context, userID, callUniqueID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Subs = append(r.Subs, RecordedSub{UserID: userID, CallUniqueID: callUniqueID})
	return nil
}

func (r *Recorder) Broadcast(ctx context.Context, action, model string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Broadcasts = append(r.Broadcasts, RecordedBroadcast{Action: action, Model: model})
	return nil
}
