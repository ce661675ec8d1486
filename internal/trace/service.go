package trace

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"pbxlink/internal/ami"
)

// Repository is the persistence contract for trace records.
//
// It MUST be append-only (plus age-based deletion for retention).
type Repository interface {
	Append(ctx context.Context, r Record) error
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Tracer records raw event history when tracing is enabled.
// With tracing off every call is a cheap no-op.
type Tracer struct {
	repo    Repository
	log     *slog.Logger
	enabled bool
	clock   func() time.Time
}

func NewTracer(repo Repository, enabled bool, log *slog.Logger) *Tracer {
	if log == nil {
		log = slog.Default()
	}
	return &Tracer{repo: repo, log: log, enabled: enabled, clock: time.Now}
}

// Enabled reports whether tracing is active.
func (t *Tracer) Enabled() bool { return t != nil && t.enabled && t.repo != nil }

// Capture stores the raw event tied to the matched channel, best-effort.
func (t *Tracer) Capture(ctx context.Context, channelUniqueID string, evt ami.Event) {
	if !t.Enabled() {
		return
	}
	payload, err := json.Marshal(evt.Map())
	if err != nil {
		t.log.Error("trace: marshal event", "err", err)
		return
	}
	rec := Record{
		ID:              uuid.NewString(),
		ChannelUniqueID: channelUniqueID,
		Event:           evt.Type(),
		SystemName:      evt.Get("SystemName"),
		Payload:         string(payload),
		CreatedAt:       t.clock().UTC(),
	}
	if err := t.repo.Append(ctx, rec); err != nil {
		t.log.Error("trace: append failed", "event", rec.Event, "err", err)
	}
}

var ErrInvalidRecord = errors.New("trace: invalid record")
