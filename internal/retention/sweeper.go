// Package retention keeps the history tables bounded. Calls, channels and
// trace records each age out on their own schedule; deleting a call cascades
// to its channels and event log in Postgres, so channel retention only has
// to catch orphans and utility channels.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// CallStore is the slice of the call repository the sweeper needs.
type CallStore interface {
	DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ChannelStore is the slice of the channel repository the sweeper needs.
type ChannelStore interface {
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// TraceStore is the slice of the trace repository the sweeper needs.
type TraceStore interface {
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Options sets the retention windows. Zero disables that sweep.
type Options struct {
	// CallsKeepDays keeps ended calls this many days.
	CallsKeepDays int
	// ChannelsKeepHours keeps channel records this many hours.
	ChannelsKeepHours int
	// TraceKeepDays keeps raw event traces this many days.
	TraceKeepDays int

	// Schedule is a cron expression; defaults to hourly on the hour.
	Schedule string
}

// Sweeper runs the periodic cleanup.
type Sweeper struct {
	calls    CallStore
	channels ChannelStore
	traces   TraceStore
	opts     Options
	log      *slog.Logger
	clock    func() time.Time

	cron *cron.Cron
}

func NewSweeper(calls CallStore, channels ChannelStore, traces TraceStore, opts Options, log *slog.Logger) *Sweeper {
	if opts.Schedule == "" {
		opts.Schedule = "0 * * * *"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		calls:    calls,
		channels: channels,
		traces:   traces,
		opts:     opts,
		log:      log,
		clock:    time.Now,
	}
}

// Start schedules the sweep and returns. Stop tears it down.
func (s *Sweeper) Start() error {
	c := cron.New()
	_, err := c.AddFunc(s.opts.Schedule, func() {
		s.Sweep(context.Background())
	})
	if err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.log.Info("retention sweeper started", "schedule", s.opts.Schedule)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Sweep runs one cleanup round. Each store is swept independently; one
// failing store does not stop the others.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.clock().UTC()

	if s.calls != nil && s.opts.CallsKeepDays > 0 {
		cutoff := now.AddDate(0, 0, -s.opts.CallsKeepDays)
		n, err := s.calls.DeleteEndedBefore(ctx, cutoff)
		s.report("calls", n, err)
	}
	if s.channels != nil && s.opts.ChannelsKeepHours > 0 {
		cutoff := now.Add(-time.Duration(s.opts.ChannelsKeepHours) * time.Hour)
		n, err := s.channels.DeleteCreatedBefore(ctx, cutoff)
		s.report("channels", n, err)
	}
	if s.traces != nil && s.opts.TraceKeepDays > 0 {
		cutoff := now.AddDate(0, 0, -s.opts.TraceKeepDays)
		n, err := s.traces.DeleteCreatedBefore(ctx, cutoff)
		s.report("traces", n, err)
	}
}

func (s *Sweeper) report(table string, deleted int64, err error) {
	if err != nil {
		s.log.Error("retention sweep failed", "table", table, "err", err)
		return
	}
	if deleted > 0 {
		s.log.Info("retention sweep", "table", table, "deleted", deleted)
	}
}
