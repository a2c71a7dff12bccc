package internal

import (
	"context"
	"log/slog"
	"time"
)

// HistoryStore is the slice of storage.Store the recorder writes through.
type HistoryStore interface {
	RecordCount(ctx context.Context, page string, count int, at time.Time) error
}

const recordTimeout = 2 * time.Second

// HistoryRecorder persists every presence event. Failures are logged and dropped; live counting
// never waits on the database.
type HistoryRecorder struct {
	events *EventPublisher
	store  HistoryStore
	logger *slog.Logger
	sub    chan PresenceEvent
}

// NewHistoryRecorder subscribes immediately so no event published after it returns is missed.
func NewHistoryRecorder(events *EventPublisher, store HistoryStore, logger *slog.Logger) *HistoryRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryRecorder{
		events: events,
		store:  store,
		logger: logger.With("component", "recorder"),
		sub:    events.Subscribe(),
	}
}

// Run consumes events until ctx is cancelled or the bus shuts down.
func (r *HistoryRecorder) Run(ctx context.Context) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			r.events.Unsubscribe(r.sub)
		case <-done:
		}
	}()
	// the subscription channel closes once Unsubscribe or bus shutdown lands
	for event := range r.sub {
		if ctx.Err() != nil {
			continue
		}
		r.record(ctx, event)
	}
	r.logger.Debug("recorder stopped")
}

func (r *HistoryRecorder) record(ctx context.Context, event PresenceEvent) {
	recordCtx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()
	if err := r.store.RecordCount(recordCtx, event.Page, event.Count, event.At); err != nil {
		r.logger.Warn("record presence", "page", event.Page, "count", event.Count, "error", err)
	}
}
