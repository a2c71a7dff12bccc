package internal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitortracker/internal/logging"
)

type recordedCount struct {
	page  string
	count int
}

type memoryHistory struct {
	mu      sync.Mutex
	records []recordedCount
	err     error
}

func (m *memoryHistory) RecordCount(_ context.Context, page string, count int, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, recordedCount{page: page, count: count})
	return nil
}

func (m *memoryHistory) snapshot() []recordedCount {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]recordedCount(nil), m.records...)
}

func TestRecorderPersistsEvents(t *testing.T) {
	events := NewEventPublisher()
	defer events.Close()
	history := &memoryHistory{}
	recorder := NewHistoryRecorder(events, history, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		recorder.Run(ctx)
		close(done)
	}()

	events.Publish(PresenceEvent{Page: "/a", Count: 1, At: time.Now()})
	events.Publish(PresenceEvent{Page: "/a", Count: 2, At: time.Now()})

	assert.Eventually(t, func() bool { return len(history.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []recordedCount{{"/a", 1}, {"/a", 2}}, history.snapshot())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("recorder did not stop on cancel")
	}
}

func TestRecorderSurvivesStoreErrors(t *testing.T) {
	events := NewEventPublisher()
	history := &memoryHistory{err: errors.New("database is locked")}
	recorder := NewHistoryRecorder(events, history, logging.Discard())

	done := make(chan struct{})
	go func() {
		recorder.Run(context.Background())
		close(done)
	}()

	events.Publish(PresenceEvent{Page: "/a", Count: 1, At: time.Now()})
	events.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("recorder did not stop when the bus shut down")
	}
	require.Empty(t, history.snapshot())
}

func TestPublishAfterCloseIsDropped(t *testing.T) {
	events := NewEventPublisher()
	events.Close()
	events.Close()

	assert.NotPanics(t, func() {
		events.Publish(PresenceEvent{Page: "/a"})
	})
	var nilPublisher *EventPublisher
	assert.NotPanics(t, func() {
		nilPublisher.Publish(PresenceEvent{Page: "/a"})
	})
}
