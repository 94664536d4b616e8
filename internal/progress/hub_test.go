package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mgrall/collector/internal/collector"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (s *captureSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

func (s *captureSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func validEvent(id string, stage Stage) Event {
	return Event{
		JobID:    id,
		Platform: collector.PlatformWeb,
		TS:       time.Now().UTC(),
		Stage:    stage,
	}
}

func TestHubDeliversToSinks(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchWait: 10 * time.Millisecond}, sink)

	hub.Emit(validEvent("job-1", StageJobStart))
	hub.Emit(validEvent("job-1", StageJobDone))

	require.Eventually(t, func() bool { return sink.count() == 2 },
		time.Second, 5*time.Millisecond)
	require.NoError(t, hub.Close(context.Background()))
	require.True(t, sink.closed)
}

func TestHubDropsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchWait: 10 * time.Millisecond}, sink)

	hub.Emit(Event{})
	hub.Emit(Event{JobID: "job-1", TS: time.Now(), Stage: "BOGUS"})
	hub.Emit(validEvent("job-1", StageJobStart))

	require.NoError(t, hub.Close(context.Background()))
	require.Equal(t, 1, sink.count())
}

func TestHubCloseFlushesPending(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchWait: time.Hour}, sink)
	for i := 0; i < 10; i++ {
		hub.Emit(validEvent("job-1", StageJobProgress))
	}

	require.NoError(t, hub.Close(context.Background()))
	require.Equal(t, 10, sink.count())
}

func TestHubEmitAfterCloseIsNoOp(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{}, sink)
	require.NoError(t, hub.Close(context.Background()))

	hub.Emit(validEvent("job-1", StageJobStart))
	require.Zero(t, sink.count())
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	require.Error(t, Event{}.Validate())
	require.Error(t, Event{JobID: "a", Stage: StageJobStart}.Validate())

	bad := validEvent("a", StageJobProgress)
	bad.Percent = 150
	require.Error(t, bad.Validate())

	good := validEvent("a", StageJobProgress)
	good.Percent = 50
	require.NoError(t, good.Validate())
}
