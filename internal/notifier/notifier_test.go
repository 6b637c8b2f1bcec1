package notifier

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Notify(_ context.Context, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *captureSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(sink, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	d.Publish(Event{Kind: EventProgress, BookingID: "a", Stage: "one"})
	d.Publish(Event{Kind: EventProgress, BookingID: "a", Stage: "two"})
	d.Publish(Event{Kind: EventTerminal, BookingID: "a", Status: "succeeded"})

	require.Eventually(t, func() bool { return len(sink.all()) == 3 },
		2*time.Second, 10*time.Millisecond)
	cancel()
	d.Wait()

	got := sink.all()
	assert.Equal(t, "one", got[0].Stage)
	assert.Equal(t, "two", got[1].Stage)
	assert.Equal(t, EventTerminal, got[2].Kind)
}

func TestDispatcherFlushesBufferOnShutdown(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(sink, zap.NewNop().Sugar())

	// Publish before Run so everything sits in the buffer, then run with an
	// already-cancelled context: the drain path must still deliver.
	for i := 0; i < 5; i++ {
		d.Publish(Event{Kind: EventProgress, BookingID: "a"})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)
	d.Wait()

	assert.Len(t, sink.all(), 5)
}

func TestWaitBlocksUntilRunDrains(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(sink, zap.NewNop().Sugar())
	d.Publish(Event{Kind: EventTerminal, BookingID: "a"})

	waited := make(chan struct{})
	go func() {
		d.Wait()
		close(waited)
	}()

	// Run has not started: Wait must not return yet, even though no
	// goroutine is draining.
	select {
	case <-waited:
		t.Fatal("Wait returned before Run drained the buffer")
	case <-time.After(50 * time.Millisecond):
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)

	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after Run finished")
	}
	assert.Len(t, sink.all(), 1)
}

type panickySink struct{}

func (panickySink) Notify(context.Context, Event) { panic("sink bug") }

func TestDispatcherSurvivesSinkPanic(t *testing.T) {
	d := NewDispatcher(panickySink{}, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	d.Publish(Event{Kind: EventTerminal, BookingID: "a"})
	d.Publish(Event{Kind: EventTerminal, BookingID: "b"})

	time.Sleep(50 * time.Millisecond)
	cancel()
	d.Wait() // must return, not crash
}

func TestMultiSinkFansOut(t *testing.T) {
	a := &captureSink{}
	b := &captureSink{}
	m := MultiSink{a, b}

	m.Notify(context.Background(), Event{BookingID: "x"})

	assert.Len(t, a.all(), 1)
	assert.Len(t, b.all(), 1)
}

func TestFormatEvent(t *testing.T) {
	success := formatEvent(Event{Kind: EventTerminal, Status: "succeeded", Detail: "Fri Jul 4 19:00, court court-1"})
	assert.Contains(t, success, "Booking confirmed")
	assert.Contains(t, success, "court-1")

	failed := formatEvent(Event{
		Kind:         EventTerminal,
		Status:       "failed",
		Detail:       "slot taken",
		Alternatives: []string{"18:00", "20:00"},
	})
	assert.Contains(t, failed, "Booking failed")
	assert.Contains(t, failed, "18:00, 20:00")

	progress := formatEvent(Event{Kind: EventProgress, Stage: "logging in"})
	assert.Contains(t, progress, "logging in")
}
