package eventbus_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/internal/eventbus"
	"github.com/flowforge/flowforge/internal/model"
)

func collect(t *testing.T, ch <-chan model.ProgressEvent, n int) []model.ProgressEvent {
	t.Helper()

	events := make([]model.ProgressEvent, 0, n)
	timeout := time.After(2 * time.Second)
	for len(events) < n {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %d of %d", len(events), n)
		}
	}
	return events
}

func TestBusOrderedDelivery(t *testing.T) {
	bus, err := eventbus.NewBus(eventbus.BusConfig{})
	require.NoError(t, err)

	ch, cancel := bus.Subscribe("job-1")
	defer cancel()

	for i := 0; i < 10; i++ {
		bus.Publish("job-1", model.ProgressEvent{Kind: model.EventPhaseChanged})
	}

	events := collect(t, ch, 10)

	require.Len(t, events, 10)
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Sequence)
		assert.Equal(t, "job-1", ev.JobID)
	}
}

func TestBusIndependentSubscriberCursors(t *testing.T) {
	bus, err := eventbus.NewBus(eventbus.BusConfig{})
	require.NoError(t, err)

	early, cancelEarly := bus.Subscribe("job-1")
	defer cancelEarly()

	bus.Publish("job-1", model.ProgressEvent{Kind: model.EventPhaseChanged})
	bus.Publish("job-1", model.ProgressEvent{Kind: model.EventPhaseChanged})

	// The late subscriber only sees events from its join point forward.
	late, cancelLate := bus.Subscribe("job-1")
	defer cancelLate()

	bus.Publish("job-1", model.ProgressEvent{Kind: model.EventStepCaptured})

	earlyEvents := collect(t, early, 3)
	lateEvents := collect(t, late, 1)

	assert.Equal(t, uint64(1), earlyEvents[0].Sequence)
	assert.Equal(t, uint64(3), lateEvents[0].Sequence)
	assert.Equal(t, model.EventStepCaptured, lateEvents[0].Kind)
}

func TestBusNoCrossJobInterleaving(t *testing.T) {
	bus, err := eventbus.NewBus(eventbus.BusConfig{})
	require.NoError(t, err)

	ch1, cancel1 := bus.Subscribe("job-1")
	defer cancel1()
	ch2, cancel2 := bus.Subscribe("job-2")
	defer cancel2()

	bus.Publish("job-1", model.ProgressEvent{Kind: model.EventPhaseChanged})
	bus.Publish("job-2", model.ProgressEvent{Kind: model.EventPhaseChanged})
	bus.Publish("job-1", model.ProgressEvent{Kind: model.EventPhaseChanged})

	ev1 := collect(t, ch1, 2)
	ev2 := collect(t, ch2, 1)

	assert.Equal(t, uint64(1), ev1[0].Sequence)
	assert.Equal(t, uint64(2), ev1[1].Sequence)
	assert.Equal(t, uint64(1), ev2[0].Sequence)
}

func TestBusSlowSubscriberDropsOldest(t *testing.T) {
	bus, err := eventbus.NewBus(eventbus.BusConfig{SubscriberBuffer: 4})
	require.NoError(t, err)

	ch, cancel := bus.Subscribe("job-1")
	defer cancel()

	// Nobody reads while we overflow the buffer. Publishing must not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 12; i++ {
			bus.Publish("job-1", model.ProgressEvent{Kind: model.EventStepCaptured})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	// Drain until the stream tail (sequence 12) arrives. The pump may have
	// picked up an event before the overflow, so the exact drop count varies,
	// the invariants below do not.
	var events []model.ProgressEvent
	timeout := time.After(2 * time.Second)
	for {
		var tail bool
		select {
		case ev := <-ch:
			events = append(events, ev)
			tail = ev.Sequence == 12 && ev.Kind == model.EventStepCaptured
		case <-timeout:
			t.Fatal("timed out draining subscriber")
		}
		if tail {
			break
		}
	}

	delivered, droppedTotal := 0, 0
	var prev uint64
	for _, ev := range events {
		assert.Greater(t, ev.Sequence, prev)
		prev = ev.Sequence
		if ev.Kind == model.EventDropped {
			droppedTotal += ev.Dropped
			continue
		}
		assert.Equal(t, model.EventStepCaptured, ev.Kind)
		delivered++
	}

	// Every published event is accounted for, either delivered or dropped.
	assert.Equal(t, 12, delivered+droppedTotal)
	assert.Greater(t, droppedTotal, 0, "buffer overflow must drop events")
}

func TestBusCloseDrainsAndCloses(t *testing.T) {
	bus, err := eventbus.NewBus(eventbus.BusConfig{})
	require.NoError(t, err)

	ch, cancel := bus.Subscribe("job-1")
	defer cancel()

	bus.Publish("job-1", model.ProgressEvent{Kind: model.EventPhaseChanged, Phase: model.JobPhaseCompleted})
	bus.Close("job-1")

	events := collect(t, ch, 1)
	require.Len(t, events, 1)
	assert.Equal(t, model.JobPhaseCompleted, events[0].Phase)

	// Channel closes after the drain.
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after job stream close")
	}

	// Subscribing to a closed stream yields an already closed channel.
	ch2, cancel2 := bus.Subscribe("job-1")
	defer cancel2()
	_, ok := <-ch2
	assert.False(t, ok)
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus, err := eventbus.NewBus(eventbus.BusConfig{})
	require.NoError(t, err)

	ch, cancel := bus.Subscribe("job-1")
	cancel()

	bus.Publish("job-1", model.ProgressEvent{Kind: model.EventPhaseChanged})

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "cancelled subscriber must not receive events")
	case <-time.After(500 * time.Millisecond):
		t.Fatal("channel not closed after unsubscribe")
	}
}
