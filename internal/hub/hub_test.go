package hub

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func recvOne(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestHub_FanOutByChannel(t *testing.T) {
	t.Parallel()

	h := New()
	defer h.Close()

	_, incidents := h.Subscribe([]string{ChannelIncidents})
	_, alerts := h.Subscribe([]string{ChannelAlerts})
	_, both := h.Subscribe([]string{ChannelIncidents, ChannelAlerts})

	h.Publish(Event{Type: EventNewIncident, Channel: ChannelIncidents, EntityID: "inc-1"})

	for _, ch := range []<-chan Event{incidents, both} {
		ev := recvOne(t, ch)
		if ev.EntityID != "inc-1" {
			t.Errorf("EntityID = %q, want inc-1", ev.EntityID)
		}
		if ev.ServerTime.IsZero() {
			t.Error("ServerTime not stamped")
		}
	}

	select {
	case ev := <-alerts:
		t.Errorf("alerts subscriber got %v, want nothing", ev)
	default:
	}
}

func TestHub_UnknownChannelIgnored(t *testing.T) {
	t.Parallel()

	h := New()
	defer h.Close()

	_, ch := h.Subscribe([]string{"weather", ChannelAlerts})

	h.Publish(Event{Type: EventNewAlert, Channel: ChannelAlerts, EntityID: "a-1"})
	ev := recvOne(t, ch)
	if ev.EntityID != "a-1" {
		t.Errorf("EntityID = %q, want a-1", ev.EntityID)
	}
}

func TestHub_SetChannelsSwitchesSubscription(t *testing.T) {
	t.Parallel()

	h := New()
	defer h.Close()

	id, ch := h.Subscribe([]string{ChannelIncidents})
	h.SetChannels(id, []string{ChannelAlerts})

	h.Publish(Event{Type: EventNewIncident, Channel: ChannelIncidents, EntityID: "inc-1"})
	h.Publish(Event{Type: EventNewAlert, Channel: ChannelAlerts, EntityID: "a-1"})

	ev := recvOne(t, ch)
	if ev.EntityID != "a-1" {
		t.Errorf("EntityID = %q, want only the alert after SetChannels", ev.EntityID)
	}
}

func TestHub_SlowSubscriberIsSkippedNotBlocked(t *testing.T) {
	t.Parallel()

	h := New()
	defer h.Close()

	_, ch := h.Subscribe([]string{ChannelAlerts})

	// Never drained: the buffer fills, then publishes must drop rather
	// than block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer+10; i++ {
			h.Publish(Event{Type: EventNewAlert, Channel: ChannelAlerts, Payload: json.RawMessage(`{}`)})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	if got := len(ch); got != subscriberBuffer {
		t.Errorf("buffered events = %d, want %d (overflow dropped)", got, subscriberBuffer)
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	t.Parallel()

	h := New()
	defer h.Close()

	id, ch := h.Subscribe([]string{ChannelIncidents})
	if got := h.SubscriberCount(); got != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", got)
	}

	h.Unsubscribe(id)
	if got := h.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount = %d, want 0", got)
	}
	if _, ok := <-ch; ok {
		t.Error("channel still open after Unsubscribe")
	}

	// Idempotent.
	h.Unsubscribe(id)
}

func TestHub_CloseDropsAllAndRejectsNewWork(t *testing.T) {
	t.Parallel()

	h := New()
	_, ch := h.Subscribe([]string{ChannelIncidents})

	h.Close()
	if _, ok := <-ch; ok {
		t.Error("channel still open after Close")
	}

	_, late := h.Subscribe([]string{ChannelIncidents})
	if _, ok := <-late; ok {
		t.Error("late Subscribe returned an open channel")
	}

	// Publish after Close must not panic.
	h.Publish(Event{Type: EventNewIncident, Channel: ChannelIncidents})
}

func TestHub_ConcurrentPublishAndSubscribe(t *testing.T) {
	t.Parallel()

	h := New()
	defer h.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, ch := h.Subscribe([]string{ChannelAlerts})
			for j := 0; j < 50; j++ {
				h.Publish(Event{Type: EventNewAlert, Channel: ChannelAlerts})
			}
			// Drain whatever arrived, then leave.
			for len(ch) > 0 {
				<-ch
			}
			h.Unsubscribe(id)
		}()
	}
	wg.Wait()

	if got := h.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount = %d, want 0", got)
	}
}
