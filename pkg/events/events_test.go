package events

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/coriolis-mq/coriolis/pkg/metrics"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	b := NewBroker()
	b.Start()
	t.Cleanup(b.Stop)
	return b
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := newTestBroker(t)
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(&Event{Type: EventFlagEnabled, Message: "ff enabled"})

	select {
	case evt := <-sub:
		if evt.Type != EventFlagEnabled {
			t.Errorf("Type = %q, want %q", evt.Type, EventFlagEnabled)
		}
		if evt.Timestamp.IsZero() {
			t.Error("Publish should stamp a zero Timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := newTestBroker(t)
	sub := b.Subscribe()
	b.Unsubscribe(sub)

	b.Publish(&Event{Type: EventNodeLeft})

	if _, ok := <-sub; ok {
		t.Error("unsubscribed channel should be closed, not carry an event")
	}
}

func TestBroadcastDropsOnFullSubscriberBuffer(t *testing.T) {
	b := newTestBroker(t)
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	before := testutil.ToFloat64(metrics.EventsDroppedTotal.WithLabelValues(string(EventPushBack)))

	for i := 0; i < subscriberBufferSize+5; i++ {
		b.Publish(&Event{Type: EventPushBack})
	}
	time.Sleep(50 * time.Millisecond)

	after := testutil.ToFloat64(metrics.EventsDroppedTotal.WithLabelValues(string(EventPushBack)))
	if after <= before {
		t.Errorf("EventsDroppedTotal did not increase: before=%v after=%v", before, after)
	}
}

func TestSubscriberCountReflectsSubscriptions(t *testing.T) {
	b := newTestBroker(t)
	if got := b.SubscriberCount(); got != 0 {
		t.Fatalf("SubscriberCount() = %d, want 0", got)
	}

	sub := b.Subscribe()
	if got := b.SubscriberCount(); got != 1 {
		t.Errorf("SubscriberCount() = %d, want 1", got)
	}

	b.Unsubscribe(sub)
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", got)
	}
}
