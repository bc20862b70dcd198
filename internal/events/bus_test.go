package events

import "testing"

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventBufferReady)

	bus.Publish(EventBufferReady, Payload{"track_id": "abc"})

	select {
	case payload := <-sub:
		if payload["track_id"] != "abc" {
			t.Fatalf("unexpected payload: %v", payload)
		}
	default:
		t.Fatal("expected payload to be delivered")
	}
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventPositionChanged)

	for i := 0; i < 100; i++ {
		bus.Publish(EventPositionChanged, Payload{"us": i})
	}

	// The channel has a bounded capacity; Publish must drop rather than
	// block when a subscriber falls behind.
	if len(sub) == 0 {
		t.Fatal("expected subscriber channel to retain at least one payload")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventFinished)
	bus.Unsubscribe(EventFinished, sub)

	_, ok := <-sub
	if ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
}
