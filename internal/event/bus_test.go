package event

import (
	"reflect"
	"testing"
)

func TestEmitDeliversToSubscriber(t *testing.T) {
	b := NewBus()

	var got []Event
	b.Subscribe("doc:changed", func(evt Event) {
		got = append(got, evt)
	})

	b.Emit("doc:changed", map[string]any{"path": "a.b"})

	if len(got) != 1 {
		t.Fatalf("handler invoked %d times, want 1", len(got))
	}
	if got[0].Type != "doc:changed" {
		t.Errorf("Type = %q, want %q", got[0].Type, "doc:changed")
	}
	want := map[string]any{"path": "a.b"}
	if !reflect.DeepEqual(got[0].Payload, want) {
		t.Errorf("Payload = %v, want %v", got[0].Payload, want)
	}
}

func TestEmitNoSubscribers(t *testing.T) {
	b := NewBus()
	// Must not panic.
	b.Emit("nobody:listening", nil)
}

func TestSubscriptionOrder(t *testing.T) {
	b := NewBus()

	var order []int
	for i := 1; i <= 5; i++ {
		n := i
		b.Subscribe("x", func(Event) { order = append(order, n) })
	}

	b.Emit("x", nil)

	want := []int{1, 2, 3, 4, 5}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("delivery order = %v, want %v", order, want)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := NewBus()

	var payloads []any
	unsub := b.Subscribe("x", func(evt Event) {
		payloads = append(payloads, evt.Payload)
	})

	b.Emit("x", map[string]any{"a": 1})
	unsub()
	b.Emit("x", map[string]any{"a": 2})

	if len(payloads) != 1 {
		t.Fatalf("handler invoked %d times, want 1", len(payloads))
	}
	want := map[string]any{"a": 1}
	if !reflect.DeepEqual(payloads[0], want) {
		t.Errorf("payload = %v, want %v", payloads[0], want)
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	b := NewBus()
	unsub := b.Subscribe("x", func(Event) {})
	unsub()
	unsub() // second call must be a no-op

	if n := b.SubscriberCount("x"); n != 0 {
		t.Errorf("SubscriberCount = %d, want 0", n)
	}
}

func TestNoReplayForLateSubscriber(t *testing.T) {
	b := NewBus()
	b.Emit("x", "early")

	called := false
	b.Subscribe("x", func(Event) { called = true })

	if called {
		t.Error("late subscriber observed an earlier emission")
	}
}

func TestPanickingHandlerDoesNotBlockOthers(t *testing.T) {
	b := NewBus()

	var after bool
	b.Subscribe("x", func(Event) { panic("boom") })
	b.Subscribe("x", func(Event) { after = true })

	b.Emit("x", nil)

	if !after {
		t.Error("handler after a panicking handler was not invoked")
	}
}

func TestNilHandlerIgnored(t *testing.T) {
	b := NewBus()
	unsub := b.Subscribe("x", nil)
	unsub()

	if n := b.SubscriberCount("x"); n != 0 {
		t.Errorf("SubscriberCount = %d, want 0", n)
	}
}
