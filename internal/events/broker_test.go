package events

import (
	"testing"
	"time"
)

func TestMemoryPublishSubscribe(t *testing.T) {
	b := NewMemory()
	sid := "s1"
	ch := b.Subscribe(sid)

	evt := Event{Type: TypeSessionState, Data: map[string]any{"state": "reviewing"}}
	b.Publish(sid, evt)
	b.Publish("other", Event{Type: "ignored"})

	select {
	case got := <-ch:
		if got.Type != evt.Type {
			t.Fatalf("got type %s, want %s", got.Type, evt.Type)
		}
		if got.Data["state"] != "reviewing" {
			t.Fatalf("bad payload: %+v", got.Data)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}

	b.Unsubscribe(sid, ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	// second unsubscribe is a no-op
	b.Unsubscribe(sid, ch)
}

func TestMemoryPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	b := NewMemory()
	ch := b.Subscribe("s1")
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish("s1", Event{Type: TypeSessionState})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked")
	}
	if len(ch) != cap(ch) {
		t.Fatalf("expected buffer full, got %d/%d", len(ch), cap(ch))
	}
}
