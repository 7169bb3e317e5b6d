package events

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestEventHubPublish(t *testing.T) {
	hub := NewEventHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	hub.Publish(StateChanged, StateChangedEvent{Lockbox: "lockbox", From: "unlock", To: "stage1"})

	select {
	case ev := <-ch:
		if ev.Name != StateChanged {
			t.Fatalf("unexpected event name %s", ev.Name)
		}
		payload, err := DecodeAs[StateChangedEvent](ev)
		if err != nil {
			t.Fatalf("DecodeAs failed: %v", err)
		}
		if payload.From != "unlock" || payload.To != "stage1" {
			t.Fatalf("unexpected payload %+v", payload)
		}
	case <-time.After(time.Second):
		t.Fatalf("event not delivered")
	}
}

func TestEventHubDoesNotBlock(t *testing.T) {
	hub := NewEventHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Publish(OutputCreated, EntitiesEvent{Names: []string{"output1"}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a slow subscriber")
	}
	if len(ch) != cap(ch) {
		t.Fatalf("expected buffer to be full, got %d/%d", len(ch), cap(ch))
	}
}

func TestEventHubClose(t *testing.T) {
	hub := NewEventHub()
	ch := hub.Subscribe()
	hub.Close()

	if _, ok := <-ch; ok {
		t.Fatalf("expected subscription to be closed")
	}
	if hub.Subscribers() != 0 {
		t.Fatalf("expected no subscribers after close")
	}
	if _, ok := <-hub.Subscribe(); ok {
		t.Fatalf("expected subscription to a closed hub to be closed")
	}
	hub.Unsubscribe(ch) // no-op
}

func TestNilHubPublish(t *testing.T) {
	var hub *EventHub
	hub.Publish(StateChanged, nil) // must not panic
}

func TestStateTopic(t *testing.T) {
	if got := StateTopic("lab/", "laser"); got != "lab/state/laser" {
		t.Fatalf("StateTopic = %q", got)
	}
}

func TestTopic(t *testing.T) {
	tests := []struct {
		prefix, name, want string
	}{
		{"lockbox", StateChanged, "lockbox/lockbox/state/changed"},
		{"lab/", OutputCreated, "lab/lockbox/output/created"},
		{"", ModelChanged, "lockbox/model/changed"},
	}
	for _, tt := range tests {
		if got := Topic(tt.prefix, tt.name); got != tt.want {
			t.Errorf("Topic(%q, %q) = %q, want %q", tt.prefix, tt.name, got, tt.want)
		}
	}
}

type published struct {
	topic    string
	retained bool
}

type fakePublisher struct {
	mu  sync.Mutex
	got []published
	ch  chan struct{}
}

func (f *fakePublisher) Publish(topic string, _ []byte, _ byte, retained bool) error {
	f.mu.Lock()
	f.got = append(f.got, published{topic, retained})
	f.mu.Unlock()
	f.ch <- struct{}{}
	return nil
}

func TestMQTTBridgeForwards(t *testing.T) {
	hub := NewEventHub()
	pub := &fakePublisher{ch: make(chan struct{}, 4)}
	bridge := NewMQTTBridge(hub, pub, "lab", 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.Run(ctx)

	// Wait for the bridge to subscribe.
	deadline := time.Now().Add(time.Second)
	for {
		if hub.Subscribers() == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("bridge did not subscribe")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Publish(StateChanged, StateChangedEvent{Lockbox: "laser", To: "sweep"})
	hub.Publish(StateChanged, StateChangedEvent{Lockbox: "cavity", To: "stage1"})
	hub.Publish(StageCreated, EntitiesEvent{Names: []string{"stage1"}})

	for i := 0; i < 3; i++ {
		select {
		case <-pub.ch:
		case <-time.After(time.Second):
			t.Fatalf("event %d not forwarded", i)
		}
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	want := []published{
		{"lab/state/laser", true},
		{"lab/state/cavity", true},
		{"lab/lockbox/stage/created", false},
	}
	for i, w := range want {
		if pub.got[i] != w {
			t.Errorf("publish %d: got %+v, want %+v", i, pub.got[i], w)
		}
	}
}
