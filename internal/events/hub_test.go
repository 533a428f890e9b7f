package events

import (
	"testing"
)

func TestPublishSubscribe(t *testing.T) {
	t.Parallel()

	h := NewHub(8)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(TypeMessageSent, map[string]string{"id": "m1"})

	ev := <-ch
	if ev.Type != TypeMessageSent {
		t.Fatalf("type = %q", ev.Type)
	}
	if ev.ID != 1 {
		t.Fatalf("id = %d, want 1", ev.ID)
	}
	if string(ev.Data) == "" || string(ev.Data) == "{}" {
		t.Fatalf("payload not marshalled: %q", ev.Data)
	}
}

func TestSnapshotSinceSkipsSeenEvents(t *testing.T) {
	t.Parallel()

	h := NewHub(8)
	h.Publish(TypeMessageSent, nil)
	h.Publish(TypeMessageFailed, nil)
	h.Publish(TypeMessageDuplicate, nil)

	all := h.SnapshotSince(0)
	if len(all) != 3 {
		t.Fatalf("full snapshot = %d events, want 3", len(all))
	}

	rest := h.SnapshotSince(2)
	if len(rest) != 1 || rest[0].Type != TypeMessageDuplicate {
		t.Fatalf("snapshot since 2: %+v", rest)
	}
}

func TestRingOverwritesOldest(t *testing.T) {
	t.Parallel()

	h := NewHub(2)
	h.Publish(TypeMessageSent, nil)
	h.Publish(TypeMessageSent, nil)
	h.Publish(TypeMessageSent, nil)

	evs := h.SnapshotSince(0)
	if len(evs) != 2 {
		t.Fatalf("buffered = %d, want 2", len(evs))
	}
	if evs[0].ID != 2 || evs[1].ID != 3 {
		t.Fatalf("oldest event not overwritten: %v %v", evs[0].ID, evs[1].ID)
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	t.Parallel()

	h := NewHub(4)
	_, cancel := h.Subscribe()
	defer cancel()

	// Fill the subscriber buffer well past capacity; Publish must not block.
	for i := 0; i < 200; i++ {
		h.Publish(TypeMessageSent, nil)
	}
}
