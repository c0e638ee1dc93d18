package eventbus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBus_FiltersByType(t *testing.T) {
	t.Parallel()

	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	only, unsubOnly := b.Subscribe(4, "a")
	defer unsubOnly()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})

	if got := len(all); got != 2 {
		t.Fatalf("unfiltered subscriber got %d events, want 2", got)
	}
	if got := len(only); got != 1 {
		t.Fatalf("filtered subscriber got %d events, want 1", got)
	}
	e := <-only
	if e.Type != "a" {
		t.Fatalf("type=%q", e.Type)
	}
	if e.Time.IsZero() {
		t.Fatalf("publish should stamp time")
	}
}

func TestBus_DropsWhenFull(t *testing.T) {
	t.Parallel()

	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		b.Publish(Event{Type: "x"})
		b.Publish(Event{Type: "x"})
		b.Publish(Event{Type: "x"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}
	if got := b.Dropped(); got != 2 {
		t.Fatalf("dropped=%d, want 2", got)
	}
}

func TestBus_DropsAreCountedPerType(t *testing.T) {
	t.Parallel()

	b := New()
	_, unsub := b.Subscribe(1, "bus.test.dropped")
	defer unsub()

	before := testutil.ToFloat64(droppedTotal.WithLabelValues("bus.test.dropped"))
	for i := 0; i < 4; i++ {
		b.Publish(Event{Type: "bus.test.dropped"})
	}
	if got := testutil.ToFloat64(droppedTotal.WithLabelValues("bus.test.dropped")) - before; got != 3 {
		t.Fatalf("metric delta=%v, want 3", got)
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed")
	}
	b.Publish(Event{Type: "after"})
}
