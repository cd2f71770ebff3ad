package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/maxpert/viewsync/reconcile"
)

func change(prev, cur uint64) ViewChange {
	return ViewChange{
		Previous: reconcile.NewView(prev, "a:1"),
		Current:  reconcile.NewView(cur, "a:1", "b:1"),
	}
}

func TestHub_BasicSubscribeSignal(t *testing.T) {
	hub := NewHub()

	events, cancel := hub.Subscribe()
	defer cancel()

	hub.Signal(change(1, 2))

	select {
	case ev := <-events:
		if ev.Previous.ID != 1 || ev.Current.ID != 2 {
			t.Errorf("expected (1, 2), got (%d, %d)", ev.Previous.ID, ev.Current.ID)
		}
		if ev.Current.Size() != 2 {
			t.Errorf("expected 2 members, got %d", ev.Current.Size())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for view change")
	}
}

func TestHub_CancelUnsubscribes(t *testing.T) {
	hub := NewHub()

	events, cancel := hub.Subscribe()
	if hub.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.Subscribers())
	}

	cancel()

	if hub.Subscribers() != 0 {
		t.Errorf("expected 0 subscribers after cancel, got %d", hub.Subscribers())
	}

	// Channel should be closed
	select {
	case _, ok := <-events:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("channel not closed after cancel")
	}

	// Signal after cancel must not panic
	hub.Signal(change(2, 3))
}

func TestHub_MultipleSubscribers(t *testing.T) {
	hub := NewHub()

	const n = 5
	chans := make([]<-chan ViewChange, n)
	for i := 0; i < n; i++ {
		ch, cancel := hub.Subscribe()
		defer cancel()
		chans[i] = ch
	}

	hub.Signal(change(3, 4))

	for i, ch := range chans {
		select {
		case ev := <-ch:
			if ev.Current.ID != 4 {
				t.Errorf("subscriber %d: expected view 4, got %d", i, ev.Current.ID)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d: timeout", i)
		}
	}
}

func TestHub_ConcurrentSignalSubscribe(t *testing.T) {
	hub := NewHub()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, cancel := hub.Subscribe()
			time.Sleep(time.Millisecond)
			cancel()
		}()
		go func(id uint64) {
			defer wg.Done()
			for j := uint64(0); j < 100; j++ {
				hub.Signal(change(id*100+j, id*100+j+1))
			}
		}(uint64(i))
	}
	wg.Wait()

	if hub.Subscribers() != 0 {
		t.Errorf("expected all subscriptions cancelled, got %d", hub.Subscribers())
	}
}

func TestHub_BufferOverflowNonBlocking(t *testing.T) {
	hub := NewHub()

	_, cancel := hub.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := uint64(0); i < defaultSignalBufferSize*2; i++ {
			hub.Signal(change(i, i+1))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Signal blocked on a full subscriber")
	}

	if hub.Dropped() != defaultSignalBufferSize {
		t.Errorf("expected %d dropped events, got %d", defaultSignalBufferSize, hub.Dropped())
	}
}

func TestHub_SignalBeforeSubscribe(t *testing.T) {
	hub := NewHub()
	hub.Signal(change(1, 2))

	events, cancel := hub.Subscribe()
	defer cancel()

	select {
	case ev := <-events:
		t.Errorf("should not receive earlier event, got view %d", ev.Current.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_DoubleCancel(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe()

	cancel()
	cancel() // Should not panic
}

func TestHub_Close(t *testing.T) {
	hub := NewHub()
	a, _ := hub.Subscribe()
	b, cancelB := hub.Subscribe()

	hub.Close()
	cancelB() // Idempotent after Close

	for _, ch := range []<-chan ViewChange{a, b} {
		if _, ok := <-ch; ok {
			t.Error("expected closed channel after Close")
		}
	}
	if hub.Subscribers() != 0 {
		t.Errorf("expected 0 subscribers, got %d", hub.Subscribers())
	}
}
