package hlc

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// manualTime is a physical clock that only moves when told to
type manualTime struct {
	nanos atomic.Int64
}

func (m *manualTime) now() int64 { return m.nanos.Load() }
func (m *manualTime) advance(d time.Duration) { m.nanos.Add(int64(d)) }

func newManualClock(nodeID uint64) (*Clock, *manualTime) {
	m := &manualTime{}
	m.nanos.Store(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano())
	return newClock(nodeID, m.now), m
}

func TestClock_Now(t *testing.T) {
	clock := NewClock(1)

	ts1 := clock.Now()
	if ts1.NodeID != 1 {
		t.Errorf("Expected node ID 1, got %d", ts1.NodeID)
	}
	if ts1.WallTime == 0 {
		t.Error("Wall time should not be zero")
	}

	ts2 := clock.Now()
	if Compare(ts2, ts1) <= 0 {
		t.Errorf("Expected %v after %v", ts2, ts1)
	}
}

func TestClock_LogicalWithinMillisecond(t *testing.T) {
	clock, m := newManualClock(1)

	ts1 := clock.Now()
	ts2 := clock.Now()
	if ts2.WallTime != ts1.WallTime || ts2.Logical != ts1.Logical+1 {
		t.Errorf("Expected logical increment, got %+v then %+v", ts1, ts2)
	}

	m.advance(time.Millisecond)
	ts3 := clock.Now()
	if ts3.Logical != 1 {
		t.Errorf("Expected logical reset on new millisecond, got %d", ts3.Logical)
	}
}

func TestClock_MonotonicTxnIDs(t *testing.T) {
	clock := NewClock(1)

	prev := clock.NextTxnID()
	for i := 0; i < 1000; i++ {
		id := clock.NextTxnID()
		if id <= prev {
			t.Fatalf("txn id %d not greater than %d", id, prev)
		}
		prev = id
	}
}

func TestClock_Update(t *testing.T) {
	clock1 := NewClock(1)
	clock2 := NewClock(2)

	ts1 := clock1.Now()
	ts2 := clock2.Update(ts1)

	if Compare(ts2, ts1) <= 0 {
		t.Error("Updated timestamp should be after received timestamp")
	}
	if ts2.NodeID != 2 {
		t.Errorf("Node ID should be 2, got %d", ts2.NodeID)
	}
}

func TestClock_UpdateAdvancesTime(t *testing.T) {
	clock, _ := newManualClock(1)
	ts1 := clock.Now()

	futureTS := Timestamp{
		WallTime: ts1.WallTime + int64(time.Second),
		Logical:  5,
		NodeID:   2,
	}

	ts2 := clock.Update(futureTS)
	if ts2.WallTime != futureTS.WallTime || ts2.Logical != 6 {
		t.Errorf("Expected clock to adopt remote time with logical 6, got %+v", ts2)
	}
}

func TestClock_ObserveHigherNode(t *testing.T) {
	local, _ := newManualClock(1)
	remote, _ := newManualClock(63)

	// Same millisecond, remote node bits are higher than ours
	remoteID := remote.NextTxnID()
	local.Observe(remoteID)

	if id := local.NextTxnID(); id <= remoteID {
		t.Errorf("txn id %d minted after observing %d must be greater", id, remoteID)
	}
}

func TestClock_ObserveOlderIsNoop(t *testing.T) {
	clock, m := newManualClock(1)
	old := clock.NextTxnID()
	m.advance(10 * time.Millisecond)
	before := clock.Now()

	clock.Observe(old)
	after := clock.Now()
	if after.WallTime != before.WallTime {
		t.Errorf("Observing an older id moved the clock from %d to %d", before.WallTime, after.WallTime)
	}
}

func TestTxnIDRoundTrip(t *testing.T) {
	ts := Timestamp{
		WallTime: 1_700_000_000_123 * 1_000_000,
		Logical:  42,
		NodeID:   7,
	}
	got := FromTxnID(ts.ToTxnID())
	if got != ts {
		t.Errorf("Expected %+v, got %+v", ts, got)
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b Timestamp
		want int
	}{
		{"wall time less", Timestamp{WallTime: 1}, Timestamp{WallTime: 2}, -1},
		{"wall time greater", Timestamp{WallTime: 3}, Timestamp{WallTime: 2}, 1},
		{"logical less", Timestamp{WallTime: 1, Logical: 1}, Timestamp{WallTime: 1, Logical: 2}, -1},
		{"node id tiebreak", Timestamp{WallTime: 1, Logical: 1, NodeID: 2}, Timestamp{WallTime: 1, Logical: 1, NodeID: 1}, 1},
		{"equal", Timestamp{WallTime: 1, Logical: 1, NodeID: 1}, Timestamp{WallTime: 1, Logical: 1, NodeID: 1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compare(tt.a, tt.b); got != tt.want {
				t.Errorf("Compare() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestClock_ConcurrentTxnIDsAreUnique(t *testing.T) {
	clock := NewClock(1)

	const goroutines, perGoroutine = 10, 200
	var mu sync.Mutex
	seen := make(map[uint64]bool, goroutines*perGoroutine)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				id := clock.NextTxnID()
				mu.Lock()
				if seen[id] {
					t.Errorf("duplicate txn id %d", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}

func TestClock_LogicalOverflowWaitsForNextMillisecond(t *testing.T) {
	clock, m := newManualClock(1)
	clock.logical = MaxLogical

	go func() {
		time.Sleep(5 * time.Millisecond)
		m.advance(time.Millisecond)
	}()

	ts := clock.Now()
	if ts.Logical != 1 {
		t.Errorf("Expected logical 1 after overflow, got %d", ts.Logical)
	}
}

func BenchmarkClock_NextTxnID(b *testing.B) {
	clock := NewClock(1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		clock.NextTxnID()
	}
}
