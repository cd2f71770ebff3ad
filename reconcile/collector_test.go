package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// replyFunc decides what a peer answers to the n-th broadcast of a view.
type replyFunc func(viewID uint64, broadcast int) (NodeState, bool)

// loopbackGateway delivers the local broadcast back to the collector and lets
// each scripted peer answer synchronously.
type loopbackGateway struct {
	mu        sync.Mutex
	collector *Collector
	peers     map[Address]replyFunc
	sent      int
	channels  []Channel
	onSend    func(broadcast int)
}

func (g *loopbackGateway) Send(addrs []Address, msg Message, ch Channel) {
	g.mu.Lock()
	g.sent++
	n := g.sent
	g.channels = append(g.channels, ch)
	hook := g.onSend
	g.mu.Unlock()

	local := msg.(NodeState)
	for _, addr := range addrs {
		if addr == local.Address {
			g.collector.OnMessage(local)
			continue
		}
		reply, ok := g.peers[addr]
		if !ok {
			continue
		}
		if s, ok := reply(local.ViewID, n); ok {
			s.Address = addr
			g.collector.OnMessage(s)
		}
	}

	if hook != nil {
		hook(n)
	}
}

func (g *loopbackGateway) OOB() Channel { return ChannelOOB }

func (g *loopbackGateway) broadcasts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sent
}

type fakeViews struct {
	active atomic.Uint64
}

func (v *fakeViews) ActiveViewID() uint64 { return v.active.Load() }

func answer(txn uint64) replyFunc {
	return func(viewID uint64, _ int) (NodeState, bool) {
		return NodeState{ViewID: viewID, TransactionID: txn}, true
	}
}

func answerFrom(first int, txn uint64) replyFunc {
	return func(viewID uint64, n int) (NodeState, bool) {
		if n < first {
			return NodeState{}, false
		}
		return NodeState{ViewID: viewID, TransactionID: txn}, true
	}
}

func silent() replyFunc {
	return func(uint64, int) (NodeState, bool) { return NodeState{}, false }
}

type harness struct {
	collector *Collector
	gateway   *loopbackGateway
	views     *fakeViews
	txn       atomic.Uint64
}

func newHarness(t *testing.T, viewID uint64, myTxn uint64, peers map[Address]replyFunc, maxAttempts int) *harness {
	t.Helper()

	h := &harness{
		gateway: &loopbackGateway{peers: peers},
		views:   &fakeViews{},
	}
	h.views.active.Store(viewID)
	h.txn.Store(myTxn)

	c, err := NewCollector(CollectorConfig{
		Self:          "A",
		Gateway:       h.gateway,
		Views:         h.views,
		TransactionID: h.txn.Load,
		SyncMode:      SyncModeJournal,
		SyncPort:      9100,
		AckTimeout:    20 * time.Millisecond,
		PollInterval:  time.Millisecond,
		MaxAttempts:   maxAttempts,
	})
	require.NoError(t, err)

	h.collector = c
	h.gateway.collector = c
	return h
}

func TestNewCollector_Validation(t *testing.T) {
	_, err := NewCollector(CollectorConfig{})
	assert.Error(t, err)

	_, err = NewCollector(CollectorConfig{Gateway: &loopbackGateway{}, Views: &fakeViews{}})
	assert.Error(t, err, "transaction id supplier is required")

	_, err = NewCollector(CollectorConfig{
		Gateway:       &loopbackGateway{},
		Views:         &fakeViews{},
		TransactionID: func() uint64 { return 0 },
		MaxAttempts:   -1,
	})
	assert.Error(t, err)
}

func TestExecute_SyncTargetIdentified(t *testing.T) {
	h := newHarness(t, 7, 10, map[Address]replyFunc{
		"B": answer(10),
		"C": answer(15),
	}, 0)

	got, err := h.collector.Execute(context.Background(), NewView(7, "A", "B", "C"))
	require.NoError(t, err)

	assert.False(t, got.NeedsViewRetry)
	assert.Equal(t, uint64(10), got.MyTransactionID)
	require.NotNil(t, got.SyncTarget)
	assert.Equal(t, Address("C"), got.SyncTarget.Address)
	assert.Equal(t, uint64(15), got.SyncTarget.TransactionID)
	assert.Equal(t, 1, h.gateway.broadcasts())
}

func TestExecute_BroadcastsLocalStateOverOOB(t *testing.T) {
	h := newHarness(t, 2, 4, map[Address]replyFunc{"B": answer(4)}, 0)

	_, err := h.collector.Execute(context.Background(), NewView(2, "A", "B"))
	require.NoError(t, err)

	assert.Equal(t, []Channel{ChannelOOB}, h.gateway.channels)
	self, ok := h.collector.Registry().Get("A")
	require.True(t, ok)
	assert.Equal(t, uint64(2), self.ViewID)
	assert.Equal(t, uint64(4), self.TransactionID)
	assert.Equal(t, SyncModeJournal, self.SyncMode)
	assert.Equal(t, uint16(9100), self.SyncPort)
}

func TestExecute_UpToDate(t *testing.T) {
	h := newHarness(t, 7, 20, map[Address]replyFunc{
		"B": answer(10),
		"C": answer(20),
	}, 0)

	got, err := h.collector.Execute(context.Background(), NewView(7, "A", "B", "C"))
	require.NoError(t, err)

	assert.False(t, got.NeedsViewRetry)
	assert.Nil(t, got.SyncTarget)
	assert.Equal(t, OutcomeUpToDate, got.Outcome())
}

func TestExecute_SingleMemberView(t *testing.T) {
	h := newHarness(t, 1, 3, nil, 0)

	got, err := h.collector.Execute(context.Background(), NewView(1, "A"))
	require.NoError(t, err)

	assert.False(t, got.NeedsViewRetry)
	assert.Nil(t, got.SyncTarget)
}

func TestExecute_RetriesSameViewUntilQuorum(t *testing.T) {
	h := newHarness(t, 3, 1, map[Address]replyFunc{
		"B": answerFrom(3, 8),
	}, 0)

	got, err := h.collector.Execute(context.Background(), NewView(3, "A", "B"))
	require.NoError(t, err)

	assert.Equal(t, 3, h.gateway.broadcasts(), "two timed out attempts, then quorum")
	require.NotNil(t, got.SyncTarget)
	assert.Equal(t, uint64(8), got.SyncTarget.TransactionID)
}

func TestExecute_RereadsTransactionIDEachAttempt(t *testing.T) {
	h := newHarness(t, 3, 1, map[Address]replyFunc{
		"B": answerFrom(2, 5),
	}, 0)
	h.gateway.onSend = func(n int) {
		if n == 1 {
			h.txn.Store(6)
		}
	}

	got, err := h.collector.Execute(context.Background(), NewView(3, "A", "B"))
	require.NoError(t, err)

	assert.Equal(t, uint64(6), got.MyTransactionID)
	assert.Nil(t, got.SyncTarget, "local node advanced past B between attempts")
}

func TestExecute_YieldsWhenViewChanges(t *testing.T) {
	h := newHarness(t, 3, 10, map[Address]replyFunc{"B": silent()}, 0)
	h.gateway.onSend = func(int) { h.views.active.Store(4) }

	start := time.Now()
	got, err := h.collector.Execute(context.Background(), NewView(3, "A", "B"))
	require.NoError(t, err)

	assert.True(t, got.NeedsViewRetry)
	assert.Nil(t, got.SyncTarget)
	assert.Equal(t, uint64(10), got.MyTransactionID)
	assert.Equal(t, 1, h.gateway.broadcasts(), "no retry against a superseded view")
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecute_StaleReportsDoNotCount(t *testing.T) {
	h := newHarness(t, 5, 1, map[Address]replyFunc{
		"B": func(uint64, int) (NodeState, bool) { return NodeState{ViewID: 4, TransactionID: 50}, true },
	}, 2)

	got, err := h.collector.Execute(context.Background(), NewView(5, "A", "B"))
	require.NoError(t, err)

	assert.True(t, got.NeedsViewRetry)
	assert.Nil(t, got.SyncTarget)
	assert.Equal(t, 2, h.gateway.broadcasts())
}

func TestExecute_MaxAttemptsExhausted(t *testing.T) {
	h := newHarness(t, 3, 1, map[Address]replyFunc{"B": silent()}, 3)

	got, err := h.collector.Execute(context.Background(), NewView(3, "A", "B"))
	require.NoError(t, err)

	assert.True(t, got.NeedsViewRetry)
	assert.Equal(t, 3, h.gateway.broadcasts())
}

func TestExecute_ContextCancelled(t *testing.T) {
	h := newHarness(t, 3, 1, map[Address]replyFunc{"B": silent()}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	h.gateway.onSend = func(n int) {
		if n == 2 {
			cancel()
		}
	}

	got, err := h.collector.Execute(ctx, NewView(3, "A", "B"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, got.NeedsViewRetry)
}

func TestExecute_ConcurrentDeliveries(t *testing.T) {
	members := []Address{"A", "B", "C", "D", "E"}
	h := newHarness(t, 11, 2, nil, 0)
	h.collector.ackTimeout = 2 * time.Second

	view := NewView(11, members...)
	h.gateway.onSend = func(int) {
		for i, addr := range members[1:] {
			go func(addr Address, txn uint64) {
				h.collector.OnMessage(NodeState{Address: addr, ViewID: 11, TransactionID: txn})
			}(addr, uint64(i+3))
		}
	}

	got, err := h.collector.Execute(context.Background(), view)
	require.NoError(t, err)

	require.NotNil(t, got.SyncTarget)
	assert.Equal(t, Address("E"), got.SyncTarget.Address)
	assert.Equal(t, uint64(6), got.SyncTarget.TransactionID)
}

func TestCollector_MessageSubscription(t *testing.T) {
	h := newHarness(t, 1, 0, nil, 0)

	assert.Equal(t, []uint8{TypeNodeState}, h.collector.InterestedTypes())

	h.collector.OnMessage(otherMessage{})
	assert.Equal(t, 0, h.collector.Registry().Len())

	s := NodeState{Address: "B", ViewID: 1, TransactionID: 2}
	h.collector.OnMessage(&s)
	got, ok := h.collector.Registry().Get("B")
	require.True(t, ok)
	assert.Equal(t, s, got)
}
