package publisher

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/maxpert/viewsync/cfg"
	"github.com/maxpert/viewsync/reconcile"
	"github.com/stretchr/testify/require"
)

type publishCall struct {
	topic string
	key   string
	value []byte
}

type memorySink struct {
	mu        sync.Mutex
	calls     []publishCall
	failCount atomic.Int32 // fail this many times before succeeding
	closed    atomic.Bool
}

func (m *memorySink) Publish(topic, key string, value []byte) error {
	if m.failCount.Load() > 0 {
		m.failCount.Add(-1)
		return fmt.Errorf("memory sink failure")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, publishCall{topic: topic, key: key, value: value})
	return nil
}

func (m *memorySink) Close() error {
	m.closed.Store(true)
	return nil
}

func (m *memorySink) published() []publishCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]publishCall, len(m.calls))
	copy(out, m.calls)
	return out
}

var (
	memorySinksMu sync.Mutex
	memorySinks   = make(map[string]*memorySink)
)

func init() {
	RegisterSink("memory", func(config cfg.SinkConfiguration) (Sink, error) {
		memorySinksMu.Lock()
		defer memorySinksMu.Unlock()
		s := &memorySink{}
		memorySinks[config.Name] = s
		return s, nil
	})
}

func memorySinkNamed(t *testing.T, name string) *memorySink {
	t.Helper()
	memorySinksMu.Lock()
	defer memorySinksMu.Unlock()
	s, ok := memorySinks[name]
	require.True(t, ok, "no memory sink named %s", name)
	return s
}

func openLog(t *testing.T) *PublishLog {
	t.Helper()
	pl, err := NewPublishLog(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { pl.Close() })
	return pl
}

func decision(view uint64, outcome string) DecisionEvent {
	return DecisionEvent{
		NodeID:  1,
		Address: "10.0.0.1:7400",
		ViewID:  view,
		Members: []string{"10.0.0.1:7400", "10.0.0.2:7400"},
		Outcome: outcome,
		MyTxnID: 100 + view,
	}
}

func testView(id uint64) reconcile.View {
	return reconcile.NewView(id, "10.0.0.2:7400", "10.0.0.1:7400", "10.0.0.3:7400")
}
