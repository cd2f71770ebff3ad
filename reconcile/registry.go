package reconcile

import (
	"sort"
	"sync"

	"github.com/maxpert/viewsync/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
)

// Registry holds the most recent NodeState received from each address.
// Entries live for the process lifetime; stale ones are filtered by view id
// at read time rather than evicted.
type Registry struct {
	states *xsync.MapOf[Address, NodeState]

	// changed is closed and replaced on every Put, waking all waiters.
	changed chan struct{}
	mu      sync.Mutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		states:  xsync.NewMapOf[Address, NodeState](),
		changed: make(chan struct{}),
	}
}

// Put upserts a state keyed by its origin address. Last write wins.
func (r *Registry) Put(s NodeState) {
	r.states.Store(s.Address, s)
	telemetry.RegistryUpdatesTotal.Inc()

	r.mu.Lock()
	close(r.changed)
	r.changed = make(chan struct{})
	r.mu.Unlock()
}

// Changed returns a channel closed by the next Put.
func (r *Registry) Changed() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changed
}

func (r *Registry) Get(addr Address) (NodeState, bool) {
	return r.states.Load(addr)
}

func (r *Registry) Len() int {
	return r.states.Size()
}

// Snapshot returns every entry ordered by address.
func (r *Registry) Snapshot() []NodeState {
	out := make([]NodeState, 0, r.states.Size())
	r.states.Range(func(_ Address, s NodeState) bool {
		out = append(out, s)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Eligible returns the entries that may take part in a round for view.
func (r *Registry) Eligible(view View) []NodeState {
	out := make([]NodeState, 0, view.Size())
	for _, addr := range view.members {
		if s, ok := r.states.Load(addr); ok && s.ViewID == view.ID {
			out = append(out, s)
		}
	}
	return out
}

// HasQuorum reports whether every member of view has an eligible entry.
func (r *Registry) HasQuorum(view View) bool {
	for _, addr := range view.members {
		s, ok := r.states.Load(addr)
		if !ok || s.ViewID != view.ID {
			return false
		}
	}
	return true
}
