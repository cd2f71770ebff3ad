// Package cluster holds the membership view installed on this node and runs a
// reconciliation round every time it changes.
package cluster

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/maxpert/viewsync/notify"
	"github.com/maxpert/viewsync/reconcile"
	"github.com/maxpert/viewsync/telemetry"
	"github.com/rs/zerolog/log"
)

// ErrStaleView is returned when installing a view whose id does not advance the current one
var ErrStaleView = errors.New("stale view")

// ViewManager holds the active membership view. Membership decisions are made
// elsewhere; the manager only installs what it is given and fans out changes.
type ViewManager struct {
	mu      sync.Mutex // serializes installs
	current atomic.Pointer[reconcile.View]
	hub     *notify.Hub
}

// NewViewManager creates a manager with initial as the active view
func NewViewManager(initial reconcile.View) *ViewManager {
	vm := &ViewManager{hub: notify.NewHub()}
	vm.current.Store(&initial)
	publishViewMetrics(initial)
	return vm
}

// Current returns the active view
func (vm *ViewManager) Current() reconcile.View {
	return *vm.current.Load()
}

// ActiveViewID returns the id of the active view
func (vm *ViewManager) ActiveViewID() uint64 {
	return vm.current.Load().ID
}

// Install replaces the member set, assigning the next view id.
// Returns false without installing when the member set is unchanged.
func (vm *ViewManager) Install(members ...reconcile.Address) (reconcile.View, bool) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	prev := vm.Current()
	next := reconcile.NewView(prev.ID+1, members...)
	if sameMembers(prev, next) {
		return prev, false
	}

	vm.install(prev, next)
	return next, true
}

// InstallView installs a view whose id was assigned externally. Ids must increase.
func (vm *ViewManager) InstallView(view reconcile.View) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	prev := vm.Current()
	if view.ID <= prev.ID {
		return fmt.Errorf("%w: view %d is not newer than active view %d", ErrStaleView, view.ID, prev.ID)
	}

	vm.install(prev, view)
	return nil
}

func (vm *ViewManager) install(prev, next reconcile.View) {
	vm.current.Store(&next)
	publishViewMetrics(next)
	telemetry.ViewChangesTotal.Inc()

	log.Info().
		Uint64("view_id", next.ID).
		Uint64("previous_view_id", prev.ID).
		Int("members", next.Size()).
		Msg("Installed view")

	vm.hub.Signal(notify.ViewChange{Previous: prev, Current: next})
}

// Subscribe returns a channel of view changes and its cancel function.
// Slow subscribers miss intermediate changes; Current always has the latest view.
func (vm *ViewManager) Subscribe() (<-chan notify.ViewChange, func()) {
	return vm.hub.Subscribe()
}

// Close ends every subscription
func (vm *ViewManager) Close() {
	vm.hub.Close()
}

func sameMembers(a, b reconcile.View) bool {
	am, bm := a.Members(), b.Members()
	if len(am) != len(bm) {
		return false
	}
	for i := range am {
		if am[i] != bm[i] {
			return false
		}
	}
	return true
}

func publishViewMetrics(v reconcile.View) {
	telemetry.ViewID.Set(float64(v.ID))
	telemetry.ViewMembers.Set(float64(v.Size()))
}
