package cluster

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/maxpert/viewsync/reconcile"
	"github.com/rs/zerolog/log"
)

// PeerRetainer drops transport state for addresses outside the view
type PeerRetainer interface {
	Retain(members []reconcile.Address)
}

// DecisionRecorder persists a round's result for downstream consumers
type DecisionRecorder interface {
	Record(state reconcile.ClusterState, view reconcile.View) error
}

// Decision is the result of one reconciliation round
type Decision struct {
	View      reconcile.View
	State     reconcile.ClusterState
	DecidedAt time.Time
}

// ReconcilerConfig wires a Reconciler
type ReconcilerConfig struct {
	Views     *ViewManager
	Collector *reconcile.Collector
	Peers     PeerRetainer     // optional
	Journal   DecisionRecorder // optional
}

// Reconciler runs a collector round for every installed view
type Reconciler struct {
	views     *ViewManager
	collector *reconcile.Collector
	peers     PeerRetainer
	journal   DecisionRecorder

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.RWMutex
	last *Decision
	subs []func(Decision)
}

// NewReconciler creates a reconciler; call Start to begin following view changes
func NewReconciler(config ReconcilerConfig) *Reconciler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		views:     config.Views,
		collector: config.Collector,
		peers:     config.Peers,
		journal:   config.Journal,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// OnDecision registers fn to be called after every recorded decision
func (r *Reconciler) OnDecision(fn func(Decision)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, fn)
}

// Start reconciles the current view and then every view installed afterwards
func (r *Reconciler) Start() {
	changes, unsubscribe := r.views.Subscribe()

	initial := r.views.Current()
	r.Trigger(initial)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer unsubscribe()

		triggered := initial.ID
		for {
			select {
			case <-r.ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
				// A burst of changes, or dropped ones, only needs a round for the newest view
				current := r.views.Current()
				if current.ID <= triggered {
					continue
				}
				triggered = current.ID
				r.Trigger(current)
			}
		}
	}()
}

// Trigger starts a round for view in its own goroutine. Older rounds still
// in flight give up on their own once they notice the view moved on.
func (r *Reconciler) Trigger(view reconcile.View) {
	if r.ctx.Err() != nil {
		return
	}
	if r.peers != nil {
		r.peers.Retain(view.Members())
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(view)
	}()
}

func (r *Reconciler) run(view reconcile.View) {
	state, err := r.collector.Execute(r.ctx, view)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Uint64("view_id", view.ID).Msg("Reconciliation round aborted")
		}
		return
	}

	d := Decision{View: view, State: state, DecidedAt: time.Now()}
	if !r.store(d) {
		log.Debug().
			Uint64("view_id", view.ID).
			Str("outcome", state.Outcome()).
			Msg("Decision for superseded view finished late")
	}

	if r.journal != nil {
		if err := r.journal.Record(state, view); err != nil {
			log.Error().Err(err).Uint64("view_id", view.ID).Msg("Failed to journal decision")
		}
	}

	r.mu.RLock()
	subs := append(([]func(Decision))(nil), r.subs...)
	r.mu.RUnlock()
	for _, fn := range subs {
		fn(d)
	}
}

// store keeps d as the last decision unless one for a newer view is already held
func (r *Reconciler) store(d Decision) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.last != nil && r.last.View.ID > d.View.ID {
		return false
	}
	r.last = &d
	return true
}

// LastDecision returns the most recent decision, if any round has finished
func (r *Reconciler) LastDecision() (Decision, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return Decision{}, false
	}
	return *r.last, true
}

// Stop cancels in-flight rounds and waits for them to return
func (r *Reconciler) Stop() {
	r.cancel()
	r.wg.Wait()
}

// Registry returns the collector's node state registry
func (r *Reconciler) Registry() *reconcile.Registry {
	return r.collector.Registry()
}

// RegistrySize reports stored node states for metrics collection
func (r *Reconciler) RegistrySize() int {
	return r.collector.Registry().Len()
}

// ActiveViewID reports the active view id for metrics collection
func (r *Reconciler) ActiveViewID() uint64 {
	return r.views.ActiveViewID()
}

// ViewSize reports the active view's member count for metrics collection
func (r *Reconciler) ViewSize() int {
	return r.views.Current().Size()
}
