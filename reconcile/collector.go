package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/maxpert/viewsync/telemetry"
	"github.com/rs/zerolog/log"
)

// DefaultAckTimeout is the per-attempt budget for collecting every member's state.
const DefaultAckTimeout = 2 * time.Second

// CollectorConfig wires a Collector to its collaborators.
type CollectorConfig struct {
	Self          Address
	Gateway       Gateway
	Views         ViewSource
	TransactionID TransactionIDFunc

	SyncMode SyncMode
	SyncPort uint16

	AckTimeout   time.Duration
	PollInterval time.Duration
	MaxAttempts  int // 0 means retry for as long as the view stays active

	Rank  RankFunc
	Clock Clock
}

// Collector runs reconciliation rounds and receives peers' NodeState reports.
type Collector struct {
	self     Address
	gateway  Gateway
	views    ViewSource
	txnID    TransactionIDFunc
	syncMode SyncMode
	syncPort uint16

	ackTimeout   time.Duration
	pollInterval time.Duration
	maxAttempts  int
	rank         RankFunc
	clock        Clock

	registry *Registry
}

// NewCollector validates config and creates a collector with an empty registry.
func NewCollector(config CollectorConfig) (*Collector, error) {
	if config.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if config.Views == nil {
		return nil, fmt.Errorf("view source is required")
	}
	if config.TransactionID == nil {
		return nil, fmt.Errorf("transaction id supplier is required")
	}
	if config.MaxAttempts < 0 {
		return nil, fmt.Errorf("max attempts must be >= 0, got %d", config.MaxAttempts)
	}

	if config.AckTimeout <= 0 {
		config.AckTimeout = DefaultAckTimeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.Rank == nil {
		config.Rank = ByTransactionID
	}
	if config.Clock == nil {
		config.Clock = RealClock{}
	}

	return &Collector{
		self:         config.Self,
		gateway:      config.Gateway,
		views:        config.Views,
		txnID:        config.TransactionID,
		syncMode:     config.SyncMode,
		syncPort:     config.SyncPort,
		ackTimeout:   config.AckTimeout,
		pollInterval: config.PollInterval,
		maxAttempts:  config.MaxAttempts,
		rank:         config.Rank,
		clock:        config.Clock,
		registry:     NewRegistry(),
	}, nil
}

// Registry exposes the collected states for diagnostics.
func (c *Collector) Registry() *Registry {
	return c.registry
}

// OnMessage stores NodeState reports; every other message type is ignored.
func (c *Collector) OnMessage(msg Message) {
	switch s := msg.(type) {
	case NodeState:
		c.registry.Put(s)
	case *NodeState:
		if s != nil {
			c.registry.Put(*s)
		}
	}
}

// InterestedTypes declares the single message type this collector consumes.
func (c *Collector) InterestedTypes() []uint8 {
	return []uint8{TypeNodeState}
}

// Execute runs one reconciliation round for view. Attempts repeat while view
// is still the active view; each attempt gets a fresh ack timeout. The only
// error returned is ctx's, alongside a NeedsViewRetry decision.
func (c *Collector) Execute(ctx context.Context, view View) (ClusterState, error) {
	start := c.clock.Now()
	log.Info().
		Uint64("view_id", view.ID).
		Stringer("view", view).
		Msg("Cluster state collection")

	for attempt := 1; ; attempt++ {
		current := c.txnID()

		if err := ctx.Err(); err != nil {
			return c.finish(view, ClusterState{NeedsViewRetry: true, MyTransactionID: current}, start), err
		}

		telemetry.ReconcileAttemptsTotal.Inc()
		if c.allStatesReceived(ctx, view, current) {
			state := Decide(view, c.registry.Eligible(view), current, c.rank)
			switch {
			case state.NeedsSync():
				log.Debug().
					Uint64("view_id", view.ID).
					Uint64("my_txn_id", current).
					Uint64("latest_txn_id", state.SyncTarget.TransactionID).
					Str("target", string(state.SyncTarget.Address)).
					Msg("Need to sync")
			case state.NeedsViewRetry:
				log.Debug().
					Uint64("view_id", view.ID).
					Uint64("my_txn_id", current).
					Int("registry_size", c.registry.Len()).
					Msg("Sync node not found")
			}
			return c.finish(view, state, start), nil
		}

		if err := ctx.Err(); err != nil {
			return c.finish(view, ClusterState{NeedsViewRetry: true, MyTransactionID: current}, start), err
		}

		log.Debug().
			Uint64("view_id", view.ID).
			Int("attempt", attempt).
			Int("eligible", len(c.registry.Eligible(view))).
			Int("members", view.Size()).
			Msg("Not all states received")

		if active := c.views.ActiveViewID(); active != view.ID {
			log.Info().
				Uint64("view_id", view.ID).
				Uint64("active_view_id", active).
				Msg("View changed during collection, yielding")
			return c.finish(view, ClusterState{NeedsViewRetry: true, MyTransactionID: current}, start), nil
		}

		if c.maxAttempts > 0 && attempt >= c.maxAttempts {
			log.Warn().
				Uint64("view_id", view.ID).
				Int("attempts", attempt).
				Msg("Cluster state collection gave up")
			return c.finish(view, ClusterState{NeedsViewRetry: true, MyTransactionID: current}, start), nil
		}
	}
}

// allStatesReceived broadcasts the local state and waits for every member of
// view to report under the same view id.
func (c *Collector) allStatesReceived(ctx context.Context, view View, currentTxnID uint64) bool {
	msg := NodeState{
		ViewID:        view.ID,
		TransactionID: currentTxnID,
		SyncMode:      c.syncMode,
		SyncPort:      c.syncPort,
		Address:       c.self,
	}
	c.gateway.Send(view.Members(), msg, c.gateway.OOB())

	waitStart := c.clock.Now()
	reached := AwaitQuorum(ctx, func() bool { return c.registry.HasQuorum(view) }, c.ackTimeout,
		WithClock(c.clock),
		WithPollInterval(c.pollInterval),
		WithWakeup(c.registry.Changed),
	)
	telemetry.QuorumWaitSeconds.Observe(c.clock.Now().Sub(waitStart).Seconds())

	if reached {
		telemetry.QuorumWaitsTotal.With("reached").Inc()
	} else {
		telemetry.QuorumWaitsTotal.With("timeout").Inc()
	}
	return reached
}

func (c *Collector) finish(view View, state ClusterState, start time.Time) ClusterState {
	telemetry.ReconcileRoundsTotal.With(state.Outcome()).Inc()
	telemetry.ReconcileRoundSeconds.Observe(c.clock.Now().Sub(start).Seconds())

	lag := uint64(0)
	if state.SyncTarget != nil {
		lag = state.SyncTarget.TransactionID - state.MyTransactionID
	}
	telemetry.ReconcileLagTxns.Set(float64(lag))

	log.Info().
		Uint64("view_id", view.ID).
		Str("outcome", state.Outcome()).
		Uint64("my_txn_id", state.MyTransactionID).
		Msg("Cluster state collection finished")
	return state
}
